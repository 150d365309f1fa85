package api

import (
	"log/slog"
	"net/http"

	"github.com/jdefouw/EvoNash-sub001/pkg/core"
	"github.com/jdefouw/EvoNash-sub001/pkg/ingest"
	"github.com/jdefouw/EvoNash-sub001/pkg/queue"
	"github.com/jdefouw/EvoNash-sub001/pkg/registry"
	"github.com/jdefouw/EvoNash-sub001/pkg/security"
)

type server struct {
	deps   Deps
	logger *slog.Logger
}

// ──────────────────────────────────────────────────────────────────────────
// Queue
// ──────────────────────────────────────────────────────────────────────────

func (s *server) nextJob(w http.ResponseWriter, r *http.Request) {
	workerID := r.URL.Query().Get("worker_id")
	if workerID == "" {
		s.writeError(w, core.Validationf("worker_id", "query parameter required"))
		return
	}

	d, err := s.deps.Queue.Next(r.Context(), workerID)
	if err != nil {
		// A worker polling at capacity just has nothing to pick up.
		if queue.IsNoWork(err) {
			s.writeJSON(w, http.StatusOK, map[string]any{"job": nil})
			return
		}
		s.writeError(w, err)
		return
	}
	if d == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"job": nil})
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

type claimRequest struct {
	JobID    string `json:"job_id"`
	WorkerID string `json:"worker_id"`
}

func (s *server) claimJob(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	a, err := s.deps.Queue.Claim(r.Context(), req.JobID, req.WorkerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": a})
}

type releaseRequest struct {
	JobID    string `json:"job_id"`
	WorkerID string `json:"worker_id"`
	Reason   string `json:"reason,omitempty"`
}

func (s *server) releaseJob(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	if _, err := s.deps.Queue.Release(r.Context(), req.JobID, req.WorkerID, req.Reason); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"released": true, "job_id": req.JobID})
}

type completeRequest struct {
	JobID    string `json:"job_id"`
	WorkerID string `json:"worker_id"`
	Failed   bool   `json:"failed,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (s *server) completeJob(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	a, err := s.deps.Queue.Complete(r.Context(), req.JobID, req.WorkerID, req.Failed, req.Error)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": a})
}

// uploadRequest accepts either one generation's stats inline or a batch
// under "generations"; both shapes share job_id and experiment_id.
type uploadRequest struct {
	JobID        string                  `json:"job_id"`
	ExperimentID string                  `json:"experiment_id"`
	Stats        *ingest.GenerationStats `json:"generation_stats,omitempty"`
	Matches      []ingest.MatchRecord    `json:"matches,omitempty"`
	Checkpoint   []byte                  `json:"checkpoint,omitempty"`
	Generations  []uploadBatchItem       `json:"generations,omitempty"`
}

type uploadBatchItem struct {
	Stats      ingest.GenerationStats `json:"generation_stats"`
	Matches    []ingest.MatchRecord   `json:"matches,omitempty"`
	Checkpoint []byte                 `json:"checkpoint,omitempty"`
}

func (s *server) uploadResults(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, security.MaxResultPayloadSize)

	var req uploadRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	var (
		res *ingest.Result
		err error
	)
	switch {
	case len(req.Generations) > 0:
		uploads := make([]ingest.Upload, len(req.Generations))
		for i, item := range req.Generations {
			uploads[i] = ingest.Upload{
				JobID:        req.JobID,
				ExperimentID: req.ExperimentID,
				Stats:        item.Stats,
				Matches:      item.Matches,
				Checkpoint:   item.Checkpoint,
			}
		}
		res, err = s.deps.Ingestor.SubmitBatch(r.Context(), uploads)
	case req.Stats != nil:
		res, err = s.deps.Ingestor.Submit(r.Context(), ingest.Upload{
			JobID:        req.JobID,
			ExperimentID: req.ExperimentID,
			Stats:        *req.Stats,
			Matches:      req.Matches,
			Checkpoint:   req.Checkpoint,
		})
	default:
		err = core.Validationf("generation_stats", "either generation_stats or generations is required")
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// ──────────────────────────────────────────────────────────────────────────
// Workers
// ──────────────────────────────────────────────────────────────────────────

func (s *server) registerWorker(w http.ResponseWriter, r *http.Request) {
	var req registry.Registration
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	worker, err := s.deps.Registry.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"worker_id":         worker.ID,
		"max_parallel_jobs": worker.MaxParallelJobs,
		"active_jobs_count": worker.ActiveJobsCount,
	})
}

type heartbeatRequest struct {
	WorkerID        string             `json:"worker_id"`
	Status          *core.WorkerStatus `json:"status,omitempty"`
	ActiveJobsCount *int               `json:"active_jobs_count,omitempty"`
}

func (s *server) heartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	view, err := s.deps.Registry.Heartbeat(r.Context(), req.WorkerID, req.Status, req.ActiveJobsCount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"worker": view})
}

type disconnectRequest struct {
	WorkerID string `json:"worker_id"`
	Reason   string `json:"reason,omitempty"`
}

func (s *server) disconnectWorker(w http.ResponseWriter, r *http.Request) {
	var req disconnectRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	released, err := s.deps.Registry.Disconnect(r.Context(), req.WorkerID, req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs_released": released})
}

func (s *server) listWorkers(w http.ResponseWriter, r *http.Request) {
	views, err := s.deps.Registry.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"workers": views})
}

// ──────────────────────────────────────────────────────────────────────────
// Experiments
// ──────────────────────────────────────────────────────────────────────────

func (s *server) createExperiment(w http.ResponseWriter, r *http.Request) {
	var exp core.Experiment
	if err := s.decodeJSON(r, &exp); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.deps.Experiments.Create(r.Context(), &exp); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"experiment": exp})
}

func (s *server) listExperiments(w http.ResponseWriter, r *http.Request) {
	status := core.ExperimentStatus(r.URL.Query().Get("status"))
	exps, err := s.deps.Experiments.List(r.Context(), status, 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"experiments": exps})
}

func (s *server) getExperiment(w http.ResponseWriter, r *http.Request) {
	exp, err := s.deps.Experiments.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"experiment": exp})
}

func (s *server) deleteExperiment(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Experiments.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *server) startExperiment(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Experiments.Start(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

func (s *server) stopExperiment(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Experiments.Stop(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

func (s *server) forceCompleteExperiment(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Experiments.ForceComplete(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

type equilibriumRequest struct {
	ConvergenceGeneration int `json:"convergence_generation"`
}

func (s *server) equilibrium(w http.ResponseWriter, r *http.Request) {
	var req equilibriumRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	status, err := s.deps.Experiments.Equilibrium(r.Context(), r.PathValue("id"), req.ConvergenceGeneration)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": status})
}
