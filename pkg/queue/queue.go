// Package queue owns the job-assignment lifecycle: dispatching batches to
// polling workers and the atomic claim/release/complete protocol.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jdefouw/EvoNash-sub001/pkg/config"
	"github.com/jdefouw/EvoNash-sub001/pkg/core"
	"github.com/jdefouw/EvoNash-sub001/pkg/events"
	"github.com/jdefouw/EvoNash-sub001/pkg/security"
)

// Dispatch is one batch handed to a worker, together with the experiment
// configuration the worker needs to run it.
type Dispatch struct {
	Assignment *core.JobAssignment `json:"job"`
	Experiment *core.Experiment    `json:"experiment_config"`
}

// Service coordinates job assignments. All mutation goes through the
// store's atomic primitives; the service adds validation, capacity checks
// and event publication.
type Service struct {
	store  core.Store
	cfg    config.Config
	bus    *events.Bus
	logger *slog.Logger
}

// New creates an assignment service. The bus may be nil.
func New(store core.Store, cfg config.Config, bus *events.Bus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, cfg: cfg, bus: bus, logger: logger}
}

// Next hands the polling worker its next batch, or nil when no assignable
// work exists. Failed batches of dispatchable experiments are reassigned
// first; otherwise the next uncovered generation range of the oldest
// queued experiment is partitioned into a fresh assignment, promoting the
// experiment PENDING → RUNNING.
func (s *Service) Next(ctx context.Context, workerID string) (*Dispatch, error) {
	if err := security.ValidateID("worker_id", workerID); err != nil {
		return nil, err
	}

	w, err := s.store.GetWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if w.ActiveJobsCount >= w.MaxParallelJobs {
		return nil, core.ErrWorkerAtCapacity
	}

	// Previously released batches first, so interrupted ranges finish
	// before new ones open.
	if a, err := s.store.ReassignFailedBatch(ctx, workerID); err != nil {
		return nil, err
	} else if a != nil {
		return s.dispatched(ctx, a)
	}

	for _, status := range []core.ExperimentStatus{core.ExperimentPending, core.ExperimentRunning} {
		exps, err := s.store.ListExperiments(ctx, status, 0)
		if err != nil {
			return nil, err
		}
		for _, exp := range exps {
			a, err := s.partitionNext(ctx, exp, workerID)
			if err != nil {
				return nil, err
			}
			if a != nil {
				return s.dispatched(ctx, a)
			}
		}
	}
	return nil, nil
}

// partitionNext creates an assignment for the next uncovered generation
// range of the experiment, or returns nil when it is fully covered. The
// range computation and the insert are one storage transaction, so
// concurrent pollers never receive overlapping ranges.
func (s *Service) partitionNext(ctx context.Context, exp *core.Experiment, workerID string) (*core.JobAssignment, error) {
	a, err := s.store.PartitionAssignment(ctx, exp.ID, workerID, s.cfg.BatchGenerations, exp.MaxGenerations)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, nil
	}

	if exp.Status == core.ExperimentPending {
		if _, err := s.store.TransitionExperiment(ctx, exp.ID,
			[]core.ExperimentStatus{core.ExperimentPending}, core.ExperimentRunning); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (s *Service) dispatched(ctx context.Context, a *core.JobAssignment) (*Dispatch, error) {
	exp, err := s.store.GetExperiment(ctx, a.ExperimentID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("assignment dispatched",
		"job_id", a.JobID,
		"worker_id", a.WorkerID,
		"experiment_id", a.ExperimentID,
		"generations", a.GenerationEnd-a.GenerationStart)
	s.bus.Publish(&core.AssignmentDispatched{Assignment: a, Timestamp: time.Now()})
	return &Dispatch{Assignment: a, Experiment: exp}, nil
}

// Claim transitions an assignment assigned → processing for its owning
// worker. The status change and the worker counter increment happen in a
// single transaction; a racing claim fails with core.ErrConflict and
// causes no mutation.
func (s *Service) Claim(ctx context.Context, jobID, workerID string) (*core.JobAssignment, error) {
	if err := security.ValidateID("job_id", jobID); err != nil {
		return nil, err
	}
	if err := security.ValidateID("worker_id", workerID); err != nil {
		return nil, err
	}

	a, err := s.store.ClaimAssignment(ctx, jobID, workerID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("assignment claimed", "job_id", jobID, "worker_id", workerID)
	s.bus.Publish(&core.AssignmentClaimed{Assignment: a, Timestamp: time.Now()})
	return a, nil
}

// Release gives a batch back gracefully, e.g. on worker shutdown. The
// batch is marked failed so the dispatcher can reassign it. Ownership is
// required; release by a different worker mutates nothing.
func (s *Service) Release(ctx context.Context, jobID, workerID, reason string) (*core.JobAssignment, error) {
	if err := security.ValidateID("job_id", jobID); err != nil {
		return nil, err
	}
	if err := security.ValidateID("worker_id", workerID); err != nil {
		return nil, err
	}
	reason = security.SanitizeReason(reason)
	if reason == "" {
		reason = "released by worker"
	}

	a, err := s.store.ReleaseAssignment(ctx, jobID, workerID, reason)
	if err != nil {
		return nil, err
	}
	s.logger.Info("assignment released", "job_id", jobID, "worker_id", workerID, "reason", reason)
	s.bus.Publish(&core.AssignmentReleased{Assignment: a, Reason: reason, Timestamp: time.Now()})
	return a, nil
}

// Complete settles a processing batch as completed or failed, mirroring
// the claim's counter update.
func (s *Service) Complete(ctx context.Context, jobID, workerID string, failed bool, errMsg string) (*core.JobAssignment, error) {
	if err := security.ValidateID("job_id", jobID); err != nil {
		return nil, err
	}
	if err := security.ValidateID("worker_id", workerID); err != nil {
		return nil, err
	}

	a, err := s.store.CompleteAssignment(ctx, jobID, workerID, failed, security.SanitizeReason(errMsg))
	if err != nil {
		return nil, err
	}
	s.logger.Info("assignment completed", "job_id", jobID, "worker_id", workerID, "failed", failed)
	s.bus.Publish(&core.AssignmentSettled{Assignment: a, Failed: failed, Timestamp: time.Now()})
	return a, nil
}

// Get returns an assignment by job id.
func (s *Service) Get(ctx context.Context, jobID string) (*core.JobAssignment, error) {
	return s.store.GetAssignmentByJobID(ctx, jobID)
}

// IsNoWork reports whether the error from Next means "poll again later"
// rather than a real failure.
func IsNoWork(err error) bool {
	return errors.Is(err, core.ErrWorkerAtCapacity)
}
