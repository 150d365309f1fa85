// Package registry tracks worker identity, capacity, and liveness.
package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jdefouw/EvoNash-sub001/pkg/config"
	"github.com/jdefouw/EvoNash-sub001/pkg/core"
	"github.com/jdefouw/EvoNash-sub001/pkg/events"
	"github.com/jdefouw/EvoNash-sub001/pkg/security"
)

// vramPerJobGB is how much VRAM one batch is budgeted; capacity is derived
// from it at registration time.
const vramPerJobGB = 2

// Registration is the declared capability of a worker.
type Registration struct {
	WorkerID string `json:"worker_id,omitempty"`
	GPUType  string `json:"gpu_type"`
	VRAMGB   int    `json:"vram_gb"`
}

// WorkerView is a worker with its read-time effective status applied.
type WorkerView struct {
	core.Worker
	EffectiveStatus core.WorkerStatus `json:"effective_status"`
}

// Registry is the worker registry and heartbeat monitor.
type Registry struct {
	store  core.Store
	cfg    config.Config
	bus    *events.Bus
	logger *slog.Logger
}

// New creates a registry. The bus may be nil.
func New(store core.Store, cfg config.Config, bus *events.Bus, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: store, cfg: cfg, bus: bus, logger: logger}
}

// MaxParallelJobs derives capacity from declared VRAM.
func MaxParallelJobs(vramGB int) int {
	n := vramGB / vramPerJobGB
	if n < 1 {
		n = 1
	}
	return n
}

// Register registers a new worker or restores a known one. Re-registration
// never blindly resets state: the store re-derives active_jobs_count from
// the worker's live assignments, so a worker restarting mid-job keeps its
// bookkeeping.
func (r *Registry) Register(ctx context.Context, reg Registration) (*core.Worker, error) {
	if reg.GPUType == "" {
		return nil, core.Validationf("gpu_type", "must not be empty")
	}
	if reg.VRAMGB <= 0 {
		return nil, core.Validationf("vram_gb", "must be a positive integer")
	}
	if reg.WorkerID == "" {
		reg.WorkerID = uuid.New().String()
	} else if err := security.ValidateID("worker_id", reg.WorkerID); err != nil {
		return nil, err
	}

	w := &core.Worker{
		ID:              reg.WorkerID,
		GPUType:         reg.GPUType,
		VRAMGB:          reg.VRAMGB,
		MaxParallelJobs: MaxParallelJobs(reg.VRAMGB),
		Status:          core.WorkerIdle,
	}
	if err := r.store.RegisterWorker(ctx, w); err != nil {
		return nil, err
	}

	r.logger.Info("worker registered",
		"worker_id", w.ID,
		"gpu_type", w.GPUType,
		"max_parallel_jobs", w.MaxParallelJobs,
		"active_jobs_count", w.ActiveJobsCount)
	r.bus.Publish(&core.WorkerRegistered{Worker: w, Timestamp: time.Now()})
	return w, nil
}

// Heartbeat records a liveness signal. Status and active_jobs_count are
// applied only when the worker explicitly reported them; a bare heartbeat
// never downgrades a processing worker to idle.
func (r *Registry) Heartbeat(ctx context.Context, workerID string, status *core.WorkerStatus, activeJobs *int) (*WorkerView, error) {
	if err := security.ValidateID("worker_id", workerID); err != nil {
		return nil, err
	}
	if status != nil {
		switch *status {
		case core.WorkerIdle, core.WorkerProcessing, core.WorkerOffline:
		default:
			return nil, core.Validationf("status", "unknown worker status %q", *status)
		}
	}

	w, err := r.store.HeartbeatWorker(ctx, workerID, status, activeJobs)
	if err != nil {
		return nil, err
	}
	return r.view(w), nil
}

// Disconnect is the graceful-shutdown path: it persists offline and
// releases all of the worker's active assignments so they become eligible
// for reassignment.
func (r *Registry) Disconnect(ctx context.Context, workerID, reason string) (int64, error) {
	if err := security.ValidateID("worker_id", workerID); err != nil {
		return 0, err
	}
	reason = security.SanitizeReason(reason)
	if reason == "" {
		reason = "worker disconnected"
	}

	released, err := r.store.DisconnectWorker(ctx, workerID, reason)
	if err != nil {
		return 0, err
	}

	r.logger.Info("worker disconnected",
		"worker_id", workerID,
		"jobs_released", released,
		"reason", reason)
	r.bus.Publish(&core.WorkerDisconnected{
		WorkerID:     workerID,
		Reason:       reason,
		JobsReleased: released,
		Timestamp:    time.Now(),
	})
	return released, nil
}

// Get returns a worker with its effective status.
func (r *Registry) Get(ctx context.Context, workerID string) (*WorkerView, error) {
	w, err := r.store.GetWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}
	return r.view(w), nil
}

// List returns all workers with their effective statuses.
func (r *Registry) List(ctx context.Context) ([]*WorkerView, error) {
	workers, err := r.store.ListWorkers(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]*WorkerView, len(workers))
	for i, w := range workers {
		views[i] = r.view(w)
	}
	return views, nil
}

// EffectiveStatus applies the read-time staleness override: a heartbeat
// older than the staleness threshold reports offline regardless of the
// persisted status. This is advisory only and releases nothing.
func (r *Registry) EffectiveStatus(w *core.Worker, now time.Time) core.WorkerStatus {
	if now.Sub(w.LastHeartbeat) > r.cfg.HeartbeatStaleness {
		return core.WorkerOffline
	}
	return w.Status
}

func (r *Registry) view(w *core.Worker) *WorkerView {
	return &WorkerView{
		Worker:          *w,
		EffectiveStatus: r.EffectiveStatus(w, time.Now()),
	}
}
