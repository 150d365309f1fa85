package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/jdefouw/EvoNash-sub001/pkg/config"
	"github.com/jdefouw/EvoNash-sub001/pkg/core"
	"github.com/jdefouw/EvoNash-sub001/pkg/reconcile"
)

// Sweeper periodically re-runs the completion check over every
// non-terminal experiment. Uploads and reads already trigger
// reconciliation opportunistically; the sweep catches experiments whose
// last upload raced a then-active assignment that has since gone stuck.
type Sweeper struct {
	store      core.Store
	reconciler *reconcile.Reconciler
	cfg        config.Config
	sched      Schedule
	logger     *slog.Logger
}

// NewSweeper creates a sweeper. When sched is nil, the config's
// SweepInterval is used as a fixed-interval schedule.
func NewSweeper(store core.Store, rec *reconcile.Reconciler, cfg config.Config, sched Schedule, logger *slog.Logger) *Sweeper {
	if sched == nil {
		sched = Every(cfg.SweepInterval)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: store, reconciler: rec, cfg: cfg, sched: sched, logger: logger}
}

// Run sweeps until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	for {
		next := s.sched.Next(time.Now())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(next)):
		}
		s.sweep(ctx)
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	ids, err := s.store.ReconcilableExperimentIDs(ctx)
	if err != nil {
		s.logger.Error("sweep: list experiments", "error", err)
		return
	}

	for _, id := range ids {
		if _, err := s.reconciler.Evaluate(ctx, id); err != nil {
			s.logger.Error("sweep: reconcile", "experiment_id", id, "error", err)
		}
	}

	s.logStaleWorkers(ctx)
}

// logStaleWorkers surfaces workers whose heartbeat has gone stale. The
// staleness override is advisory; the sweep only reports it, it never
// releases jobs.
func (s *Sweeper) logStaleWorkers(ctx context.Context) {
	workers, err := s.store.ListWorkers(ctx)
	if err != nil {
		s.logger.Error("sweep: list workers", "error", err)
		return
	}

	now := time.Now()
	for _, w := range workers {
		if w.Status == core.WorkerOffline {
			continue
		}
		if age := now.Sub(w.LastHeartbeat); age > s.cfg.HeartbeatStaleness {
			s.logger.Warn("worker heartbeat stale",
				"worker_id", w.ID,
				"last_heartbeat_age", age.Round(time.Second),
				"active_jobs_count", w.ActiveJobsCount)
		}
	}
}
