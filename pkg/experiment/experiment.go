// Package experiment owns the high-level experiment lifecycle that the
// reconciler and the control endpoints mutate.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jdefouw/EvoNash-sub001/pkg/config"
	"github.com/jdefouw/EvoNash-sub001/pkg/core"
	"github.com/jdefouw/EvoNash-sub001/pkg/events"
	"github.com/jdefouw/EvoNash-sub001/pkg/reconcile"
)

// Service implements the experiment state machine.
type Service struct {
	store      core.Store
	cfg        config.Config
	reconciler *reconcile.Reconciler
	bus        *events.Bus
	logger     *slog.Logger
}

// New creates the state machine service. The bus may be nil.
func New(store core.Store, cfg config.Config, rec *reconcile.Reconciler, bus *events.Bus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, cfg: cfg, reconciler: rec, bus: bus, logger: logger}
}

// Create inserts a new experiment in PENDING state.
func (s *Service) Create(ctx context.Context, exp *core.Experiment) error {
	if exp.Name == "" {
		return core.Validationf("name", "must not be empty")
	}
	if exp.MaxGenerations <= 0 {
		return core.Validationf("max_generations", "must be a positive integer")
	}
	switch exp.MutationMode {
	case "", core.MutationStatic, core.MutationAdaptive:
	default:
		return core.Validationf("mutation_mode", "must be STATIC or ADAPTIVE")
	}
	return s.store.CreateExperiment(ctx, exp)
}

// Get returns the experiment, opportunistically running the completion
// check first: reads are one of the reconciler's trigger points, so a
// finished experiment is repaired to COMPLETED even if the upload-time
// check was missed. Reconciliation failures are logged, not surfaced.
func (s *Service) Get(ctx context.Context, id string) (*core.Experiment, error) {
	if _, err := s.reconciler.Evaluate(ctx, id); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, err
		}
		s.logger.Warn("read-time reconciliation failed", "experiment_id", id, "error", err)
	}
	return s.store.GetExperiment(ctx, id)
}

// List returns experiments, optionally filtered by status.
func (s *Service) List(ctx context.Context, status core.ExperimentStatus, limit int) ([]*core.Experiment, error) {
	return s.store.ListExperiments(ctx, status, limit)
}

// Start queues an experiment for pickup: allowed from PENDING, STOPPED and
// FAILED; conflicts if already RUNNING or COMPLETED. Workers poll and
// self-promote the experiment to RUNNING on dispatch.
func (s *Service) Start(ctx context.Context, id string) (core.ExperimentStatus, error) {
	ok, err := s.store.TransitionExperiment(ctx, id,
		[]core.ExperimentStatus{core.ExperimentPending, core.ExperimentStopped, core.ExperimentFailed},
		core.ExperimentPending)
	if err != nil {
		return "", err
	}
	if !ok {
		exp, err := s.store.GetExperiment(ctx, id)
		if err != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: cannot start experiment in status %s", core.ErrInvalidTransition, exp.Status)
	}
	s.logger.Info("experiment queued", "experiment_id", id)
	return core.ExperimentPending, nil
}

// Stop halts a RUNNING experiment: status → STOPPED, and every active
// assignment is atomically cancelled.
func (s *Service) Stop(ctx context.Context, id string) (core.ExperimentStatus, error) {
	cancelled, err := s.store.StopExperiment(ctx, id)
	if err != nil {
		return "", err
	}
	s.logger.Info("experiment stopped", "experiment_id", id, "assignments_cancelled", cancelled)
	s.bus.Publish(&core.ExperimentHalted{ExperimentID: id, Cancelled: cancelled, Timestamp: time.Now()})
	return core.ExperimentStopped, nil
}

// ForceComplete completes a RUNNING or PENDING experiment provided the
// relaxed coverage threshold holds; otherwise it fails with a
// *core.CompletionShortfall reporting the exact gap. Stuck assignments are
// marked completed before the status flips.
func (s *Service) ForceComplete(ctx context.Context, id string) (core.ExperimentStatus, error) {
	exp, err := s.store.GetExperiment(ctx, id)
	if err != nil {
		return "", err
	}
	if exp.Status != core.ExperimentRunning && exp.Status != core.ExperimentPending {
		return "", fmt.Errorf("%w: cannot force-complete experiment in status %s", core.ErrInvalidTransition, exp.Status)
	}

	if err := s.reconciler.CheckForceThreshold(ctx, exp); err != nil {
		return "", err
	}
	return s.complete(ctx, id, nil, true)
}

// Equilibrium is the idempotent convergence signal from a worker: the
// worker has already verified sufficient data, so completion is
// unconditional. Signalling a terminal experiment returns its current
// status without mutation.
func (s *Service) Equilibrium(ctx context.Context, id string, convergenceGeneration int) (core.ExperimentStatus, error) {
	exp, err := s.store.GetExperiment(ctx, id)
	if err != nil {
		return "", err
	}
	if exp.Status.Terminal() {
		return exp.Status, nil
	}
	if exp.Status != core.ExperimentRunning && exp.Status != core.ExperimentPending {
		return "", fmt.Errorf("%w: cannot signal equilibrium in status %s", core.ErrInvalidTransition, exp.Status)
	}

	s.logger.Info("equilibrium signalled",
		"experiment_id", id,
		"convergence_generation", convergenceGeneration)
	return s.complete(ctx, id, &convergenceGeneration, true)
}

// Delete removes the experiment and everything attached to it.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteExperiment(ctx, id); err != nil {
		return err
	}
	s.logger.Info("experiment deleted", "experiment_id", id)
	return nil
}

func (s *Service) complete(ctx context.Context, id string, convergence *int, forced bool) (core.ExperimentStatus, error) {
	if _, err := s.store.CompleteStuckAssignments(ctx, id); err != nil {
		return "", err
	}
	marked, err := s.store.MarkExperimentCompleted(ctx, id, convergence)
	if err != nil {
		return "", err
	}
	if marked {
		s.bus.Publish(&core.ExperimentFinished{ExperimentID: id, Forced: forced, Timestamp: time.Now()})
	}
	return core.ExperimentCompleted, nil
}
