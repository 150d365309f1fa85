// Package reconcile decides when an experiment has produced enough
// verified output to be marked complete.
//
// This is the single completion check in the service. It is invoked
// opportunistically from several trigger points (result uploads, reads,
// force-complete, the background sweep) and is race-tolerant: the final
// transition is an idempotent conditional update, so concurrent
// invocations cannot double-fire.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/jdefouw/EvoNash-sub001/pkg/config"
	"github.com/jdefouw/EvoNash-sub001/pkg/core"
	"github.com/jdefouw/EvoNash-sub001/pkg/events"
)

// Outcome reports what the reconciler found and whether it completed the
// experiment.
type Outcome struct {
	Completed        bool `json:"completed"`
	AlreadyCompleted bool `json:"already_completed"`

	GenerationCount       int     `json:"generation_count"`
	MaxGenerations        int     `json:"max_generations"`
	PercentComplete       float64 `json:"percent_complete"`
	HasAllGenerations     bool    `json:"has_all_generations"`
	FinalGenerationExists bool    `json:"final_generation_exists"`

	// BlockingAssignments counts assignments still treated as truly
	// active: assigned, or processing within the grace window.
	BlockingAssignments int `json:"blocking_assignments"`
}

// Reconciler evaluates experiments against the completion criteria.
type Reconciler struct {
	store  core.Store
	cfg    config.Config
	bus    *events.Bus
	logger *slog.Logger
}

// New creates a reconciler. The bus may be nil.
func New(store core.Store, cfg config.Config, bus *events.Bus, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, cfg: cfg, bus: bus, logger: logger}
}

// Evaluate runs the completion check for one experiment and, when the
// criteria hold, marks it COMPLETED. Evaluating an already-COMPLETED
// experiment is a no-op success.
func (r *Reconciler) Evaluate(ctx context.Context, experimentID string) (*Outcome, error) {
	exp, err := r.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	if exp.Status == core.ExperimentCompleted {
		return &Outcome{Completed: true, AlreadyCompleted: true, MaxGenerations: exp.MaxGenerations}, nil
	}
	if exp.Status != core.ExperimentRunning && exp.Status != core.ExperimentPending {
		// Stopped and failed experiments are never auto-completed.
		return r.coverage(ctx, exp)
	}

	out, err := r.coverage(ctx, exp)
	if err != nil {
		return nil, err
	}
	// Fallback: the terminal generation plus a total count of at least
	// max_generations, tolerating a few missing interior generations.
	fallback := out.FinalGenerationExists && out.GenerationCount >= out.MaxGenerations
	if !out.HasAllGenerations && !fallback {
		return out, nil
	}

	active, err := r.store.ActiveAssignments(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for _, a := range active {
		if r.trulyActive(a, now) {
			out.BlockingAssignments++
		}
	}
	if out.BlockingAssignments > 0 {
		return out, nil
	}

	marked, err := r.store.MarkExperimentCompleted(ctx, experimentID, nil)
	if err != nil {
		return nil, err
	}
	out.Completed = true
	out.AlreadyCompleted = !marked
	if marked {
		r.logger.Info("experiment reconciled to completed",
			"experiment_id", experimentID,
			"generations", out.GenerationCount,
			"max_generations", out.MaxGenerations)
		r.bus.Publish(&core.ExperimentFinished{
			ExperimentID: experimentID,
			Timestamp:    now,
		})
	}
	return out, nil
}

// CheckForceThreshold verifies the relaxed force-complete criteria:
// coverage of at least ForceCompleteMinPercent, or the final generation
// present with at least ForceCompleteFinalPercent. On shortfall it returns
// a *core.CompletionShortfall carrying the exact counts.
func (r *Reconciler) CheckForceThreshold(ctx context.Context, exp *core.Experiment) error {
	out, err := r.coverage(ctx, exp)
	if err != nil {
		return err
	}

	if out.PercentComplete >= r.cfg.ForceCompleteMinPercent {
		return nil
	}
	if out.FinalGenerationExists && out.PercentComplete >= r.cfg.ForceCompleteFinalPercent {
		return nil
	}
	return &core.CompletionShortfall{
		GenerationCount:       out.GenerationCount,
		MaxGenerations:        out.MaxGenerations,
		PercentComplete:       out.PercentComplete,
		FinalGenerationExists: out.FinalGenerationExists,
	}
}

// coverage computes the generation coverage half of the check.
// HasAllGenerations is strict set coverage of [0, max_generations);
// FinalGenerationExists tracks only the terminal generation, with any
// count condition applied by the caller.
func (r *Reconciler) coverage(ctx context.Context, exp *core.Experiment) (*Outcome, error) {
	nums, err := r.store.GenerationNumbers(ctx, exp.ID)
	if err != nil {
		return nil, err
	}

	present := make(map[int]struct{}, len(nums))
	for _, n := range nums {
		present[n] = struct{}{}
	}

	out := &Outcome{
		GenerationCount: len(present),
		MaxGenerations:  exp.MaxGenerations,
	}
	if exp.MaxGenerations > 0 {
		out.PercentComplete = float64(len(present)) / float64(exp.MaxGenerations)
	}

	hasAll := exp.MaxGenerations > 0
	for i := 0; i < exp.MaxGenerations; i++ {
		if _, ok := present[i]; !ok {
			hasAll = false
			break
		}
	}
	out.HasAllGenerations = hasAll

	_, finalPresent := present[exp.MaxGenerations-1]
	out.FinalGenerationExists = exp.MaxGenerations > 0 && finalPresent

	return out, nil
}

// trulyActive reports whether the assignment still counts against
// completion. Processing assignments older than the grace window are
// treated as stuck and ignored so they cannot block completion forever.
func (r *Reconciler) trulyActive(a *core.JobAssignment, now time.Time) bool {
	switch a.Status {
	case core.AssignmentAssigned:
		return true
	case core.AssignmentProcessing:
		ref := a.AssignedAt
		if a.StartedAt != nil {
			ref = *a.StartedAt
		}
		return now.Sub(ref) <= r.cfg.AssignmentGraceWindow
	default:
		return false
	}
}
