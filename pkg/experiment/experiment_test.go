package experiment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdefouw/EvoNash-sub001/pkg/config"
	"github.com/jdefouw/EvoNash-sub001/pkg/core"
	"github.com/jdefouw/EvoNash-sub001/pkg/events"
	"github.com/jdefouw/EvoNash-sub001/pkg/reconcile"
	"github.com/jdefouw/EvoNash-sub001/pkg/storage"
)

func newTestService(t *testing.T) (*Service, *storage.GormStore) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "open in-memory sqlite")

	s := storage.NewGormStore(db)
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")

	cfg := config.Default()
	bus := events.NewBus()
	rec := reconcile.New(s, cfg, bus, nil)
	return New(s, cfg, rec, bus, nil), s
}

func create(t *testing.T, svc *Service, maxGen int) *core.Experiment {
	t.Helper()
	exp := &core.Experiment{Name: "lifecycle-test", MaxGenerations: maxGen}
	require.NoError(t, svc.Create(context.Background(), exp))
	return exp
}

func TestCreate_Validation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	var verr *core.ValidationError
	assert.ErrorAs(t, svc.Create(ctx, &core.Experiment{MaxGenerations: 10}), &verr)
	assert.ErrorAs(t, svc.Create(ctx, &core.Experiment{Name: "x"}), &verr)
	assert.ErrorAs(t, svc.Create(ctx, &core.Experiment{Name: "x", MaxGenerations: -5}), &verr)
	assert.ErrorAs(t, svc.Create(ctx, &core.Experiment{
		Name: "x", MaxGenerations: 10, MutationMode: "CHAOTIC",
	}), &verr)

	assert.NoError(t, svc.Create(ctx, &core.Experiment{
		Name: "ok", MaxGenerations: 10, MutationMode: core.MutationAdaptive,
	}))
}

func TestStart_FromPending(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	exp := create(t, svc, 10)

	status, err := svc.Start(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ExperimentPending, status, "queued until a worker polls")
}

func TestStart_FromStoppedAndFailed(t *testing.T) {
	ctx := context.Background()
	svc, s := newTestService(t)

	for _, from := range []core.ExperimentStatus{core.ExperimentStopped, core.ExperimentFailed} {
		exp := &core.Experiment{Name: "restart", Status: from, MaxGenerations: 10}
		require.NoError(t, s.CreateExperiment(ctx, exp))

		status, err := svc.Start(ctx, exp.ID)
		require.NoError(t, err, string(from))
		assert.Equal(t, core.ExperimentPending, status)
	}
}

func TestStart_InvalidFromCompleted(t *testing.T) {
	ctx := context.Background()
	svc, s := newTestService(t)
	exp := &core.Experiment{Name: "done", Status: core.ExperimentCompleted, MaxGenerations: 10}
	require.NoError(t, s.CreateExperiment(ctx, exp))

	_, err := svc.Start(ctx, exp.ID)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	_, err = svc.Start(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestStop_CancelsAndReports(t *testing.T) {
	ctx := context.Background()
	svc, s := newTestService(t)
	exp := &core.Experiment{Name: "running", Status: core.ExperimentRunning, MaxGenerations: 10}
	require.NoError(t, s.CreateExperiment(ctx, exp))
	require.NoError(t, s.RegisterWorker(ctx, &core.Worker{ID: "w1"}))
	require.NoError(t, s.CreateAssignment(ctx, &core.JobAssignment{
		ExperimentID: exp.ID, WorkerID: "w1", GenerationStart: 0, GenerationEnd: 10,
	}))

	status, err := svc.Stop(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ExperimentStopped, status)

	_, err = svc.Stop(ctx, exp.ID)
	assert.ErrorIs(t, err, core.ErrInvalidTransition, "stop is not idempotent")
}

func TestForceComplete_Shortfall(t *testing.T) {
	ctx := context.Background()
	svc, s := newTestService(t)
	exp := &core.Experiment{Name: "short", Status: core.ExperimentRunning, MaxGenerations: 100}
	require.NoError(t, s.CreateExperiment(ctx, exp))
	for i := 0; i < 50; i++ {
		_, err := s.UpsertGeneration(ctx, &core.Generation{ExperimentID: exp.ID, Number: i})
		require.NoError(t, err)
	}

	_, err := svc.ForceComplete(ctx, exp.ID)
	var shortfall *core.CompletionShortfall
	require.True(t, errors.As(err, &shortfall))
	assert.Equal(t, 50, shortfall.GenerationCount)

	got, err := s.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ExperimentRunning, got.Status, "refused force-complete mutates nothing")
}

func TestForceComplete_AboveThreshold(t *testing.T) {
	ctx := context.Background()
	svc, s := newTestService(t)
	exp := &core.Experiment{Name: "almost", Status: core.ExperimentRunning, MaxGenerations: 100}
	require.NoError(t, s.CreateExperiment(ctx, exp))
	for i := 0; i < 96; i++ {
		_, err := s.UpsertGeneration(ctx, &core.Generation{ExperimentID: exp.ID, Number: i})
		require.NoError(t, err)
	}
	require.NoError(t, s.RegisterWorker(ctx, &core.Worker{ID: "w1"}))
	require.NoError(t, s.CreateAssignment(ctx, &core.JobAssignment{
		ExperimentID: exp.ID, WorkerID: "w1", GenerationStart: 96, GenerationEnd: 100,
	}))

	status, err := svc.ForceComplete(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ExperimentCompleted, status)

	a, err := s.ActiveAssignments(ctx, exp.ID)
	require.NoError(t, err)
	assert.Empty(t, a, "stuck assignments are settled before the status flips")
}

func TestForceComplete_InvalidState(t *testing.T) {
	ctx := context.Background()
	svc, s := newTestService(t)
	exp := &core.Experiment{Name: "stopped", Status: core.ExperimentStopped, MaxGenerations: 10}
	require.NoError(t, s.CreateExperiment(ctx, exp))

	_, err := svc.ForceComplete(ctx, exp.ID)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestEquilibrium_CompletesUnconditionally(t *testing.T) {
	ctx := context.Background()
	svc, s := newTestService(t)
	exp := &core.Experiment{Name: "converged", Status: core.ExperimentRunning, MaxGenerations: 1000}
	require.NoError(t, s.CreateExperiment(ctx, exp))

	status, err := svc.Equilibrium(ctx, exp.ID, 412)
	require.NoError(t, err)
	assert.Equal(t, core.ExperimentCompleted, status)

	got, err := s.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ConvergenceGeneration)
	assert.Equal(t, 412, *got.ConvergenceGeneration)
}

func TestEquilibrium_IdempotentOnTerminal(t *testing.T) {
	ctx := context.Background()
	svc, s := newTestService(t)
	exp := &core.Experiment{Name: "converged", Status: core.ExperimentRunning, MaxGenerations: 1000}
	require.NoError(t, s.CreateExperiment(ctx, exp))

	_, err := svc.Equilibrium(ctx, exp.ID, 412)
	require.NoError(t, err)

	status, err := svc.Equilibrium(ctx, exp.ID, 999)
	require.NoError(t, err)
	assert.Equal(t, core.ExperimentCompleted, status)

	got, err := s.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, 412, *got.ConvergenceGeneration, "repeat signal must not overwrite")
}

func TestGet_RepairsMissedCompletion(t *testing.T) {
	ctx := context.Background()
	svc, s := newTestService(t)
	exp := &core.Experiment{Name: "repair", Status: core.ExperimentRunning, MaxGenerations: 1}
	require.NoError(t, s.CreateExperiment(ctx, exp))
	_, err := s.UpsertGeneration(ctx, &core.Generation{ExperimentID: exp.ID, Number: 0})
	require.NoError(t, err)

	got, err := svc.Get(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ExperimentCompleted, got.Status,
		"read repairs an experiment whose upload-time check was missed")
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	exp := create(t, svc, 10)

	require.NoError(t, svc.Delete(ctx, exp.ID))
	assert.ErrorIs(t, svc.Delete(ctx, exp.ID), core.ErrNotFound)
}
