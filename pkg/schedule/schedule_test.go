package schedule

import (
	"context"
	"testing"
	"time"

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

func TestEvery(t *testing.T) {
	s := Every(30 * time.Second)
	from := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, from.Add(30*time.Second), s.Next(from))
}

func TestDaily(t *testing.T) {
	s := Daily(9, 30)

	before := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC), s.Next(before))

	after := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC), s.Next(after))
}

func TestCron(t *testing.T) {
	s, err := Cron("*/5 * * * *")
	require.NoError(t, err)

	from := time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC), s.Next(from))

	_, err = Cron("not a cron expression")
	assert.Error(t, err)
}

func TestSweeper_CompletesFinishedExperiment(t *testing.T) {
	ctx := context.Background()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	s := storage.NewGormStore(db)
	require.NoError(t, s.Migrate(ctx))

	cfg := config.Default()
	rec := reconcile.New(s, cfg, events.NewBus(), nil)
	sweeper := NewSweeper(s, rec, cfg, nil, nil)

	exp := &core.Experiment{Name: "sweep-me", Status: core.ExperimentRunning, MaxGenerations: 2}
	require.NoError(t, s.CreateExperiment(ctx, exp))
	for _, n := range []int{0, 1} {
		_, err := s.UpsertGeneration(ctx, &core.Generation{ExperimentID: exp.ID, Number: n})
		require.NoError(t, err)
	}

	sweeper.sweep(ctx)

	got, err := s.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ExperimentCompleted, got.Status)
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	s := storage.NewGormStore(db)
	require.NoError(t, s.Migrate(context.Background()))

	cfg := config.Default()
	rec := reconcile.New(s, cfg, nil, nil)
	sweeper := NewSweeper(s, rec, cfg, Every(time.Hour), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop on cancel")
	}
}
