package registry

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
	"github.com/jdefouw/EvoNash-sub001/pkg/storage"
)

func newTestRegistry(t *testing.T) (*Registry, *storage.GormStore) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "open in-memory sqlite")

	s := storage.NewGormStore(db)
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")
	return New(s, config.Default(), events.NewBus(), nil), s
}

func TestMaxParallelJobs(t *testing.T) {
	assert.Equal(t, 1, MaxParallelJobs(1), "floor at one job")
	assert.Equal(t, 1, MaxParallelJobs(2))
	assert.Equal(t, 4, MaxParallelJobs(8))
	assert.Equal(t, 12, MaxParallelJobs(24))
	assert.Equal(t, 40, MaxParallelJobs(80))
}

func TestRegister_AssignsIDAndCapacity(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)

	w, err := r.Register(ctx, Registration{GPUType: "RTX 4090", VRAMGB: 24})
	require.NoError(t, err)
	assert.NotEmpty(t, w.ID, "id defaults to a UUID")
	assert.Equal(t, 12, w.MaxParallelJobs)
	assert.Equal(t, core.WorkerIdle, w.Status)
	assert.Equal(t, 0, w.ActiveJobsCount)
}

func TestRegister_Validation(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)

	_, err := r.Register(ctx, Registration{VRAMGB: 24})
	var verr *core.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = r.Register(ctx, Registration{GPUType: "A100", VRAMGB: 0})
	assert.ErrorAs(t, err, &verr)

	_, err = r.Register(ctx, Registration{WorkerID: "bad id with spaces", GPUType: "A100", VRAMGB: 40})
	assert.ErrorAs(t, err, &verr)
}

func TestHeartbeat_UnknownStatusRejected(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)
	w, err := r.Register(ctx, Registration{GPUType: "A100", VRAMGB: 40})
	require.NoError(t, err)

	bogus := core.WorkerStatus("napping")
	_, err = r.Heartbeat(ctx, w.ID, &bogus, nil)
	var verr *core.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestHeartbeat_RefreshesLiveness(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)
	w, err := r.Register(ctx, Registration{GPUType: "A100", VRAMGB: 40})
	require.NoError(t, err)

	view, err := r.Heartbeat(ctx, w.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, core.WorkerIdle, view.EffectiveStatus)
	assert.WithinDuration(t, time.Now(), view.LastHeartbeat, 5*time.Second)

	_, err = r.Heartbeat(ctx, "no-such-worker", nil, nil)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestEffectiveStatus_StaleHeartbeatReadsOffline(t *testing.T) {
	r, _ := newTestRegistry(t)
	now := time.Now()

	w := &core.Worker{Status: core.WorkerProcessing, LastHeartbeat: now.Add(-91 * time.Second)}
	assert.Equal(t, core.WorkerOffline, r.EffectiveStatus(w, now),
		"heartbeat older than the staleness threshold reads offline")

	w.LastHeartbeat = now.Add(-89 * time.Second)
	assert.Equal(t, core.WorkerProcessing, r.EffectiveStatus(w, now))
}

func TestEffectiveStatus_OverrideDoesNotPersist(t *testing.T) {
	ctx := context.Background()
	r, s := newTestRegistry(t)
	w, err := r.Register(ctx, Registration{GPUType: "A100", VRAMGB: 40})
	require.NoError(t, err)

	// Age the heartbeat past the threshold by hand.
	stale := time.Now().Add(-5 * time.Minute)
	require.NoError(t, s.DB().Model(&core.Worker{}).
		Where("id = ?", w.ID).
		Update("last_heartbeat", stale).Error)

	view, err := r.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, core.WorkerOffline, view.EffectiveStatus)
	assert.Equal(t, core.WorkerIdle, view.Status, "persisted status untouched")
}

func TestDisconnect_DefaultsReason(t *testing.T) {
	ctx := context.Background()
	r, s := newTestRegistry(t)
	w, err := r.Register(ctx, Registration{GPUType: "A100", VRAMGB: 40})
	require.NoError(t, err)

	released, err := r.Disconnect(ctx, w.ID, "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), released)

	got, err := s.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, core.WorkerOffline, got.Status)
}

func TestList_ReturnsEffectiveStatuses(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)
	_, err := r.Register(ctx, Registration{GPUType: "A100", VRAMGB: 40})
	require.NoError(t, err)
	_, err = r.Register(ctx, Registration{GPUType: "RTX 3090", VRAMGB: 24})
	require.NoError(t, err)

	views, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, views, 2)
	for _, v := range views {
		assert.Equal(t, core.WorkerIdle, v.EffectiveStatus)
	}
}
