package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	pkgconfig "github.com/jdefouw/EvoNash-sub001/pkg/config"
	"github.com/jdefouw/EvoNash-sub001/pkg/core"
	"github.com/jdefouw/EvoNash-sub001/pkg/events"
	"github.com/jdefouw/EvoNash-sub001/pkg/experiment"
	"github.com/jdefouw/EvoNash-sub001/pkg/ingest"
	"github.com/jdefouw/EvoNash-sub001/pkg/queue"
	"github.com/jdefouw/EvoNash-sub001/pkg/reconcile"
	"github.com/jdefouw/EvoNash-sub001/pkg/registry"
	"github.com/jdefouw/EvoNash-sub001/pkg/storage"
)

func newTestAPI(t *testing.T) (http.Handler, *storage.GormStore) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "open in-memory sqlite")

	s := storage.NewGormStore(db)
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")

	cfg := pkgconfig.Default()
	bus := events.NewBus()
	rec := reconcile.New(s, cfg, bus, nil)
	h := Handler(Deps{
		Queue:       queue.New(s, cfg, bus, nil),
		Registry:    registry.New(s, cfg, bus, nil),
		Experiments: experiment.New(s, cfg, rec, bus, nil),
		Ingestor:    ingest.New(s, cfg, rec, bus, nil),
	})
	return h, s
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestWorkerLifecycleOverHTTP(t *testing.T) {
	h, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodPost, "/workers/register", map[string]any{
		"worker_id": "w1", "gpu_type": "RTX 4090", "vram_gb": 24,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "w1", body["worker_id"])
	assert.Equal(t, float64(12), body["max_parallel_jobs"])

	rec = doJSON(t, h, http.MethodPost, "/workers/heartbeat", map[string]any{"worker_id": "w1"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/workers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	workers := decodeBody(t, rec)["workers"].([]any)
	assert.Len(t, workers, 1)

	rec = doJSON(t, h, http.MethodPost, "/workers/disconnect", map[string]any{"worker_id": "w1"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestJobFlowOverHTTP(t *testing.T) {
	h, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodPost, "/workers/register", map[string]any{
		"worker_id": "w1", "gpu_type": "A100", "vram_gb": 40,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/experiments", map[string]any{
		"name": "http-flow", "max_generations": 2,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	exp := decodeBody(t, rec)["experiment"].(map[string]any)
	expID := exp["id"].(string)

	rec = doJSON(t, h, http.MethodGet, "/queue?worker_id=w1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	job := decodeBody(t, rec)["job"].(map[string]any)
	jobID := job["job_id"].(string)

	rec = doJSON(t, h, http.MethodPost, "/queue/claim", map[string]any{
		"job_id": jobID, "worker_id": "w1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	for gen := 0; gen < 2; gen++ {
		rec = doJSON(t, h, http.MethodPost, "/queue/results", map[string]any{
			"job_id":           jobID,
			"experiment_id":    expID,
			"generation_stats": map[string]any{"generation": gen, "avg_elo": 1200.5},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/queue/complete", map[string]any{
		"job_id": jobID, "worker_id": "w1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// With the batch settled and both generations recorded, the next read
	// reconciles the experiment to COMPLETED.
	rec = doJSON(t, h, http.MethodGet, "/experiments/"+expID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	exp = decodeBody(t, rec)["experiment"].(map[string]any)
	assert.Equal(t, string(core.ExperimentCompleted), exp["status"])
}

func TestErrorStatusMapping(t *testing.T) {
	h, s := newTestAPI(t)
	ctx := context.Background()

	require.NoError(t, s.RegisterWorker(ctx, &core.Worker{ID: "w1", MaxParallelJobs: 4}))
	require.NoError(t, s.RegisterWorker(ctx, &core.Worker{ID: "w2", MaxParallelJobs: 4}))
	exp := &core.Experiment{Name: "errors", Status: core.ExperimentRunning, MaxGenerations: 10}
	require.NoError(t, s.CreateExperiment(ctx, exp))
	a := &core.JobAssignment{ExperimentID: exp.ID, WorkerID: "w1", GenerationStart: 0, GenerationEnd: 10}
	require.NoError(t, s.CreateAssignment(ctx, a))

	// 400: validation failure.
	rec := doJSON(t, h, http.MethodPost, "/workers/register", map[string]any{"vram_gb": 24})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["error"])

	// 400: malformed body.
	req := httptest.NewRequest(http.MethodPost, "/queue/claim", bytes.NewBufferString("{not json"))
	raw := httptest.NewRecorder()
	h.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)

	// 403: wrong worker touches an owned batch.
	rec = doJSON(t, h, http.MethodPost, "/queue/claim", map[string]any{
		"job_id": a.JobID, "worker_id": "w2",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// 404: unknown resources.
	rec = doJSON(t, h, http.MethodGet, "/experiments/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(t, h, http.MethodPost, "/queue/claim", map[string]any{
		"job_id": "nope", "worker_id": "w1",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// 409: double claim.
	rec = doJSON(t, h, http.MethodPost, "/queue/claim", map[string]any{
		"job_id": a.JobID, "worker_id": "w1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, h, http.MethodPost, "/queue/claim", map[string]any{
		"job_id": a.JobID, "worker_id": "w1",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// 409: invalid lifecycle transition.
	rec = doJSON(t, h, http.MethodPost, "/experiments/"+exp.ID+"/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestNextJob_AtCapacityMeansNoWork(t *testing.T) {
	h, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodPost, "/workers/register", map[string]any{
		"worker_id": "w1", "gpu_type": "GTX 1650", "vram_gb": 2,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/experiments", map[string]any{
		"name": "capacity", "max_generations": 500,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/queue?worker_id=w1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	job := decodeBody(t, rec)["job"].(map[string]any)

	rec = doJSON(t, h, http.MethodPost, "/queue/claim", map[string]any{
		"job_id": job["job_id"], "worker_id": "w1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// The single slot is busy; polling again is not an error.
	rec = doJSON(t, h, http.MethodGet, "/queue?worker_id=w1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decodeBody(t, rec)["job"])
}

func TestForceComplete_ShortfallBody(t *testing.T) {
	h, s := newTestAPI(t)
	ctx := context.Background()

	exp := &core.Experiment{Name: "short", Status: core.ExperimentRunning, MaxGenerations: 100}
	require.NoError(t, s.CreateExperiment(ctx, exp))
	for i := 0; i < 30; i++ {
		_, err := s.UpsertGeneration(ctx, &core.Generation{ExperimentID: exp.ID, Number: i})
		require.NoError(t, err)
	}

	rec := doJSON(t, h, http.MethodPost, "/experiments/"+exp.ID+"/complete", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	body := decodeBody(t, rec)
	shortfall, ok := body["shortfall"].(map[string]any)
	require.True(t, ok, "shortfall details expected: %s", rec.Body.String())
	assert.Equal(t, float64(30), shortfall["generation_count"])
	assert.Equal(t, float64(100), shortfall["max_generations"])
}

func TestUploadResults_BatchShape(t *testing.T) {
	h, s := newTestAPI(t)
	ctx := context.Background()

	require.NoError(t, s.RegisterWorker(ctx, &core.Worker{ID: "w1", MaxParallelJobs: 4}))
	exp := &core.Experiment{Name: "batch", Status: core.ExperimentRunning, MaxGenerations: 10}
	require.NoError(t, s.CreateExperiment(ctx, exp))
	a := &core.JobAssignment{ExperimentID: exp.ID, WorkerID: "w1", GenerationStart: 0, GenerationEnd: 10}
	require.NoError(t, s.CreateAssignment(ctx, a))

	gens := make([]map[string]any, 3)
	for i := range gens {
		gens[i] = map[string]any{"generation_stats": map[string]any{"generation": i}}
	}
	rec := doJSON(t, h, http.MethodPost, "/queue/results", map[string]any{
		"job_id":        a.JobID,
		"experiment_id": exp.ID,
		"generations":   gens,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	nums, err := s.GenerationNumbers(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, nums)
}

func TestUploadResults_MissingStats(t *testing.T) {
	h, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodPost, "/queue/results", map[string]any{
		"job_id": "j1", "experiment_id": "e1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadResults_PayloadTooLarge(t *testing.T) {
	h, _ := newTestAPI(t)

	// A body past the MaxBytesReader limit maps to 413.
	huge := bytes.Repeat([]byte("a"), 4<<20+1024)
	payload := fmt.Sprintf(`{"job_id":"j1","experiment_id":"e1","generation_stats":{"generation":0},"pad":%q}`, huge)
	req := httptest.NewRequest(http.MethodPost, "/queue/results", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestEquilibriumOverHTTP(t *testing.T) {
	h, s := newTestAPI(t)
	ctx := context.Background()

	exp := &core.Experiment{Name: "eq", Status: core.ExperimentRunning, MaxGenerations: 1000}
	require.NoError(t, s.CreateExperiment(ctx, exp))

	rec := doJSON(t, h, http.MethodPost, "/experiments/"+exp.ID+"/equilibrium", map[string]any{
		"convergence_generation": 300,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(core.ExperimentCompleted), decodeBody(t, rec)["status"])

	got, err := s.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ConvergenceGeneration)
	assert.Equal(t, 300, *got.ConvergenceGeneration)
}
