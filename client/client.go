// Package client implements the worker-side API client: registration,
// timer-driven job polling with jittered backoff, heartbeats, and result
// uploads.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jdefouw/EvoNash-sub001/pkg/core"
	"github.com/jdefouw/EvoNash-sub001/pkg/ingest"
	"github.com/jdefouw/EvoNash-sub001/pkg/queue"
	"github.com/jdefouw/EvoNash-sub001/pkg/registry"
)

// Client talks to the coordination API on behalf of one worker process.
type Client struct {
	baseURL    string
	httpClient *http.Client
	workerID   string
	logger     *slog.Logger
}

// New creates a client for the given coordinator base URL.
func New(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = h }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithWorkerID pins the worker id instead of accepting a server-assigned
// one at registration.
func WithWorkerID(id string) ClientOption {
	return func(c *Client) { c.workerID = id }
}

// WorkerID returns the id assigned at registration.
func (c *Client) WorkerID() string {
	return c.workerID
}

// apiError mirrors the server's structured failure envelope.
type apiError struct {
	StatusCode int
	Message    string
	Hint       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("coordinator returned %d: %s", e.StatusCode, e.Message)
}

// Register declares the worker's capability and records the assigned id
// and capacity.
func (c *Client) Register(ctx context.Context, gpuType string, vramGB int) (*RegisterResult, error) {
	var out RegisterResult
	err := c.post(ctx, "/workers/register", registry.Registration{
		WorkerID: c.workerID,
		GPUType:  gpuType,
		VRAMGB:   vramGB,
	}, &out)
	if err != nil {
		return nil, err
	}
	c.workerID = out.WorkerID
	return &out, nil
}

// RegisterResult is the server's answer to a registration.
type RegisterResult struct {
	WorkerID        string `json:"worker_id"`
	MaxParallelJobs int    `json:"max_parallel_jobs"`
	ActiveJobsCount int    `json:"active_jobs_count"`
}

// NextJob polls for assignable work. A nil dispatch means no work is
// available and the caller should poll again later.
func (c *Client) NextJob(ctx context.Context) (*queue.Dispatch, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/queue?worker_id="+c.workerID, nil)
	if err != nil {
		return nil, err
	}

	var body struct {
		Assignment *core.JobAssignment `json:"job"`
		Experiment *core.Experiment    `json:"experiment_config"`
	}
	if err := c.do(req, &body); err != nil {
		return nil, err
	}
	if body.Assignment == nil {
		return nil, nil
	}
	return &queue.Dispatch{Assignment: body.Assignment, Experiment: body.Experiment}, nil
}

// Claim atomically begins work on a dispatched batch.
func (c *Client) Claim(ctx context.Context, jobID string) (*core.JobAssignment, error) {
	var out struct {
		Job *core.JobAssignment `json:"job"`
	}
	err := c.post(ctx, "/queue/claim", map[string]string{
		"job_id":    jobID,
		"worker_id": c.workerID,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Job, nil
}

// Release gives a batch back, e.g. on shutdown.
func (c *Client) Release(ctx context.Context, jobID, reason string) error {
	return c.post(ctx, "/queue/release", map[string]string{
		"job_id":    jobID,
		"worker_id": c.workerID,
		"reason":    reason,
	}, nil)
}

// Complete settles a batch.
func (c *Client) Complete(ctx context.Context, jobID string, failed bool, errMsg string) error {
	return c.post(ctx, "/queue/complete", map[string]any{
		"job_id":    jobID,
		"worker_id": c.workerID,
		"failed":    failed,
		"error":     errMsg,
	}, nil)
}

// UploadGeneration submits one generation's stats and matches, with an
// optional population checkpoint taken at that generation.
func (c *Client) UploadGeneration(ctx context.Context, jobID, experimentID string, stats ingest.GenerationStats, matches []ingest.MatchRecord, checkpoint []byte) (*ingest.Result, error) {
	var out ingest.Result
	err := c.post(ctx, "/queue/results", ingest.Upload{
		JobID:        jobID,
		ExperimentID: experimentID,
		Stats:        stats,
		Matches:      matches,
		Checkpoint:   checkpoint,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Heartbeat reports liveness. Status and activeJobs are optional; omitting
// them leaves the server-side values untouched.
func (c *Client) Heartbeat(ctx context.Context, status *core.WorkerStatus, activeJobs *int) error {
	return c.post(ctx, "/workers/heartbeat", map[string]any{
		"worker_id":         c.workerID,
		"status":            status,
		"active_jobs_count": activeJobs,
	}, nil)
}

// Disconnect gracefully releases everything the worker holds.
func (c *Client) Disconnect(ctx context.Context, reason string) error {
	return c.post(ctx, "/workers/disconnect", map[string]string{
		"worker_id": c.workerID,
		"reason":    reason,
	}, nil)
}

// Equilibrium signals algorithmic convergence for an experiment.
func (c *Client) Equilibrium(ctx context.Context, experimentID string, convergenceGeneration int) error {
	return c.post(ctx, "/experiments/"+experimentID+"/equilibrium", map[string]int{
		"convergence_generation": convergenceGeneration,
	}, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
			Hint  string `json:"hint"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(raw, &body)
		if body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
		return &apiError{StatusCode: resp.StatusCode, Message: body.Error, Hint: body.Hint}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
