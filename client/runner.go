package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jdefouw/EvoNash-sub001/pkg/queue"
)

// PollConfig holds configuration for the job polling loop.
type PollConfig struct {
	// Interval is the base delay between polls when no work is available.
	// Default: 5s
	Interval time.Duration

	// MaxBackoff is the maximum delay after consecutive poll failures.
	// Default: 2m
	MaxBackoff time.Duration

	// BackoffMultiplier is applied to the delay after each failed poll.
	// Default: 2.0
	BackoffMultiplier float64

	// JitterFraction is the fraction of the delay to randomize (0.0 to 1.0).
	// Default: 0.1
	JitterFraction float64

	// MaxConsecutiveErrors stops the runner when reached. Zero means never.
	// Default: 10
	MaxConsecutiveErrors int

	// HeartbeatInterval is the liveness reporting cadence.
	// Default: 30s
	HeartbeatInterval time.Duration
}

// DefaultPollConfig returns the default polling configuration.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		Interval:             5 * time.Second,
		MaxBackoff:           2 * time.Minute,
		BackoffMultiplier:    2.0,
		JitterFraction:       0.1,
		MaxConsecutiveErrors: 10,
		HeartbeatInterval:    30 * time.Second,
	}
}

// JobFunc processes one claimed batch. Returning an error settles the
// batch as failed with the error message attached.
type JobFunc func(ctx context.Context, job *queue.Dispatch) error

// Runner drives the worker lifecycle: register, heartbeat, poll, claim,
// process, settle. It runs jobs up to the server-granted parallelism.
type Runner struct {
	client  *Client
	cfg     PollConfig
	gpuType string
	vramGB  int

	mu     sync.Mutex
	active int
	slots  int
}

// NewRunner creates a runner for the given client and GPU capability.
func NewRunner(c *Client, gpuType string, vramGB int, cfg PollConfig) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollConfig().Interval
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultPollConfig().MaxBackoff
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = DefaultPollConfig().BackoffMultiplier
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultPollConfig().HeartbeatInterval
	}
	return &Runner{client: c, cfg: cfg, gpuType: gpuType, vramGB: vramGB}
}

// Run registers the worker and polls until the context is cancelled or
// the consecutive error limit is reached. On exit it disconnects, which
// releases any batches still held.
func (r *Runner) Run(ctx context.Context, fn JobFunc) error {
	reg, err := r.client.Register(ctx, r.gpuType, r.vramGB)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	r.mu.Lock()
	r.slots = reg.MaxParallelJobs
	r.mu.Unlock()
	r.client.logger.Info("worker registered",
		"worker_id", reg.WorkerID, "max_parallel_jobs", reg.MaxParallelJobs)

	go r.heartbeatLoop(ctx)

	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		// Context is gone by now; give the disconnect its own deadline.
		dctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.client.Disconnect(dctx, "worker shutting down"); err != nil {
			r.client.logger.Warn("disconnect failed", "error", err)
		}
	}()

	delay := r.cfg.Interval
	consecutive := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		started, err := r.pollOnce(ctx, fn, &wg)
		switch {
		case err != nil:
			consecutive++
			if r.cfg.MaxConsecutiveErrors > 0 && consecutive >= r.cfg.MaxConsecutiveErrors {
				return fmt.Errorf("giving up after %d consecutive poll failures: %w", consecutive, err)
			}
			r.client.logger.Warn("poll failed", "error", err, "consecutive", consecutive)
			delay = time.Duration(float64(delay) * r.cfg.BackoffMultiplier)
			if delay > r.cfg.MaxBackoff {
				delay = r.cfg.MaxBackoff
			}
		case started:
			consecutive = 0
			delay = r.cfg.Interval
			continue // look for more work immediately
		default:
			consecutive = 0
			delay = r.cfg.Interval
		}

		jitter := time.Duration(float64(delay) * r.cfg.JitterFraction * (rand.Float64()*2 - 1))
		sleep := delay + jitter
		if sleep < 0 {
			sleep = delay
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// pollOnce fetches and claims at most one batch, processing it in the
// background. It reports whether a job was started.
func (r *Runner) pollOnce(ctx context.Context, fn JobFunc, wg *sync.WaitGroup) (bool, error) {
	r.mu.Lock()
	full := r.slots > 0 && r.active >= r.slots
	r.mu.Unlock()
	if full {
		return false, nil
	}

	job, err := r.client.NextJob(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	claimed, err := r.client.Claim(ctx, job.Assignment.JobID)
	if err != nil {
		// Another worker took it between poll and claim; not a fault.
		var ae *apiError
		if errors.As(err, &ae) && ae.StatusCode == 409 {
			return false, nil
		}
		return false, err
	}
	job.Assignment = claimed

	r.mu.Lock()
	r.active++
	r.mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			r.mu.Lock()
			r.active--
			r.mu.Unlock()
		}()
		r.runJob(ctx, fn, job)
	}()
	return true, nil
}

func (r *Runner) runJob(ctx context.Context, fn JobFunc, job *queue.Dispatch) {
	log := r.client.logger.With(
		"job_id", job.Assignment.JobID,
		"experiment_id", job.Assignment.ExperimentID)
	log.Info("batch started",
		"generation_start", job.Assignment.GenerationStart,
		"generation_end", job.Assignment.GenerationEnd)

	jobErr := fn(ctx, job)

	// Settle with a fresh context so cancellation can't strand the batch.
	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if jobErr != nil {
		if ctx.Err() != nil {
			if err := r.client.Release(sctx, job.Assignment.JobID, "worker shutting down mid-batch"); err != nil {
				log.Warn("release failed", "error", err)
			}
			return
		}
		log.Error("batch failed", "error", jobErr)
		if err := r.client.Complete(sctx, job.Assignment.JobID, true, jobErr.Error()); err != nil {
			log.Warn("failure report failed", "error", err)
		}
		return
	}

	if err := r.client.Complete(sctx, job.Assignment.JobID, false, ""); err != nil {
		log.Warn("completion report failed", "error", err)
		return
	}
	log.Info("batch completed")
}

func (r *Runner) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			active := r.active
			r.mu.Unlock()
			if err := r.client.Heartbeat(ctx, nil, &active); err != nil {
				r.client.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}
