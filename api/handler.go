// Package api exposes the coordination service over JSON HTTP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/jdefouw/EvoNash-sub001/pkg/events"
	"github.com/jdefouw/EvoNash-sub001/pkg/experiment"
	"github.com/jdefouw/EvoNash-sub001/pkg/ingest"
	"github.com/jdefouw/EvoNash-sub001/pkg/queue"
	"github.com/jdefouw/EvoNash-sub001/pkg/registry"
)

// Option configures the API handler.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) { f(c) }

type config struct {
	middleware func(http.Handler) http.Handler
	hub        *events.Hub
	logger     *slog.Logger
}

// WithMiddleware wraps the handler with middleware (auth, logging, etc.).
func WithMiddleware(mw func(http.Handler) http.Handler) Option {
	return optionFunc(func(c *config) {
		c.middleware = mw
	})
}

// WithEventHub serves the live event feed at /events/ws.
func WithEventHub(hub *events.Hub) Option {
	return optionFunc(func(c *config) {
		c.hub = hub
	})
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return optionFunc(func(c *config) {
		c.logger = logger
	})
}

// Deps are the services the handler fronts.
type Deps struct {
	Queue       *queue.Service
	Registry    *registry.Registry
	Experiments *experiment.Service
	Ingestor    *ingest.Ingestor
}

// Handler creates the http.Handler for the coordination API.
func Handler(deps Deps, opts ...Option) http.Handler {
	cfg := &config{logger: slog.Default()}
	for _, opt := range opts {
		opt.apply(cfg)
	}

	s := &server{deps: deps, logger: cfg.logger}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /queue", s.nextJob)
	mux.HandleFunc("POST /queue/claim", s.claimJob)
	mux.HandleFunc("POST /queue/release", s.releaseJob)
	mux.HandleFunc("POST /queue/complete", s.completeJob)
	mux.HandleFunc("POST /queue/results", s.uploadResults)

	mux.HandleFunc("POST /workers/register", s.registerWorker)
	mux.HandleFunc("POST /workers/heartbeat", s.heartbeat)
	mux.HandleFunc("POST /workers/disconnect", s.disconnectWorker)
	mux.HandleFunc("GET /workers", s.listWorkers)

	mux.HandleFunc("POST /experiments", s.createExperiment)
	mux.HandleFunc("GET /experiments", s.listExperiments)
	mux.HandleFunc("GET /experiments/{id}", s.getExperiment)
	mux.HandleFunc("DELETE /experiments/{id}", s.deleteExperiment)
	mux.HandleFunc("POST /experiments/{id}/start", s.startExperiment)
	mux.HandleFunc("POST /experiments/{id}/stop", s.stopExperiment)
	mux.HandleFunc("POST /experiments/{id}/complete", s.forceCompleteExperiment)
	mux.HandleFunc("POST /experiments/{id}/equilibrium", s.equilibrium)

	if cfg.hub != nil {
		mux.Handle("GET /events/ws", cfg.hub)
	}

	if cfg.middleware != nil {
		return cfg.middleware(mux)
	}
	return mux
}
