// Package evonash coordinates distributed evolutionary experiments: worker
// registration, batch job assignment, result ingestion, and completion
// reconciliation.
//
// This is the main package users should import. It re-exports all public
// types from the internal pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	// Create storage and services
//	db, _ := gorm.Open(sqlite.Open("evonash.db"), &gorm.Config{})
//	store := evonash.NewGormStore(db)
//	store.Migrate(ctx)
//
//	cfg := evonash.DefaultConfig()
//	bus := evonash.NewBus()
//	rec := evonash.NewReconciler(store, cfg, bus, logger)
//	q := evonash.NewQueue(store, cfg, bus, logger)
//
//	// Dispatch and claim a batch
//	job, _ := q.Next(ctx, workerID)
//	q.Claim(ctx, job.Assignment.JobID, workerID)
package evonash

import (
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/jdefouw/EvoNash-sub001/pkg/config"
	"github.com/jdefouw/EvoNash-sub001/pkg/core"
	"github.com/jdefouw/EvoNash-sub001/pkg/events"
	"github.com/jdefouw/EvoNash-sub001/pkg/experiment"
	"github.com/jdefouw/EvoNash-sub001/pkg/ingest"
	"github.com/jdefouw/EvoNash-sub001/pkg/queue"
	"github.com/jdefouw/EvoNash-sub001/pkg/reconcile"
	"github.com/jdefouw/EvoNash-sub001/pkg/registry"
	"github.com/jdefouw/EvoNash-sub001/pkg/schedule"
	"github.com/jdefouw/EvoNash-sub001/pkg/security"
	"github.com/jdefouw/EvoNash-sub001/pkg/storage"
)

// Type aliases for the public API surface
type (
	// Experiment is a multi-generation evolutionary run.
	Experiment = core.Experiment

	// Generation records one generation's aggregate statistics.
	Generation = core.Generation

	// Match records a single game outcome within a generation.
	Match = core.Match

	// JobAssignment binds a generation batch to a worker.
	JobAssignment = core.JobAssignment

	// Worker is a registered compute node.
	Worker = core.Worker

	// ExperimentStatus is the lifecycle state of an experiment.
	ExperimentStatus = core.ExperimentStatus

	// AssignmentStatus is the lifecycle state of a job assignment.
	AssignmentStatus = core.AssignmentStatus

	// WorkerStatus is the reported state of a worker.
	WorkerStatus = core.WorkerStatus

	// Store defines the persistence layer.
	Store = core.Store

	// Event is the interface for all coordination events.
	Event = core.Event

	// ValidationError reports a rejected input field.
	ValidationError = core.ValidationError

	// CompletionShortfall explains a refused force-completion.
	CompletionShortfall = core.CompletionShortfall

	// Config holds coordination thresholds and intervals.
	Config = config.Config

	// Bus fans coordination events out to subscribers.
	Bus = events.Bus

	// Hub streams events to websocket clients.
	Hub = events.Hub

	// Dispatch is an assignable batch plus its experiment config.
	Dispatch = queue.Dispatch

	// Queue hands out, claims, and settles generation batches.
	Queue = queue.Service

	// Registry tracks worker registration and liveness.
	Registry = registry.Registry

	// Registration declares a worker's GPU capability.
	Registration = registry.Registration

	// Experiments manages the experiment lifecycle.
	Experiments = experiment.Service

	// Ingestor persists uploaded generation results.
	Ingestor = ingest.Ingestor

	// Outcome summarizes one reconciliation pass.
	Outcome = reconcile.Outcome

	// Reconciler decides when experiments are complete.
	Reconciler = reconcile.Reconciler

	// Schedule defines when a recurring task runs next.
	Schedule = schedule.Schedule

	// Sweeper periodically reconciles active experiments.
	Sweeper = schedule.Sweeper

	// GormStore implements Store using GORM.
	GormStore = storage.GormStore
)

// Experiment status constants
const (
	ExperimentPending   = core.ExperimentPending
	ExperimentRunning   = core.ExperimentRunning
	ExperimentCompleted = core.ExperimentCompleted
	ExperimentFailed    = core.ExperimentFailed
	ExperimentStopped   = core.ExperimentStopped
)

// Assignment status constants
const (
	AssignmentAssigned   = core.AssignmentAssigned
	AssignmentProcessing = core.AssignmentProcessing
	AssignmentCompleted  = core.AssignmentCompleted
	AssignmentFailed     = core.AssignmentFailed
	AssignmentCancelled  = core.AssignmentCancelled
)

// Worker status constants
const (
	WorkerIdle       = core.WorkerIdle
	WorkerProcessing = core.WorkerProcessing
	WorkerOffline    = core.WorkerOffline
)

// Input limits
const (
	MaxIDLength             = security.MaxIDLength
	MaxResultPayloadSize    = security.MaxResultPayloadSize
	MaxBatchGenerations     = security.MaxBatchGenerations
	MaxMatchesPerGeneration = security.MaxMatchesPerGeneration
)

// Error variables
var (
	ErrNotFound          = core.ErrNotFound
	ErrNotOwner          = core.ErrNotOwner
	ErrConflict          = core.ErrConflict
	ErrInvalidTransition = core.ErrInvalidTransition
	ErrWorkerAtCapacity  = core.ErrWorkerAtCapacity
)

// DefaultConfig returns the coordination defaults.
func DefaultConfig() Config {
	return config.Default()
}

// ConfigFromEnv builds a Config from EVONASH_* environment variables.
func ConfigFromEnv() Config {
	return config.FromEnv()
}

// NewGormStore creates a GORM-backed store.
func NewGormStore(db *gorm.DB) *GormStore {
	return storage.NewGormStore(db)
}

// NewBus creates an in-process event bus.
func NewBus() *Bus {
	return events.NewBus()
}

// NewReconciler creates the completion reconciler.
func NewReconciler(store Store, cfg Config, bus *Bus, logger *slog.Logger) *Reconciler {
	return reconcile.New(store, cfg, bus, logger)
}

// NewQueue creates the job assignment queue.
func NewQueue(store Store, cfg Config, bus *Bus, logger *slog.Logger) *Queue {
	return queue.New(store, cfg, bus, logger)
}

// NewRegistry creates the worker registry.
func NewRegistry(store Store, cfg Config, bus *Bus, logger *slog.Logger) *Registry {
	return registry.New(store, cfg, bus, logger)
}

// NewExperiments creates the experiment lifecycle service.
func NewExperiments(store Store, cfg Config, rec *Reconciler, bus *Bus, logger *slog.Logger) *Experiments {
	return experiment.New(store, cfg, rec, bus, logger)
}

// NewIngestor creates the result ingestion service.
func NewIngestor(store Store, cfg Config, rec *Reconciler, bus *Bus, logger *slog.Logger) *Ingestor {
	return ingest.New(store, cfg, rec, bus, logger)
}

// MaxParallelJobs derives a worker's capacity from its VRAM.
func MaxParallelJobs(vramGB int) int {
	return registry.MaxParallelJobs(vramGB)
}

// ValidateID validates an external identifier.
func ValidateID(field, id string) error {
	return security.ValidateID(field, id)
}

// SanitizeReason truncates and sanitizes free-text reasons for storage.
func SanitizeReason(reason string) string {
	return security.SanitizeReason(reason)
}

// Schedule functions

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return schedule.Every(d)
}

// Daily creates a schedule that runs at a specific time each day.
func Daily(hour, minute int) Schedule {
	return schedule.Daily(hour, minute)
}

// Cron creates a schedule from a cron expression.
func Cron(expr string) (Schedule, error) {
	return schedule.Cron(expr)
}
