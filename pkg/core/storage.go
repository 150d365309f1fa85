package core

import (
	"context"
)

// Store defines the persistence layer for the coordination service.
//
// All coordination state lives behind this interface; callers run on
// independent machines, so the conditionally-guarded updates implemented
// here are the only concurrency-safety mechanism in the system. Every
// method that mutates an assignment together with its worker's
// active_jobs_count does so in a single transaction.
type Store interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Experiment lifecycle
	CreateExperiment(ctx context.Context, exp *Experiment) error
	GetExperiment(ctx context.Context, id string) (*Experiment, error)
	ListExperiments(ctx context.Context, status ExperimentStatus, limit int) ([]*Experiment, error)

	// TransitionExperiment conditionally moves an experiment from any of
	// the given source statuses to the target. It reports false without
	// error when the precondition did not hold.
	TransitionExperiment(ctx context.Context, id string, from []ExperimentStatus, to ExperimentStatus) (bool, error)

	// MarkExperimentCompleted idempotently stamps COMPLETED and
	// completed_at on a PENDING or RUNNING experiment. Returns false when
	// the experiment was already terminal or stopped (no mutation).
	MarkExperimentCompleted(ctx context.Context, id string, convergence *int) (bool, error)

	// StopExperiment moves a RUNNING experiment to STOPPED and cancels
	// its active assignments in the same transaction, returning the
	// number cancelled.
	StopExperiment(ctx context.Context, id string) (int64, error)

	// DeleteExperiment removes the experiment and cascades over its
	// generations, matches, assignments and checkpoints.
	DeleteExperiment(ctx context.Context, id string) error

	// Assignment lifecycle (the atomic claim/release/complete primitives)
	CreateAssignment(ctx context.Context, a *JobAssignment) error
	GetAssignmentByJobID(ctx context.Context, jobID string) (*JobAssignment, error)
	ClaimAssignment(ctx context.Context, jobID, workerID string) (*JobAssignment, error)
	ReleaseAssignment(ctx context.Context, jobID, workerID, reason string) (*JobAssignment, error)
	CompleteAssignment(ctx context.Context, jobID, workerID string, failed bool, errMsg string) (*JobAssignment, error)

	// ActiveAssignments returns assignments with status assigned or
	// processing for the experiment.
	ActiveAssignments(ctx context.Context, experimentID string) ([]*JobAssignment, error)

	// HighWaterMark returns the highest generation_end covered by any
	// assignment of the experiment that is not failed or cancelled.
	HighWaterMark(ctx context.Context, experimentID string) (int, error)

	// PartitionAssignment atomically carves the next uncovered generation
	// range (at most batch wide, capped at maxGenerations) into a fresh
	// assignment for the worker, or returns nil when the experiment is
	// fully covered.
	PartitionAssignment(ctx context.Context, experimentID, workerID string, batch, maxGenerations int) (*JobAssignment, error)

	// ReassignFailedBatch rebinds the oldest failed assignment of a
	// dispatchable experiment to the given worker, or returns nil when
	// none exists.
	ReassignFailedBatch(ctx context.Context, workerID string) (*JobAssignment, error)

	// CompleteStuckAssignments force-marks the experiment's remaining
	// assigned/processing assignments completed (force-complete path).
	CompleteStuckAssignments(ctx context.Context, experimentID string) (int64, error)

	// Workers
	RegisterWorker(ctx context.Context, w *Worker) error
	GetWorker(ctx context.Context, id string) (*Worker, error)
	ListWorkers(ctx context.Context) ([]*Worker, error)

	// HeartbeatWorker stamps last_heartbeat and applies status and
	// active_jobs_count only when explicitly provided.
	HeartbeatWorker(ctx context.Context, id string, status *WorkerStatus, activeJobs *int) (*Worker, error)

	// DisconnectWorker persists offline and releases all of the worker's
	// active assignments, returning the number released.
	DisconnectWorker(ctx context.Context, id, reason string) (int64, error)

	// Result ingestion
	UpsertGeneration(ctx context.Context, g *Generation) (bool, error)
	GenerationNumbers(ctx context.Context, experimentID string) ([]int, error)
	CreateMatches(ctx context.Context, matches []*Match) error
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error

	// ReconcilableExperimentIDs lists experiments the background sweep
	// should re-check (RUNNING or PENDING).
	ReconcilableExperimentIDs(ctx context.Context) ([]string, error)
}
