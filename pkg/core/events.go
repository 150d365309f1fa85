package core

import "time"

// Event is the interface for all coordination events.
type Event interface {
	eventMarker()
}

// WorkerRegistered is emitted when a worker registers or re-registers.
type WorkerRegistered struct {
	Worker    *Worker
	Timestamp time.Time
}

func (*WorkerRegistered) eventMarker() {}

// WorkerDisconnected is emitted when a worker disconnects gracefully.
type WorkerDisconnected struct {
	WorkerID     string
	Reason       string
	JobsReleased int64
	Timestamp    time.Time
}

func (*WorkerDisconnected) eventMarker() {}

// AssignmentDispatched is emitted when a batch is handed to a polling worker.
type AssignmentDispatched struct {
	Assignment *JobAssignment
	Timestamp  time.Time
}

func (*AssignmentDispatched) eventMarker() {}

// AssignmentClaimed is emitted when a worker begins processing a batch.
type AssignmentClaimed struct {
	Assignment *JobAssignment
	Timestamp  time.Time
}

func (*AssignmentClaimed) eventMarker() {}

// AssignmentReleased is emitted when a worker gives a batch back.
type AssignmentReleased struct {
	Assignment *JobAssignment
	Reason     string
	Timestamp  time.Time
}

func (*AssignmentReleased) eventMarker() {}

// AssignmentSettled is emitted when a batch finishes, successfully or not.
type AssignmentSettled struct {
	Assignment *JobAssignment
	Failed     bool
	Timestamp  time.Time
}

func (*AssignmentSettled) eventMarker() {}

// GenerationRecorded is emitted when a result upload creates a generation row.
type GenerationRecorded struct {
	ExperimentID string
	Generation   int
	Timestamp    time.Time
}

func (*GenerationRecorded) eventMarker() {}

// ExperimentFinished is emitted when reconciliation flips an experiment to
// COMPLETED. It fires at most once per experiment; repeat reconciliation of
// a completed experiment is a no-op.
type ExperimentFinished struct {
	ExperimentID string
	Forced       bool
	Timestamp    time.Time
}

func (*ExperimentFinished) eventMarker() {}

// ExperimentHalted is emitted when an experiment is stopped and its active
// assignments cancelled.
type ExperimentHalted struct {
	ExperimentID string
	Cancelled    int64
	Timestamp    time.Time
}

func (*ExperimentHalted) eventMarker() {}
