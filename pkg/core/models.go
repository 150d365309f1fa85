// Package core provides the domain models and interfaces shared by the
// EvoNash coordination service.
package core

import (
	"time"
)

// ExperimentStatus represents the lifecycle state of an experiment.
type ExperimentStatus string

const (
	ExperimentPending   ExperimentStatus = "PENDING"
	ExperimentRunning   ExperimentStatus = "RUNNING"
	ExperimentCompleted ExperimentStatus = "COMPLETED"
	ExperimentFailed    ExperimentStatus = "FAILED"
	ExperimentStopped   ExperimentStatus = "STOPPED"
)

// Terminal reports whether the status admits no further transitions
// (STOPPED is resumable and therefore not terminal).
func (s ExperimentStatus) Terminal() bool {
	return s == ExperimentCompleted || s == ExperimentFailed
}

// AssignmentStatus represents the lifecycle state of a job assignment.
type AssignmentStatus string

const (
	AssignmentAssigned   AssignmentStatus = "assigned"
	AssignmentProcessing AssignmentStatus = "processing"
	AssignmentCompleted  AssignmentStatus = "completed"
	AssignmentFailed     AssignmentStatus = "failed"
	AssignmentCancelled  AssignmentStatus = "cancelled"
)

// WorkerStatus represents the persisted state of a worker. The effective
// status reported to callers may be overridden to offline when the last
// heartbeat is stale; see registry.EffectiveStatus.
type WorkerStatus string

const (
	WorkerIdle       WorkerStatus = "idle"
	WorkerProcessing WorkerStatus = "processing"
	WorkerOffline    WorkerStatus = "offline"
)

// MutationMode selects how per-agent mutation rates are derived.
type MutationMode string

const (
	MutationStatic   MutationMode = "STATIC"
	MutationAdaptive MutationMode = "ADAPTIVE"
)

// Experiment is one run of a long evolutionary simulation partitioned
// across generations. Status only becomes COMPLETED once the reconciler's
// criteria hold; once COMPLETED it is terminal except for deletion.
type Experiment struct {
	ID     string           `gorm:"primaryKey;size:36" json:"id"`
	Name   string           `gorm:"size:255;not null" json:"name"`
	Group  string           `gorm:"column:experiment_group;size:32;default:'CONTROL'" json:"experiment_group"`
	Status ExperimentStatus `gorm:"index;size:20;default:'PENDING'" json:"status"`

	MaxGenerations int `gorm:"not null" json:"max_generations"`

	// Evolutionary configuration handed to the worker verbatim.
	MutationMode       MutationMode `gorm:"size:16;default:'STATIC'" json:"mutation_mode"`
	MutationRate       *float64     `json:"mutation_rate,omitempty"`
	MutationBase       *float64     `json:"mutation_base,omitempty"`
	MaxPossibleElo     float64      `gorm:"default:2000" json:"max_possible_elo"`
	RandomSeed         int64        `gorm:"default:42" json:"random_seed"`
	PopulationSize     int          `gorm:"default:1000" json:"population_size"`
	SelectionPressure  float64      `gorm:"default:0.2" json:"selection_pressure"`
	TicksPerGeneration int          `gorm:"default:500" json:"ticks_per_generation"`

	// ConvergenceGeneration is set when a worker reports algorithmic
	// equilibrium before max_generations was reached.
	ConvergenceGeneration *int `json:"convergence_generation,omitempty"`

	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Generation is one completed unit of simulated evolution with aggregate
// statistics. Rows are created by result uploads and never mutated after
// creation; duplicate uploads are ignored by the
// (experiment_id, generation_number) key.
type Generation struct {
	ID           string `gorm:"primaryKey;size:36" json:"id"`
	ExperimentID string `gorm:"size:36;not null;uniqueIndex:idx_experiment_generation,priority:1" json:"experiment_id"`
	Number       int    `gorm:"column:generation_number;not null;uniqueIndex:idx_experiment_generation,priority:2" json:"generation"`

	AvgElo  float64 `json:"avg_elo"`
	PeakElo float64 `json:"peak_elo"`
	MinElo  float64 `json:"min_elo"`
	StdElo  float64 `json:"std_elo"`

	AvgFitness float64 `json:"avg_fitness"`
	MinFitness float64 `json:"min_fitness"`
	MaxFitness float64 `json:"max_fitness"`

	PolicyEntropy       float64 `json:"policy_entropy"`
	EntropyVariance     float64 `json:"entropy_variance"`
	PopulationDiversity float64 `json:"population_diversity"`
	MutationRate        float64 `json:"mutation_rate"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Match is one recorded game between two agents of a generation.
type Match struct {
	ID           string `gorm:"primaryKey;size:36" json:"id"`
	GenerationID string `gorm:"index;size:36;not null" json:"generation_id"`
	ExperimentID string `gorm:"index;size:36;not null" json:"experiment_id"`

	AgentAID string `gorm:"size:64" json:"agent_a_id"`
	AgentBID string `gorm:"size:64" json:"agent_b_id"`
	WinnerID string `gorm:"size:64" json:"winner_id"`

	MoveHistory []byte `gorm:"type:bytes" json:"move_history,omitempty"`
	Telemetry   []byte `gorm:"type:bytes" json:"telemetry,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Checkpoint is an uploaded population snapshot. Compression and retrieval
// live outside this service; rows exist here so experiment deletion can
// cascade over them.
type Checkpoint struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	ExperimentID string    `gorm:"index;size:36;not null" json:"experiment_id"`
	Generation   int       `json:"generation"`
	Data         []byte    `gorm:"type:bytes" json:"-"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// JobAssignment is a contiguous range of generations
// [GenerationStart, GenerationEnd) handed to one worker. It carries a
// worker_id only while status is assigned or processing; ownership is
// fixed at assignment time and never transferred implicitly.
type JobAssignment struct {
	ID           string `gorm:"primaryKey;size:36" json:"id"`
	JobID        string `gorm:"uniqueIndex;size:64;not null" json:"job_id"`
	ExperimentID string `gorm:"index;size:36;not null" json:"experiment_id"`
	WorkerID     string `gorm:"index;size:64" json:"worker_id,omitempty"`

	GenerationStart int `json:"generation_start"`
	GenerationEnd   int `json:"generation_end"`

	Status        AssignmentStatus `gorm:"index;size:20;default:'assigned'" json:"status"`
	ReleaseReason string           `gorm:"type:text" json:"release_reason,omitempty"`

	AssignedAt  time.Time  `gorm:"autoCreateTime" json:"assigned_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Active reports whether the assignment currently counts as outstanding
// work (owned and not yet resolved).
func (a *JobAssignment) Active() bool {
	return a.Status == AssignmentAssigned || a.Status == AssignmentProcessing
}

// Worker is a remote compute process executing batches and reporting
// heartbeats and results. ActiveJobsCount must equal the number of its
// processing assignments after every atomic operation.
type Worker struct {
	ID     string       `gorm:"primaryKey;size:64" json:"worker_id"`
	Status WorkerStatus `gorm:"size:20;default:'idle'" json:"status"`

	GPUType string `gorm:"size:128" json:"gpu_type"`
	VRAMGB  int    `gorm:"column:vram_gb" json:"vram_gb"`

	MaxParallelJobs int `gorm:"default:1" json:"max_parallel_jobs"`
	ActiveJobsCount int `gorm:"default:0" json:"active_jobs_count"`

	LastHeartbeat time.Time `json:"last_heartbeat"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
