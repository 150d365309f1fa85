package core

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the service. Handlers map these onto HTTP
// status codes; see the api package.
var (
	// ErrNotFound indicates the referenced entity does not exist.
	ErrNotFound = errors.New("evonash: not found")

	// ErrNotOwner indicates a job/worker ownership mismatch. Callers must
	// not retry; the assignment is stale or was never theirs.
	ErrNotOwner = errors.New("evonash: assignment not owned by this worker")

	// ErrConflict indicates an operation's precondition no longer holds
	// (already claimed, wrong status). Callers should re-poll for work
	// rather than retry the same operation.
	ErrConflict = errors.New("evonash: no longer available")

	// ErrInvalidTransition indicates a disallowed experiment state change.
	ErrInvalidTransition = errors.New("evonash: invalid experiment state transition")

	// ErrWorkerAtCapacity indicates the worker already holds
	// max_parallel_jobs active assignments.
	ErrWorkerAtCapacity = errors.New("evonash: worker at capacity")
)

// ValidationError reports a missing or malformed request field. The caller
// must fix the request before retrying.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("evonash: invalid field %q: %s", e.Field, e.Reason)
}

// Validationf builds a ValidationError for a field.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// PayloadTooLargeError reports an oversized upload together with a
// remediation hint so the worker can split the batch instead of failing
// blindly.
type PayloadTooLargeError struct {
	SizeBytes  int
	LimitBytes int
	Hint       string
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("evonash: payload too large (%d bytes, limit %d): %s",
		e.SizeBytes, e.LimitBytes, e.Hint)
}

// CompletionShortfall reports how far an experiment is from the
// force-complete threshold so an operator can decide whether to wait or
// intervene.
type CompletionShortfall struct {
	GenerationCount       int     `json:"generation_count"`
	MaxGenerations        int     `json:"max_generations"`
	PercentComplete       float64 `json:"percent_complete"`
	FinalGenerationExists bool    `json:"final_generation_exists"`
}

func (e *CompletionShortfall) Error() string {
	return fmt.Sprintf("evonash: completion threshold not met: %d/%d generations (%.1f%%), final generation exists: %t",
		e.GenerationCount, e.MaxGenerations, e.PercentComplete*100, e.FinalGenerationExists)
}
