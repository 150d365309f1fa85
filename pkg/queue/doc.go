// Package queue provides the Service type for generation batch assignment.
//
// This package includes:
//   - Service: dispatches batches to polling workers and settles them
//   - Dispatch: an assignable batch paired with its experiment config
//   - Atomic claim, release, and completion primitives with ownership
//     enforcement
//
// Most users should import the root package github.com/jdefouw/EvoNash-sub001
// which re-exports these types.
package queue
