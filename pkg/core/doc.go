// Package core provides the fundamental types and interfaces for experiment
// coordination.
//
// This package contains:
//   - Experiment, Generation, Match, JobAssignment, and Worker data models
//     with GORM annotations
//   - Store interface defining the persistence contract
//   - Event types for coordination monitoring
//   - Sentinel and structured error types
//
// Most users should import the root package github.com/jdefouw/EvoNash-sub001
// instead of this package directly.
package core
