// Package security provides validation, sanitization, and limits for
// coordination inputs.
//
// This package includes:
//   - Identifier validation for worker, experiment, and job ids
//   - Free-text reason sanitization to keep stored messages bounded
//   - Constants defining maximum payload and batch sizes
//
// Most users should import the root package github.com/jdefouw/EvoNash-sub001
// which re-exports these functions.
package security
