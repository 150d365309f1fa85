// Package security provides validation, sanitization, and limits for the
// coordination service.
package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jdefouw/EvoNash-sub001/pkg/core"
)

// Limits enforced at the ingestion and registration boundaries.
const (
	// MaxIDLength is the maximum length for worker and job identifiers.
	MaxIDLength = 64

	// MaxResultPayloadSize is the maximum size in bytes for a single
	// result upload body (4MB).
	MaxResultPayloadSize = 4 << 20

	// MaxBatchGenerations is the maximum number of generation records in
	// one batched upload.
	MaxBatchGenerations = 500

	// MaxMatchesPerGeneration is the maximum number of match records
	// attached to one generation upload.
	MaxMatchesPerGeneration = 1000

	// MaxReleaseReasonLength is the maximum length for stored release
	// reasons and failure messages.
	MaxReleaseReasonLength = 4096
)

// validID matches alphanumeric, hyphens, underscores, and dots.
var validID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-\.]*$`)

// ValidateID validates a worker or job identifier.
func ValidateID(field, id string) error {
	if id == "" {
		return core.Validationf(field, "must not be empty")
	}
	if len(id) > MaxIDLength {
		return core.Validationf(field, "exceeds %d characters", MaxIDLength)
	}
	if !validID.MatchString(id) {
		return core.Validationf(field, "must be alphanumeric with ._- separators")
	}
	return nil
}

// SanitizeReason truncates and sanitizes release reasons and failure
// messages before storage.
func SanitizeReason(msg string) string {
	if msg == "" {
		return ""
	}

	// Strip null bytes and control characters (except newlines/tabs).
	var sanitized strings.Builder
	sanitized.Grow(len(msg))
	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()
	if utf8.RuneCountInString(result) > MaxReleaseReasonLength {
		runes := []rune(result)
		result = string(runes[:MaxReleaseReasonLength-3]) + "..."
	}
	return result
}
