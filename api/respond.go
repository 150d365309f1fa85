package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/jdefouw/EvoNash-sub001/pkg/core"
)

// errorBody is the structured failure envelope every endpoint returns.
type errorBody struct {
	Error string `json:"error"`

	// Shortfall carries the force-complete gap when present.
	Shortfall *core.CompletionShortfall `json:"shortfall,omitempty"`

	// Hint carries remediation advice for oversized payloads.
	Hint string `json:"hint,omitempty"`
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write response", "error", err)
	}
}

// writeError maps the error taxonomy onto HTTP status codes. Persistence
// failures are logged with detail and surfaced generically.
func (s *server) writeError(w http.ResponseWriter, err error) {
	var (
		validation *core.ValidationError
		tooLarge   *core.PayloadTooLargeError
		shortfall  *core.CompletionShortfall
		maxBytes   *http.MaxBytesError
	)

	switch {
	case errors.As(err, &validation):
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: validation.Error()})
	case errors.Is(err, core.ErrNotOwner):
		s.writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error()})
	case errors.Is(err, core.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.As(err, &shortfall):
		s.writeJSON(w, http.StatusConflict, errorBody{Error: shortfall.Error(), Shortfall: shortfall})
	case errors.Is(err, core.ErrConflict),
		errors.Is(err, core.ErrInvalidTransition),
		errors.Is(err, core.ErrWorkerAtCapacity):
		s.writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.As(err, &tooLarge):
		s.writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: tooLarge.Error(), Hint: tooLarge.Hint})
	case errors.As(err, &maxBytes):
		s.writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{
			Error: "payload too large",
			Hint:  "split the upload into smaller batches",
		})
	default:
		s.logger.Error("internal error", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

// decodeJSON parses a request body into v with explicit validation errors
// instead of duck-typed handling downstream.
func (s *server) decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return core.Validationf("body", "request body must not be empty")
		}
		return core.Validationf("body", "malformed JSON: %v", err)
	}
	return nil
}
