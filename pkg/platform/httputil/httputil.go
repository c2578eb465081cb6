// Package httputil writes JSON responses and maps audit pipeline errors to HTTP statuses.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	audit "ozhi/pkg/platform/audit"
	"ozhi/pkg/platform/sentinel"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error       string            `json:"error"`
	Description string            `json:"error_description,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to a status and error code. Internal errors never expose their
// description.
func WriteError(w http.ResponseWriter, err error) {
	status, body := Classify(err)
	WriteJSON(w, status, body)
}

// Classify returns the status and body WriteError would write for err.
func Classify(err error) (int, ErrorResponse) {
	var (
		validationErr *audit.ValidationError
		persistErr    *audit.PersistenceError
		hookErr       *audit.PluginHookError
	)

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, ErrorResponse{
			Error:       "validation_error",
			Description: validationErr.Message,
			Fields:      validationErr.Fields,
		}
	case errors.Is(err, audit.ErrMissingContext):
		return http.StatusBadRequest, ErrorResponse{Error: "bad_request", Description: err.Error()}
	case errors.Is(err, sentinel.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "not_found", Description: "audit record not found"}
	case errors.As(err, &hookErr):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: "plugin_rejected", Description: hookErr.Error()}
	case errors.As(err, &persistErr), errors.Is(err, sentinel.ErrUnavailable):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "persistence_unavailable"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal_error"}
	}
}

// BadRequest writes a 400 with the given description.
func BadRequest(w http.ResponseWriter, description string) {
	WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", Description: description})
}

// MaxBodyBytes bounds decoded request bodies.
const MaxBodyBytes = 1 << 20

// Preparer is implemented by request bodies that normalise or check themselves after
// decoding.
type Preparer interface {
	Prepare() error
}

// DecodeAndPrepare decodes the JSON body into a new T and runs its Prepare method when it
// has one. On failure it writes the error response and returns false.
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	req := new(T)
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err := dec.Decode(req); err != nil {
		logger.WarnContext(ctx, "failed to decode request body",
			"request_id", requestID,
			"error", err,
		)
		BadRequest(w, "Invalid JSON in request body")
		return nil, false
	}

	if p, ok := any(req).(Preparer); ok {
		if err := p.Prepare(); err != nil {
			logger.WarnContext(ctx, "invalid request body",
				"request_id", requestID,
				"error", err,
			)
			WriteError(w, err)
			return nil, false
		}
	}
	return req, true
}
