// Package handler exposes audit ingestion and retrieval over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	audit "ozhi/pkg/platform/audit"
	"ozhi/pkg/platform/httputil"
	"ozhi/pkg/requestcontext"
)

// Auditor is the write side used by the ingest endpoint.
type Auditor interface {
	Log(ctx context.Context, in audit.Input) error
}

// Handler wires audit endpoints to the auditor and the store reader.
type Handler struct {
	auditor Auditor
	reader  audit.Reader
	logger  *slog.Logger
}

func New(auditor Auditor, reader audit.Reader, logger *slog.Logger) *Handler {
	return &Handler{auditor: auditor, reader: reader, logger: logger}
}

// Register mounts audit endpoints. guard wraps every route and may be nil.
func (h *Handler) Register(r chi.Router, guard func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		if guard != nil {
			r.Use(guard)
		}
		r.Post("/v1/audit/events", h.HandleIngest)
		r.Get("/v1/audit/events", h.HandleQuery)
		r.Get("/v1/audit/events/{id}", h.HandleGet)
	})
}

// HandleIngest handles POST /v1/audit/events.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[IngestRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	in := req.ToInput()
	if requestcontext.UserID(ctx) == "" && in.Context != nil {
		h.logger.WarnContext(ctx, "ignoring scope overrides from anonymous caller",
			"request_id", requestID,
			"action", in.Action,
		)
		in.Context = anonymousOverride(in.Context)
	}
	if err := h.auditor.Log(ctx, in); err != nil {
		h.logger.ErrorContext(ctx, "audit ingest failed",
			"request_id", requestID,
			"action", in.Action,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.DebugContext(ctx, "audit event ingested",
		"request_id", requestID,
		"action", in.Action,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusAccepted, IngestResponse{Status: "accepted", RequestID: requestID})
}

// HandleQuery handles GET /v1/audit/events.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	q, err := ParseQuery(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	records, err := h.reader.Query(ctx, q)
	if err != nil {
		h.logger.ErrorContext(ctx, "audit query failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	q = q.Normalize()
	if records == nil {
		records = []audit.Record{}
	}
	httputil.WriteJSON(w, http.StatusOK, QueryResponse{Records: records, Limit: q.Limit, Offset: q.Offset})
}

// HandleGet handles GET /v1/audit/events/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	record, err := h.reader.Get(ctx, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, record)
}
