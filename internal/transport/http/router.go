// Package httptransport assembles the HTTP surface of the audit service.
package httptransport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"ozhi/internal/audit/handler"
	"ozhi/internal/platform/metrics"
	audit "ozhi/pkg/platform/audit"
	"ozhi/pkg/platform/httputil"
	"ozhi/pkg/platform/middleware/auditscope"
	"ozhi/pkg/platform/middleware/auth"
	"ozhi/pkg/platform/middleware/requesttime"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators the router mounts.
type Deps struct {
	Auditor  handler.Auditor
	Reader   audit.Reader
	Metrics  *metrics.Metrics
	Resolver auditscope.SessionResolver
	// RequireActor guards the audit endpoints with an authenticated actor.
	RequireActor bool
	Health       map[string]HealthCheck
	Logger       *slog.Logger
}

// NewRouter wires middleware in order: panic recovery, request clock, audit scope,
// metrics. The result is wrapped in an OpenTelemetry server span.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	scopeOpts := []auditscope.Option{auditscope.WithLogger(logger)}
	if deps.Resolver != nil {
		scopeOpts = append(scopeOpts, auditscope.WithSessionResolver(deps.Resolver))
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requesttime.Middleware)
	r.Use(auditscope.Middleware(scopeOpts...))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Instrument)
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Get("/healthz", healthHandler(deps.Health))

	var guard func(http.Handler) http.Handler
	if deps.RequireActor {
		guard = auth.RequireActor(logger)
	}
	handler.New(deps.Auditor, deps.Reader, logger).Register(r, guard)

	return otelhttp.NewHandler(r, "ozhi")
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		for name, check := range checks {
			if resp.Checks == nil {
				resp.Checks = make(map[string]string, len(checks))
			}
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
