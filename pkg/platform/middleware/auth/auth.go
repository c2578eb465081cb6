// Package auth gates routes on an authenticated actor.
package auth

import (
	"log/slog"
	"net/http"

	"ozhi/pkg/platform/httputil"
	"ozhi/pkg/requestcontext"
)

// RequireActor rejects requests for which the audit scope middleware resolved no user.
// It must run after auditscope.Middleware.
func RequireActor(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if requestcontext.UserID(ctx) == "" {
				logger.WarnContext(ctx, "unauthorized access - missing or invalid token",
					"request_id", requestcontext.RequestID(ctx),
					"path", r.URL.Path,
				)
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{
					Error:       "unauthorized",
					Description: "Missing or invalid Authorization header",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
