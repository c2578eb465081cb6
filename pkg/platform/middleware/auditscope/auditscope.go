// Package auditscope opens one audit scope per inbound HTTP request.
//
// The middleware records the request ID, client address, user agent and, when a
// SessionResolver is configured, the authenticated actor. Handlers below it can call
// Auditor.Log without passing any of that explicitly.
package auditscope

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	audit "ozhi/pkg/platform/audit"
	"ozhi/pkg/platform/middleware/metadata"
	"ozhi/pkg/requestcontext"
)

const (
	RequestIDHeader = "X-Request-ID"

	maxRequestIDLength = 128
)

// Session is the actor behind a bearer token.
type Session struct {
	UserID    string
	SessionID string
	User      any
}

// SessionResolver turns a bearer token into a Session.
type SessionResolver interface {
	ResolveSession(token string) (Session, error)
}

type config struct {
	resolver SessionResolver
	logger   *slog.Logger
}

type Option func(*config)

func WithSessionResolver(r SessionResolver) Option {
	return func(c *config) { c.resolver = r }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Middleware installs the audit scope. A token that fails to resolve leaves the request
// anonymous; rejecting it is left to the auth middleware.
func Middleware(opts ...Option) func(http.Handler) http.Handler {
	cfg := &config{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			requestID := requestIDFrom(r)
			ip := metadata.ClientIPFromRequest(r)
			userAgent := metadata.UserAgent(r)

			ctx = requestcontext.WithRequestID(ctx, requestID)
			ctx = requestcontext.WithClientMetadata(ctx, ip, userAgent)

			scope := audit.Context{
				RequestID: requestID,
				Timestamp: requestcontext.Now(ctx),
				IPAddress: ip,
				UserAgent: userAgent,
				Metadata: map[string]any{
					"path":   r.URL.Path,
					"method": r.Method,
				},
			}

			if token, ok := bearerToken(r); ok && cfg.resolver != nil {
				session, err := cfg.resolver.ResolveSession(token)
				if err != nil {
					cfg.logger.WarnContext(ctx, "audit scope: unresolved bearer token",
						"error", err,
						"request_id", requestID,
					)
				} else {
					scope.UserID = session.UserID
					scope.SessionID = session.SessionID
					scope.User = session.User
					if session.UserID != "" {
						ctx = requestcontext.WithUserID(ctx, session.UserID)
					}
					if session.SessionID != "" {
						ctx = requestcontext.WithSessionID(ctx, session.SessionID)
					}
				}
			}

			ctx = audit.WithContext(ctx, scope)
			w.Header().Set(RequestIDHeader, requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requestIDFrom accepts a caller-supplied ID unless it is blank or oversized.
func requestIDFrom(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
	if id == "" || len(id) > maxRequestIDLength {
		return uuid.NewString()
	}
	return id
}

func bearerToken(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}
