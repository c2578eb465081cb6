package testutil

import (
	"context"
	"net/http"
	"time"

	audit "ozhi/pkg/platform/audit"
	"ozhi/pkg/requestcontext"
)

// WithAuditScope installs c as the active audit context of the request.
// This simulates what the scope middleware does for every inbound request.
func WithAuditScope(req *http.Request, c audit.Context) *http.Request {
	return req.WithContext(audit.WithContext(req.Context(), c))
}

// WithAuth adds user and session IDs to the request context.
// Empty values are skipped.
func WithAuth(req *http.Request, userID, sessionID string) *http.Request {
	ctx := req.Context()
	if userID != "" {
		ctx = requestcontext.WithUserID(ctx, userID)
	}
	if sessionID != "" {
		ctx = requestcontext.WithSessionID(ctx, sessionID)
	}
	return req.WithContext(ctx)
}

// ScopedContext returns a background context with an active audit scope and a fixed
// request time, for service tests that do not run the middleware chain.
func ScopedContext(requestID string, now time.Time) context.Context {
	ctx := requestcontext.WithTime(context.Background(), now)
	ctx = requestcontext.WithRequestID(ctx, requestID)
	return audit.WithContext(ctx, audit.Context{RequestID: requestID, Timestamp: now})
}
