// Package requestcontext carries request-scoped values through context.Context
// without depending on net/http.
//
// The scope middleware sets them once per inbound request; the audit pipeline
// reads them when it opens a new audit scope:
//
//	ctx = requestcontext.WithRequestID(ctx, requestID)
//	ctx = requestcontext.WithClientMetadata(ctx, ip, userAgent)
//
// Tests pin the clock with WithTime.
package requestcontext

import (
	"context"
	"time"
)

type key int

const (
	userIDKey key = iota
	sessionIDKey
	clientIPKey
	userAgentKey
	requestIDKey
	requestTimeKey
)

func value[T any](ctx context.Context, k key) (T, bool) {
	v, ok := ctx.Value(k).(T)
	return v, ok
}

func str(ctx context.Context, k key) string {
	s, _ := value[string](ctx, k)
	return s
}

// UserID returns the authenticated user, or "" for anonymous requests.
func UserID(ctx context.Context) string { return str(ctx, userIDKey) }

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func SessionID(ctx context.Context) string { return str(ctx, sessionIDKey) }

func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

func ClientIP(ctx context.Context) string { return str(ctx, clientIPKey) }

func UserAgent(ctx context.Context) string { return str(ctx, userAgentKey) }

// WithClientMetadata records the caller's address and User-Agent together.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	return context.WithValue(context.WithValue(ctx, clientIPKey, clientIP), userAgentKey, userAgent)
}

func RequestID(ctx context.Context) string { return str(ctx, requestIDKey) }

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// Now returns the request clock, or the wall clock outside a request
// (CLI commands, background flushes).
func Now(ctx context.Context) time.Time {
	if t, ok := value[time.Time](ctx, requestTimeKey); ok {
		return t
	}
	return time.Now()
}

// WithTime fixes the clock seen by Now.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey, t)
}
