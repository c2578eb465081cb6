// Package requesttime captures one "now" per request so every audit timestamp written while
// serving it agrees.
package requesttime

import (
	"net/http"
	"time"

	"ozhi/pkg/requestcontext"
)

// Middleware stores the request start time for requestcontext.Now.
func Middleware(next http.Handler) http.Handler {
	return WithClock(time.Now)(next)
}

// WithClock is Middleware with an injectable clock.
func WithClock(now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithTime(r.Context(), now())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
