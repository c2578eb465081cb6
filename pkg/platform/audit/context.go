package audit

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"ozhi/pkg/requestcontext"
)

type scopeKey struct{}

// scope is the mutable cell shared by a task and every goroutine that inherits its
// context.Context. A nested Run installs a new cell, so updates never leak outwards.
type scope struct {
	mu      sync.RWMutex
	current Context
}

// NewContext builds a fresh audit context with a generated request ID and the request-scoped
// time, overlaid with the non-zero fields of patch.
func NewContext(ctx context.Context, patch Context) Context {
	base := Context{
		RequestID: uuid.NewString(),
		Timestamp: requestcontext.Now(ctx),
	}
	return base.overlay(patch)
}

// WithContext returns a child of ctx in which c is the active audit context.
func WithContext(ctx context.Context, c Context) context.Context {
	return context.WithValue(ctx, scopeKey{}, &scope{current: c.clone()})
}

// Run executes fn with c active for everything reachable from the context fn receives.
func Run(ctx context.Context, c Context, fn func(ctx context.Context) error) error {
	return fn(WithContext(ctx, c))
}

// ContextFrom returns a copy of the active audit context. The boolean is false when no
// scope is active.
func ContextFrom(ctx context.Context) (Context, bool) {
	s, ok := ctx.Value(scopeKey{}).(*scope)
	if !ok || s == nil {
		return Context{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.clone(), true
}

// UpdateContext mutates the active audit context in place. Non-zero fields of patch replace
// the current values and metadata keys are merged. It is a no-op without an active scope.
func UpdateContext(ctx context.Context, patch Context) {
	s, ok := ctx.Value(scopeKey{}).(*scope)
	if !ok || s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = s.current.overlay(patch)
}
