package audit

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingContext means Log was called outside any scope without an explicit
	// context carrying a request ID.
	ErrMissingContext = errors.New("no audit context available")

	// ErrDuplicatePlugin is returned when a plugin name is registered twice.
	ErrDuplicatePlugin = errors.New("audit plugin already registered")

	// ErrInvalidDecision is returned when a pre-hook returns the zero Decision.
	ErrInvalidDecision = errors.New("audit plugin returned neither continue nor cancel")
)

// HookKind names a plugin extension point.
type HookKind string

const (
	HookInitialize HookKind = "initialize"
	HookBefore     HookKind = "before"
	HookAfter      HookKind = "after"
)

// PersistenceError is returned when the sink could not record an event. The event is lost
// unless the caller repeats the whole Log call.
type PersistenceError struct {
	Action    string
	RequestID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("audit persistence failed for %q (request %s): %v", e.Action, e.RequestID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// PluginInitError is returned when a plugin fails to initialize. The chain is unusable.
type PluginInitError struct {
	Plugin string
	Err    error
}

func (e *PluginInitError) Error() string {
	return fmt.Sprintf("audit plugin %q failed to initialize: %v", e.Plugin, e.Err)
}

func (e *PluginInitError) Unwrap() error { return e.Err }

// PluginHookError reports a failing before or after hook.
type PluginHookError struct {
	Plugin string
	Hook   HookKind
	Err    error
}

func (e *PluginHookError) Error() string {
	return fmt.Sprintf("audit plugin %q %s hook failed: %v", e.Plugin, e.Hook, e.Err)
}

func (e *PluginHookError) Unwrap() error { return e.Err }

// ValidationError carries field-level problems with an event.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	return e.Message
}
