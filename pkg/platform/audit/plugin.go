package audit

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Plugin is anything that can be registered with an Auditor. A plugin participates in the
// pipeline by also implementing one or more of Initializer, BeforeHook and AfterHook.
type Plugin interface {
	Name() string
}

// Initializer is run once by Auditor.Initialize, in registration order.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// BeforeHook runs before classification and persistence. It may transform the event by
// returning Continue with a new value, or veto it by returning Cancel.
type BeforeHook interface {
	BeforeAudit(ctx context.Context, event Event) (Decision, error)
}

// AfterHook runs after the event has been persisted. Its failures are logged, never returned.
type AfterHook interface {
	AfterAudit(ctx context.Context, event Event) error
}

type verdict uint8

const (
	verdictInvalid verdict = iota
	verdictContinue
	verdictCancel
)

// Decision is the outcome of a BeforeHook. The zero value is invalid.
type Decision struct {
	verdict verdict
	event   Event
}

// Continue passes event to the next stage of the pipeline.
func Continue(event Event) Decision {
	return Decision{verdict: verdictContinue, event: event}
}

// Cancel stops the pipeline. Nothing is persisted and Log returns nil.
func Cancel() Decision {
	return Decision{verdict: verdictCancel}
}

// Cancelled reports whether the decision vetoes the event.
func (d Decision) Cancelled() bool { return d.verdict == verdictCancel }

// Event returns the event carried by a Continue decision.
func (d Decision) Event() Event { return d.event }

// Chain keeps registered plugins and the typed hook lists derived from them.
// Registration order is execution order for every hook kind.
type Chain struct {
	mu      sync.RWMutex
	names   map[string]struct{}
	plugins []Plugin
	inits   []namedInit
	befores []namedBefore
	afters  []namedAfter
}

type namedInit struct {
	name string
	hook Initializer
}

type namedBefore struct {
	name string
	hook BeforeHook
}

type namedAfter struct {
	name string
	hook AfterHook
}

// hookSet is an immutable view of the chain taken at the start of a Log call.
type hookSet struct {
	befores []namedBefore
	afters  []namedAfter
}

// NewChain returns an empty chain.
func NewChain() *Chain {
	return &Chain{names: make(map[string]struct{})}
}

// Register appends p to the chain.
func (c *Chain) Register(p Plugin) error {
	if p == nil {
		return errors.New("audit plugin is required")
	}
	name := p.Name()
	if name == "" {
		return errors.New("audit plugin name is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.names[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePlugin, name)
	}
	c.names[name] = struct{}{}
	c.plugins = append(c.plugins, p)

	if h, ok := p.(Initializer); ok {
		c.inits = append(c.inits, namedInit{name: name, hook: h})
	}
	if h, ok := p.(BeforeHook); ok {
		c.befores = append(c.befores, namedBefore{name: name, hook: h})
	}
	if h, ok := p.(AfterHook); ok {
		c.afters = append(c.afters, namedAfter{name: name, hook: h})
	}
	return nil
}

// Plugins returns the registered plugin names in order.
func (c *Chain) Plugins() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.plugins))
	for _, p := range c.plugins {
		names = append(names, p.Name())
	}
	return names
}

// InitializeAll runs every Initializer sequentially. The first failure aborts the rest.
func (c *Chain) InitializeAll(ctx context.Context) error {
	c.mu.RLock()
	inits := slices.Clone(c.inits)
	c.mu.RUnlock()

	for _, in := range inits {
		err := guard(func() error { return in.hook.Initialize(ctx) })
		if err != nil {
			return &PluginInitError{Plugin: in.name, Err: err}
		}
	}
	return nil
}

func (c *Chain) snapshot() hookSet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return hookSet{
		befores: slices.Clip(c.befores),
		afters:  slices.Clip(c.afters),
	}
}

// runBefore threads event through every pre-hook. cancelledBy names the plugin that
// vetoed the event, if any.
func (h hookSet) runBefore(ctx context.Context, event Event) (result Event, cancelledBy string, err error) {
	for _, b := range h.befores {
		var decision Decision
		hookErr := guard(func() error {
			var callErr error
			decision, callErr = b.hook.BeforeAudit(ctx, event)
			return callErr
		})
		if hookErr != nil {
			return event, "", &PluginHookError{Plugin: b.name, Hook: HookBefore, Err: hookErr}
		}

		switch decision.verdict {
		case verdictCancel:
			return event, b.name, nil
		case verdictContinue:
			event = decision.event
		default:
			return event, "", &PluginHookError{Plugin: b.name, Hook: HookBefore, Err: ErrInvalidDecision}
		}
	}
	return event, "", nil
}

// runAfter calls every post-hook, collecting failures instead of stopping at them.
func (h hookSet) runAfter(ctx context.Context, event Event) []*PluginHookError {
	var failures []*PluginHookError
	for _, a := range h.afters {
		err := guard(func() error { return a.hook.AfterAudit(ctx, event) })
		if err != nil {
			failures = append(failures, &PluginHookError{Plugin: a.name, Hook: HookAfter, Err: err})
		}
	}
	return failures
}

// guard turns a panic inside fn into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// Hooks adapts plain functions to the plugin interfaces. Nil functions are skipped:
// a nil Before continues with the event unchanged.
type Hooks struct {
	PluginName string
	Init       func(ctx context.Context) error
	Before     func(ctx context.Context, event Event) (Decision, error)
	After      func(ctx context.Context, event Event) error
}

func (h Hooks) Name() string { return h.PluginName }

func (h Hooks) Initialize(ctx context.Context) error {
	if h.Init == nil {
		return nil
	}
	return h.Init(ctx)
}

func (h Hooks) BeforeAudit(ctx context.Context, event Event) (Decision, error) {
	if h.Before == nil {
		return Continue(event), nil
	}
	return h.Before(ctx, event)
}

func (h Hooks) AfterAudit(ctx context.Context, event Event) error {
	if h.After == nil {
		return nil
	}
	return h.After(ctx, event)
}
