// Package filter drops audit events before they reach the sink.
package filter

import (
	"context"
	"slices"

	audit "ozhi/pkg/platform/audit"
)

const Name = "filter"

// Rule matches an event when every non-empty dimension matches. An empty rule matches nothing.
type Rule struct {
	Categories  []audit.Category
	TargetTypes []string
	Actions     []string
}

func (r Rule) empty() bool {
	return len(r.Categories) == 0 && len(r.TargetTypes) == 0 && len(r.Actions) == 0
}

// Matches reports whether the rule selects event.
func (r Rule) Matches(event audit.Event) bool {
	if r.empty() {
		return false
	}
	if len(r.Categories) > 0 && !slices.Contains(r.Categories, event.Category) {
		return false
	}
	if len(r.TargetTypes) > 0 {
		if event.Target == nil || !slices.Contains(r.TargetTypes, event.Target.Type) {
			return false
		}
	}
	if len(r.Actions) > 0 && !slices.Contains(r.Actions, event.Action) {
		return false
	}
	return true
}

// Plugin cancels events matched by any rule, then events the sampler drops.
type Plugin struct {
	rules   []Rule
	sampler *Sampler
}

type Option func(*Plugin)

// WithRule adds a veto rule.
func WithRule(r Rule) Option {
	return func(p *Plugin) { p.rules = append(p.rules, r) }
}

// WithSampler enables sampling of successful events.
func WithSampler(s *Sampler) Option {
	return func(p *Plugin) { p.sampler = s }
}

func New(opts ...Option) *Plugin {
	p := &Plugin{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Plugin) Name() string { return Name }

func (p *Plugin) BeforeAudit(_ context.Context, event audit.Event) (audit.Decision, error) {
	for _, r := range p.rules {
		if r.Matches(event) {
			return audit.Cancel(), nil
		}
	}
	// failures are always kept
	if p.sampler != nil && event.Result != audit.ResultFailure && !p.sampler.Keep(event.Action) {
		return audit.Cancel(), nil
	}
	return audit.Continue(event), nil
}
