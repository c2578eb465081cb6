// Package security counts failed authentication attempts and raises an alert when one
// client keeps failing inside a time window.
package security

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	audit "ozhi/pkg/platform/audit"
)

const (
	Name = "security"

	DefaultMaxFailedAttempts = 5
	DefaultWindow            = 5 * time.Minute
)

// Counter increments the failure count for key inside a fixed window that starts at the
// first failure, returning the count after the increment.
type Counter interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Alert describes a client that reached the failure threshold.
type Alert struct {
	Key       string
	IPAddress string
	UserID    string
	Attempts  int64
	Event     audit.Event
}

// Alerter is notified every time a key is at or above the threshold.
type Alerter interface {
	Alert(ctx context.Context, alert Alert) error
}

// LogAlerter writes alerts to a logger at error level.
type LogAlerter struct {
	Logger *slog.Logger
}

func (l LogAlerter) Alert(ctx context.Context, alert Alert) error {
	l.Logger.ErrorContext(ctx, "SECURITY ALERT: multiple failed auth attempts",
		"key", alert.Key,
		"ip_address", alert.IPAddress,
		"user_id", alert.UserID,
		"attempts", alert.Attempts,
		"request_id", alert.Event.Context.RequestID,
	)
	return nil
}

// Plugin is a post-hook tracking auth failures per ip:user pair.
type Plugin struct {
	counter     Counter
	alerter     Alerter
	maxAttempts int64
	window      time.Duration
	logger      *slog.Logger
}

// Option configures the Plugin.
type Option func(*Plugin)

func WithMaxFailedAttempts(n int) Option {
	return func(p *Plugin) {
		if n > 0 {
			p.maxAttempts = int64(n)
		}
	}
}

func WithWindow(d time.Duration) Option {
	return func(p *Plugin) {
		if d > 0 {
			p.window = d
		}
	}
}

func WithAlerter(a Alerter) Option {
	return func(p *Plugin) {
		p.alerter = a
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Plugin) {
		p.logger = logger
	}
}

// New creates the security plugin.
func New(counter Counter, opts ...Option) (*Plugin, error) {
	if counter == nil {
		return nil, errors.New("failure counter is required")
	}
	p := &Plugin{
		counter:     counter,
		maxAttempts: DefaultMaxFailedAttempts,
		window:      DefaultWindow,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.alerter == nil {
		p.alerter = LogAlerter{Logger: p.logger}
	}
	return p, nil
}

func (p *Plugin) Name() string { return Name }

// AfterAudit counts auth failures. The counter also advances past the threshold, so every
// further failure in the same window alerts again.
func (p *Plugin) AfterAudit(ctx context.Context, event audit.Event) error {
	if event.Category != audit.CategoryAuth || event.Result != audit.ResultFailure {
		return nil
	}

	key := Key(event.Context)
	count, err := p.counter.Increment(ctx, key, p.window)
	if err != nil {
		return fmt.Errorf("count failed attempt: %w", err)
	}
	if count < p.maxAttempts {
		return nil
	}

	return p.alerter.Alert(ctx, Alert{
		Key:       key,
		IPAddress: event.Context.IPAddress,
		UserID:    event.Context.UserID,
		Attempts:  count,
		Event:     event,
	})
}

// Key identifies a client as "ip:userID", with "anonymous" for a missing user.
func Key(c audit.Context) string {
	user := c.UserID
	if user == "" {
		user = "anonymous"
	}
	return c.IPAddress + ":" + user
}
