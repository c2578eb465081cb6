// Package payment enriches payment audit events with details from the payment provider.
package payment

import (
	"context"
	"errors"
	"io"
	"log/slog"

	audit "ozhi/pkg/platform/audit"
)

const (
	Name = "payment"

	// TargetType marks targets whose ID is a Stripe payment intent.
	TargetType = "stripe_payment"

	// MetadataKey is the event metadata key holding the looked-up details.
	MetadataKey = "stripe"
)

// Details is the subset of a payment the audit trail keeps.
type Details struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Customer string `json:"customer,omitempty"`
}

// Provider looks up a payment by ID.
type Provider interface {
	PaymentIntent(ctx context.Context, id string) (Details, error)
}

// Plugin is a pre-hook. Lookup failures leave the event unenriched.
type Plugin struct {
	provider Provider
	logger   *slog.Logger
}

type Option func(*Plugin)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Plugin) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func New(provider Provider, opts ...Option) (*Plugin, error) {
	if provider == nil {
		return nil, errors.New("payment provider is required")
	}
	p := &Plugin{
		provider: provider,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Plugin) Name() string { return Name }

func (p *Plugin) BeforeAudit(ctx context.Context, event audit.Event) (audit.Decision, error) {
	if event.Category != audit.CategoryPayment || event.Target == nil || event.Target.Type != TargetType {
		return audit.Continue(event), nil
	}

	details, err := p.provider.PaymentIntent(ctx, event.Target.ID)
	if err != nil {
		p.logger.WarnContext(ctx, "payment enrichment failed",
			"payment_id", event.Target.ID,
			"request_id", event.Context.RequestID,
			"error", err,
		)
		return audit.Continue(event), nil
	}

	event.Metadata = event.SetMetadata(MetadataKey, details)
	return audit.Continue(event), nil
}
