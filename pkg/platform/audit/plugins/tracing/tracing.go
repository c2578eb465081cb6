// Package tracing correlates audit events with the active OpenTelemetry span.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	audit "ozhi/pkg/platform/audit"
)

const (
	Name = "tracing"

	TraceIDKey = "trace_id"
	SpanIDKey  = "span_id"
)

// Plugin is a pre-hook copying trace and span ids into event metadata. Events logged
// outside a span pass through unchanged.
type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (*Plugin) Name() string { return Name }

func (*Plugin) BeforeAudit(ctx context.Context, event audit.Event) (audit.Decision, error) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return audit.Continue(event), nil
	}
	event.Metadata = event.SetMetadata(TraceIDKey, sc.TraceID().String())
	event.Metadata[SpanIDKey] = sc.SpanID().String()
	return audit.Continue(event), nil
}
