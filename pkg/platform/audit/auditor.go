package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "ozhi/pkg/platform/audit"

// Auditor runs events through the plugin chain and persists them to a Sink.
// All writes are synchronous: Log returns once persistence and every post-hook have finished.
type Auditor struct {
	sink       Sink
	chain      *Chain
	classifier *Classifier
	logger     *slog.Logger
	metrics    *Metrics
	tracer     trace.Tracer
	now        func() time.Time
	newID      func() string
}

// Option configures the Auditor.
type Option func(*Auditor)

// WithLogger sets a logger for post-hook and persistence failures.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Auditor) {
		a.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(a *Auditor) {
		a.metrics = m
	}
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(a *Auditor) {
		a.tracer = t
	}
}

// WithClassifier replaces the default severity classifier.
func WithClassifier(c *Classifier) Option {
	return func(a *Auditor) {
		a.classifier = c
	}
}

// WithCriticalActions is shorthand for WithClassifier(NewClassifier(actions...)).
func WithCriticalActions(actions ...string) Option {
	return func(a *Auditor) {
		a.classifier = NewClassifier(actions...)
	}
}

// WithClock sets the time source used for missing timestamps and record creation.
func WithClock(now func() time.Time) Option {
	return func(a *Auditor) {
		a.now = now
	}
}

// WithIDGenerator sets the record ID generator.
func WithIDGenerator(newID func() string) Option {
	return func(a *Auditor) {
		a.newID = newID
	}
}

// New creates an Auditor writing to sink.
func New(sink Sink, opts ...Option) (*Auditor, error) {
	if sink == nil {
		return nil, errors.New("audit sink is required")
	}
	a := &Auditor{
		sink:       sink,
		chain:      NewChain(),
		classifier: NewClassifier(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.tracer == nil {
		a.tracer = otel.Tracer(tracerName)
	}
	return a, nil
}

// Register appends a plugin to the chain. It is safe to call concurrently with Log;
// in-flight calls keep the hook lists they started with.
func (a *Auditor) Register(p Plugin) error {
	return a.chain.Register(p)
}

// Plugins returns the registered plugin names in execution order.
func (a *Auditor) Plugins() []string {
	return a.chain.Plugins()
}

// Initialize runs every plugin Initializer in registration order. A *PluginInitError means
// the pipeline must not be used.
func (a *Auditor) Initialize(ctx context.Context) error {
	return a.chain.InitializeAll(ctx)
}

// Log records one event.
//
// The ambient context (see Run and WithContext) is merged with in.Context, whose non-zero
// fields win. Pre-hooks run in order and may rewrite or cancel the event; a cancelled event
// returns nil without being persisted. A missing severity is filled by the classifier.
// Post-hook failures are logged and counted, never returned.
func (a *Auditor) Log(ctx context.Context, in Input) (err error) {
	start := a.now()
	ctx, span := a.tracer.Start(ctx, "audit.Log",
		trace.WithAttributes(
			attribute.String("audit.action", in.Action),
			attribute.String("audit.category", string(in.Category)),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if a.metrics != nil {
			a.metrics.ObserveLogDuration(a.now().Sub(start).Seconds())
		}
	}()

	ambient, ok := ContextFrom(ctx)
	if !ok && (in.Context == nil || in.Context.RequestID == "") {
		return ErrMissingContext
	}

	if err := Validate(in); err != nil {
		return err
	}

	event := a.buildEvent(ambient, in)

	hooks := a.chain.snapshot()
	event, cancelledBy, err := hooks.runBefore(ctx, event)
	if err != nil {
		return a.hookFailed(ctx, event, err)
	}
	if cancelledBy != "" {
		span.SetAttributes(attribute.String("audit.cancelled_by", cancelledBy))
		if a.metrics != nil {
			a.metrics.IncCancelled(cancelledBy)
		}
		return nil
	}

	if event.Severity == "" {
		event.Severity = a.classifier.Classify(event)
	}
	span.SetAttributes(attribute.String("audit.severity", string(event.Severity)))

	if err := Validate(event); err != nil {
		return err
	}

	event.ID = a.newID()
	if err := a.persist(ctx, event); err != nil {
		return err
	}

	if a.metrics != nil {
		a.metrics.IncLogged(event.Category, event.Severity)
	}

	for _, failure := range hooks.runAfter(ctx, event) {
		if a.metrics != nil {
			a.metrics.IncHookFailure(failure.Plugin, failure.Hook)
		}
		a.logger.ErrorContext(ctx, "audit post-hook failed",
			"plugin", failure.Plugin,
			"hook", string(failure.Hook),
			"action", event.Action,
			"request_id", event.Context.RequestID,
			"error", failure.Err,
		)
	}

	return nil
}

// buildEvent merges contexts and copies caller-owned maps so plugins cannot mutate them.
func (a *Auditor) buildEvent(ambient Context, in Input) Event {
	merged := ambient
	if in.Context != nil {
		merged = merged.overlay(*in.Context)
	} else {
		merged = merged.clone()
	}
	if merged.Timestamp.IsZero() {
		merged.Timestamp = a.now()
	}

	event := Event{
		Action:   in.Action,
		Category: in.Category,
		Severity: in.Severity,
		Result:   in.Result,
		Context:  merged,
		Error:    in.Error,
		Metadata: maps.Clone(in.Metadata),
	}
	if in.Target != nil {
		target := *in.Target
		target.Metadata = maps.Clone(target.Metadata)
		event.Target = &target
	}
	if in.Changes != nil {
		changes := *in.Changes
		if changes.Fields != nil {
			changes.Fields = append([]string(nil), changes.Fields...)
		}
		event.Changes = &changes
	}
	return event
}

func (a *Auditor) persist(ctx context.Context, event Event) error {
	record, err := NewRecord(event.ID, event, a.now())
	if err == nil {
		err = a.sink.Append(ctx, record)
	}
	if err == nil {
		return nil
	}

	if a.metrics != nil {
		a.metrics.IncPersistFailures()
	}
	a.logger.ErrorContext(ctx, "CRITICAL: audit persistence failed",
		"action", event.Action,
		"category", string(event.Category),
		"request_id", event.Context.RequestID,
		"error", err,
	)
	return &PersistenceError{Action: event.Action, RequestID: event.Context.RequestID, Err: err}
}

func (a *Auditor) hookFailed(ctx context.Context, event Event, err error) error {
	var hookErr *PluginHookError
	if errors.As(err, &hookErr) && a.metrics != nil {
		a.metrics.IncHookFailure(hookErr.Plugin, hookErr.Hook)
	}
	a.logger.WarnContext(ctx, "audit pre-hook failed",
		"action", event.Action,
		"request_id", event.Context.RequestID,
		"error", err,
	)
	return err
}
