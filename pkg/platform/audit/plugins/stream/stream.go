// Package stream forwards persisted audit records to a Kafka topic.
//
// Records are produced synchronously after persistence. A circuit breaker stops the
// plugin from hitting an unhealthy broker on every call; while it is open, records wait in
// a bounded ring buffer and are flushed ahead of the next successful produce. Delivery is
// at-least-once: a failed batch is buffered again in full. A record that cannot be
// encoded is dropped and counted instead.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "ozhi/pkg/platform/audit"
	"ozhi/pkg/platform/circuit"
)

const (
	Name = "stream"

	DefaultTopic         = "audit-events"
	DefaultBufferSize    = 10000
	DefaultFlushBatch    = 500
	DefaultProbeInterval = 5 * time.Second
)

// Producer is the subset of *kgo.Client the plugin produces with.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// TopicCreator is the subset of *kadm.Client used to ensure the topic exists.
type TopicCreator interface {
	CreateTopics(ctx context.Context, partitions int32, replicationFactor int16, configs map[string]*string, topics ...string) (kadm.CreateTopicResponses, error)
}

type Plugin struct {
	producer Producer
	admin    TopicCreator
	topic    string

	partitions        int32
	replicationFactor int16

	breaker       *circuit.Breaker
	buffer        *RingBuffer
	flushBatch    int
	probeInterval time.Duration

	mu        sync.Mutex
	lastProbe time.Time

	now     func() time.Time
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Plugin)

func WithTopic(topic string) Option {
	return func(p *Plugin) {
		if topic != "" {
			p.topic = topic
		}
	}
}

// WithTopicCreator makes Initialize create the topic. Partitions and replication factor
// of -1 use the broker defaults.
func WithTopicCreator(admin TopicCreator, partitions int32, replicationFactor int16) Option {
	return func(p *Plugin) {
		p.admin = admin
		p.partitions = partitions
		p.replicationFactor = replicationFactor
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(p *Plugin) {
		if b != nil {
			p.breaker = b
		}
	}
}

func WithBuffer(b *RingBuffer) Option {
	return func(p *Plugin) {
		if b != nil {
			p.buffer = b
		}
	}
}

// WithProbeInterval sets how often an open breaker lets a produce through.
func WithProbeInterval(d time.Duration) Option {
	return func(p *Plugin) {
		if d > 0 {
			p.probeInterval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Plugin) {
		if now != nil {
			p.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Plugin) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Plugin) { p.metrics = m }
}

func New(producer Producer, opts ...Option) (*Plugin, error) {
	if producer == nil {
		return nil, errors.New("kafka producer is required")
	}
	p := &Plugin{
		producer:          producer,
		topic:             DefaultTopic,
		partitions:        -1,
		replicationFactor: -1,
		breaker:           circuit.New("audit-stream"),
		buffer:            NewRingBuffer(DefaultBufferSize),
		flushBatch:        DefaultFlushBatch,
		probeInterval:     DefaultProbeInterval,
		now:               time.Now,
		logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Plugin) Name() string { return Name }

// Initialize creates the topic. An existing topic is not an error.
func (p *Plugin) Initialize(ctx context.Context) error {
	if p.admin == nil {
		return nil
	}
	resps, err := p.admin.CreateTopics(ctx, p.partitions, p.replicationFactor, nil, p.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", p.topic, err)
	}
	for _, resp := range resps {
		if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", resp.Topic, resp.Err)
		}
	}
	return nil
}

func (p *Plugin) AfterAudit(ctx context.Context, event audit.Event) error {
	record, err := audit.NewRecord(event.ID, event, p.now())
	if err != nil {
		return fmt.Errorf("build stream record: %w", err)
	}

	if p.breaker.IsOpen() && !p.probeDue() {
		p.enqueue(record)
		return nil
	}

	pending, krs := p.encode(ctx, append(p.buffer.DequeueBatch(p.flushBatch), record))
	if len(krs) == 0 {
		return nil
	}
	if err := p.producer.ProduceSync(ctx, krs...).FirstErr(); err != nil {
		err = fmt.Errorf("produce to %s: %w", p.topic, err)
		for _, r := range pending {
			p.enqueue(r)
		}
		p.metrics.IncProduceFailures()
		p.touchProbe()
		if _, change := p.breaker.RecordFailure(); change.Opened {
			p.metrics.SetCircuitBreakerState(true)
			p.logger.ErrorContext(ctx, "audit stream circuit opened",
				"topic", p.topic,
				"buffered", p.buffer.Len(),
				"error", err,
			)
		}
		return err
	}

	p.metrics.IncProduced(len(krs))
	p.metrics.SetBuffered(p.buffer.Len())
	if _, change := p.breaker.RecordSuccess(); change.Closed {
		p.metrics.SetCircuitBreakerState(false)
		p.logger.InfoContext(ctx, "audit stream circuit closed", "topic", p.topic)
	}
	return nil
}

// Buffered returns the number of records waiting for a healthy broker.
func (p *Plugin) Buffered() int { return p.buffer.Len() }

// encode converts records to Kafka records. A record that cannot be encoded is
// dropped and counted; it is neither produced nor buffered again.
func (p *Plugin) encode(ctx context.Context, records []audit.Record) ([]audit.Record, []*kgo.Record) {
	kept := records[:0]
	krs := make([]*kgo.Record, 0, len(records))
	for _, r := range records {
		kr, err := p.toKafka(r)
		if err != nil {
			p.metrics.IncUnencodable()
			p.logger.ErrorContext(ctx, "audit stream dropped unencodable record",
				"record_id", r.ID,
				"request_id", r.RequestID,
				"error", err,
			)
			continue
		}
		kept = append(kept, r)
		krs = append(krs, kr)
	}
	return kept, krs
}

func (p *Plugin) toKafka(r audit.Record) (*kgo.Record, error) {
	value, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal record %s: %w", r.ID, err)
	}
	return &kgo.Record{
		Topic: p.topic,
		Key:   []byte(r.RequestID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "category", Value: []byte(r.Category)},
			{Key: "severity", Value: []byte(r.Severity)},
		},
	}, nil
}

func (p *Plugin) enqueue(r audit.Record) {
	if p.buffer.Enqueue(r) {
		p.metrics.IncDropped()
	}
	p.metrics.SetBuffered(p.buffer.Len())
}

func (p *Plugin) touchProbe() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastProbe = p.now()
}

func (p *Plugin) probeDue() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if now.Sub(p.lastProbe) < p.probeInterval {
		return false
	}
	p.lastProbe = now
	return true
}
