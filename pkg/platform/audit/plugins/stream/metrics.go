package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for record streaming.
type Metrics struct {
	Produced            prometheus.Counter
	ProduceFailures     prometheus.Counter
	Buffered            prometheus.Gauge
	Dropped             prometheus.Counter
	Unencodable         prometheus.Counter
	CircuitBreakerState prometheus.Gauge
}

// NewMetrics registers the stream metrics with reg, or the default registerer when nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Produced: factory.NewCounter(prometheus.CounterOpts{
			Name: "ozhi_audit_stream_produced_total",
			Help: "Total number of audit records produced to the stream",
		}),
		ProduceFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "ozhi_audit_stream_produce_failures_total",
			Help: "Total number of failed produce attempts",
		}),
		Buffered: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ozhi_audit_stream_buffered",
			Help: "Audit records waiting for a healthy broker",
		}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "ozhi_audit_stream_dropped_total",
			Help: "Total number of buffered audit records dropped because the buffer was full",
		}),
		Unencodable: factory.NewCounter(prometheus.CounterOpts{
			Name: "ozhi_audit_stream_unencodable_total",
			Help: "Total number of audit records dropped because they could not be encoded",
		}),
		CircuitBreakerState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ozhi_audit_stream_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed/healthy, 1=open/unhealthy)",
		}),
	}
}

func (m *Metrics) IncProduced(n int) {
	if m != nil {
		m.Produced.Add(float64(n))
	}
}

func (m *Metrics) IncProduceFailures() {
	if m != nil {
		m.ProduceFailures.Inc()
	}
}

func (m *Metrics) SetBuffered(n int) {
	if m != nil {
		m.Buffered.Set(float64(n))
	}
}

func (m *Metrics) IncDropped() {
	if m != nil {
		m.Dropped.Inc()
	}
}

func (m *Metrics) IncUnencodable() {
	if m != nil {
		m.Unencodable.Inc()
	}
}

// SetCircuitBreakerState sets the circuit breaker state gauge.
func (m *Metrics) SetCircuitBreakerState(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitBreakerState.Set(1)
	} else {
		m.CircuitBreakerState.Set(0)
	}
}
