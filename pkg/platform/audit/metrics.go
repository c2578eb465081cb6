package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit pipeline.
type Metrics struct {
	Logged          *prometheus.CounterVec
	Cancelled       *prometheus.CounterVec
	HookFailures    *prometheus.CounterVec
	PersistFailures prometheus.Counter
	LogDuration     prometheus.Histogram
}

// NewMetrics registers the pipeline metrics with reg. A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Logged: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ozhi_audit_events_logged_total",
			Help: "Total number of audit events persisted, by category and severity",
		}, []string{"category", "severity"}),
		Cancelled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ozhi_audit_events_cancelled_total",
			Help: "Total number of audit events cancelled by a pre-hook",
		}, []string{"plugin"}),
		HookFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ozhi_audit_hook_failures_total",
			Help: "Total number of plugin hook failures",
		}, []string{"plugin", "hook"}),
		PersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "ozhi_audit_persist_failures_total",
			Help: "Total number of audit event persistence failures",
		}),
		LogDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ozhi_audit_log_duration_seconds",
			Help:    "Duration of Auditor.Log calls",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) IncLogged(category Category, severity Severity) {
	m.Logged.WithLabelValues(string(category), string(severity)).Inc()
}

func (m *Metrics) IncCancelled(plugin string) {
	m.Cancelled.WithLabelValues(plugin).Inc()
}

func (m *Metrics) IncHookFailure(plugin string, hook HookKind) {
	m.HookFailures.WithLabelValues(plugin, string(hook)).Inc()
}

func (m *Metrics) IncPersistFailures() {
	m.PersistFailures.Inc()
}

func (m *Metrics) ObserveLogDuration(seconds float64) {
	m.LogDuration.Observe(seconds)
}
