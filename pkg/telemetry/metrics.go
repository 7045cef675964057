package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for terravet.
type Metrics struct {
	config MetricsConfig

	auditsTotal     *prometheus.CounterVec
	auditDuration   *prometheus.HistogramVec
	policyFailures  *prometheus.CounterVec
	pricingFailures prometheus.Counter

	fixesGenerated *prometheus.CounterVec
	appliesTotal   *prometheus.CounterVec
	applyDuration  prometheus.Histogram

	activeSessions prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
// If metrics are disabled, the returned instance is a no-op.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		auditsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audits_total",
				Help:      "Total number of audits performed",
			},
			[]string{"provider"},
		),
		auditDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "audit_duration_seconds",
				Help:      "Duration of audit execution in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		policyFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_failures_total",
				Help:      "Total number of policy checks that failed to execute",
			},
			[]string{"policy_code"},
		),
		pricingFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pricing_failures_total",
				Help:      "Total number of cost estimates that could not be produced",
			},
		),
		fixesGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fixes_generated_total",
				Help:      "Total number of remediation changes generated",
			},
			[]string{"source"},
		),
		appliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "applies_total",
				Help:      "Total number of apply operations by outcome",
			},
			[]string{"outcome"},
		),
		applyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "apply_duration_seconds",
				Help:      "Duration of apply operations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Current number of sessions not yet completed or cancelled",
			},
		),
	}

	registry.MustRegister(
		m.auditsTotal,
		m.auditDuration,
		m.policyFailures,
		m.pricingFailures,
		m.fixesGenerated,
		m.appliesTotal,
		m.applyDuration,
		m.activeSessions,
	)

	return m, nil
}

// RecordAudit records one completed audit and its duration.
func (m *Metrics) RecordAudit(provider string, duration time.Duration) {
	if m == nil || m.registry == nil {
		return
	}
	m.auditsTotal.WithLabelValues(provider).Inc()
	m.auditDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordPolicyFailure records a policy check that errored or panicked.
func (m *Metrics) RecordPolicyFailure(policyCode string) {
	if m == nil || m.registry == nil {
		return
	}
	m.policyFailures.WithLabelValues(policyCode).Inc()
}

// RecordPricingFailure records a cost estimate that could not be produced.
func (m *Metrics) RecordPricingFailure() {
	if m == nil || m.registry == nil {
		return
	}
	m.pricingFailures.Inc()
}

// RecordFixGenerated records a generated change by its source
// (template, assist, manual).
func (m *Metrics) RecordFixGenerated(source string) {
	if m == nil || m.registry == nil {
		return
	}
	m.fixesGenerated.WithLabelValues(source).Inc()
}

// RecordApply records an apply operation outcome
// (completed, conflict, exhausted).
func (m *Metrics) RecordApply(outcome string, duration time.Duration) {
	if m == nil || m.registry == nil {
		return
	}
	m.appliesTotal.WithLabelValues(outcome).Inc()
	m.applyDuration.Observe(duration.Seconds())
}

// SessionStarted increments the active session gauge.
func (m *Metrics) SessionStarted() {
	if m == nil || m.registry == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionFinished decrements the active session gauge.
func (m *Metrics) SessionFinished() {
	if m == nil || m.registry == nil {
		return
	}
	m.activeSessions.Dec()
}

// Handler returns an HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
