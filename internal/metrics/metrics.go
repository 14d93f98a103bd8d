// Package metrics exposes Prometheus instrumentation for gate evaluation,
// review dispatch, and lock acquisition. The core only registers and
// updates these collectors; serving /metrics to a scraper is the embedding
// host's job, per the out-of-scope HTTP surface in spec §1. Grounded on
// kadirpekel-hector's observability.Metrics CounterVec/HistogramVec layout,
// narrowed to the orchestrator's own domain.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the orchestrator updates. A nil *Metrics
// is valid and every method on it is a no-op, so instrumentation can be
// threaded through without requiring a registry at every call site (tests
// pass nil).
type Metrics struct {
	registry *prometheus.Registry

	gateEvaluations *prometheus.CounterVec
	gateDuration    *prometheus.HistogramVec

	reviewAttempts  *prometheus.CounterVec
	reviewFallbacks *prometheus.CounterVec
	reviewDuration  *prometheus.HistogramVec

	lockWaitSeconds *prometheus.HistogramVec
}

// New builds a Metrics instance registered against a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.gateEvaluations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "gate",
		Name:      "evaluations_total",
		Help:      "Gate evaluations by kind and outcome.",
	}, []string{"kind", "passed"})

	m.gateDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "orchestrator",
		Subsystem: "gate",
		Name:      "evaluation_seconds",
		Help:      "Gate evaluation latency by kind.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	m.reviewAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "review",
		Name:      "attempts_total",
		Help:      "Review dispatch attempts by review type, model, and outcome.",
	}, []string{"review_type", "model", "success"})

	m.reviewFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "review",
		Name:      "fallbacks_total",
		Help:      "Fallback dispatches by review type.",
	}, []string{"review_type"})

	m.reviewDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "orchestrator",
		Subsystem: "review",
		Name:      "dispatch_seconds",
		Help:      "Review dispatch latency by review type.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"review_type"})

	m.lockWaitSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "orchestrator",
		Subsystem: "lock",
		Name:      "wait_seconds",
		Help:      "Time spent waiting to acquire a named lock.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"resource"})

	m.registry.MustRegister(m.gateEvaluations, m.gateDuration, m.reviewAttempts, m.reviewFallbacks, m.reviewDuration, m.lockWaitSeconds)
	return m
}

// Registry exposes the underlying registry so an embedding host can wire
// its own /metrics handler (e.g. promhttp.HandlerFor).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveGate records one gate evaluation.
func (m *Metrics) ObserveGate(kind string, passed bool, d time.Duration) {
	if m == nil {
		return
	}
	m.gateEvaluations.WithLabelValues(kind, boolLabel(passed)).Inc()
	m.gateDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveReview records one review dispatch outcome.
func (m *Metrics) ObserveReview(reviewType, model string, success bool, wasFallback bool, d time.Duration) {
	if m == nil {
		return
	}
	m.reviewAttempts.WithLabelValues(reviewType, model, boolLabel(success)).Inc()
	m.reviewDuration.WithLabelValues(reviewType).Observe(d.Seconds())
	if wasFallback {
		m.reviewFallbacks.WithLabelValues(reviewType).Inc()
	}
}

// ObserveLockWait records time spent blocked acquiring a named lock.
func (m *Metrics) ObserveLockWait(resource string, d time.Duration) {
	if m == nil {
		return
	}
	m.lockWaitSeconds.WithLabelValues(resource).Observe(d.Seconds())
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
