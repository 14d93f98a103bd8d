package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveGateIncrementsCounter(t *testing.T) {
	m := New()
	m.ObserveGate("command", true, 10*time.Millisecond)
	m.ObserveGate("command", false, 5*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.gateEvaluations.WithLabelValues("command", "true")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.gateEvaluations.WithLabelValues("command", "false")))
}

func TestObserveReviewTracksFallback(t *testing.T) {
	m := New()
	m.ObserveReview("security", "gpt", true, true, 20*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.reviewAttempts.WithLabelValues("security", "gpt", "true")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.reviewFallbacks.WithLabelValues("security")))
}

func TestObserveLockWait(t *testing.T) {
	m := New()
	m.ObserveLockWait("state", 50*time.Millisecond)
	// No panic and the series is registered; exact histogram buckets aren't asserted.
	assert.NotNil(t, m.Registry())
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveGate("command", true, time.Millisecond)
		m.ObserveReview("security", "gpt", true, false, time.Millisecond)
		m.ObserveLockWait("state", time.Millisecond)
	})
	assert.Nil(t, m.Registry())
}

func TestRegistryGathersRegisteredCollectors(t *testing.T) {
	m := New()
	m.ObserveGate("artifact", true, time.Millisecond)

	families, err := m.Registry().Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}
