package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("kiosk", reg)

	m.StateTransitions.WithLabelValues("idle", "processing").Inc()
	m.ActivePayments.Set(1)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["kiosk_state_transitions_total"])
	assert.True(t, names["kiosk_active_payments"])
}

func TestMetrics_ObserveBreaker(t *testing.T) {
	m := NewMetrics("kiosk", prometheus.NewRegistry())

	m.ObserveBreaker("terminal.poll", gobreaker.StateClosed, gobreaker.StateOpen)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("terminal.poll")))

	m.ObserveBreaker("terminal.poll", gobreaker.StateOpen, gobreaker.StateHalfOpen)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("terminal.poll")))

	m.ObserveBreaker("terminal.poll", gobreaker.StateHalfOpen, gobreaker.StateClosed)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("terminal.poll")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CircuitBreakerTransitions.WithLabelValues("terminal.poll", "open")))
}
