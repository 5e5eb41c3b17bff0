package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
)

// Metrics holds all application metrics
type Metrics struct {
	// Payment metrics
	PaymentsTotal    *prometheus.CounterVec
	PaymentDuration  *prometheus.HistogramVec
	ActivePayments   prometheus.Gauge
	StateTransitions *prometheus.CounterVec
	PaymentRetries   *prometheus.CounterVec
	PaymentErrors    *prometheus.CounterVec
	PollErrors       *prometheus.CounterVec
	SideEffects      *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	EventSubscribers    prometheus.Gauge

	// Circuit breaker metrics
	CircuitBreakerState       *prometheus.GaugeVec
	CircuitBreakerTransitions *prometheus.CounterVec

	// Stream metrics
	StreamPublished *prometheus.CounterVec
	StreamConsumed  *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics against the given registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := prometheus.WrapRegistererWith(nil, reg)

	m := &Metrics{
		PaymentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payments_total",
				Help:      "Total number of finished payment attempts by broker and final state",
			},
			[]string{"broker", "state"},
		),
		PaymentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "payment_duration_seconds",
				Help:      "Time from payment start to final state in seconds",
				Buckets:   []float64{1, 3, 5, 10, 20, 30, 60, 120},
			},
			[]string{"state"},
		),
		ActivePayments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_payments",
				Help:      "Number of payment attempts currently in flight",
			},
		),
		StateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_transitions_total",
				Help:      "Total number of accepted payment state transitions",
			},
			[]string{"from", "to"},
		),
		PaymentRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_retries_total",
				Help:      "Total number of refused attempts entering retry",
			},
			[]string{"can_retry"},
		),
		PaymentErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_errors_total",
				Help:      "Total number of payment errors",
			},
			[]string{"stage", "error_type"},
		),
		PollErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_errors_total",
				Help:      "Total number of failed terminal status polls",
			},
			[]string{"error_type"},
		),
		SideEffects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "side_effects_total",
				Help:      "Total number of side effects run by outcome",
			},
			[]string{"effect", "result"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		EventSubscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "event_subscribers",
				Help:      "Number of connected navigation event streams",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		CircuitBreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_transitions_total",
				Help:      "Total number of circuit breaker state changes",
			},
			[]string{"name", "to"},
		),
		StreamPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_published_total",
				Help:      "Total number of state changes mirrored to the Redis stream",
			},
			[]string{"status"},
		),
		StreamConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_consumed_total",
				Help:      "Total number of state change messages handled by the journal worker",
			},
			[]string{"result"},
		),
	}

	// Register all collectors
	factory.MustRegister(
		m.PaymentsTotal,
		m.PaymentDuration,
		m.ActivePayments,
		m.StateTransitions,
		m.PaymentRetries,
		m.PaymentErrors,
		m.PollErrors,
		m.SideEffects,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.EventSubscribers,
		m.CircuitBreakerState,
		m.CircuitBreakerTransitions,
		m.StreamPublished,
		m.StreamConsumed,
	)

	return m
}

// ObserveBreaker records a circuit breaker state change.
func (m *Metrics) ObserveBreaker(name string, _, to gobreaker.State) {
	var v float64
	switch to {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(v)
	m.CircuitBreakerTransitions.WithLabelValues(name, to.String()).Inc()
}
