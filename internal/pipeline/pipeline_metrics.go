package pipeline

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the alert pipeline.
type Metrics struct {
	MessagesTotal      *prometheus.CounterVec
	MessageDuration    *prometheus.HistogramVec
	EnrichmentFailures *prometheus.CounterVec
}

// NewMetrics registers and returns pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_messages_total",
			Help: "Total alert messages processed by outcome.",
		}, []string{"outcome"}),
		MessageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_message_duration_seconds",
			Help:    "Duration of alert message processing in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}, []string{"outcome"}),
		EnrichmentFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_enrichment_failures_total",
			Help: "Best-effort enrichment steps that failed, by step.",
		}, []string{"step"}),
	}

	reg.MustRegister(
		m.MessagesTotal,
		m.MessageDuration,
		m.EnrichmentFailures,
	)

	return m
}

// Hooks returns pipeline Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnOutcome: func(outcome Outcome, seconds float64) {
			m.MessagesTotal.WithLabelValues(string(outcome)).Inc()
			m.MessageDuration.WithLabelValues(string(outcome)).Observe(seconds)
		},
		OnEnrichmentFailure: func(step string) {
			m.EnrichmentFailures.WithLabelValues(step).Inc()
		},
	}
}
