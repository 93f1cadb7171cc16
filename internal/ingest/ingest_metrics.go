package ingest

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for webhook ingest.
type Metrics struct {
	WebhooksTotal *prometheus.CounterVec
}

// NewMetrics registers and returns ingest metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WebhooksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_webhooks_total",
			Help: "Total webhooks received by GitHub event and result.",
		}, []string{"event", "result"}),
	}
	reg.MustRegister(m.WebhooksTotal)
	return m
}

// Hooks returns ingest Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnWebhook: func(event, result string) {
			m.WebhooksTotal.WithLabelValues(event, result).Inc()
		},
	}
}
