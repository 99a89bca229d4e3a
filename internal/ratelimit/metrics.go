package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for rate-limit checks.
type Metrics struct {
	checksTotal *prometheus.CounterVec
}

// NewMetrics creates unregistered metrics.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "keyrelay"
	}
	m := &Metrics{
		checksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "checks_total",
				Help:      "Total number of rate limit checks by result",
			},
			[]string{"result"},
		),
	}
	for _, r := range []string{"allowed", "exceeded", "error"} {
		m.checksTotal.WithLabelValues(r)
	}
	return m
}

// Collectors returns the collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.checksTotal}
}
