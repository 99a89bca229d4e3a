package guard

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains guard metrics.
type Metrics struct {
	decisionsTotal     *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
}

// NewMetrics creates unregistered guard metrics.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "keyrelay"
	}

	m := &Metrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "guard",
				Name:      "decisions_total",
				Help:      "Total number of access decisions by reason",
			},
			[]string{"reason"},
		),
		evaluationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "guard",
				Name:      "evaluation_duration_seconds",
				Help:      "Access guard evaluation duration in seconds",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
			},
		),
	}
	return m
}

// Collectors returns the collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.decisionsTotal, m.evaluationDuration}
}

func (m *Metrics) record(d Decision, elapsed time.Duration) {
	m.decisionsTotal.WithLabelValues(string(d.Reason)).Inc()
	m.evaluationDuration.Observe(elapsed.Seconds())
}
