package coordinator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/keyrelay/internal/accesskey"
)

// Metrics contains coordinator metrics.
type Metrics struct {
	// mutationsTotal counts mutations by operation and outcome.
	mutationsTotal *prometheus.CounterVec

	// mutationDuration measures mutation duration.
	mutationDuration *prometheus.HistogramVec

	// compensationsTotal counts compensating writes by operation and outcome.
	compensationsTotal *prometheus.CounterVec
}

// NewMetrics creates unregistered coordinator metrics.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "keyrelay"
	}

	return &Metrics{
		mutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "coordinator",
				Name:      "mutations_total",
				Help:      "Total number of access key mutations",
			},
			[]string{"operation", "outcome"},
		),
		mutationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "coordinator",
				Name:      "mutation_duration_seconds",
				Help:      "Access key mutation duration in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"operation"},
		),
		compensationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "coordinator",
				Name:      "compensations_total",
				Help:      "Total number of compensating writes after a failed publish",
			},
			[]string{"operation", "outcome"},
		),
	}
}

// Collectors returns the collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.mutationsTotal, m.mutationDuration, m.compensationsTotal}
}

func (m *Metrics) recordMutation(op accesskey.Op, outcome string, d time.Duration) {
	m.mutationsTotal.WithLabelValues(string(op), outcome).Inc()
	m.mutationDuration.WithLabelValues(string(op)).Observe(d.Seconds())
}

func (m *Metrics) recordCompensation(op accesskey.Op, outcome string) {
	m.compensationsTotal.WithLabelValues(string(op), outcome).Inc()
}
