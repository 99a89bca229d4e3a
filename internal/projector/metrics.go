package projector

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains projector metrics.
type Metrics struct {
	eventsTotal *prometheus.CounterVec
	batchSize   prometheus.Histogram
	errorsTotal *prometheus.CounterVec
}

// NewMetrics creates unregistered projector metrics.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "keyrelay"
	}

	return &Metrics{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "projector",
				Name:      "events_total",
				Help:      "Total number of log entries handled by event type and outcome",
			},
			[]string{"event", "outcome"},
		),
		batchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "projector",
				Name:      "batch_size",
				Help:      "Number of entries per non-empty delivered batch",
				Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
			},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "projector",
				Name:      "errors_total",
				Help:      "Total number of projector log errors by stage",
			},
			[]string{"stage"},
		),
	}
}

// Collectors returns the collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.eventsTotal, m.batchSize, m.errorsTotal}
}
