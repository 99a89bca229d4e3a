// Package circuitbreaker wraps sony/gobreaker with logging, metrics and
// trace events for state transitions.
package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/keyrelay/internal/observability"
)

var tracer = otel.Tracer("keyrelay/circuitbreaker")

var (
	stateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "keyrelay",
			Subsystem: "circuit_breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keyrelay",
			Subsystem: "circuit_breaker",
			Name:      "transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)
)

// Collectors returns the package metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{stateGauge, transitionsTotal}
}

// ErrOpen is returned by Execute while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

// Config holds breaker settings.
type Config struct {
	// Threshold is the minimum number of requests in an interval before
	// the failure ratio can trip the breaker.
	Threshold int

	// FailureRatio trips the breaker once reached.
	FailureRatio float64

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
}

// DefaultConfig returns the default breaker settings.
func DefaultConfig() Config {
	return Config{
		Threshold:    5,
		FailureRatio: 0.5,
		Timeout:      30 * time.Second,
	}
}

// Breaker wraps gobreaker.CircuitBreaker.
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	logger observability.Logger
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithLogger sets the logger for the breaker.
func WithLogger(logger observability.Logger) Option {
	return func(b *Breaker) {
		b.logger = logger
	}
}

// New creates a breaker.
func New(name string, cfg Config, opts ...Option) *Breaker {
	b := &Breaker{logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(b)
	}

	threshold := toUint32(cfg.Threshold)
	ratio := cfg.FailureRatio
	if ratio <= 0 || ratio > 1 {
		ratio = DefaultConfig().FailureRatio
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    cfg.Timeout,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < threshold {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)

			stateGauge.WithLabelValues(name).Set(float64(to))
			transitionsTotal.WithLabelValues(name, from.String(), to.String()).Inc()

			_, span := tracer.Start(context.Background(), "circuitbreaker.state_change",
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			span.AddEvent("state_change", trace.WithAttributes(
				attribute.String("circuitbreaker.name", name),
				attribute.String("circuitbreaker.from", from.String()),
				attribute.String("circuitbreaker.to", to.String()),
			))
			span.End()
		},
	}

	b.cb = gobreaker.NewCircuitBreaker(settings)
	stateGauge.WithLabelValues(name).Set(0)
	return b
}

func toUint32(n int) uint32 {
	if n <= 0 {
		return 1
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}

// Execute runs fn through the breaker. Rejections are reported as ErrOpen.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.cb.Name()
}
