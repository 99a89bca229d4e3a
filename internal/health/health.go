// Package health serves liveness and readiness probes for keyrelay
// processes.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/vyrodovalexey/keyrelay/internal/observability"
)

// Default probe timeouts.
const (
	DefaultReadinessTimeout = 5 * time.Second
	DefaultHealthTimeout    = 10 * time.Second
)

// Status values reported by probes.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Check is a named dependency probe.
type Check interface {
	Name() string
	Check(ctx context.Context) error
}

type checkFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (c *checkFunc) Name() string                    { return c.name }
func (c *checkFunc) Check(ctx context.Context) error { return c.fn(ctx) }

// NewCheck wraps fn as a Check.
func NewCheck(name string, fn func(ctx context.Context) error) Check {
	return &checkFunc{name: name, fn: fn}
}

// Status is the body written by the health and readiness probes.
type Status struct {
	Status    string                  `json:"status"`
	Version   string                  `json:"version,omitempty"`
	Uptime    string                  `json:"uptime,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
	Checks    map[string]*CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// Handler runs registered checks and serves the probe endpoints.
type Handler struct {
	version          string
	logger           observability.Logger
	metrics          *Metrics
	readinessTimeout time.Duration
	healthTimeout    time.Duration
	startTime        time.Time

	mu     sync.RWMutex
	checks []Check
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger used for failed checks.
func WithLogger(logger observability.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithMetrics sets the check metrics.
func WithMetrics(m *Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(version string) Option {
	return func(h *Handler) {
		h.version = version
	}
}

// WithTimeouts overrides the readiness and health probe timeouts. Zero
// keeps the default.
func WithTimeouts(readiness, health time.Duration) Option {
	return func(h *Handler) {
		if readiness > 0 {
			h.readinessTimeout = readiness
		}
		if health > 0 {
			h.healthTimeout = health
		}
	}
}

// NewHandler creates a Handler with no checks registered.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		logger:           observability.NopLogger(),
		readinessTimeout: DefaultReadinessTimeout,
		healthTimeout:    DefaultHealthTimeout,
		startTime:        time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AddCheck registers another check.
func (h *Handler) AddCheck(check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// Run executes every check concurrently and aggregates the result.
func (h *Handler) Run(ctx context.Context) *Status {
	h.mu.RLock()
	checks := make([]Check, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := &Status{
		Status:    StatusOK,
		Version:   h.version,
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]*CheckResult, len(checks)),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, check := range checks {
		wg.Add(1)
		go func(c Check) {
			defer wg.Done()

			start := time.Now()
			err := c.Check(ctx)
			elapsed := time.Since(start)

			result := &CheckResult{Status: StatusOK, Duration: elapsed.String()}
			if err != nil {
				result.Status = StatusError
				result.Error = err.Error()
				h.logger.Warn("health check failed",
					observability.String("check", c.Name()),
					observability.Duration("duration", elapsed),
					observability.Error(err),
				)
			}
			if h.metrics != nil {
				h.metrics.record(c.Name(), err == nil, elapsed)
			}

			mu.Lock()
			defer mu.Unlock()
			status.Checks[c.Name()] = result
			if err != nil {
				status.Status = StatusError
			}
		}(check)
	}
	wg.Wait()

	return status
}
