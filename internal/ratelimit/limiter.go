// Package ratelimit implements per-key fixed-window admission control.
//
// Windows are not sliding: a burst straddling a window boundary can
// admit up to twice the limit across the boundary.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/vyrodovalexey/keyrelay/internal/observability"
	"github.com/vyrodovalexey/keyrelay/internal/ratelimit/store"
)

// DefaultWindow is the fixed window length.
const DefaultWindow = time.Minute

// Limiter decides whether a call for key is within limit.
type Limiter interface {
	// CheckAndIncrement counts one call for key and reports whether the
	// post-increment count is within limit.
	CheckAndIncrement(ctx context.Context, key string, limit int64) (bool, error)
}

// Result describes a single rate-limit check.
type Result struct {
	Allowed bool
	Count   int64
	Limit   int64
}

// FixedWindowLimiter counts calls in non-overlapping windows backed by
// a counter store.
type FixedWindowLimiter struct {
	store   store.Store
	window  time.Duration
	logger  observability.Logger
	metrics *Metrics
}

// Option configures a FixedWindowLimiter.
type Option func(*FixedWindowLimiter)

// WithWindow overrides the window length.
func WithWindow(window time.Duration) Option {
	return func(l *FixedWindowLimiter) {
		if window > 0 {
			l.window = window
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(l *FixedWindowLimiter) {
		l.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) Option {
	return func(l *FixedWindowLimiter) {
		l.metrics = m
	}
}

// NewFixedWindowLimiter creates a limiter on s.
func NewFixedWindowLimiter(s store.Store, opts ...Option) *FixedWindowLimiter {
	l := &FixedWindowLimiter{
		store:  s,
		window: DefaultWindow,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.metrics == nil {
		l.metrics = NewMetrics("")
	}
	return l
}

// Check counts one call for key and returns the full result.
func (l *FixedWindowLimiter) Check(ctx context.Context, key string, limit int64) (Result, error) {
	count, err := l.store.IncrementWithExpiry(ctx, key, 1, l.window)
	if err != nil {
		l.metrics.checksTotal.WithLabelValues("error").Inc()
		return Result{Limit: limit}, fmt.Errorf("rate limit increment failed: %w", err)
	}

	res := Result{Allowed: count <= limit, Count: count, Limit: limit}
	if res.Allowed {
		l.metrics.checksTotal.WithLabelValues("allowed").Inc()
	} else {
		l.metrics.checksTotal.WithLabelValues("exceeded").Inc()
	}

	l.logger.Debug("rate limit checked",
		observability.Key(key),
		observability.Int64("count", count),
		observability.Int64("limit", limit),
	)
	return res, nil
}

// CheckAndIncrement implements Limiter.
func (l *FixedWindowLimiter) CheckAndIncrement(ctx context.Context, key string, limit int64) (bool, error) {
	res, err := l.Check(ctx, key, limit)
	return res.Allowed, err
}
