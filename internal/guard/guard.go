// Package guard authorizes requests against the replica store and the
// per-key rate limiter.
//
// Evaluation is a fixed sequence of checks: extract the credential,
// look the key up, then require it to be enabled, unexpired and within
// its rate limit. Every denial carries a reason for logs and metrics;
// callers only ever see a uniform authorization failure.
package guard

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/keyrelay/internal/keystore"
	"github.com/vyrodovalexey/keyrelay/internal/observability"
	"github.com/vyrodovalexey/keyrelay/internal/ratelimit"
)

var tracer = otel.Tracer("keyrelay/guard")

// Reason explains a decision. It is internal only.
type Reason string

// Decision reasons.
const (
	ReasonAllowed              Reason = "allowed"
	ReasonMissingCredential    Reason = "missing_credential"
	ReasonNotFound             Reason = "not_found"
	ReasonDisabled             Reason = "disabled"
	ReasonExpired              Reason = "expired"
	ReasonInvalidRecord        Reason = "invalid_record"
	ReasonRateLimitExceeded    Reason = "rate_limit_exceeded"
	ReasonLookupFailed         Reason = "lookup_failed"
	ReasonRateLimitUnavailable Reason = "rate_limit_unavailable"
)

// Decision is the outcome of an evaluation.
type Decision struct {
	Allowed bool
	Reason  Reason
	// Key is the extracted credential, empty when none was found.
	Key string
}

func allow(key string) Decision {
	return Decision{Allowed: true, Reason: ReasonAllowed, Key: key}
}

func deny(key string, reason Reason) Decision {
	return Decision{Reason: reason, Key: key}
}

// Guard evaluates access decisions.
type Guard struct {
	replica   keystore.Store
	limiter   ratelimit.Limiter
	extractor Extractor
	logger    observability.Logger
	metrics   *Metrics
	now       func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithExtractor replaces the bearer-token extractor.
func WithExtractor(e Extractor) Option {
	return func(g *Guard) {
		g.extractor = e
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

// WithClock replaces the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		g.now = now
	}
}

// New creates a Guard reading records from replica.
func New(replica keystore.Store, limiter ratelimit.Limiter, opts ...Option) *Guard {
	g := &Guard{
		replica:   replica,
		limiter:   limiter,
		extractor: NewBearerExtractor(""),
		logger:    observability.NopLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.metrics == nil {
		g.metrics = NewMetrics("")
	}
	return g
}

// Evaluate extracts the credential from r and checks it.
func (g *Guard) Evaluate(ctx context.Context, r *http.Request) Decision {
	key, err := g.extractor.Extract(r)
	if err != nil {
		d := deny("", ReasonMissingCredential)
		g.metrics.record(d, 0)
		g.logger.Info("access denied",
			observability.String("reason", string(d.Reason)),
			observability.String("detail", err.Error()),
			observability.String("path", r.URL.Path),
		)
		return d
	}
	return g.Check(ctx, key)
}

// Check evaluates an already extracted key. A non-nil return from the
// store or the limiter is a denial, never an error.
func (g *Guard) Check(ctx context.Context, key string) Decision {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "guard.check",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("accesskey.key", observability.MaskKey(key))),
	)
	defer span.End()

	d := g.check(ctx, key)

	span.SetAttributes(
		attribute.Bool("guard.allowed", d.Allowed),
		attribute.String("guard.reason", string(d.Reason)),
	)
	g.metrics.record(d, time.Since(start))

	if d.Allowed {
		g.logger.Debug("access allowed", observability.Key(key))
	} else {
		g.logger.Info("access denied",
			observability.Key(key),
			observability.String("reason", string(d.Reason)),
		)
	}
	return d
}

func (g *Guard) check(ctx context.Context, key string) Decision {
	rec, err := g.replica.Get(ctx, key)
	switch {
	case errors.Is(err, keystore.ErrNotFound):
		return deny(key, ReasonNotFound)
	case err != nil:
		g.logger.Error("replica lookup failed", observability.Key(key), observability.Error(err))
		return deny(key, ReasonLookupFailed)
	}

	if !rec.Enabled {
		return deny(key, ReasonDisabled)
	}

	if rec.ExpiredAt(g.now()) {
		return deny(key, ReasonExpired)
	}

	if rec.RateLimitPerMin <= 0 {
		g.logger.Error("replica record has no usable rate limit",
			observability.Key(key),
			observability.Int64("rate_limit_per_min", rec.RateLimitPerMin),
		)
		return deny(key, ReasonInvalidRecord)
	}

	allowed, err := g.limiter.CheckAndIncrement(ctx, key, rec.RateLimitPerMin)
	if err != nil {
		g.logger.Error("rate limit check failed", observability.Key(key), observability.Error(err))
		return deny(key, ReasonRateLimitUnavailable)
	}
	if !allowed {
		return deny(key, ReasonRateLimitExceeded)
	}

	return allow(key)
}
