package eventlog

import (
	"context"
	"errors"
	"time"

	"github.com/vyrodovalexey/keyrelay/internal/circuitbreaker"
	"github.com/vyrodovalexey/keyrelay/internal/observability"
	"github.com/vyrodovalexey/keyrelay/internal/retry"
)

// GuardedPublisher decorates a Publisher with a circuit breaker and a
// bounded retry. An open breaker fails immediately so the caller can
// compensate without waiting on a log that is known to be down.
type GuardedPublisher struct {
	next    Publisher
	breaker *circuitbreaker.Breaker
	policy  retry.Policy
	logger  observability.Logger
}

// GuardedOption configures a GuardedPublisher.
type GuardedOption func(*GuardedPublisher)

// WithBreaker sets the circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) GuardedOption {
	return func(p *GuardedPublisher) {
		p.breaker = b
	}
}

// WithRetryPolicy sets the publish retry policy.
func WithRetryPolicy(policy retry.Policy) GuardedOption {
	return func(p *GuardedPublisher) {
		p.policy = policy
	}
}

// WithPublisherLogger sets the logger.
func WithPublisherLogger(logger observability.Logger) GuardedOption {
	return func(p *GuardedPublisher) {
		p.logger = logger
	}
}

// NewGuardedPublisher wraps next.
func NewGuardedPublisher(next Publisher, opts ...GuardedOption) *GuardedPublisher {
	p := &GuardedPublisher{
		next:   next,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish implements Publisher.
func (p *GuardedPublisher) Publish(ctx context.Context, ev Event) (string, error) {
	var id string
	err := retry.Do(ctx, p.policy, func(ctx context.Context) error {
		var err error
		id, err = p.publishOnce(ctx, ev)
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return retry.Stop(err)
		}
		return err
	}, func(attempt int, err error, wait time.Duration) {
		p.logger.Warn("publish failed, retrying",
			observability.String("event", string(ev.Type)),
			observability.Key(ev.Key),
			observability.Int("attempt", attempt),
			observability.Duration("backoff", wait),
			observability.Error(err),
		)
	})
	return id, err
}

func (p *GuardedPublisher) publishOnce(ctx context.Context, ev Event) (string, error) {
	if p.breaker == nil {
		return p.next.Publish(ctx, ev)
	}
	var id string
	err := p.breaker.Execute(func() error {
		var err error
		id, err = p.next.Publish(ctx, ev)
		return err
	})
	return id, err
}
