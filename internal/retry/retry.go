package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Policy defaults.
const (
	DefaultInitialBackoff = 100 * time.Millisecond
	DefaultMaxBackoff     = 10 * time.Second
	DefaultJitterFactor   = 0.25
)

// Policy controls how many times an operation is retried and how long
// to wait between attempts.
type Policy struct {
	// Retries is the number of attempts after the first one. Zero
	// means the operation runs once.
	Retries int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// JitterFactor adds up to this fraction of the backoff at random.
	JitterFactor float64
}

// Backoff returns the wait before retry number attempt (0-based).
func (p Policy) Backoff(attempt int) time.Duration {
	initial := p.InitialBackoff
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	maxBackoff := p.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}
	jitter := p.JitterFactor
	if jitter < 0 || jitter > 1 {
		jitter = DefaultJitterFactor
	}

	backoff := float64(initial) * math.Pow(2, float64(attempt))
	//nolint:gosec // jitter for retry timing is not security-sensitive
	backoff += backoff * jitter * rand.Float64()
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}
	return time.Duration(backoff)
}

// stopError marks an error that must not be retried.
type stopError struct {
	err error
}

func (e *stopError) Error() string { return e.err.Error() }

func (e *stopError) Unwrap() error { return e.err }

// Stop wraps err so that Do returns it immediately without retrying.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &stopError{err: err}
}

// OnRetryFunc is called before each wait.
type OnRetryFunc func(attempt int, err error, wait time.Duration)

// Do runs fn until it succeeds, the policy is exhausted or ctx ends.
// The last error from fn is returned; the context error is returned only
// when ctx is already done before the first attempt.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error, onRetry OnRetryFunc) error {
	var lastErr error
	for attempt := 0; attempt <= p.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		var stop *stopError
		if errors.As(lastErr, &stop) {
			return stop.err
		}
		if attempt == p.Retries {
			break
		}

		wait := p.Backoff(attempt)
		if onRetry != nil {
			onRetry(attempt+1, lastErr, wait)
		}

		if err := Sleep(ctx, wait); err != nil {
			return lastErr
		}
	}
	return lastErr
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
