package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/keyrelay/internal/observability"
)

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	b := New("publish-trip", Config{Threshold: 2, FailureRatio: 0.5, Timeout: time.Hour},
		WithLogger(observability.NewLoggerFromZap(zap.New(core))))

	errBoom := errors.New("boom")

	assert.ErrorIs(t, b.Execute(func() error { return errBoom }), errBoom)
	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.ErrorIs(t, b.Execute(func() error { return errBoom }), errBoom)
	assert.Equal(t, gobreaker.StateOpen, b.State())

	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)

	require.Equal(t, 1, logs.FilterMessage("circuit breaker state change").Len())
	assert.Equal(t, "publish-trip", b.Name())
}

func TestBreaker_RecoversAfterTimeout(t *testing.T) {
	t.Parallel()

	b := New("publish-recover", Config{Threshold: 1, Timeout: 20 * time.Millisecond})

	_ = b.Execute(func() error { return errors.New("boom") })
	require.Equal(t, gobreaker.StateOpen, b.State())

	time.Sleep(40 * time.Millisecond)

	assert.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreaker_CancelledContextIsNotAFailure(t *testing.T) {
	t.Parallel()

	b := New("publish-cancel", Config{Threshold: 1, Timeout: time.Hour})

	err := b.Execute(func() error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	assert.Equal(t, 5, cfg.Threshold)
	assert.InDelta(t, 0.5, cfg.FailureRatio, 0.0001)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
}
