// Package redisclient builds the long-lived Redis connection shared by the
// key stores, the event stream and the rate limiter.
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/keyrelay/internal/observability"
	"github.com/vyrodovalexey/keyrelay/internal/retry"
)

// Config holds Redis connection settings.
type Config struct {
	Address  string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ConnectRetries is the number of extra ping attempts made by Connect.
	ConnectRetries int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Address:        "localhost:6379",
		PoolSize:       10,
		MinIdleConns:   2,
		MaxRetries:     3,
		DialTimeout:    5 * time.Second,
		ReadTimeout:    3 * time.Second,
		WriteTimeout:   3 * time.Second,
		ConnectRetries: 5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}
}

// New creates a client without contacting the server.
func New(cfg *Config) *redis.Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
}

// Connect creates a client and pings it with exponential backoff until
// the server answers or the retries are exhausted.
func Connect(ctx context.Context, cfg *Config, logger observability.Logger) (*redis.Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	client := New(cfg)

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	policy := retry.Policy{
		Retries:        cfg.ConnectRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		JitterFactor:   retry.DefaultJitterFactor,
	}

	attempts := 0
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		attempts++
		pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()
		return client.Ping(pingCtx).Err()
	}, func(attempt int, err error, wait time.Duration) {
		logger.Debug("redis connection failed, retrying",
			observability.String("address", cfg.Address),
			observability.Int("attempt", attempt),
			observability.Duration("backoff", wait),
			observability.Error(err),
		)
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s after %d attempts: %w", cfg.Address, attempts, err)
	}

	if attempts > 1 {
		logger.Info("redis connection established after retry",
			observability.String("address", cfg.Address),
			observability.Int("attempts", attempts),
		)
	}
	return client, nil
}

// Ping returns a health check function for the client.
func Ping(client redis.Cmdable) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
