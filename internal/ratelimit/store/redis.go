package store

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

var (
	redisOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keyrelay",
			Subsystem: "ratelimit_store",
			Name:      "operations_total",
			Help:      "Total number of rate limit store operations",
		},
		[]string{"operation", "status"},
	)

	redisOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "keyrelay",
			Subsystem: "ratelimit_store",
			Name:      "operation_duration_seconds",
			Help:      "Duration of rate limit store operations in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
		[]string{"operation"},
	)
)

// Collectors returns the package metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{redisOperationsTotal, redisOperationDuration}
}

// incrementWithExpiryScript increments and sets the TTL only when the
// increment created the counter, so the window is never extended.
// KEYS[1] = counter key
// ARGV[1] = delta
// ARGV[2] = expiration in milliseconds
var incrementWithExpiryScript = redis.NewScript(`
	local current = redis.call('INCRBY', KEYS[1], ARGV[1])
	if current == tonumber(ARGV[1]) then
		redis.call('PEXPIRE', KEYS[1], ARGV[2])
	end
	return current
`)

// RedisStore implements Store using Redis counters.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store on an existing client. An empty prefix
// selects DefaultPrefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) prefixKey(key string) string {
	return s.prefix + key
}

func observe(op string, start time.Time, status string) {
	redisOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	redisOperationsTotal.WithLabelValues(op, status).Inc()
}

// IncrementWithExpiry implements Store with a Lua script for atomicity.
func (s *RedisStore) IncrementWithExpiry(
	ctx context.Context,
	key string,
	delta int64,
	expiration time.Duration,
) (int64, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context error before redis incr with expiry: %w", err)
	}

	ms := expiration.Milliseconds()
	if expiration%time.Millisecond != 0 {
		ms++
	}
	if ms < 1 {
		ms = 1
	}

	result, err := incrementWithExpiryScript.Run(ctx, s.client, []string{s.prefixKey(key)}, delta, ms).Result()
	if err != nil {
		observe("increment_with_expiry", start, "error")
		return 0, fmt.Errorf("redis script error: %w", err)
	}

	val, ok := result.(int64)
	if !ok {
		observe("increment_with_expiry", start, "error")
		return 0, fmt.Errorf("redis script returned unexpected type: %T", result)
	}

	observe("increment_with_expiry", start, "success")
	return val, nil
}
