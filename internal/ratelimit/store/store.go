// Package store provides counter storage for rate limiting.
package store

import (
	"context"
	"time"
)

// DefaultPrefix namespaces rate-limit counters away from key records.
const DefaultPrefix = "RATE_LIMIT:"

// Store defines the interface for rate limit counters.
type Store interface {
	// IncrementWithExpiry adds delta to the counter and, when this
	// increment created the counter, sets it to expire after expiration.
	// It returns the post-increment value.
	IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error)
}
