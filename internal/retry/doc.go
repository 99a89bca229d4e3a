// Package retry runs operations with exponential backoff and jitter.
//
// It is used for the initial Redis connection, for publishing events
// before the coordinator falls back to compensation, and for pacing the
// projector after a failed poll.
//
//	p := retry.Policy{Retries: 3, InitialBackoff: 50 * time.Millisecond}
//	err := retry.Do(ctx, p, func(ctx context.Context) error {
//	    return client.Ping(ctx).Err()
//	}, nil)
package retry
