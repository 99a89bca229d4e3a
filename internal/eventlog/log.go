package eventlog

import (
	"context"
	"time"
)

// Entry is a delivered log entry.
type Entry struct {
	ID     string
	Fields map[string]string
}

// Publisher appends events to the log.
type Publisher interface {
	// Publish appends the event and returns its log ID.
	Publish(ctx context.Context, ev Event) (string, error)
}

// Consumer reads the log as one member of a consumer group.
type Consumer interface {
	// EnsureGroup creates the consumer group if it does not exist.
	EnsureGroup(ctx context.Context) error

	// ReadPending returns entries already delivered to this member and
	// not yet acknowledged, oldest first. It does not block.
	ReadPending(ctx context.Context) ([]Entry, error)

	// ReadNew returns never-delivered entries, blocking up to the
	// configured timeout when none are ready. A timeout yields an empty
	// batch and no error.
	ReadNew(ctx context.Context) ([]Entry, error)

	// Claim takes over entries pending on other members for longer than
	// minIdle.
	Claim(ctx context.Context, minIdle time.Duration) ([]Entry, error)

	// Ack acknowledges entries.
	Ack(ctx context.Context, ids ...string) error

	// Name returns the member identity.
	Name() string
}
