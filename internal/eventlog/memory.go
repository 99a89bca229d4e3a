package eventlog

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryLog is an in-process log with a single consumer group member.
// It backs unit tests and single-process runs.
type MemoryLog struct {
	mu         sync.Mutex
	entries    []Entry
	delivered  int
	pending    []string
	acked      map[string]bool
	notify     chan struct{}
	block      time.Duration
	batch      int
	publishErr error
	ackErr     error
}

// NewMemoryLog creates an empty log. ReadNew waits up to block for new
// entries.
func NewMemoryLog(block time.Duration) *MemoryLog {
	if block <= 0 {
		block = 10 * time.Millisecond
	}
	return &MemoryLog{
		acked:  make(map[string]bool),
		notify: make(chan struct{}),
		block:  block,
		batch:  DefaultBatchSize,
	}
}

// FailPublish makes subsequent Publish calls return err. Nil restores
// normal behavior.
func (l *MemoryLog) FailPublish(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.publishErr = err
}

// FailAck makes subsequent Ack calls return err.
func (l *MemoryLog) FailAck(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ackErr = err
}

// Publish implements Publisher.
func (l *MemoryLog) Publish(ctx context.Context, ev Event) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.publishErr != nil {
		return "", l.publishErr
	}
	return l.appendLocked(ev.Fields()), nil
}

// Append adds raw fields, bypassing encoding. Used to inject entries a
// current publisher would never write.
func (l *MemoryLog) Append(fields map[string]string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(fields)
}

func (l *MemoryLog) appendLocked(fields map[string]string) string {
	id := strconv.Itoa(len(l.entries)+1) + "-0"
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	l.entries = append(l.entries, Entry{ID: id, Fields: copied})

	close(l.notify)
	l.notify = make(chan struct{})
	return id
}

// Published returns every entry appended so far.
func (l *MemoryLog) Published() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// PendingIDs returns delivered but unacknowledged entry IDs.
func (l *MemoryLog) PendingIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.pending))
	copy(out, l.pending)
	return out
}

// EnsureGroup implements Consumer.
func (l *MemoryLog) EnsureGroup(ctx context.Context) error {
	return ctx.Err()
}

// Name implements Consumer.
func (l *MemoryLog) Name() string {
	return "memory"
}

// ReadPending implements Consumer.
func (l *MemoryLog) ReadPending(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Entry
	for _, id := range l.pending {
		if len(out) == l.batch {
			break
		}
		out = append(out, l.lookupLocked(id))
	}
	return out, nil
}

// ReadNew implements Consumer.
func (l *MemoryLog) ReadNew(ctx context.Context) ([]Entry, error) {
	timer := time.NewTimer(l.block)
	defer timer.Stop()

	for {
		l.mu.Lock()
		if l.delivered < len(l.entries) {
			end := l.delivered + l.batch
			if end > len(l.entries) {
				end = len(l.entries)
			}
			out := make([]Entry, 0, end-l.delivered)
			for _, e := range l.entries[l.delivered:end] {
				out = append(out, e)
				l.pending = append(l.pending, e.ID)
			}
			l.delivered = end
			l.mu.Unlock()
			return out, nil
		}
		notify := l.notify
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-notify:
		}
	}
}

// Claim implements Consumer. A single-member log has nothing to claim.
func (l *MemoryLog) Claim(ctx context.Context, _ time.Duration) ([]Entry, error) {
	return nil, ctx.Err()
}

// Ack implements Consumer.
func (l *MemoryLog) Ack(ctx context.Context, ids ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ackErr != nil {
		return l.ackErr
	}

	for _, id := range ids {
		l.acked[id] = true
	}
	remaining := l.pending[:0]
	for _, id := range l.pending {
		if !l.acked[id] {
			remaining = append(remaining, id)
		}
	}
	l.pending = remaining
	return nil
}

// Acked reports whether the entry was acknowledged.
func (l *MemoryLog) Acked(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acked[id]
}

func (l *MemoryLog) lookupLocked(id string) Entry {
	for _, e := range l.entries {
		if e.ID == id {
			return e
		}
	}
	return Entry{ID: id}
}
