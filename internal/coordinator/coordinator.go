// Package coordinator applies access-key mutations to the authoritative
// store and announces them on the event log.
//
// Every mutation runs the same saga: read the current record, check the
// operation's precondition, write the target state, publish the event,
// and on publish failure restore the pre-mutation state. A failed
// compensation is logged as a durable inconsistency; the caller always
// sees the publish failure.
package coordinator

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"

	"github.com/vyrodovalexey/keyrelay/internal/accesskey"
	"github.com/vyrodovalexey/keyrelay/internal/eventlog"
	"github.com/vyrodovalexey/keyrelay/internal/keystore"
	"github.com/vyrodovalexey/keyrelay/internal/observability"
)

var tracer = otel.Tracer("keyrelay/coordinator")

// Coordinator runs access-key mutations against an authoritative store
// and an event log.
type Coordinator struct {
	store     keystore.Store
	publisher eventlog.Publisher
	logger    observability.Logger
	metrics   *Metrics
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// New creates a Coordinator.
func New(store keystore.Store, publisher eventlog.Publisher, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		publisher: publisher,
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics("")
	}
	return c
}

// Create stores a new enabled record and publishes KEY_CREATED. It fails
// with accesskey.ErrConflict when the key already exists.
func (c *Coordinator) Create(ctx context.Context, rec accesskey.Record) (*accesskey.Record, error) {
	if err := rec.Validate(); err != nil {
		c.metrics.recordMutation(accesskey.OpCreate, outcomeInvalid, 0)
		return nil, err
	}

	res, err := c.run(ctx, accesskey.OpCreate, rec.Key, func(current *accesskey.Record) (plan, error) {
		if current != nil {
			return plan{}, accesskey.ErrConflict
		}
		target := rec.Clone()
		target.Enabled = true
		return plan{target: target, event: eventlog.Created(target)}, nil
	})
	if err != nil {
		return nil, err
	}
	return res.record, nil
}

// Update merges patch into the existing record and publishes
// KEY_UPDATED.
func (c *Coordinator) Update(ctx context.Context, key string, patch accesskey.Patch) (*accesskey.Record, error) {
	if err := patch.Validate(); err != nil {
		c.metrics.recordMutation(accesskey.OpUpdate, outcomeInvalid, 0)
		return nil, err
	}

	res, err := c.run(ctx, accesskey.OpUpdate, key, func(current *accesskey.Record) (plan, error) {
		if current == nil {
			return plan{}, accesskey.ErrNotFound
		}
		target := patch.ApplyTo(current)
		target.Key = key
		return plan{target: target, event: eventlog.Updated(target)}, nil
	})
	if err != nil {
		return nil, err
	}
	return res.record, nil
}

// Delete removes the record and publishes KEY_DELETED.
func (c *Coordinator) Delete(ctx context.Context, key string) error {
	_, err := c.run(ctx, accesskey.OpDelete, key, func(current *accesskey.Record) (plan, error) {
		if current == nil {
			return plan{}, accesskey.ErrNotFound
		}
		return plan{event: eventlog.Deleted(key)}, nil
	})
	return err
}

// Disable clears the enabled flag and publishes KEY_UPDATED. Disabling
// an already disabled key succeeds without writing or publishing; changed
// reports whether anything was mutated.
func (c *Coordinator) Disable(ctx context.Context, key string) (rec *accesskey.Record, changed bool, err error) {
	res, err := c.run(ctx, accesskey.OpDisable, key, func(current *accesskey.Record) (plan, error) {
		if current == nil {
			return plan{}, accesskey.ErrNotFound
		}
		if !current.Enabled {
			return plan{noop: true}, nil
		}
		target := current.Clone()
		target.Enabled = false
		return plan{target: target, event: eventlog.Updated(target)}, nil
	})
	if err != nil {
		return nil, false, err
	}
	return res.record, res.changed, nil
}

// Get returns the authoritative record for key.
func (c *Coordinator) Get(ctx context.Context, key string) (*accesskey.Record, error) {
	rec, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, keystore.ErrNotFound) {
			return nil, accesskey.ErrNotFound
		}
		c.logger.Error("failed to read access key",
			observability.Key(key),
			observability.Error(err),
		)
		return nil, accesskey.NewInfrastructureError(accesskey.OpGet, accesskey.StageRead, err)
	}
	return rec, nil
}

// List returns every authoritative record.
func (c *Coordinator) List(ctx context.Context) ([]*accesskey.Record, error) {
	recs, err := c.store.List(ctx)
	if err != nil {
		c.logger.Error("failed to list access keys", observability.Error(err))
		return nil, accesskey.NewInfrastructureError(accesskey.OpList, accesskey.StageRead, err)
	}
	if recs == nil {
		recs = []*accesskey.Record{}
	}
	return recs, nil
}
