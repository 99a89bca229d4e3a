package coordinator

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/keyrelay/internal/accesskey"
	"github.com/vyrodovalexey/keyrelay/internal/eventlog"
	"github.com/vyrodovalexey/keyrelay/internal/keystore"
	"github.com/vyrodovalexey/keyrelay/internal/observability"
)

// Mutation outcomes used as metric labels.
const (
	outcomeSuccess  = "success"
	outcomeNoop     = "noop"
	outcomeConflict = "conflict"
	outcomeNotFound = "not_found"
	outcomeInvalid  = "invalid"
	outcomeError    = "error"
)

// plan is the decision taken from the current record. A nil target
// with noop unset means delete.
type plan struct {
	target *accesskey.Record
	event  eventlog.Event
	noop   bool
}

type result struct {
	record  *accesskey.Record
	changed bool
}

// decideFunc checks the operation precondition against the current
// record (nil when absent) and returns the plan.
type decideFunc func(current *accesskey.Record) (plan, error)

// run executes read, decide, write, publish and, on publish failure,
// compensate.
func (c *Coordinator) run(ctx context.Context, op accesskey.Op, key string, decide decideFunc) (result, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "coordinator."+string(op),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("accesskey.key", observability.MaskKey(key))),
	)
	defer span.End()

	logger := c.logger.With(
		observability.String("operation", string(op)),
		observability.Key(key),
	)

	current, err := c.store.Get(ctx, key)
	switch {
	case errors.Is(err, keystore.ErrNotFound):
		current = nil
	case err != nil:
		logger.Error("failed to read access key", observability.Error(err))
		return c.fail(span, op, start, accesskey.NewInfrastructureError(op, accesskey.StageRead, err))
	}

	p, err := decide(current)
	if err != nil {
		outcome := outcomeNotFound
		if errors.Is(err, accesskey.ErrConflict) {
			outcome = outcomeConflict
		}
		span.SetAttributes(attribute.String("coordinator.outcome", outcome))
		c.metrics.recordMutation(op, outcome, time.Since(start))
		return result{}, err
	}

	if p.noop {
		span.SetAttributes(attribute.String("coordinator.outcome", outcomeNoop))
		c.metrics.recordMutation(op, outcomeNoop, time.Since(start))
		logger.Debug("access key already in target state")
		return result{record: current}, nil
	}

	if err := c.write(ctx, key, p.target); err != nil {
		logger.Error("failed to write access key", observability.Error(err))
		return c.fail(span, op, start, accesskey.NewInfrastructureError(op, accesskey.StageWrite, err))
	}

	id, err := c.publisher.Publish(ctx, p.event)
	if err != nil {
		logger.Error("failed to publish access key event",
			observability.String("event", string(p.event.Type)),
			observability.Error(err),
		)
		c.compensate(ctx, op, key, current, logger)
		return c.fail(span, op, start, accesskey.NewInfrastructureError(op, accesskey.StagePublish, err))
	}

	span.SetAttributes(
		attribute.String("coordinator.outcome", outcomeSuccess),
		attribute.String("eventlog.id", id),
	)
	c.metrics.recordMutation(op, outcomeSuccess, time.Since(start))
	logger.Info("access key mutated",
		observability.String("event", string(p.event.Type)),
		observability.String("event_id", id),
	)

	return result{record: p.target.Clone(), changed: true}, nil
}

// write stores target, or deletes key when target is nil.
func (c *Coordinator) write(ctx context.Context, key string, target *accesskey.Record) error {
	if target == nil {
		return c.store.Delete(ctx, key)
	}
	return c.store.Set(ctx, target)
}

// compensate restores previous, the state read before the mutation. It
// ignores ctx cancellation.
func (c *Coordinator) compensate(
	ctx context.Context,
	op accesskey.Op,
	key string,
	previous *accesskey.Record,
	logger observability.Logger,
) {
	ctx = context.WithoutCancel(ctx)

	if err := c.write(ctx, key, previous); err != nil {
		c.metrics.recordCompensation(op, outcomeError)
		logger.Warn("durable inconsistency: compensation failed after publish failure",
			observability.Bool("restore_absent", previous == nil),
			observability.Error(err),
		)
		return
	}

	c.metrics.recordCompensation(op, outcomeSuccess)
	logger.Info("compensated access key after publish failure")
}

func (c *Coordinator) fail(span trace.Span, op accesskey.Op, start time.Time, err error) (result, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String("coordinator.outcome", outcomeError))
	c.metrics.recordMutation(op, outcomeError, time.Since(start))
	return result{}, err
}
