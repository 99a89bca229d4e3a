// Package projector consumes access-key events from the log and applies
// them to a replica store.
//
// Delivery is at least once. An entry is acknowledged only after its
// event has been applied, so every apply must be safe to repeat. Entries
// that cannot be decoded, or that carry an unknown event type, are
// logged and acknowledged.
package projector

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/keyrelay/internal/eventlog"
	"github.com/vyrodovalexey/keyrelay/internal/keystore"
	"github.com/vyrodovalexey/keyrelay/internal/observability"
	"github.com/vyrodovalexey/keyrelay/internal/retry"
)

var tracer = otel.Tracer("keyrelay/projector")

// DefaultErrorBackoff is the pause after a failed poll or apply.
const DefaultErrorBackoff = time.Second

// Entry outcomes used as metric labels.
const (
	outcomeApplied = "applied"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"
)

// Projector projects log events into a replica store.
type Projector struct {
	consumer     eventlog.Consumer
	store        keystore.Store
	logger       observability.Logger
	metrics      *Metrics
	claimMinIdle time.Duration
	errorBackoff time.Duration
	now          func() time.Time

	lastPoll atomic.Int64
}

// Option configures a Projector.
type Option func(*Projector)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(p *Projector) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) Option {
	return func(p *Projector) {
		p.metrics = m
	}
}

// WithClaimMinIdle enables taking over entries left pending on other
// members for longer than d. Zero disables claiming.
func WithClaimMinIdle(d time.Duration) Option {
	return func(p *Projector) {
		p.claimMinIdle = d
	}
}

// WithErrorBackoff sets the pause after a failed poll or apply.
func WithErrorBackoff(d time.Duration) Option {
	return func(p *Projector) {
		if d > 0 {
			p.errorBackoff = d
		}
	}
}

// New creates a Projector reading from consumer and writing to store.
func New(consumer eventlog.Consumer, store keystore.Store, opts ...Option) *Projector {
	p := &Projector{
		consumer:     consumer,
		store:        store,
		logger:       observability.NopLogger(),
		errorBackoff: DefaultErrorBackoff,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics("")
	}
	p.logger = p.logger.With(observability.String("consumer", consumer.Name()))
	return p
}

// LastPoll returns the time the loop last started a read, or the zero
// time if it never has.
func (p *Projector) LastPoll() time.Time {
	ns := p.lastPoll.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// LivenessCheck returns a health check that fails when the loop has not
// polled within maxAge.
func (p *Projector) LivenessCheck(maxAge time.Duration) func(ctx context.Context) error {
	return func(_ context.Context) error {
		last := p.LastPoll()
		if last.IsZero() {
			return errors.New("projector has not polled yet")
		}
		if age := p.now().Sub(last); age > maxAge {
			return fmt.Errorf("projector last polled %s ago", age.Truncate(time.Millisecond))
		}
		return nil
	}
}

// Apply projects one event into the replica store. Created and updated
// events replace the whole record; deleted events remove it.
func (p *Projector) Apply(ctx context.Context, ev eventlog.Event) error {
	ctx, span := tracer.Start(ctx, "projector.apply",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("event.type", string(ev.Type)),
			attribute.String("accesskey.key", observability.MaskKey(ev.Key)),
		),
	)
	defer span.End()

	var err error
	switch ev.Type {
	case eventlog.KeyCreated, eventlog.KeyUpdated:
		if ev.Record == nil {
			err = fmt.Errorf("%w: %s without record", eventlog.ErrMalformedEvent, ev.Type)
			break
		}
		rec := ev.Record.Clone()
		rec.Key = ev.Key
		err = p.store.Set(ctx, rec)
	case eventlog.KeyDeleted:
		err = p.store.Delete(ctx, ev.Key)
	default:
		err = fmt.Errorf("%w: %s", eventlog.ErrUnknownEventType, ev.Type)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Run consumes the log until ctx is cancelled. On start, and after any
// failure, the member first drains its own pending entries before
// reading new ones. Cancellation takes effect between batches: the
// batch in hand is applied and its acknowledgments flushed before Run
// returns.
func (p *Projector) Run(ctx context.Context) error {
	// ensureGroup only gives up on cancellation.
	if p.ensureGroup(ctx) != nil {
		return nil
	}

	p.logger.Info("projector started")

	recovering := true
	var lastClaim time.Time

	for ctx.Err() == nil {
		p.lastPoll.Store(p.now().UnixNano())

		entries, fromPending, err := p.fetch(ctx, recovering, &lastClaim)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			p.metrics.errorsTotal.WithLabelValues("read").Inc()
			p.logger.Error("failed to read from event log", observability.Error(err))
			recovering = true
			_ = retry.Sleep(ctx, p.errorBackoff)
			continue
		}

		if fromPending && len(entries) == 0 {
			recovering = false
			continue
		}
		if len(entries) == 0 {
			continue
		}

		if ok := p.process(ctx, entries); !ok {
			recovering = true
			_ = retry.Sleep(ctx, p.errorBackoff)
		}
	}

	p.logger.Info("projector stopped")
	return nil
}

func (p *Projector) ensureGroup(ctx context.Context) error {
	for {
		err := p.consumer.EnsureGroup(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.metrics.errorsTotal.WithLabelValues("group").Inc()
		p.logger.Error("failed to ensure consumer group", observability.Error(err))
		if err := retry.Sleep(ctx, p.errorBackoff); err != nil {
			return err
		}
	}
}

// fetch returns the next batch. While recovering it reads this member's
// pending entries; fromPending reports that the batch came from there.
func (p *Projector) fetch(
	ctx context.Context,
	recovering bool,
	lastClaim *time.Time,
) (entries []eventlog.Entry, fromPending bool, err error) {
	if recovering {
		entries, err = p.consumer.ReadPending(ctx)
		return entries, true, err
	}

	if p.claimMinIdle > 0 && p.now().Sub(*lastClaim) >= p.claimMinIdle {
		*lastClaim = p.now()
		claimed, err := p.consumer.Claim(ctx, p.claimMinIdle)
		if err != nil {
			p.metrics.errorsTotal.WithLabelValues("claim").Inc()
			p.logger.Warn("failed to claim idle entries", observability.Error(err))
		} else if len(claimed) > 0 {
			p.logger.Info("claimed idle entries", observability.Int("count", len(claimed)))
			return claimed, false, nil
		}
	}

	entries, err = p.consumer.ReadNew(ctx)
	return entries, false, err
}

// process applies entries in delivery order and acknowledges the ones
// handled. It stops at the first apply failure so later events for the
// same key are not applied ahead of an earlier one. The batch runs
// detached from ctx cancellation. It reports whether the whole batch
// was handled and acknowledged.
func (p *Projector) process(ctx context.Context, entries []eventlog.Entry) bool {
	ctx = context.WithoutCancel(ctx)
	p.metrics.batchSize.Observe(float64(len(entries)))

	handled := make([]string, 0, len(entries))
	complete := true
	for _, entry := range entries {
		if err := p.handle(ctx, entry); err != nil {
			complete = false
			break
		}
		handled = append(handled, entry.ID)
	}

	if len(handled) == 0 {
		return complete
	}

	if err := p.consumer.Ack(ctx, handled...); err != nil {
		p.metrics.errorsTotal.WithLabelValues("ack").Inc()
		p.logger.Error("failed to acknowledge entries",
			observability.Int("count", len(handled)),
			observability.Error(err),
		)
		return false
	}
	return complete
}

// eventLabel bounds the event label to the known types.
func eventLabel(t eventlog.EventType) string {
	switch t {
	case eventlog.KeyCreated, eventlog.KeyUpdated, eventlog.KeyDeleted:
		return string(t)
	default:
		return "unknown"
	}
}

// handle decodes and applies one entry. A nil return means the entry
// may be acknowledged.
func (p *Projector) handle(ctx context.Context, entry eventlog.Entry) error {
	logger := p.logger.With(observability.String("entry_id", entry.ID))

	ev, err := eventlog.Decode(entry.Fields)
	if err != nil {
		p.metrics.eventsTotal.WithLabelValues(eventLabel(ev.Type), outcomeSkipped).Inc()

		if errors.Is(err, eventlog.ErrUnknownEventType) {
			logger.Warn("skipping unknown event type",
				observability.String("event", string(ev.Type)),
			)
		} else {
			logger.Error("skipping malformed event", observability.Error(err))
		}
		return nil
	}

	if err := p.Apply(ctx, ev); err != nil {
		p.metrics.eventsTotal.WithLabelValues(eventLabel(ev.Type), outcomeFailed).Inc()
		logger.Error("failed to apply event, leaving it pending",
			observability.String("event", string(ev.Type)),
			observability.Key(ev.Key),
			observability.Error(err),
		)
		return err
	}

	p.metrics.eventsTotal.WithLabelValues(eventLabel(ev.Type), outcomeApplied).Inc()
	logger.Debug("applied event",
		observability.String("event", string(ev.Type)),
		observability.Key(ev.Key),
	)
	return nil
}
