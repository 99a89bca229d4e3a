package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/keyrelay/internal/accesskey"
	"github.com/vyrodovalexey/keyrelay/internal/eventlog"
	"github.com/vyrodovalexey/keyrelay/internal/keystore"
	"github.com/vyrodovalexey/keyrelay/internal/observability"
)

var errDown = errors.New("connection refused")

// faultyStore wraps a MemoryStore and fails selected calls.
type faultyStore struct {
	*keystore.MemoryStore

	mu         sync.Mutex
	failGet    bool
	failList   bool
	failWrites int // fail writes after this many succeed; -1 disables
	writes     int
}

func newFaultyStore() *faultyStore {
	return &faultyStore{MemoryStore: keystore.NewMemoryStore(), failWrites: -1}
}

func (s *faultyStore) writeAllowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	return s.failWrites < 0 || s.writes <= s.failWrites
}

func (s *faultyStore) Get(ctx context.Context, key string) (*accesskey.Record, error) {
	if s.failGet {
		return nil, errDown
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s *faultyStore) List(ctx context.Context) ([]*accesskey.Record, error) {
	if s.failList {
		return nil, errDown
	}
	return s.MemoryStore.List(ctx)
}

func (s *faultyStore) Set(ctx context.Context, rec *accesskey.Record) error {
	if !s.writeAllowed() {
		return errDown
	}
	return s.MemoryStore.Set(ctx, rec)
}

func (s *faultyStore) Delete(ctx context.Context, key string) error {
	if !s.writeAllowed() {
		return errDown
	}
	return s.MemoryStore.Delete(ctx, key)
}

type fixture struct {
	store   *faultyStore
	log     *eventlog.MemoryLog
	coord   *Coordinator
	metrics *Metrics
	logs    *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	f := &fixture{
		store:   newFaultyStore(),
		log:     eventlog.NewMemoryLog(0),
		metrics: NewMetrics("test"),
		logs:    logs,
	}
	f.coord = New(f.store, f.log,
		WithLogger(observability.NewLoggerFromZap(zap.New(core))),
		WithMetrics(f.metrics),
	)
	return f
}

func (f *fixture) seed(t *testing.T, rec accesskey.Record) {
	t.Helper()
	require.NoError(t, f.store.MemoryStore.Set(context.Background(), &rec))
}

func TestCoordinator_CreateThenGet(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	created, err := f.coord.Create(ctx, accesskey.Record{Key: "abc", RateLimitPerMin: 10, ExpiresAt: 1_900_000_000_000})
	require.NoError(t, err)
	assert.True(t, created.Enabled)

	got, err := f.coord.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, &accesskey.Record{Key: "abc", RateLimitPerMin: 10, ExpiresAt: 1_900_000_000_000, Enabled: true}, got)

	published := f.log.Published()
	require.Len(t, published, 1)
	assert.Equal(t, map[string]string{
		"event":           "KEY_CREATED",
		"key":             "abc",
		"rateLimitPerMin": "10",
		"expiresAt":       "1900000000000",
		"enabled":         "true",
	}, published[0].Fields)
}

func TestCoordinator_CreateIgnoresCallerEnabled(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	created, err := f.coord.Create(context.Background(), accesskey.Record{Key: "abc", RateLimitPerMin: 1, Enabled: false})
	require.NoError(t, err)
	assert.True(t, created.Enabled)
}

func TestCoordinator_CreateConflict(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, accesskey.Record{Key: "abc", RateLimitPerMin: 5, Enabled: true})

	_, err := f.coord.Create(context.Background(), accesskey.Record{Key: "abc", RateLimitPerMin: 10})
	assert.ErrorIs(t, err, accesskey.ErrConflict)
	assert.Empty(t, f.log.Published())

	got, err := f.store.MemoryStore.Get(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.RateLimitPerMin, "existing record untouched")
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.mutationsTotal.WithLabelValues("create", "conflict")), 0)
}

func TestCoordinator_CreateValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rec  accesskey.Record
	}{
		{name: "empty key", rec: accesskey.Record{RateLimitPerMin: 1}},
		{name: "zero limit", rec: accesskey.Record{Key: "abc"}},
		{name: "negative expiry", rec: accesskey.Record{Key: "abc", RateLimitPerMin: 1, ExpiresAt: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			_, err := f.coord.Create(context.Background(), tt.rec)
			assert.ErrorIs(t, err, accesskey.ErrInvalid)
			assert.Zero(t, f.store.Len())
			assert.Empty(t, f.log.Published())
		})
	}
}

func TestCoordinator_PublishFailureCompensates(t *testing.T) {
	t.Parallel()

	original := accesskey.Record{Key: "abc", RateLimitPerMin: 5, ExpiresAt: 1_900_000_000_000, Enabled: true}
	limit := int64(50)

	tests := []struct {
		name   string
		seed   bool
		mutate func(c *Coordinator) error
		op     string
		want   *accesskey.Record
	}{
		{
			name: "create removes the new record",
			mutate: func(c *Coordinator) error {
				_, err := c.Create(context.Background(), accesskey.Record{Key: "abc", RateLimitPerMin: 10})
				return err
			},
			op: "create",
		},
		{
			name: "update restores the previous record",
			seed: true,
			mutate: func(c *Coordinator) error {
				_, err := c.Update(context.Background(), "abc", accesskey.Patch{RateLimitPerMin: &limit})
				return err
			},
			op:   "update",
			want: &original,
		},
		{
			name: "disable restores the enabled record",
			seed: true,
			mutate: func(c *Coordinator) error {
				_, _, err := c.Disable(context.Background(), "abc")
				return err
			},
			op:   "disable",
			want: &original,
		},
		{
			name: "delete re-inserts the record",
			seed: true,
			mutate: func(c *Coordinator) error {
				return c.Delete(context.Background(), "abc")
			},
			op:   "delete",
			want: &original,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			if tt.seed {
				f.seed(t, original)
			}
			f.log.FailPublish(errDown)

			err := tt.mutate(f.coord)
			require.Error(t, err)
			assert.ErrorIs(t, err, accesskey.ErrInfrastructure)

			var infra *accesskey.InfrastructureError
			require.ErrorAs(t, err, &infra)
			assert.Equal(t, accesskey.StagePublish, infra.Stage)
			assert.NotContains(t, err.Error(), "connection refused", "transport error is not surfaced in the message")

			got, getErr := f.store.MemoryStore.Get(context.Background(), "abc")
			if tt.want == nil {
				assert.ErrorIs(t, getErr, keystore.ErrNotFound)
			} else {
				require.NoError(t, getErr)
				assert.Equal(t, tt.want, got)
			}

			assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.compensationsTotal.WithLabelValues(tt.op, "success")), 0)
			assert.Zero(t, f.logs.FilterMessageSnippet("durable inconsistency").Len())
		})
	}
}

func TestCoordinator_CompensationFailureIsLoggedNotReturned(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, accesskey.Record{Key: "abc", RateLimitPerMin: 5, Enabled: true})
	f.log.FailPublish(errDown)
	f.store.failWrites = 1

	_, _, err := f.coord.Disable(context.Background(), "abc")

	var infra *accesskey.InfrastructureError
	require.ErrorAs(t, err, &infra)
	assert.Equal(t, accesskey.StagePublish, infra.Stage, "caller sees the publish failure")

	warnings := f.logs.FilterMessageSnippet("durable inconsistency").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, zapcore.WarnLevel, warnings[0].Level)
	assert.Equal(t, "disable", warnings[0].ContextMap()["operation"])
	assert.Equal(t, "***", warnings[0].ContextMap()["key"])
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.compensationsTotal.WithLabelValues("disable", "error")), 0)
}

func TestCoordinator_StoreWriteFailureSkipsPublish(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.store.failWrites = 0

	_, err := f.coord.Create(context.Background(), accesskey.Record{Key: "abc", RateLimitPerMin: 10})

	var infra *accesskey.InfrastructureError
	require.ErrorAs(t, err, &infra)
	assert.Equal(t, accesskey.StageWrite, infra.Stage)
	assert.Empty(t, f.log.Published())
	assert.Zero(t, testutil.ToFloat64(f.metrics.compensationsTotal.WithLabelValues("create", "success")))
}

func TestCoordinator_StoreReadFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.store.failGet = true

	err := f.coord.Delete(context.Background(), "abc")

	var infra *accesskey.InfrastructureError
	require.ErrorAs(t, err, &infra)
	assert.Equal(t, accesskey.StageRead, infra.Stage)
	assert.ErrorIs(t, err, errDown, "cause stays reachable for logging")

	_, err = f.coord.Get(context.Background(), "abc")
	assert.ErrorIs(t, err, accesskey.ErrInfrastructure)
}

func TestCoordinator_NotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	limit := int64(1)

	_, err := f.coord.Update(ctx, "missing", accesskey.Patch{RateLimitPerMin: &limit})
	assert.ErrorIs(t, err, accesskey.ErrNotFound)

	err = f.coord.Delete(ctx, "missing")
	assert.ErrorIs(t, err, accesskey.ErrNotFound)

	_, _, err = f.coord.Disable(ctx, "missing")
	assert.ErrorIs(t, err, accesskey.ErrNotFound)

	_, err = f.coord.Get(ctx, "missing")
	assert.ErrorIs(t, err, accesskey.ErrNotFound)

	assert.Empty(t, f.log.Published())
}

func TestCoordinator_UpdateMergesFields(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, accesskey.Record{Key: "abc", RateLimitPerMin: 5, ExpiresAt: 1000, Enabled: false})

	expires := int64(2000)
	updated, err := f.coord.Update(context.Background(), "abc", accesskey.Patch{ExpiresAt: &expires})
	require.NoError(t, err)
	assert.Equal(t, &accesskey.Record{Key: "abc", RateLimitPerMin: 5, ExpiresAt: 2000, Enabled: false}, updated)

	published := f.log.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "KEY_UPDATED", published[0].Fields["event"])
	assert.Equal(t, "2000", published[0].Fields["expiresAt"])
	assert.Equal(t, "false", published[0].Fields["enabled"])
}

func TestCoordinator_UpdateRequiresAField(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, accesskey.Record{Key: "abc", RateLimitPerMin: 5, Enabled: true})

	_, err := f.coord.Update(context.Background(), "abc", accesskey.Patch{})
	assert.ErrorIs(t, err, accesskey.ErrInvalid)
}

func TestCoordinator_DisableIsNoopWhenDisabled(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, accesskey.Record{Key: "abc", RateLimitPerMin: 5, Enabled: true})
	ctx := context.Background()

	rec, changed, err := f.coord.Disable(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, rec.Enabled)

	rec, changed, err = f.coord.Disable(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.False(t, rec.Enabled)

	assert.Len(t, f.log.Published(), 1, "second disable publishes nothing")
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.mutationsTotal.WithLabelValues("disable", "noop")), 0)
}

func TestCoordinator_Delete(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, accesskey.Record{Key: "abc", RateLimitPerMin: 5, Enabled: true})

	require.NoError(t, f.coord.Delete(context.Background(), "abc"))
	assert.Zero(t, f.store.Len())

	published := f.log.Published()
	require.Len(t, published, 1)
	assert.Equal(t, map[string]string{"event": "KEY_DELETED", "key": "abc"}, published[0].Fields)
}

func TestCoordinator_List(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	recs, err := f.coord.List(ctx)
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)

	f.seed(t, accesskey.Record{Key: "b", RateLimitPerMin: 1, Enabled: true})
	f.seed(t, accesskey.Record{Key: "a", RateLimitPerMin: 1, Enabled: true})

	recs, err = f.coord.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].Key)

	f.store.failList = true
	_, err = f.coord.List(ctx)
	assert.ErrorIs(t, err, accesskey.ErrInfrastructure)
}

func TestCoordinator_CompensationSurvivesCancelledRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	publisher := publisherFunc(func(context.Context, eventlog.Event) (string, error) {
		cancel()
		return "", errDown
	})
	c := New(f.store, publisher)

	_, err := c.Create(ctx, accesskey.Record{Key: "abc", RateLimitPerMin: 1})
	assert.ErrorIs(t, err, accesskey.ErrInfrastructure)
	assert.Zero(t, f.store.Len(), "compensation ran despite cancellation")
}

type publisherFunc func(context.Context, eventlog.Event) (string, error)

func (f publisherFunc) Publish(ctx context.Context, ev eventlog.Event) (string, error) {
	return f(ctx, ev)
}
