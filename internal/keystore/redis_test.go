package keystore

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/keyrelay/internal/accesskey"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_SetGet(t *testing.T) {
	t.Parallel()

	mr, client := newTestRedis(t)
	store := NewRedisStore(client, AuthoritativePrefix)
	ctx := context.Background()

	rec := &accesskey.Record{Key: "abc", RateLimitPerMin: 10, ExpiresAt: 1234, Enabled: true}
	require.NoError(t, store.Set(ctx, rec))

	raw, err := mr.Get("ACCESS_KEY:abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"abc","rateLimitPerMin":10,"expiresAt":1234,"enabled":true}`, raw)

	got, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestRedisStore_Get_NotFound(t *testing.T) {
	t.Parallel()

	_, client := newTestRedis(t)
	store := NewRedisStore(client, ReplicaPrefix)

	got, err := store.Get(context.Background(), "missing")
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Get_DecodeError(t *testing.T) {
	t.Parallel()

	mr, client := newTestRedis(t)
	store := NewRedisStore(client, ReplicaPrefix)
	require.NoError(t, mr.Set("L2_ACCESS_KEY:broken-key", "{not json"))

	_, err := store.Get(context.Background(), "broken-key")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.NotContains(t, err.Error(), "broken-key")
}

func TestRedisStore_Get_KeyFromStorageKey(t *testing.T) {
	t.Parallel()

	mr, client := newTestRedis(t)
	store := NewRedisStore(client, ReplicaPrefix)
	require.NoError(t, mr.Set("L2_ACCESS_KEY:abc", `{"rateLimitPerMin":3,"expiresAt":0,"enabled":true}`))

	got, err := store.Get(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Key)
	assert.Equal(t, int64(3), got.RateLimitPerMin)
}

func TestRedisStore_Delete(t *testing.T) {
	t.Parallel()

	mr, client := newTestRedis(t)
	store := NewRedisStore(client, AuthoritativePrefix)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, &accesskey.Record{Key: "abc", RateLimitPerMin: 1}))
	require.NoError(t, store.Delete(ctx, "abc"))
	assert.False(t, mr.Exists("ACCESS_KEY:abc"))

	assert.NoError(t, store.Delete(ctx, "abc"), "deleting an absent key is not an error")
}

func TestRedisStore_PrefixesAreDisjoint(t *testing.T) {
	t.Parallel()

	_, client := newTestRedis(t)
	authoritative := NewRedisStore(client, AuthoritativePrefix)
	replica := NewRedisStore(client, ReplicaPrefix)
	ctx := context.Background()

	require.NoError(t, authoritative.Set(ctx, &accesskey.Record{Key: "a", RateLimitPerMin: 1, Enabled: true}))
	require.NoError(t, authoritative.Set(ctx, &accesskey.Record{Key: "b", RateLimitPerMin: 2, Enabled: true}))
	require.NoError(t, replica.Set(ctx, &accesskey.Record{Key: "c", RateLimitPerMin: 3}))

	got, err := authoritative.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Key)
	assert.Equal(t, "b", got[1].Key)

	got, err = replica.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].Key)

	_, err = replica.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_ContextCancelled(t *testing.T) {
	t.Parallel()

	store := &RedisStore{prefix: "test:"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.Set(ctx, &accesskey.Record{Key: "k"}), context.Canceled)
	assert.ErrorIs(t, store.Delete(ctx, "k"), context.Canceled)
	_, err = store.List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisStore_ConnectionError(t *testing.T) {
	t.Parallel()

	mr, client := newTestRedis(t)
	store := NewRedisStore(client, AuthoritativePrefix)
	mr.Close()

	_, err := store.Get(context.Background(), "abc")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}
