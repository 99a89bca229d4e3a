package keystore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/keyrelay/internal/accesskey"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "abc")
	assert.ErrorIs(t, err, ErrNotFound)

	rec := &accesskey.Record{Key: "abc", RateLimitPerMin: 5, Enabled: true}
	require.NoError(t, store.Set(ctx, rec))

	rec.Enabled = false
	got, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, got.Enabled, "store keeps its own copy")

	got.RateLimitPerMin = 99
	again, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, int64(5), again.RateLimitPerMin)

	require.NoError(t, store.Set(ctx, &accesskey.Record{Key: "aaa", RateLimitPerMin: 1}))
	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "aaa", list[0].Key)

	require.NoError(t, store.Delete(ctx, "abc"))
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_ContextCancelled(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.Set(ctx, &accesskey.Record{Key: "k"}), context.Canceled)
}
