package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "gw:"), mr
}

func TestRedisStore_RoundTrip(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()
	stored := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Set(ctx, "monthly?", Entry{Value: []byte(`[1,2]`), StoredAt: stored, TTL: 90 * time.Second}))
	assert.True(t, mr.Exists("gw:monthly?"), "key is prefixed")
	assert.Equal(t, 91*time.Second, mr.TTL("gw:monthly?"))

	e, ok, err := store.Get(ctx, "monthly?")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `[1,2]`, string(e.Value))
	assert.True(t, stored.Equal(e.StoredAt))
	assert.Equal(t, 90*time.Second, e.TTL)
}

func TestRedisStore_MissAndDelete(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", Entry{Value: []byte("v"), TTL: time.Minute}))
	require.NoError(t, store.Delete(ctx, "k"))
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_CorruptEntryIsError(t *testing.T) {
	store, mr := newTestRedisStore(t)
	require.NoError(t, mr.Set("gw:k", "not json"))

	_, _, err := store.Get(context.Background(), "k")
	assert.Error(t, err)
}

func TestResultCache_WithRedisStore(t *testing.T) {
	store, mr := newTestRedisStore(t)
	clock := newFakeClock()
	c := NewResultCache(store, clock, zap.NewNop())
	ctx := context.Background()

	c.Put(ctx, "k", []byte("payload"), time.Minute)
	v, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "payload", string(v))

	clock.Advance(time.Minute)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
	assert.False(t, mr.Exists("gw:k"))
}

func TestResultCache_RedisOutageIsMiss(t *testing.T) {
	store, mr := newTestRedisStore(t)
	c := NewResultCache(store, newFakeClock(), zap.NewNop())
	mr.Close()

	c.Put(context.Background(), "k", []byte("v"), time.Minute)
	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
}
