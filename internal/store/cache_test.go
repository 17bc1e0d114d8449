package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache, err := New(Config{Client: client, LocalSize: 16})
	require.NoError(t, err)

	return cache, mr
}

func TestCacheSetGet(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	require.NoError(t, cache.Set(ctx, "registry", payload{Name: "snapshot", Count: 3}, time.Minute))

	var got payload
	found, err := cache.Get(ctx, "registry", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "snapshot", got.Name)
	assert.Equal(t, 3, got.Count)
}

func TestCacheMissOnUnknownKey(t *testing.T) {
	cache, _ := newTestCache(t)

	var got string
	found, err := cache.Get(context.Background(), "nope", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

// The store's own expiry carries a buffer beyond the logical TTL, so an
// entry must read as a miss once logically expired even though the key is
// still present in Redis.
func TestCacheLogicalExpiryWins(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "health:a", "ok", 1*time.Second))

	time.Sleep(1100 * time.Millisecond)

	// Redis still holds the key; the logical TTL has passed.
	require.True(t, mr.Exists("health:a"))

	var got string
	found, err := cache.Get(ctx, "health:a", &got)
	require.NoError(t, err)
	assert.False(t, found)

	// Expired keys are proactively deleted on read.
	assert.False(t, mr.Exists("health:a"))
}

func TestCacheDelete(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "schema:a", "doc", time.Minute))
	require.NoError(t, cache.Delete(ctx, "schema:a"))

	var got string
	found, err := cache.Get(ctx, "schema:a", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

// Delete must clear the local tier too, not just Redis.
func TestCacheDeleteClearsLocalTier(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "federated_schema", "v1", time.Minute))
	require.NoError(t, cache.Delete(ctx, "federated_schema"))

	// Even with Redis wiped the local LRU must not resurrect the value.
	mr.FlushAll()
	var got string
	found, err := cache.Get(ctx, "federated_schema", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCachePrefixInvalidation(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "health:a", "r1", time.Minute))
	require.NoError(t, cache.Set(ctx, "health:b", "r2", time.Minute))
	require.NoError(t, cache.Set(ctx, "schema:a", "keep", time.Minute))

	require.NoError(t, cache.InvalidatePrefix(ctx, "health"))

	var got string
	found, err := cache.Get(ctx, "health:a", &got)
	require.NoError(t, err)
	assert.False(t, found)

	found, err = cache.Get(ctx, "health:b", &got)
	require.NoError(t, err)
	assert.False(t, found)

	found, err = cache.Get(ctx, "schema:a", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "keep", got)
}

func TestCacheStoreUnavailable(t *testing.T) {
	cache, mr := newTestCache(t)
	mr.Close()

	var got string
	_, err := cache.Get(context.Background(), "missing", &got)
	require.Error(t, err)

	err = cache.Set(context.Background(), "k", "v", time.Minute)
	require.Error(t, err)
}

func TestCacheIncr(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	n, err := cache.GetCounter(ctx, KeyRequestCounter)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	for i := 1; i <= 3; i++ {
		n, err = cache.Incr(ctx, KeyRequestCounter)
		require.NoError(t, err)
		assert.Equal(t, int64(i), n)
	}

	n, err = cache.GetCounter(ctx, KeyRequestCounter)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
