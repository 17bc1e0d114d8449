package ratelimit

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpgateway/gateway/internal/store"
)

func newTestLimiter(t *testing.T, max int, window time.Duration) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache, err := store.New(store.Config{Client: client, LocalSize: 16})
	require.NoError(t, err)

	return New(Config{
		Cache:  cache,
		Window: window,
		Max:    max,
		Logger: slog.Default(),
	}), mr
}

func TestLimiterAdmitsUpToMax(t *testing.T) {
	limiter, _ := newTestLimiter(t, 5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res := limiter.Check(ctx, "1.2.3.4")
		require.True(t, res.Allowed, "request %d should be admitted", i+1)
		assert.Equal(t, 5, res.Limit)
		assert.Equal(t, 5-(i+1), res.Remaining)
	}

	res := limiter.Check(ctx, "1.2.3.4")
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.False(t, res.Reset.IsZero())
}

func TestLimiterRejectionDoesNotExtendWindow(t *testing.T) {
	base := time.Now()
	limiter, _ := newTestLimiter(t, 2, time.Minute)
	limiter.now = func() time.Time { return base }
	ctx := context.Background()

	limiter.Check(ctx, "c")
	limiter.Check(ctx, "c")

	first := limiter.Check(ctx, "c")
	require.False(t, first.Allowed)

	// Rejected attempts must not push the reset point out.
	limiter.now = func() time.Time { return base.Add(30 * time.Second) }
	second := limiter.Check(ctx, "c")
	require.False(t, second.Allowed)
	assert.Equal(t, first.Reset, second.Reset)
}

func TestLimiterWindowSlides(t *testing.T) {
	base := time.Now()
	limiter, _ := newTestLimiter(t, 2, time.Minute)
	limiter.now = func() time.Time { return base }
	ctx := context.Background()

	require.True(t, limiter.Check(ctx, "c").Allowed)
	require.True(t, limiter.Check(ctx, "c").Allowed)
	require.False(t, limiter.Check(ctx, "c").Allowed)

	// Past the window the old stamps fall out and admission resumes.
	limiter.now = func() time.Time { return base.Add(61 * time.Second) }
	res := limiter.Check(ctx, "c")
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	require.True(t, limiter.Check(ctx, "a").Allowed)
	require.False(t, limiter.Check(ctx, "a").Allowed)
	assert.True(t, limiter.Check(ctx, "b").Allowed)
}

func TestLimiterFailsOpen(t *testing.T) {
	limiter, mr := newTestLimiter(t, 1, time.Minute)
	mr.Close()

	res := limiter.Check(context.Background(), "a")
	assert.True(t, res.Allowed)
}
