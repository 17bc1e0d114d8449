// Package ratelimit implements per-client sliding-window admission control
// on top of the cache layer.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/mcpgateway/gateway/internal/store"
)

// Result is the outcome of one admission check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Limiter tracks request timestamps per client key in the shared store.
// Two concurrent checks can both read the same window and both append,
// under-counting traffic; this is an accepted approximation.
type Limiter struct {
	cache  *store.Cache
	window time.Duration
	max    int
	logger *slog.Logger

	now func() time.Time
}

// Config holds limiter configuration
type Config struct {
	Cache  *store.Cache
	Window time.Duration
	Max    int
	Logger *slog.Logger
}

// New creates a new limiter instance
func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	if cfg.Max <= 0 {
		cfg.Max = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Limiter{
		cache:  cfg.Cache,
		window: cfg.Window,
		max:    cfg.Max,
		logger: cfg.Logger,
		now:    time.Now,
	}
}

// Check admits or rejects a request from clientKey. If the backing store is
// unreachable the limiter fails open rather than blocking traffic on an
// infrastructure fault.
func (l *Limiter) Check(ctx context.Context, clientKey string) Result {
	now := l.now()
	key := store.RateLimitKey(clientKey)

	var stamps []int64
	if _, err := l.cache.Get(ctx, key, &stamps); err != nil {
		l.logger.Warn("rate limit store unavailable, failing open",
			"client", clientKey,
			"error", err,
		)
		return Result{Allowed: true, Limit: l.max, Remaining: l.max - 1, Reset: now.Add(l.window)}
	}

	cutoff := now.Add(-l.window).UnixMilli()
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.max {
		reset := time.UnixMilli(kept[0]).Add(l.window)
		return Result{Allowed: false, Limit: l.max, Remaining: 0, Reset: reset}
	}

	kept = append(kept, now.UnixMilli())
	if err := l.cache.Set(ctx, key, kept, l.window+10*time.Second); err != nil {
		l.logger.Warn("failed to persist rate limit window",
			"client", clientKey,
			"error", err,
		)
	}

	return Result{
		Allowed:   true,
		Limit:     l.max,
		Remaining: l.max - len(kept),
		Reset:     time.UnixMilli(kept[0]).Add(l.window),
	}
}
