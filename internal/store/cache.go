// Package store implements the gateway's cache layer on top of Redis.
//
// Values are wrapped with their creation time and a logical TTL. The Redis
// expiry is set slightly longer than the logical TTL, so logical expiry is
// checked first and always wins. A small in-process LRU sits in front of
// Redis for hot keys; it stores the same wrapped entries, so a local hit is
// only served while logically fresh.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mcpgateway/gateway/internal/domain"
	"github.com/mcpgateway/gateway/internal/middleware"
)

// expiryBuffer is added to the logical TTL when setting the Redis expiry.
const expiryBuffer = 60 * time.Second

// indexPrefix names the auxiliary sets used for prefix invalidation.
const indexPrefix = "idx:"

// entry wraps a cached payload with its logical lifetime.
type entry struct {
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
	TTLSecs   int64           `json:"ttl"`
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.CreatedAt.Add(time.Duration(e.TTLSecs) * time.Second))
}

// Cache provides TTL-aware get/set/delete against Redis.
type Cache struct {
	client redis.UniversalClient
	local  *lru.Cache[string, *entry]
	logger *slog.Logger
}

// Config holds cache configuration
type Config struct {
	Client    redis.UniversalClient
	LocalSize int
	Logger    *slog.Logger
}

// New creates a new cache instance
func New(cfg Config) (*Cache, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.LocalSize <= 0 {
		cfg.LocalSize = 1000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	local, err := lru.New[string, *entry](cfg.LocalSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	return &Cache{
		client: cfg.Client,
		local:  local,
		logger: cfg.Logger,
	}, nil
}

// Get reads a key into dest. It reports false on a miss, including a
// logical-TTL expiry, in which case the stale key is proactively deleted.
// Store faults are reported as domain.ErrStoreUnavailable.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	now := time.Now()

	if e, ok := c.local.Get(key); ok {
		if !e.expired(now) {
			middleware.CacheRequestsTotal.WithLabelValues("hit").Inc()
			return true, json.Unmarshal(e.Data, dest)
		}
		c.local.Remove(key)
	}

	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		middleware.CacheRequestsTotal.WithLabelValues("miss").Inc()
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: get %s: %v", domain.ErrStoreUnavailable, key, err)
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		// Unreadable entry, drop it and treat as a miss.
		c.logger.Warn("dropping malformed cache entry", "key", key, "error", err)
		_ = c.client.Del(ctx, key).Err()
		return false, nil
	}

	if e.expired(now) {
		_ = c.client.Del(ctx, key).Err()
		middleware.CacheRequestsTotal.WithLabelValues("miss").Inc()
		return false, nil
	}

	c.local.Add(key, &e)
	middleware.CacheRequestsTotal.WithLabelValues("hit").Inc()
	return true, json.Unmarshal(e.Data, dest)
}

// Set stores value under key with a logical TTL. The Redis expiry gets a
// buffer beyond the logical TTL so the logical check wins.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	e := &entry{
		Data:      data,
		CreatedAt: time.Now(),
		TTLSecs:   int64(ttl / time.Second),
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := c.client.Set(ctx, key, raw, ttl+expiryBuffer).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	c.local.Add(key, e)

	// Best-effort key index for prefix invalidation.
	idx := indexPrefix + keyNamespace(key)
	if err := c.client.SAdd(ctx, idx, key).Err(); err == nil {
		_ = c.client.Expire(ctx, idx, ttl+2*expiryBuffer).Err()
	}

	return nil
}

// Delete removes a key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.local.Remove(key)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: delete %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	return nil
}

// InvalidatePrefix removes every indexed key in a logical namespace. The
// index is best-effort, not guaranteed complete.
func (c *Cache) InvalidatePrefix(ctx context.Context, namespace string) error {
	idx := indexPrefix + namespace
	keys, err := c.client.SMembers(ctx, idx).Result()
	if err != nil {
		return fmt.Errorf("%w: invalidate %s: %v", domain.ErrStoreUnavailable, namespace, err)
	}

	for _, key := range keys {
		c.local.Remove(key)
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("%w: invalidate %s: %v", domain.ErrStoreUnavailable, namespace, err)
		}
	}
	return c.client.Del(ctx, idx).Err()
}

// Incr atomically increments a plain counter key. Counters bypass the
// entry wrapper so Redis INCR can be used instead of a read-modify-write.
func (c *Cache) Incr(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: incr %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	return n, nil
}

// GetCounter reads a counter written by Incr. Missing keys read as zero.
func (c *Cache) GetCounter(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: get counter %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	return n, nil
}

// keyNamespace returns the logical namespace of a key, the segment before
// the first colon.
func keyNamespace(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
