// Package searchcache caches YouTube Data API responses in two tiers: an
// in-process L1 map and an optional Redis L2 shared across instances. Search
// quota is expensive, so identical lookups within the TTL are served locally
// and concurrent misses for one key share a single upstream call.
package searchcache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/reconic/backend/telemetry"
)

// Cache implements L1 (memory) + L2 (Redis) caching.
type Cache struct {
	mu         sync.Mutex
	l1         map[string]*entry
	rdb        *redis.Client // nil if Redis unavailable
	ttl        time.Duration
	maxEntries int
	group      singleflight.Group
	logger     *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

type entry struct {
	data      []byte
	expiresAt time.Time
}

// New sets up the cache. redisURL can be empty to disable L2; an invalid or
// unreachable Redis also disables L2 with a warning.
func New(ctx context.Context, redisURL string, ttl time.Duration, maxEntries int) *Cache {
	c := &Cache{
		l1:         make(map[string]*entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		logger:     slog.Default().With(slog.String("component", "searchcache")),
	}
	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			c.logger.Warn("invalid redis URL, L2 disabled", slog.Any("err", err))
		} else {
			rdb := redis.NewClient(opts)
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := rdb.Ping(pctx).Err(); err != nil {
				c.logger.Warn("redis unreachable, L2 disabled", slog.Any("err", err))
				_ = rdb.Close()
			} else {
				c.rdb = rdb
				c.logger.Info("L2 redis connected", slog.String("addr", opts.Addr))
			}
		}
	}
	c.logger.Info("search cache initialized", slog.Duration("ttl", ttl), slog.Bool("redis", c.rdb != nil))
	return c
}

// Key builds a deterministic cache key from parts.
func Key(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("reconic:yt:%x", sum[:12])
}

// Get tries L1, then L2. On L2 hit, populates L1.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	now := time.Now()
	c.mu.Lock()
	if e, ok := c.l1[key]; ok {
		if now.Before(e.expiresAt) {
			c.mu.Unlock()
			c.hits.Add(1)
			telemetry.RecordCacheLookup(true)
			return e.data, true
		}
		delete(c.l1, key)
	}
	c.mu.Unlock()

	if c.rdb != nil {
		data, err := c.rdb.Get(ctx, key).Bytes()
		if err == nil {
			c.hits.Add(1)
			telemetry.RecordCacheLookup(true)
			c.storeL1(key, data)
			return data, true
		}
		if err != redis.Nil {
			c.logger.Debug("L2 get failed", slog.Any("err", err))
		}
	}
	c.misses.Add(1)
	telemetry.RecordCacheLookup(false)
	return nil, false
}

// Set stores data in both tiers.
func (c *Cache) Set(ctx context.Context, key string, data []byte) {
	c.storeL1(key, data)
	if c.rdb != nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Debug("L2 set failed", slog.Any("err", err))
		}
	}
}

func (c *Cache) storeL1(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked()
	c.l1[key] = &entry{data: data, expiresAt: time.Now().Add(c.ttl)}
}

// evictLocked drops expired entries, then the oldest, until there is room.
func (c *Cache) evictLocked() {
	if c.maxEntries <= 0 || len(c.l1) < c.maxEntries {
		return
	}
	now := time.Now()
	for k, e := range c.l1 {
		if now.After(e.expiresAt) {
			delete(c.l1, k)
		}
	}
	for len(c.l1) >= c.maxEntries {
		var oldestKey string
		var oldest time.Time
		for k, e := range c.l1 {
			// Earlier expiry = older entry (expiry = createdAt + ttl).
			if oldestKey == "" || e.expiresAt.Before(oldest) {
				oldestKey, oldest = k, e.expiresAt
			}
		}
		delete(c.l1, oldestKey)
	}
}

// Stats returns hit/miss counters.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len reports the number of L1 entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.l1)
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}

// Fetch returns the cached value for key or calls fn, caching a successful
// result. A nil cache always calls fn.
func Fetch[T any](ctx context.Context, c *Cache, key string, fn func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return fn(ctx)
	}
	if data, ok := c.Get(ctx, key); ok {
		var out T
		if err := json.Unmarshal(data, &out); err == nil {
			return out, nil
		}
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		out, err := fn(ctx)
		if err != nil {
			return out, err
		}
		if data, merr := json.Marshal(out); merr == nil {
			c.Set(ctx, key, data)
		}
		return out, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
