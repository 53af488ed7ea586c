// Package cache serves entitlement snapshots from a two-tier cache.
//
// Reads go L1 (in-process LRU) then Redis then the source services. The
// snapshot is what hot paths like upload checks and feature gates consult,
// so any mutation to a subscription, ledger, or override must call
// Invalidate for the user.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rambozzang/ongo-sub007/pkg/clock"
	"github.com/rambozzang/ongo-sub007/pkg/observability"
)

// SnapshotSource produces a fresh snapshot on cache miss
type SnapshotSource interface {
	LoadSnapshot(ctx context.Context, userID int64) (*Snapshot, error)
}

// Cache is the two-tier entitlement cache
type Cache struct {
	source   SnapshotSource
	redis    *redis.Client
	local    *lru.Cache[int64, localEntry]
	ttl      time.Duration
	localTTL time.Duration
	clock    clock.Clock
	metrics  *observability.Metrics
}

type localEntry struct {
	snapshot *Snapshot
	expires  time.Time
}

// Config holds cache tuning knobs
type Config struct {
	// TTL bounds Redis staleness; invalidation handles the common case.
	TTL time.Duration
	// LocalTTL bounds L1 staleness across processes that cannot see each
	// other's invalidations. Keep it short.
	LocalTTL time.Duration
	// LocalSize is the L1 entry cap.
	LocalSize int
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	if c.LocalTTL <= 0 {
		c.LocalTTL = 10 * time.Second
	}
	if c.LocalSize <= 0 {
		c.LocalSize = 10000
	}
	return c
}

// New creates a new Cache
func New(source SnapshotSource, redisClient *redis.Client, clk clock.Clock, metrics *observability.Metrics, cfg Config) (*Cache, error) {
	cfg = cfg.withDefaults()
	local, err := lru.New[int64, localEntry](cfg.LocalSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create local cache: %w", err)
	}
	return &Cache{
		source:   source,
		redis:    redisClient,
		local:    local,
		ttl:      cfg.TTL,
		localTTL: cfg.LocalTTL,
		clock:    clk,
		metrics:  metrics,
	}, nil
}

func cacheKey(userID int64) string {
	return fmt.Sprintf("entitlement:%d", userID)
}

// Get returns the entitlement snapshot for a user, loading and populating
// both tiers on miss.
func (c *Cache) Get(ctx context.Context, userID int64) (*Snapshot, error) {
	now := c.clock.Now()

	if entry, ok := c.local.Get(userID); ok && now.Before(entry.expires) {
		c.count(c.metricsHits(), "local")
		return entry.snapshot, nil
	}

	key := cacheKey(userID)
	data, err := c.redis.Get(ctx, key).Result()
	if err == nil {
		var snap Snapshot
		if err := json.Unmarshal([]byte(data), &snap); err == nil {
			c.count(c.metricsHits(), "redis")
			c.local.Add(userID, localEntry{snapshot: &snap, expires: now.Add(c.localTTL)})
			return &snap, nil
		}
		// Corrupt entry: drop it and fall through to the source.
		c.redis.Del(ctx, key)
	} else if err != redis.Nil {
		// Redis being down degrades to source reads, not to failures.
		c.count(c.metricsMisses(), "redis_error")
	}

	c.count(c.metricsMisses(), "redis")
	snap, err := c.source.LoadSnapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, userID, snap, now)
	return snap, nil
}

// Invalidate drops the snapshot from both tiers. Call after any mutation
// that changes what the user is entitled to.
func (c *Cache) Invalidate(ctx context.Context, userID int64) error {
	c.local.Remove(userID)
	if err := c.redis.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate entitlement cache: %w", err)
	}
	return nil
}

// Refresh reloads from the source and overwrites both tiers
func (c *Cache) Refresh(ctx context.Context, userID int64) (*Snapshot, error) {
	snap, err := c.source.LoadSnapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, userID, snap, c.clock.Now())
	return snap, nil
}

func (c *Cache) store(ctx context.Context, userID int64, snap *Snapshot, now time.Time) {
	if data, err := json.Marshal(snap); err == nil {
		c.redis.Set(ctx, cacheKey(userID), data, c.ttl)
	}
	c.local.Add(userID, localEntry{snapshot: snap, expires: now.Add(c.localTTL)})
}

func (c *Cache) metricsHits() func(string) {
	if c.metrics == nil {
		return nil
	}
	return func(tier string) { c.metrics.CacheHitsTotal.WithLabelValues(tier).Inc() }
}

func (c *Cache) metricsMisses() func(string) {
	if c.metrics == nil {
		return nil
	}
	return func(tier string) { c.metrics.CacheMissesTotal.WithLabelValues(tier).Inc() }
}

func (c *Cache) count(fn func(string), tier string) {
	if fn != nil {
		fn(tier)
	}
}
