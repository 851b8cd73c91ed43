package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "gatekeeper:code:"

type redisSnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSnapshotCache shares the advisory snapshot state across instances.
// Redis errors degrade to cache misses: the authoritative ledger check still
// runs, so a flaky Redis can slow admissions but never corrupt them.
func NewRedisSnapshotCache(client *redis.Client, ttl time.Duration) SnapshotCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &redisSnapshotCache{client: client, ttl: ttl}
}

func (c *redisSnapshotCache) Get(ctx context.Context, code string) (*Snapshot, bool) {
	val, err := c.client.Get(ctx, redisKeyPrefix+code).Bytes()
	if err != nil {
		return nil, false
	}
	var snap Snapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return nil, false
	}
	return &snap, true
}

func (c *redisSnapshotCache) Put(ctx context.Context, snap *Snapshot) {
	val, err := json.Marshal(snap)
	if err != nil {
		return
	}
	c.client.Set(ctx, redisKeyPrefix+snap.Code, val, c.ttl)
}

func (c *redisSnapshotCache) SetUsageCount(ctx context.Context, code string, count int) {
	snap, ok := c.Get(ctx, code)
	if !ok {
		return
	}
	snap.UsageCount = count
	c.Put(ctx, snap)
}

func (c *redisSnapshotCache) Invalidate(ctx context.Context, code string) {
	c.client.Del(ctx, redisKeyPrefix+code)
}

func (c *redisSnapshotCache) Stats(ctx context.Context) Stats {
	var entries int
	iter := c.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		entries++
	}
	return Stats{Entries: entries, Backend: "redis"}
}

func (c *redisSnapshotCache) Reset(ctx context.Context) {
	iter := c.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		c.client.Del(ctx, iter.Val())
	}
}
