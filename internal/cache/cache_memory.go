package cache

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	snap      *Snapshot
	expiresAt time.Time
}

func (e memEntry) isExpired(now time.Time) bool {
	return now.After(e.expiresAt)
}

type memorySnapshotCache struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemorySnapshotCache builds the default in-process cache. Entries expire
// after ttl; expired entries are dropped lazily on access.
func NewMemorySnapshotCache(ttl time.Duration) SnapshotCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &memorySnapshotCache{
		entries: make(map[string]memEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *memorySnapshotCache) Get(_ context.Context, code string) (*Snapshot, bool) {
	c.mu.RLock()
	entry, ok := c.entries[code]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if entry.isExpired(c.now()) {
		c.mu.Lock()
		delete(c.entries, code)
		c.mu.Unlock()
		return nil, false
	}
	snap := *entry.snap
	return &snap, true
}

func (c *memorySnapshotCache) Put(_ context.Context, snap *Snapshot) {
	copied := *snap
	c.mu.Lock()
	c.entries[copied.Code] = memEntry{snap: &copied, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *memorySnapshotCache) SetUsageCount(_ context.Context, code string, count int) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[code]
	if !ok || entry.isExpired(now) {
		delete(c.entries, code)
		return
	}
	updated := *entry.snap
	updated.UsageCount = count
	c.entries[code] = memEntry{snap: &updated, expiresAt: now.Add(c.ttl)}
}

func (c *memorySnapshotCache) Invalidate(_ context.Context, code string) {
	c.mu.Lock()
	delete(c.entries, code)
	c.mu.Unlock()
}

func (c *memorySnapshotCache) Stats(_ context.Context) Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{Entries: len(c.entries), Backend: "memory"}
}

func (c *memorySnapshotCache) Reset(_ context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]memEntry)
	c.mu.Unlock()
}
