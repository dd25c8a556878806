package respcache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryCache is an in-memory Cache for testing and single-instance
// deployments. Expired entries are dropped lazily on access and during
// namespace scans.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns the payload for key if present and unexpired.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.After(c.now()) {
		delete(c.entries, key)
		return nil, false, nil
	}
	payload := make([]byte, len(e.payload))
	copy(payload, e.payload)
	return payload, true, nil
}

// Set stores payload under key for ttl.
func (c *MemoryCache) Set(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make([]byte, len(payload))
	copy(stored, payload)
	c.entries[key] = memoryEntry{payload: stored, expiresAt: c.now().Add(ttl)}
	return nil
}

// ClearByPrefix removes every unexpired entry under prefix.
func (c *MemoryCache) ClearByPrefix(_ context.Context, prefix string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if e.expiresAt.After(now) {
			removed++
		}
		delete(c.entries, key)
	}
	return removed, nil
}

// Stats counts unexpired entries under prefix and sums their payload sizes.
func (c *MemoryCache) Stats(_ context.Context, prefix string) (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var stats Stats
	for key, e := range c.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if !e.expiresAt.After(now) {
			delete(c.entries, key)
			continue
		}
		stats.EntryCount++
		stats.ApproxBytes += int64(len(e.payload))
	}
	return stats, nil
}
