package throttle

import (
	"context"
	"sync"
	"time"
)

// MemoryCounter is an in-memory fixed-window Counter for testing and
// single-instance deployments. The mutex makes increment-and-set-TTL atomic
// within the process.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryCounter creates a new in-memory counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Increment atomically increments key, starting a new window when none is
// active.
func (c *MemoryCounter) Increment(_ context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	w, ok := c.windows[key]
	if !ok || !w.expiresAt.After(now) {
		w = &window{count: 0, expiresAt: now.Add(ttl)}
		c.windows[key] = w
	}
	w.count++
	return w.count, w.expiresAt.Sub(now), nil
}

// Len returns the number of tracked windows, including expired ones that
// have not been overwritten. For testing.
func (c *MemoryCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.windows)
}
