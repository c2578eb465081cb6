package security

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count int64
	start time.Time
}

// MemoryCounter keeps failure windows in process memory. Counts are lost on restart and
// are not shared between instances; use RedisCounter for that. Expired windows are swept
// by Increment at most once per window duration.
type MemoryCounter struct {
	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
	now       func() time.Time
}

// NewMemoryCounter creates a counter. A nil clock uses time.Now.
func NewMemoryCounter(now func() time.Time) *MemoryCounter {
	if now == nil {
		now = time.Now
	}
	return &MemoryCounter{
		windows:   make(map[string]*window),
		lastSweep: now(),
		now:       now,
	}
}

func (c *MemoryCounter) Increment(_ context.Context, key string, d time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.lastSweep) > d {
		c.prune(now, d)
		c.lastSweep = now
	}

	w, ok := c.windows[key]
	if !ok || now.Sub(w.start) > d {
		w = &window{start: now}
		c.windows[key] = w
	}
	w.count++
	return w.count, nil
}

// Len returns the number of tracked windows, expired ones included.
func (c *MemoryCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.windows)
}

func (c *MemoryCounter) prune(now time.Time, d time.Duration) {
	for key, w := range c.windows {
		if now.Sub(w.start) > d {
			delete(c.windows, key)
		}
	}
}
