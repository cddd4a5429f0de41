package ragflow

import (
	"sync"
	"time"
)

// DefaultCountTTL is how long a cached listing total stays valid.
const DefaultCountTTL = 300 * time.Second

type countEntry struct {
	total  int
	stored time.Time
}

// CountCache remembers listing totals per resource so that unfiltered pages
// do not need a full fetch just to learn the total.
type CountCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]countEntry
}

// NewCountCache creates a cache whose entries expire after ttl.
func NewCountCache(ttl time.Duration) *CountCache {
	if ttl <= 0 {
		ttl = DefaultCountTTL
	}
	return &CountCache{ttl: ttl, now: time.Now, entries: make(map[string]countEntry)}
}

// Get returns the cached total for key if it has not expired.
func (c *CountCache) Get(key string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	if c.now().Sub(e.stored) >= c.ttl {
		delete(c.entries, key)
		return 0, false
	}
	return e.total, true
}

// Set stores total for key.
func (c *CountCache) Set(key string, total int) {
	c.mu.Lock()
	c.entries[key] = countEntry{total: total, stored: c.now()}
	c.mu.Unlock()
}

// Invalidate drops key, or every entry when key is empty.
func (c *CountCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if key == "" {
		clear(c.entries)
		return
	}
	delete(c.entries, key)
}
