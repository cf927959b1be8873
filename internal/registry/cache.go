package registry

import (
	"sort"
	"sync"
)

// Cache is a bounded lookup cache. When it fills, the oldest half of the
// entries is evicted at once, so steady-state inserts stay cheap and the
// hot half survives.
type Cache struct {
	mu      sync.Mutex
	max     int
	seq     uint64
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value string
	seq   uint64
}

// NewCache creates a Cache holding at most max entries. A non-positive max
// falls back to a small default.
func NewCache(max int) *Cache {
	if max <= 0 {
		max = 64
	}
	return &Cache{
		max:     max,
		entries: make(map[string]cacheEntry, max),
	}
}

// Get returns the cached value for key.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e.value, ok
}

// Put stores a value, evicting the oldest half when full.
func (c *Cache) Put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.max {
		c.evictOldestHalf()
	}
	c.seq++
	c.entries[key] = cacheEntry{value: value, seq: c.seq}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) evictOldestHalf() {
	seqs := make([]uint64, 0, len(c.entries))
	for _, e := range c.entries {
		seqs = append(seqs, e.seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	cutoff := seqs[(len(seqs)-1)/2]
	for k, e := range c.entries {
		if e.seq <= cutoff {
			delete(c.entries, k)
		}
	}
}
