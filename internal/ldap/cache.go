package ldap

import (
	"sync"
	"sync/atomic"
	"time"
)

// CacheStats provides counters about cache usage.
type CacheStats struct {
	Hits    int64
	Misses  int64
	Entries int64
	HitRate float64
}

// Cache is a sliding-expiration cache keyed by logical identity. Reads are
// concurrent; a hit pushes the entry's expiry forward by the configured
// duration. Population races on a miss are benign: last write wins, and
// the losing lookup merely cost one extra directory round trip.
//
// A hit returns the identical cached instance, not a copy. Callers must
// treat cached objects as read-only.
type Cache[V any] struct {
	ttl     time.Duration
	entries sync.Map // map[string]*cacheEntry[V]

	now func() time.Time

	stopOnce sync.Once
	stop     chan struct{}

	statsMu sync.RWMutex
	stats   CacheStats
}

type cacheEntry[V any] struct {
	value     V
	expiresAt atomic.Int64 // unix nanoseconds
}

// NewCache creates a cache whose entries expire ttl after their last use.
// ttl must be positive. A background janitor sweeps expired entries until
// Close is called.
func NewCache[V any](ttl time.Duration) *Cache[V] {
	c := &Cache[V]{
		ttl:  ttl,
		now:  time.Now,
		stop: make(chan struct{}),
	}
	go c.janitor()
	return c
}

// Get returns the cached value for key. A hit slides the entry's expiry
// forward.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	v, ok := c.entries.Load(key)
	if !ok {
		c.incrementMisses()
		return zero, false
	}

	entry := v.(*cacheEntry[V])
	now := c.now()
	if now.UnixNano() > entry.expiresAt.Load() {
		c.entries.Delete(key)
		c.incrementMisses()
		return zero, false
	}

	entry.expiresAt.Store(now.Add(c.ttl).UnixNano())
	c.incrementHits()
	return entry.value, true
}

// Put stores value under key, replacing any previous entry.
func (c *Cache[V]) Put(key string, value V) {
	entry := &cacheEntry[V]{value: value}
	entry.expiresAt.Store(c.now().Add(c.ttl).UnixNano())
	c.entries.Store(key, entry)
}

// Delete removes the entry for key, if present.
func (c *Cache[V]) Delete(key string) {
	c.entries.Delete(key)
}

// Len returns the number of stored entries, including any not yet swept.
func (c *Cache[V]) Len() int {
	count := 0
	c.entries.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[V]) Stats() CacheStats {
	c.statsMu.RLock()
	stats := c.stats
	c.statsMu.RUnlock()

	stats.Entries = int64(c.Len())
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}
	return stats
}

// Close stops the background janitor. The cache remains usable; entries
// simply stop being swept proactively.
func (c *Cache[V]) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Cache[V]) janitor() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache[V]) sweep() {
	cutoff := c.now().UnixNano()
	c.entries.Range(func(key, v any) bool {
		if v.(*cacheEntry[V]).expiresAt.Load() < cutoff {
			c.entries.Delete(key)
		}
		return true
	})
}

func (c *Cache[V]) incrementHits() {
	c.statsMu.Lock()
	c.stats.Hits++
	c.statsMu.Unlock()
}

func (c *Cache[V]) incrementMisses() {
	c.statsMu.Lock()
	c.stats.Misses++
	c.statsMu.Unlock()
}
