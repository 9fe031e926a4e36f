package permissions

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/estateloop/estateloop/pkg/observability"
)

const (
	defaultCacheSize = 4096
	defaultCacheTTL  = 5 * time.Minute
)

type cacheEntry struct {
	permissions []string
	expiresAt   time.Time
}

// Cache is a TTL-bounded LRU of computed permission sets, keyed by the
// user's external id. The LRU bounds memory; the TTL bounds staleness for
// changes that bypass explicit invalidation (expiring temporary grants).
type Cache struct {
	entries *lru.Cache[string, cacheEntry]
	ttl     time.Duration
	now     func() time.Time

	hits    atomic.Uint64
	misses  atomic.Uint64
	metrics *observability.Metrics
}

// NewCache creates a permission cache. Zero values select the defaults.
func NewCache(size int, ttl time.Duration) (*Cache, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	entries, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &Cache{
		entries: entries,
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

// WithMetrics attaches Prometheus counters to the cache.
func (c *Cache) WithMetrics(metrics *observability.Metrics) *Cache {
	c.metrics = metrics
	return c
}

// Get returns the cached permission set, or false on a miss or an expired
// entry.
func (c *Cache) Get(externalID string) ([]string, bool) {
	entry, ok := c.entries.Get(externalID)
	if ok && c.now().Before(entry.expiresAt) {
		c.hits.Add(1)
		if c.metrics != nil {
			c.metrics.PermissionCacheHitsTotal.Inc()
		}
		return entry.permissions, true
	}
	if ok {
		c.entries.Remove(externalID)
	}
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.PermissionCacheMissesTotal.Inc()
	}
	return nil, false
}

// Set stores a computed permission set with the cache TTL.
func (c *Cache) Set(externalID string, permissions []string) {
	c.entries.Add(externalID, cacheEntry{
		permissions: permissions,
		expiresAt:   c.now().Add(c.ttl),
	})
	if c.metrics != nil {
		c.metrics.PermissionCacheEntries.Set(float64(c.entries.Len()))
	}
}

// Invalidate drops the cached set for one user. Write paths call this
// synchronously before returning.
func (c *Cache) Invalidate(externalID string) {
	c.entries.Remove(externalID)
	if c.metrics != nil {
		c.metrics.PermissionCacheEntries.Set(float64(c.entries.Len()))
	}
}

// SweepExpired removes entries past their TTL and returns how many were
// dropped. Intended for a periodic ticker.
func (c *Cache) SweepExpired() int {
	now := c.now()
	var removed int
	for _, key := range c.entries.Keys() {
		if entry, ok := c.entries.Peek(key); ok && !now.Before(entry.expiresAt) {
			c.entries.Remove(key)
			removed++
		}
	}
	if c.metrics != nil {
		c.metrics.PermissionCacheEntries.Set(float64(c.entries.Len()))
	}
	return removed
}

// Stats returns lifetime hit and miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of live entries, including any not yet swept.
func (c *Cache) Len() int {
	return c.entries.Len()
}
