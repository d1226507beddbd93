// Package cache wraps jellydator/ttlcache with the small typed surface the
// library needs: per-entry TTLs, lazy expiry on read, and an optional
// background sweeper.
package cache

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Cache is an expiring key/value map. All mutators are safe for concurrent
// use; reads never observe expired entries.
type Cache[K comparable, V any] struct {
	inner *ttlcache.Cache[K, V]
}

// New creates a cache whose entries default to defaultTTL when Set is
// called with no explicit TTL. A non-positive defaultTTL means entries
// never expire unless Set is given one.
func New[K comparable, V any](defaultTTL time.Duration) *Cache[K, V] {
	opts := []ttlcache.Option[K, V]{
		ttlcache.WithDisableTouchOnHit[K, V](),
	}
	if defaultTTL > 0 {
		opts = append(opts, ttlcache.WithTTL[K, V](defaultTTL))
	}
	return &Cache[K, V]{inner: ttlcache.New[K, V](opts...)}
}

// Start runs the background expiration sweeper until Stop is called.
// Optional: Get already treats expired entries as absent.
func (c *Cache[K, V]) Start() {
	c.inner.Start()
}

// Stop terminates the background sweeper.
func (c *Cache[K, V]) Stop() {
	c.inner.Stop()
}

// Get returns the live value for k. Expired entries read as absent.
func (c *Cache[K, V]) Get(k K) (V, bool) {
	item := c.inner.Get(k)
	if item == nil || item.IsExpired() {
		var zero V
		return zero, false
	}
	return item.Value(), true
}

// Set stores v under k with the given TTL. A zero ttl uses the cache
// default; a negative ttl stores without expiry.
func (c *Cache[K, V]) Set(k K, v V, ttl time.Duration) {
	switch {
	case ttl == 0:
		c.inner.Set(k, v, ttlcache.DefaultTTL)
	case ttl < 0:
		c.inner.Set(k, v, ttlcache.NoTTL)
	default:
		c.inner.Set(k, v, ttl)
	}
}

// Delete removes k if present.
func (c *Cache[K, V]) Delete(k K) {
	c.inner.Delete(k)
}

// Clear removes all entries.
func (c *Cache[K, V]) Clear() {
	c.inner.DeleteAll()
}

// Len reports the number of stored entries, including any not yet swept.
func (c *Cache[K, V]) Len() int {
	return c.inner.Len()
}
