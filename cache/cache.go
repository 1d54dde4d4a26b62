// Package cache provides the short-lived lookup cache used by the session
// manager, plus request deduplication so concurrent callers for the same key
// share one in-flight fetch.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL is how long an entry stays servable after it is stored.
	DefaultTTL = 5 * time.Minute
	// CleanupInterval is how often expired entries are swept out.
	CleanupInterval = 30 * time.Second
)

// Cache is a keyed TTL cache. Entries are purely an in-memory optimization:
// they are rebuilt lazily and never persisted.
type Cache struct {
	store *gocache.Cache
	group singleflight.Group
}

// New creates a Cache whose entries expire ttl after they are stored. A zero
// ttl falls back to DefaultTTL.
func New(ttl time.Duration) *Cache {
	if ttl == 0 {
		ttl = DefaultTTL
	}

	return &Cache{
		store: gocache.New(ttl, CleanupInterval),
	}
}

// Get returns the entry for key, or (nil, false) once its TTL has elapsed.
func (c *Cache) Get(key string) (interface{}, bool) {
	return c.store.Get(key)
}

// Set unconditionally stores value under key with a fresh timestamp.
func (c *Cache) Set(key string, value interface{}) {
	c.store.Set(key, value, gocache.DefaultExpiration)
}

// Delete removes the entry for key, if any.
func (c *Cache) Delete(key string) {
	c.store.Delete(key)
}

// Flush drops every entry.
func (c *Cache) Flush() {
	c.store.Flush()
}

// Fetch deduplicates concurrent fetches: while a call for key is in flight,
// other callers for the same key wait on that call's result instead of
// issuing their own. The registration is dropped once the call settles, so a
// later Fetch retries after a failure. Fetch does not consult or populate the
// cache - the factory decides what to store.
func (c *Cache) Fetch(key string, factory func() (interface{}, error)) (interface{}, error) {
	v, err, _ := c.group.Do(key, factory)
	return v, err
}
