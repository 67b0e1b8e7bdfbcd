// Package cache caches registry lookup responses in memory and drops them
// whenever a registration commits.
package cache

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// cachedResponse is a stored 200 response.
type cachedResponse struct {
	body        []byte
	contentType string
}

// ResponseCache is a thread-safe TTL cache of response bodies bounded to
// maxSize entries. Every InvalidateAll starts a new generation; responses
// computed during an older generation are not stored.
type ResponseCache struct {
	mu         sync.Mutex
	items      *gocache.Cache
	maxSize    int
	generation uint64
	revision   int64
}

// NewResponseCache creates a cache whose entries live for ttl and are purged
// every cleanupInterval.
func NewResponseCache(maxSize int, ttl, cleanupInterval time.Duration) *ResponseCache {
	if maxSize < 1 {
		maxSize = 1
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	return &ResponseCache{
		items:   gocache.New(ttl, cleanupInterval),
		maxSize: maxSize,
	}
}

// Get returns the cached response for key.
func (c *ResponseCache) Get(key string) (cachedResponse, bool) {
	v, ok := c.items.Get(key)
	if !ok {
		return cachedResponse{}, false
	}
	resp, ok := v.(cachedResponse)
	return resp, ok
}

// Generation returns the current generation. Read it before computing a
// response and pass it to Set.
func (c *ResponseCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Set stores resp under key unless the cache was invalidated since gen or
// is full. Reports whether the response was stored.
func (c *ResponseCache) Set(key string, resp cachedResponse, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		return false
	}
	if c.items.ItemCount() >= c.maxSize {
		c.items.DeleteExpired()
		if c.items.ItemCount() >= c.maxSize {
			return false
		}
	}
	c.items.SetDefault(key, resp)
	return true
}

// Observe records a data revision read before serving a request. A revision
// newer than any seen so far drops every entry. It returns the generation
// to pass to Set, and false when rev is older than one already observed,
// in which case the response must not be stored or served from the cache.
func (c *ResponseCache) Observe(rev int64) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case rev > c.revision:
		c.revision = rev
		c.generation++
		c.items.Flush()
	case rev < c.revision:
		return c.generation, false
	}
	return c.generation, true
}

// InvalidateAll drops every entry and starts a new generation.
func (c *ResponseCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.items.Flush()
}

// Len returns the number of stored entries, including expired ones not yet
// purged.
func (c *ResponseCache) Len() int {
	return c.items.ItemCount()
}
