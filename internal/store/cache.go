package store

import (
	"sync"
	"time"
)

type cacheEntry struct {
	rec     *Record
	created time.Time
}

// resultCache holds the latest record per url and kind. A zero TTL keeps
// entries until they are invalidated.
type resultCache struct {
	mu   sync.RWMutex
	now  func() time.Time
	ttl  time.Duration
	data map[string]cacheEntry
}

func newResultCache(now func() time.Time, ttl time.Duration) *resultCache {
	if now == nil {
		now = time.Now
	}
	return &resultCache{
		now:  now,
		ttl:  ttl,
		data: make(map[string]cacheEntry),
	}
}

func cacheKey(pageURL, kind string) string {
	return pageURL + "|" + kind
}

func (c *resultCache) Put(rec *Record) {
	if rec == nil {
		return
	}
	c.mu.Lock()
	c.data[cacheKey(rec.URL, rec.Kind)] = cacheEntry{rec: rec, created: c.now()}
	c.mu.Unlock()
}

func (c *resultCache) Get(pageURL, kind string) (*Record, bool) {
	key := cacheKey(pageURL, kind)
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(entry.created) > c.ttl {
		c.mu.Lock()
		delete(c.data, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.rec, true
}

func (c *resultCache) Invalidate(pageURL, kind string) {
	c.mu.Lock()
	delete(c.data, cacheKey(pageURL, kind))
	c.mu.Unlock()
}
