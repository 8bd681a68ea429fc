package findata

import (
	"sync"
	"time"
)

// cache is a small TTL cache for connector responses. Finance endpoints are
// rate limited and the same ticker is often asked about repeatedly within
// one analysis session.
type cache struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]cacheItem
}

type cacheItem struct {
	value   []byte
	expires time.Time
}

func newCache(ttl time.Duration) *cache {
	return &cache{ttl: ttl, items: map[string]cacheItem{}}
}

func (c *cache) get(key string) ([]byte, bool) {
	if c == nil || c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[key]
	if !ok || time.Now().After(item.expires) {
		delete(c.items, key)
		return nil, false
	}
	return item.value, true
}

func (c *cache) set(key string, value []byte) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = cacheItem{value: value, expires: time.Now().Add(c.ttl)}
}
