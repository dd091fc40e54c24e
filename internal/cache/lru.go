// Package cache holds the caches behind the distributor rules listing and
// the simulation throttle: an in-process LRU, Redis, and the two stacked.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// LRUCache keeps rules listings in process memory and counts throttle
// windows. Single-node deployments use it alone; in cluster mode it is the
// L1 in front of Redis and never holds counters.
type LRUCache struct {
	mu      sync.RWMutex
	maxSize int
	now     func() time.Time

	// Most recently used entry at the front.
	recency *list.List
	byKey   map[string]*list.Element

	// Throttle windows, keyed like "throttle:<client ip>".
	counters map[string]*window
}

type lruEntry struct {
	key     string
	body    []byte
	expires time.Time
}

// window is one fixed throttle window. It opens on the first hit.
type window struct {
	hits   int64
	closes time.Time
}

// NewLRUCache returns a cache holding at most maxSize listings and maxSize
// live throttle windows. A non-positive size means 10000.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	c := &LRUCache{maxSize: maxSize, now: time.Now}
	c.reset()
	return c
}

func (c *LRUCache) reset() {
	c.recency = list.New()
	c.byKey = make(map[string]*list.Element)
	c.counters = make(map[string]*window)
}

// Get returns the body stored under key, or nil when it is absent or past
// its TTL. A hit marks the entry as most recently used.
func (c *LRUCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.byKey[key]
	if !ok {
		return nil, nil
	}
	e := el.Value.(*lruEntry)
	if c.now().After(e.expires) {
		c.evict(el)
		return nil, nil
	}
	c.recency.MoveToFront(el)
	return e.body, nil
}

// Set stores body under key for ttl, evicting the least recently used
// entries beyond maxSize.
func (c *LRUCache) Set(ctx context.Context, key string, body []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(ttl)
	if el, ok := c.byKey[key]; ok {
		e := el.Value.(*lruEntry)
		e.body, e.expires = body, expires
		c.recency.MoveToFront(el)
		return nil
	}

	c.byKey[key] = c.recency.PushFront(&lruEntry{key: key, body: body, expires: expires})
	for c.recency.Len() > c.maxSize {
		c.evict(c.recency.Back())
	}
	return nil
}

// Delete drops key if present.
func (c *LRUCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.byKey[key]; ok {
		c.evict(el)
	}
	return nil
}

// IncrementCounter records a hit in key's window and returns the hits so
// far. A hit after the window closes opens a new one.
func (c *LRUCache) IncrementCounter(ctx context.Context, key string, length time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if w, ok := c.counters[key]; ok && !now.After(w.closes) {
		w.hits++
		return w.hits, nil
	}

	if len(c.counters) >= c.maxSize {
		c.dropClosedWindows(now)
	}
	c.counters[key] = &window{hits: 1, closes: now.Add(length)}
	return 1, nil
}

// Ping always succeeds.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close empties the cache. It stays usable afterwards.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
	return nil
}

// Stats reports how many listings are held and the configured capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recency.Len(), c.maxSize
}

func (c *LRUCache) dropClosedWindows(now time.Time) {
	for key, w := range c.counters {
		if now.After(w.closes) {
			delete(c.counters, key)
		}
	}
}

func (c *LRUCache) evict(el *list.Element) {
	if el == nil {
		return
	}
	c.recency.Remove(el)
	delete(c.byKey, el.Value.(*lruEntry).key)
}
