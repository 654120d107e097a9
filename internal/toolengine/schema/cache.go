package schema

import (
	"container/list"
	"sync"
	"time"
)

// resultCache memoizes validation results keyed by schema content hash.
// Eviction is least-recently-used at capacity; entries also expire after a
// TTL so stale results cannot outlive a config change forever. Both bounds
// are explicit constructor inputs, not incidental behavior.
type resultCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List
	entries  map[string]*list.Element

	now func() time.Time
}

type cacheEntry struct {
	key      string
	result   Result
	storedAt time.Time
}

func newResultCache(capacity int, ttl time.Duration) *resultCache {
	return &resultCache{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
		now:      time.Now,
	}
}

// get returns the cached result and refreshes its recency. Expired entries
// are removed on access and reported as a miss.
func (c *resultCache) get(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return Result{}, false
	}

	entry := elem.Value.(*cacheEntry)
	if c.ttl > 0 && c.now().Sub(entry.storedAt) > c.ttl {
		c.order.Remove(elem)
		delete(c.entries, key)
		return Result{}, false
	}

	c.order.MoveToFront(elem)
	return entry.result, true
}

// put stores a result, evicting the least-recently-used entry at capacity.
func (c *resultCache) put(key string, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value.(*cacheEntry).result = result
		elem.Value.(*cacheEntry).storedAt = c.now()
		c.order.MoveToFront(elem)
		return
	}

	if c.capacity > 0 && c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
		}
	}

	elem := c.order.PushFront(&cacheEntry{key: key, result: result, storedAt: c.now()})
	c.entries[key] = elem
}

// len reports the number of live entries, counting expired-but-unswept ones.
func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
