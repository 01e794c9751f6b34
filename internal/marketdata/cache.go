// cache.go implements a small TTL cache for MarketSnapshots keyed by
// "symbol:timeframe" (spec §4.3 cache_ttl, default <=5m). No cache library
// (redis, groupcache, ristretto) appears anywhere in the retrieved pack for
// *local*, single-process hot data — sawpanic-cryptorun's redis usage is
// for cross-process shared state, which doesn't apply to this single-binary
// deployment — so this is a deliberate, justified stdlib-only component
// (container/list-backed map with TTL expiry only: an entry is dropped
// when a read finds it expired; there is no size bound and no
// least-recently-used eviction).
package marketdata

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"tradingcore/pkg/types"
)

type cacheEntry struct {
	key       string
	snapshot  types.MarketSnapshot
	expiresAt time.Time
}

// SnapshotCache caches the most recently built snapshot per key for ttl,
// avoiding a rebuild (indicator recompute) on every reader within the same
// cycle.
type SnapshotCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	elements map[string]*list.Element
	order    *list.List

	hits   atomic.Int64
	misses atomic.Int64
}

// NewSnapshotCache creates a cache with the given TTL.
func NewSnapshotCache(ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{
		ttl:      ttl,
		elements: make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached snapshot for key if present and not expired.
func (c *SnapshotCache) Get(key string, now time.Time) (types.MarketSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.elements[key]
	if !ok {
		c.misses.Add(1)
		return types.MarketSnapshot{}, false
	}
	entry := el.Value.(*cacheEntry)
	if now.After(entry.expiresAt) {
		c.order.Remove(el)
		delete(c.elements, key)
		c.misses.Add(1)
		return types.MarketSnapshot{}, false
	}

	c.order.MoveToFront(el)
	c.hits.Add(1)
	return entry.snapshot, true
}

// Put stores snapshot under key with the cache's configured TTL.
func (c *SnapshotCache) Put(key string, snapshot types.MarketSnapshot, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.elements[key]; ok {
		el.Value.(*cacheEntry).snapshot = snapshot
		el.Value.(*cacheEntry).expiresAt = now.Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}

	entry := &cacheEntry{key: key, snapshot: snapshot, expiresAt: now.Add(c.ttl)}
	el := c.order.PushFront(entry)
	c.elements[key] = el
}

// HitRate returns hits / (hits + misses), or 0 if there have been no
// lookups yet. Fed into the cache_hit_rate metric (spec §4.8).
func (c *SnapshotCache) HitRate() float64 {
	h, m := c.hits.Load(), c.misses.Load()
	if h+m == 0 {
		return 0
	}
	return float64(h) / float64(h+m)
}
