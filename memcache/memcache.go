// Package memcache is artcache's fast tier: a bounded, size-aware LRU over
// codec-encoded payloads. It is a derived, safe-to-drop subset of the
// persistent tier - nothing here is authoritative.
//
// Access order is maintained with a doubly-linked list plus a hash index, so
// recency updates are O(1) and eviction is O(k) in the number of evicted
// entries. Eviction is oldest-access-first and triggers on either of two
// independent thresholds: entry count and estimated bytes.
package memcache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// entryOverhead is the fixed per-entry bookkeeping charge added to the size
// estimate. The estimate is a soft cap, not exact byte accounting.
const entryOverhead = 64

// evictFraction of entries removed per pressure-triggered eviction batch.
const evictFraction = 0.15

// Item is the cached value: the codec-encoded payload plus the entry metadata
// the coordinator needs without decoding.
type Item struct {
	Status       string
	Payload      []byte
	ErrorMessage string
	CreatedAt    time.Time
}

// KeyedItem pairs an item with its key for scan results.
type KeyedItem struct {
	Key  string
	Item Item
}

// EntryStat is per-entry diagnostic data. Access bookkeeping is used purely
// for eviction and stats, never for correctness.
type EntryStat struct {
	Key            string
	Status         string
	CreatedAt      time.Time
	AccessCount    uint64
	LastAccessedAt time.Time
}

// Stats is a point-in-time snapshot of the tier.
type Stats struct {
	Count          int
	MaxCount       int
	EstimatedBytes int64
	MaxBytes       int64
	HitRate        float64
	Entries        []EntryStat
}

type record struct {
	key         string
	item        Item
	accessCount uint64
	lastAccess  time.Time
	cost        int64
	elem        *list.Element
}

// Cache is a bounded LRU. Safe for concurrent use; every mutation is a single
// synchronous step under the lock, so no caller can observe a half-updated
// entry.
type Cache struct {
	mu       sync.Mutex
	maxCount int
	maxBytes int64

	ll    *list.List // front = most recently accessed, back = oldest
	recs  map[string]*record
	bytes int64

	hits   uint64
	misses uint64
}

func New(maxCount int, maxBytes int64) *Cache {
	if maxCount <= 0 {
		maxCount = 1
	}
	if maxBytes <= 0 {
		maxBytes = 1
	}
	return &Cache{
		maxCount: maxCount,
		maxBytes: maxBytes,
		ll:       list.New(),
		recs:     make(map[string]*record),
	}
}

func itemCost(key string, it Item) int64 {
	return int64(len(key)) + int64(len(it.Payload)) + int64(len(it.ErrorMessage)) + entryOverhead
}

// Get returns the item for key, refreshing its recency and access count.
// A miss returns ok=false; it is never an error.
func (c *Cache) Get(key string) (Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.recs[key]
	if !ok {
		c.misses++
		return Item{}, false
	}
	c.hits++
	r.accessCount++
	r.lastAccess = time.Now()
	c.ll.MoveToFront(r.elem)
	return r.item, true
}

// Set inserts or replaces the item for key. Inserting a new key while either
// threshold is already met evicts the oldest-accessed batch first; the tier
// never ends a Set above its limits.
func (c *Cache) Set(key string, it Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cost := itemCost(key, it)

	if r, ok := c.recs[key]; ok {
		c.bytes += cost - r.cost
		r.item = it
		r.cost = cost
		r.lastAccess = time.Now()
		c.ll.MoveToFront(r.elem)
		c.enforceLimitsLocked()
		return
	}

	if len(c.recs) >= c.maxCount || c.bytes >= c.maxBytes {
		c.evictBatchLocked()
	}

	r := &record{key: key, item: it, cost: cost, lastAccess: time.Now()}
	r.elem = c.ll.PushFront(r)
	c.recs[key] = r
	c.bytes += cost
	c.enforceLimitsLocked()
}

// Peek returns the item without refreshing recency or counting a hit.
// Used by invalidation scans that must not disturb eviction order.
func (c *Cache) Peek(key string) (Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.recs[key]
	if !ok {
		return Item{}, false
	}
	return r.item, true
}

// Has reports presence without touching recency.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.recs[key]
	return ok
}

// Delete removes key, reporting whether it was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.recs[key]
	if !ok {
		return false
	}
	c.removeLocked(r)
	return true
}

// Clear empties the tier. Hit/miss counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.recs = make(map[string]*record)
	c.bytes = 0
}

// ClearPrefix removes every entry whose key starts with prefix and returns
// how many were removed. The coordinator uses "<owner>::" for owner scoping.
func (c *Cache) ClearPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, r := range c.recs {
		if strings.HasPrefix(key, prefix) {
			c.removeLocked(r)
			removed++
		}
	}
	return removed
}

// Keys returns all present keys in unspecified order.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.recs))
	for k := range c.recs {
		out = append(out, k)
	}
	return out
}

// ItemsByStatus returns every entry with the given status, without touching
// recency. Used to find stuck-in-flight work after a crash/reload.
func (c *Cache) ItemsByStatus(status string) []KeyedItem {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []KeyedItem
	for k, r := range c.recs {
		if r.item.Status == status {
			out = append(out, KeyedItem{Key: k, Item: r.item})
		}
	}
	return out
}

// EvictToBytes force-evicts oldest-accessed entries until the size estimate
// is at most max. Returns the number evicted.
func (c *Cache) EvictToBytes(max int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for c.bytes > max && c.ll.Len() > 0 {
		c.removeLocked(c.ll.Back().Value.(*record))
		evicted++
	}
	return evicted
}

// Stats snapshots the tier. HitRate is hits / (hits + misses) over the cache's
// lifetime; 0 before any access.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Count:          len(c.recs),
		MaxCount:       c.maxCount,
		EstimatedBytes: c.bytes,
		MaxBytes:       c.maxBytes,
		Entries:        make([]EntryStat, 0, len(c.recs)),
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	for e := c.ll.Front(); e != nil; e = e.Next() {
		r := e.Value.(*record)
		s.Entries = append(s.Entries, EntryStat{
			Key:            r.key,
			Status:         r.item.Status,
			CreatedAt:      r.item.CreatedAt,
			AccessCount:    r.accessCount,
			LastAccessedAt: r.lastAccess,
		})
	}
	return s
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.recs)
}

// EstimatedBytes returns the current size estimate.
func (c *Cache) EstimatedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

func (c *Cache) removeLocked(r *record) {
	c.ll.Remove(r.elem)
	delete(c.recs, r.key)
	c.bytes -= r.cost
}

// evictBatchLocked drops the oldest-accessed ~15% of entries (at least one).
func (c *Cache) evictBatchLocked() {
	n := int(float64(len(c.recs)) * evictFraction)
	if n < 1 {
		n = 1
	}
	for i := 0; i < n && c.ll.Len() > 0; i++ {
		c.removeLocked(c.ll.Back().Value.(*record))
	}
}

// enforceLimitsLocked guarantees the post-Set invariant for oversized inserts
// that a single batch did not cover. An entry larger than the whole budget is
// dropped outright.
func (c *Cache) enforceLimitsLocked() {
	for (len(c.recs) > c.maxCount || c.bytes > c.maxBytes) && c.ll.Len() > 0 {
		c.removeLocked(c.ll.Back().Value.(*record))
	}
}
