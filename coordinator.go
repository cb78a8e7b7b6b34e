package artcache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/artcache/codec"
	"github.com/unkn0wn-root/artcache/memcache"
	"github.com/unkn0wn-root/artcache/store"
)

// Coordinator composes the memory tier and a persistent store into one
// read/write/invalidate/hydrate API. Reads go memory-first; writes land in
// memory synchronously and then in the store. A persistent write failure is
// surfaced to the caller as a StorageError but the memory write is NOT rolled
// back - the session keeps seeing the value even though durability failed.
type Coordinator[V any] struct {
	mem   *memcache.Cache
	st    store.Store
	codec codec.Codec[V]
	log   Logger
	hooks Hooks
}

// Initialize prepares the persistent tier. Safe to call concurrently and
// repeatedly; see store.Store.
func (c *Coordinator[V]) Initialize(ctx context.Context) error {
	return c.st.Initialize(ctx)
}

// Close releases the persistent tier's resources.
func (c *Coordinator[V]) Close(ctx context.Context) error {
	return c.st.Close(ctx)
}

// Get returns the entry for key: memory first, then the store (populating
// memory on a store hit), then a miss. An undecodable persisted payload is
// dropped from both tiers and reported as a miss (self-heal).
func (c *Coordinator[V]) Get(ctx context.Context, key Key) (Entry[V], bool, error) {
	var zero Entry[V]
	k := key.String()

	if it, ok := c.mem.Get(k); ok {
		e, err := c.decodeItem(it)
		if err != nil {
			c.selfHeal(ctx, k, "memory_decode")
			return zero, false, nil
		}
		return e, true, nil
	}

	rec, ok, err := c.st.Get(ctx, k)
	if err != nil {
		return zero, false, err
	}
	if !ok {
		return zero, false, nil
	}

	it := recordToItem(rec)
	e, err := c.decodeItem(it)
	if err != nil {
		c.selfHeal(ctx, k, "store_decode")
		return zero, false, nil
	}
	c.mem.Set(k, it)
	return e, true, nil
}

// Set writes the entry to both tiers: memory synchronously, then the store.
// On a store failure the returned error is a StorageError and the memory
// value is kept (deliberate partial-failure policy).
func (c *Coordinator[V]) Set(ctx context.Context, key Key, e Entry[V]) error {
	k := key.String()

	it, err := c.encodeEntry(e)
	if err != nil {
		return err
	}
	c.mem.Set(k, it)

	rec := store.Record{
		Key:          k,
		OwnerID:      key.Owner,
		LocationID:   key.Location,
		Status:       it.Status,
		Payload:      it.Payload,
		ErrorMessage: it.ErrorMessage,
		CreatedAt:    it.CreatedAt,
		UpdatedAt:    time.Now(),
	}
	if err := c.st.Set(ctx, rec); err != nil {
		c.hooks.PersistFailed(k, err)
		c.log.Warn("persistent write failed; memory value kept", Fields{"key": k, "err": err})
		return err
	}
	return nil
}

// Has reports whether either tier holds key.
func (c *Coordinator[V]) Has(ctx context.Context, key Key) (bool, error) {
	k := key.String()
	if c.mem.Has(k) {
		return true, nil
	}
	return c.st.Has(ctx, k)
}

// Delete removes key from both tiers, reporting whether anything was removed.
func (c *Coordinator[V]) Delete(ctx context.Context, key Key) (bool, error) {
	k := key.String()
	memRemoved := c.mem.Delete(k)
	stRemoved, err := c.st.Delete(ctx, k)
	return memRemoved || stRemoved, err
}

// Clear removes all of owner's entries from both tiers, or everything when
// owner is "".
func (c *Coordinator[V]) Clear(ctx context.Context, owner string) error {
	if owner == "" {
		c.mem.Clear()
	} else {
		c.mem.ClearPrefix(ownerPrefix(owner))
	}
	return c.st.Clear(ctx, owner)
}

// Hydrate bulk-loads owner's persisted entries into the memory tier. Called
// once per owner session start so revisits hit memory immediately.
func (c *Coordinator[V]) Hydrate(ctx context.Context, owner string) error {
	recs, err := c.st.Load(ctx, owner)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		c.mem.Set(rec.Key, recordToItem(rec))
	}
	c.hooks.Hydrated(owner, len(recs))
	c.log.Debug("hydrated owner", Fields{"owner": owner, "loaded": len(recs)})
	return nil
}

// Invalidate deletes entries matching crit from both tiers and returns the
// number of distinct keys removed. The scan covers persisted records (owner
// scoped when crit.Owner is set) plus any memory-only keys whose persistent
// write never landed.
func (c *Coordinator[V]) Invalidate(ctx context.Context, crit Criteria) (int, error) {
	recs, err := c.st.Load(ctx, crit.Owner)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	seen := make(map[string]struct{}, len(recs))
	count := 0

	for _, rec := range recs {
		seen[rec.Key] = struct{}{}
		if !crit.matches(rec.Status, rec.CreatedAt, now) {
			continue
		}
		memRemoved := c.mem.Delete(rec.Key)
		stRemoved, err := c.st.Delete(ctx, rec.Key)
		if err != nil {
			return count, err
		}
		if memRemoved || stRemoved {
			count++
		}
	}

	// memory-only stragglers
	prefix := ""
	if crit.Owner != "" {
		prefix = ownerPrefix(crit.Owner)
	}
	for _, k := range c.mem.Keys() {
		if _, ok := seen[k]; ok {
			continue
		}
		if prefix != "" && !keyHasPrefix(k, prefix) {
			continue
		}
		it, ok := c.mem.Peek(k)
		if !ok {
			continue
		}
		if crit.matches(it.Status, it.CreatedAt, now) && c.mem.Delete(k) {
			count++
		}
	}

	return count, nil
}

// Cleanup delegates age/count pruning to the persistent tier and then forces
// extra LRU eviction when the memory estimate still exceeds opts.MaxBytes.
func (c *Coordinator[V]) Cleanup(ctx context.Context, opts CleanupOptions) (CleanupResult, error) {
	var res CleanupResult

	if opts.MaxAge > 0 || opts.MaxCount > 0 {
		deleted, err := c.st.Cleanup(ctx, opts.MaxAge, opts.MaxCount)
		res.PersistentDeleted = deleted
		if err != nil {
			return res, err
		}
	}

	if opts.MaxBytes > 0 {
		evicted := c.mem.EvictToBytes(opts.MaxBytes)
		res.MemoryEvicted = evicted
		if evicted > 0 {
			c.hooks.MemoryPressure(evicted, c.mem.EstimatedBytes())
		}
	}
	return res, nil
}

// Stats snapshots both tiers.
func (c *Coordinator[V]) Stats(ctx context.Context) (CombinedStats, error) {
	ps, err := c.st.Stats(ctx)
	if err != nil {
		return CombinedStats{}, err
	}
	return CombinedStats{Memory: c.mem.Stats(), Persistent: ps}, nil
}

// GeneratingEntries returns every memory-tier entry still marked generating.
// After a crash or reload these are stuck in-flight markers that never
// resolved; callers typically invalidate or re-orchestrate them.
func (c *Coordinator[V]) GeneratingEntries() []KeyedEntry[V] {
	items := c.mem.ItemsByStatus(string(StatusGenerating))
	out := make([]KeyedEntry[V], 0, len(items))
	for _, ki := range items {
		key, ok := ParseKey(ki.Key)
		if !ok {
			continue
		}
		out = append(out, KeyedEntry[V]{
			Key: key,
			Entry: Entry[V]{
				Status:       Status(ki.Item.Status),
				ErrorMessage: ki.Item.ErrorMessage,
				CreatedAt:    ki.Item.CreatedAt,
			},
		})
	}
	return out
}

func (crit Criteria) matches(status string, createdAt time.Time, now time.Time) bool {
	byAge := crit.OlderThan > 0
	byStatus := crit.Status != ""
	if !byAge && !byStatus {
		return true
	}
	if byAge && createdAt.Before(now.Add(-crit.OlderThan)) {
		return true
	}
	if byStatus && status == string(crit.Status) {
		return true
	}
	return false
}

// encodeEntry encodes the payload only for completed entries; generating and
// error markers persist with an empty payload.
func (c *Coordinator[V]) encodeEntry(e Entry[V]) (memcache.Item, error) {
	it := memcache.Item{
		Status:       string(e.Status),
		ErrorMessage: e.ErrorMessage,
		CreatedAt:    e.CreatedAt,
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now()
	}
	if e.Status == StatusCompleted {
		b, err := c.codec.Encode(e.Payload)
		if err != nil {
			return memcache.Item{}, err
		}
		it.Payload = b
	}
	return it, nil
}

func (c *Coordinator[V]) decodeItem(it memcache.Item) (Entry[V], error) {
	e := Entry[V]{
		Status:       Status(it.Status),
		ErrorMessage: it.ErrorMessage,
		CreatedAt:    it.CreatedAt,
	}
	if e.Status == StatusCompleted {
		v, err := c.codec.Decode(it.Payload)
		if err != nil {
			return Entry[V]{}, err
		}
		e.Payload = v
	}
	return e, nil
}

// selfHeal drops an undecodable entry from both tiers.
func (c *Coordinator[V]) selfHeal(ctx context.Context, k, reason string) {
	c.mem.Delete(k)
	_, _ = c.st.Delete(ctx, k)
	c.hooks.SelfHeal(k, reason)
	c.log.Warn("dropped undecodable entry", Fields{"key": k, "reason": reason})
}

func recordToItem(rec store.Record) memcache.Item {
	return memcache.Item{
		Status:       rec.Status,
		Payload:      rec.Payload,
		ErrorMessage: rec.ErrorMessage,
		CreatedAt:    rec.CreatedAt,
	}
}

func keyHasPrefix(k, prefix string) bool {
	return len(k) >= len(prefix) && k[:len(prefix)] == prefix
}
