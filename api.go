package artcache

import (
	"fmt"
	"time"

	"github.com/unkn0wn-root/artcache/codec"
	"github.com/unkn0wn-root/artcache/memcache"
	"github.com/unkn0wn-root/artcache/store"
)

const (
	defaultMemoryMaxCount = 100
	defaultMemoryMaxBytes = 50 << 20 // 50 MiB soft cap
)

// Options tune the coordinator. Only Store and Codec are required; others
// have sensible defaults.
type Options[V any] struct {
	// Required
	Store store.Store
	Codec codec.Codec[V]

	MemoryMaxCount int    // 0 => 100 entries
	MemoryMaxBytes int64  // 0 => 50 MiB (estimated)
	Logger         Logger // nil => NopLogger
	Hooks          Hooks  // nil => NopHooks
}

// Criteria selects entries for Invalidate. Owner scopes the scan; OlderThan
// and Status are match criteria - an entry matching ANY supplied criterion is
// deleted. With neither supplied, everything in scope matches.
type Criteria struct {
	Owner     string
	OlderThan time.Duration
	Status    Status
}

// CleanupOptions drive Cleanup. MaxAge/MaxCount are delegated to the
// persistent tier; MaxBytes forces extra LRU eviction on the memory tier.
type CleanupOptions struct {
	MaxAge   time.Duration
	MaxCount int
	MaxBytes int64
}

// CleanupResult reports what Cleanup removed per tier.
type CleanupResult struct {
	MemoryEvicted     int
	PersistentDeleted int
}

// CombinedStats snapshots both tiers.
type CombinedStats struct {
	Memory     memcache.Stats
	Persistent store.Stats
}

// KeyedEntry pairs an entry with its key for scan results.
type KeyedEntry[V any] struct {
	Key   Key
	Entry Entry[V]
}

// New constructs a Coordinator from opts.
func New[V any](opts Options[V]) (*Coordinator[V], error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("artcache: store is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("artcache: codec is required")
	}

	c := &Coordinator[V]{
		st:    opts.Store,
		codec: opts.Codec,
	}

	// defaults
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	maxCount := coalesce[int](opts.MemoryMaxCount, defaultMemoryMaxCount)
	maxBytes := coalesce[int64](opts.MemoryMaxBytes, defaultMemoryMaxBytes)
	c.mem = memcache.New(maxCount, maxBytes)

	return c, nil
}
