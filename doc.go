// Package artcache caches and serves on-demand generated artifacts keyed by a
// logical content position (owner, location). A fast in-memory LRU tier sits
// over a durable persistent store; a per-key single-flight orchestrator wraps
// outbound generation calls with retry, backoff, and cooperative cancellation;
// a deterministic selector decides which locations are eligible for generation.
//
// Components:
//   - Coordinator[V]: composes the memory tier and a store.Store into one
//     read/write/invalidate/hydrate API. Serialization via a pluggable Codec[V].
//   - memcache.Cache: bounded, size-aware LRU (oldest-access-first eviction).
//   - store.Store: durable key-value store indexed by owner and createdAt
//     (SQLite and Redis backends provided).
//   - flight.Orchestrator: at most one in-progress operation per key; a new
//     request always supersedes (cancels) its predecessor.
//   - selector.Selector: page-eligibility + visited-location dedup per owner.
//
// Keys:
//
//	<owner>::<location>  - one logical artifact per (owner, location)
//
// The persistent tier is the authoritative long-lived record; the memory tier
// is a derived, safe-to-drop subset. A persistent write failure after a memory
// write is surfaced as a StorageError but the memory value is kept, so the
// session keeps seeing the value even though durability failed.
package artcache
