// Package store defines the durable persistence contract used by artcache.
//
// A Store is the authoritative long-lived record for artifact entries. It is
// keyed by the serialized cache key and secondary-indexed by owner and by
// creation time. Payloads are opaque bytes: the coordinator encodes values
// through its Codec before they reach a Store, and implementations MUST return
// exactly the bytes they were given (no re-encoding, no mutation).
package store

import (
	"context"
	"time"
)

// Record is the persisted shape of one artifact entry (schema version 1).
// CreatedAt is preserved across upserts; UpdatedAt is refreshed on every Set.
type Record struct {
	Key          string
	OwnerID      string
	LocationID   string
	Status       string
	Payload      []byte
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Stats summarizes the persisted key space.
type Stats struct {
	TotalEntries    int
	EntriesByOwner  map[string]int
	OldestCreatedAt time.Time
	NewestCreatedAt time.Time
	EstimatedBytes  int64
}

// Store is a durable key-value store for artifact records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Initialize prepares the store (schema, connections). Idempotent:
	// concurrent callers share one in-flight initialization, and a failed
	// initialization leaves the store uninitialized until retried.
	Initialize(ctx context.Context) error

	// Get returns (record, true, nil) on hit; (zero, false, nil) on miss.
	Get(ctx context.Context, key string) (Record, bool, error)

	// Set upserts a record. If the key already exists its original CreatedAt
	// is preserved; UpdatedAt is refreshed either way.
	Set(ctx context.Context, rec Record) error

	// Has reports whether a record exists for key.
	Has(ctx context.Context, key string) (bool, error)

	// Delete removes a record, reporting whether something was removed.
	Delete(ctx context.Context, key string) (bool, error)

	// Clear removes every record for owner, or all records when owner is "".
	Clear(ctx context.Context, owner string) error

	// Load returns all records for owner via the owner index, or every record
	// when owner is "". Used for hydration and invalidation scans.
	Load(ctx context.Context, owner string) ([]Record, error)

	// Stats summarizes the persisted key space.
	Stats(ctx context.Context) (Stats, error)

	// Cleanup deletes records older than maxAge. When maxCount > 0 it is a
	// soft target: after the age pass, oldest records are pruned until at most
	// maxCount remain. Returns the number of records deleted.
	Cleanup(ctx context.Context, maxAge time.Duration, maxCount int) (int, error)

	// Close releases resources.
	Close(ctx context.Context) error
}
