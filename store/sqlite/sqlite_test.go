package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/artcache/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "artcache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func rec(key, owner, loc string, createdAt time.Time) store.Record {
	return store.Record{
		Key:        key,
		OwnerID:    owner,
		LocationID: loc,
		Status:     "completed",
		Payload:    []byte("payload-" + key),
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
}

// ==============================
// Initialization
// ==============================

func TestInitializeIdempotentAndConcurrent(t *testing.T) {
	ctx := context.Background()
	s := New(filepath.Join(t.TempDir(), "init.db"))
	t.Cleanup(func() { _ = s.Close(ctx) })

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Initialize(ctx)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("concurrent Initialize %d: %v", i, err)
		}
	}
	// And once more after success.
	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("repeat Initialize: %v", err)
	}
}

func TestInitializeEmptyPathFails(t *testing.T) {
	s := New("")
	err := s.Initialize(context.Background())
	if err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, ok := err.(*store.Error); !ok {
		t.Fatalf("expected *store.Error, got %T", err)
	}
}

// ==============================
// Upsert semantics
// ==============================

// Set on an existing key preserves the original createdAt and refreshes
// updatedAt.
func TestUpsertPreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	origCreated := time.Now().Add(-time.Hour).Truncate(time.Millisecond)
	if err := s.Set(ctx, rec("k1", "owner-a", "loc-1", origCreated)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	update := rec("k1", "owner-a", "loc-1", time.Now())
	update.Status = "error"
	update.ErrorMessage = "generation failed"
	if err := s.Set(ctx, update); err != nil {
		t.Fatalf("Set update: %v", err)
	}

	got, ok, err := s.Get(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if !got.CreatedAt.Equal(origCreated.UTC()) {
		t.Fatalf("createdAt changed: %v vs %v", got.CreatedAt, origCreated.UTC())
	}
	if got.Status != "error" || got.ErrorMessage != "generation failed" {
		t.Fatalf("update not applied: %+v", got)
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Fatalf("updatedAt %v not after createdAt %v", got.UpdatedAt, got.CreatedAt)
	}
}

// ==============================
// Get / Has / Delete
// ==============================

func TestGetMissAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, ok, err := s.Get(ctx, "absent"); ok || err != nil {
		t.Fatalf("expected clean miss, ok=%v err=%v", ok, err)
	}
	if ok, err := s.Has(ctx, "absent"); ok || err != nil {
		t.Fatalf("Has on absent: ok=%v err=%v", ok, err)
	}
	if removed, err := s.Delete(ctx, "absent"); removed || err != nil {
		t.Fatalf("Delete on absent: removed=%v err=%v", removed, err)
	}

	if err := s.Set(ctx, rec("k1", "o", "l", time.Now())); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ok, _ := s.Has(ctx, "k1"); !ok {
		t.Fatalf("Has after Set should be true")
	}
	if removed, err := s.Delete(ctx, "k1"); !removed || err != nil {
		t.Fatalf("Delete: removed=%v err=%v", removed, err)
	}
	if ok, _ := s.Has(ctx, "k1"); ok {
		t.Fatalf("Has after Delete should be false")
	}
}

// ==============================
// Owner index: Load / Clear
// ==============================

func TestLoadAndClearByOwner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()

	_ = s.Set(ctx, rec("a::1", "owner-a", "1", now))
	_ = s.Set(ctx, rec("a::2", "owner-a", "2", now))
	_ = s.Set(ctx, rec("b::1", "owner-b", "1", now))

	recs, err := s.Load(ctx, "owner-a")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("owner-a records = %d, want 2", len(recs))
	}

	all, err := s.Load(ctx, "")
	if err != nil {
		t.Fatalf("Load all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all records = %d, want 3", len(all))
	}

	if err := s.Clear(ctx, "owner-a"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if ok, _ := s.Has(ctx, "a::1"); ok {
		t.Fatalf("owner-a record survived owner-scoped clear")
	}
	if ok, _ := s.Has(ctx, "b::1"); !ok {
		t.Fatalf("owner-b record should survive")
	}

	if err := s.Clear(ctx, ""); err != nil {
		t.Fatalf("Clear all: %v", err)
	}
	if st, _ := s.Stats(ctx); st.TotalEntries != 0 {
		t.Fatalf("entries after full clear = %d", st.TotalEntries)
	}
}

// ==============================
// Stats
// ==============================

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	oldest := time.Now().Add(-2 * time.Hour).Truncate(time.Millisecond)
	newest := time.Now().Truncate(time.Millisecond)
	_ = s.Set(ctx, rec("a::1", "owner-a", "1", oldest))
	_ = s.Set(ctx, rec("a::2", "owner-a", "2", newest))
	_ = s.Set(ctx, rec("b::1", "owner-b", "1", newest))

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalEntries != 3 {
		t.Fatalf("total = %d, want 3", st.TotalEntries)
	}
	if st.EntriesByOwner["owner-a"] != 2 || st.EntriesByOwner["owner-b"] != 1 {
		t.Fatalf("byOwner = %v", st.EntriesByOwner)
	}
	if !st.OldestCreatedAt.Equal(oldest.UTC()) {
		t.Fatalf("oldest = %v, want %v", st.OldestCreatedAt, oldest.UTC())
	}
	if !st.NewestCreatedAt.Equal(newest.UTC()) {
		t.Fatalf("newest = %v, want %v", st.NewestCreatedAt, newest.UTC())
	}
	if st.EstimatedBytes <= 0 {
		t.Fatalf("estimatedBytes = %d", st.EstimatedBytes)
	}
}

// ==============================
// Cleanup
// ==============================

func TestCleanupByAgeAndCount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()

	_ = s.Set(ctx, rec("stale-1", "o", "1", now.Add(-72*time.Hour)))
	_ = s.Set(ctx, rec("stale-2", "o", "2", now.Add(-48*time.Hour)))
	_ = s.Set(ctx, rec("mid", "o", "3", now.Add(-10*time.Hour)))
	_ = s.Set(ctx, rec("fresh", "o", "4", now))

	deleted, err := s.Cleanup(ctx, 24*time.Hour, 0)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}

	// Soft count target: prune oldest-first down to 1.
	deleted, err = s.Cleanup(ctx, 0, 1)
	if err != nil {
		t.Fatalf("Cleanup by count: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
	if ok, _ := s.Has(ctx, "mid"); ok {
		t.Fatalf("oldest remaining record should have been pruned")
	}
	if ok, _ := s.Has(ctx, "fresh"); !ok {
		t.Fatalf("newest record should survive")
	}
}
