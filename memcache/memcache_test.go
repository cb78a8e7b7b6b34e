package memcache

import (
	"fmt"
	"testing"
	"time"
)

func item(payload string) Item {
	return Item{Status: "completed", Payload: []byte(payload), CreatedAt: time.Now()}
}

// ==============================
// Basic get/set behavior
// ==============================

func TestGetSetRoundtrip(t *testing.T) {
	c := New(10, 1<<20)

	c.Set("a::1", item("img-1"))

	got, ok := c.Get("a::1")
	if !ok {
		t.Fatalf("expected hit")
	}
	if string(got.Payload) != "img-1" {
		t.Fatalf("payload changed: %q", got.Payload)
	}
	if _, ok := c.Get("a::missing"); ok {
		t.Fatalf("expected miss for unknown key")
	}
}

// Get must increment accessCount by exactly 1 per call and leave the payload
// unchanged.
func TestAccessCounting(t *testing.T) {
	c := New(10, 1<<20)
	c.Set("a::1", item("img-1"))

	for i := 0; i < 3; i++ {
		if got, ok := c.Get("a::1"); !ok || string(got.Payload) != "img-1" {
			t.Fatalf("get %d: ok=%v payload=%q", i, ok, got.Payload)
		}
	}

	st := c.Stats()
	if len(st.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(st.Entries))
	}
	if st.Entries[0].AccessCount != 3 {
		t.Fatalf("accessCount = %d, want 3", st.Entries[0].AccessCount)
	}
}

// ==============================
// Eviction
// ==============================

// Inserting past maxCount evicts the entry with the oldest last access.
func TestEvictOldestAccess(t *testing.T) {
	c := New(3, 1<<20)

	c.Set("a::1", item("one"))
	c.Set("a::2", item("two"))
	c.Set("a::3", item("three"))

	// Touch 1 and 2 so 3 is the oldest-accessed.
	c.Get("a::1")
	c.Get("a::2")

	c.Set("a::4", item("four"))

	if c.Has("a::3") {
		t.Fatalf("oldest-accessed entry should have been evicted")
	}
	if _, ok := c.Get("a::3"); ok {
		t.Fatalf("get on evicted key must miss")
	}
	if !c.Has("a::1") || !c.Has("a::2") || !c.Has("a::4") {
		t.Fatalf("recently accessed entries should survive")
	}
}

// After inserts whose cumulative size exceeds maxBytes, the estimate must
// stay at or under maxBytes.
func TestByteBudgetHeld(t *testing.T) {
	maxBytes := int64(2048)
	c := New(1000, maxBytes)

	payload := make([]byte, 200)
	for i := 0; i < 50; i++ {
		c.Set(fmt.Sprintf("a::loc-%d", i), Item{Status: "completed", Payload: payload, CreatedAt: time.Now()})
		if got := c.EstimatedBytes(); got > maxBytes {
			t.Fatalf("estimated bytes %d exceeds budget %d after set %d", got, maxBytes, i)
		}
	}
	if st := c.Stats(); st.EstimatedBytes > st.MaxBytes {
		t.Fatalf("stats bytes %d > max %d", st.EstimatedBytes, st.MaxBytes)
	}
}

// An entry larger than the whole budget is dropped rather than kept over
// the cap.
func TestOversizedEntryDropped(t *testing.T) {
	c := New(10, 256)

	c.Set("a::big", Item{Status: "completed", Payload: make([]byte, 1024)})

	if c.Has("a::big") {
		t.Fatalf("oversized entry must not be kept")
	}
	if got := c.EstimatedBytes(); got != 0 {
		t.Fatalf("estimated bytes = %d, want 0", got)
	}
}

func TestEvictToBytes(t *testing.T) {
	c := New(100, 1<<20)
	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprintf("a::%d", i), item("payload"))
	}

	before := c.EstimatedBytes()
	evicted := c.EvictToBytes(before / 2)
	if evicted == 0 {
		t.Fatalf("expected evictions")
	}
	if c.EstimatedBytes() > before/2 {
		t.Fatalf("bytes %d still above target %d", c.EstimatedBytes(), before/2)
	}
}

// ==============================
// Clearing and scans
// ==============================

func TestClearPrefix(t *testing.T) {
	c := New(100, 1<<20)
	c.Set("owner-a::1", item("x"))
	c.Set("owner-a::2", item("y"))
	c.Set("owner-b::1", item("z"))

	if removed := c.ClearPrefix("owner-a::"); removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if c.Has("owner-a::1") || c.Has("owner-a::2") {
		t.Fatalf("owner-a entries should be gone")
	}
	if !c.Has("owner-b::1") {
		t.Fatalf("owner-b entry should survive an owner-a clear")
	}

	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("cache should be empty after Clear")
	}
}

func TestItemsByStatus(t *testing.T) {
	c := New(100, 1<<20)
	c.Set("a::1", Item{Status: "generating", CreatedAt: time.Now()})
	c.Set("a::2", item("done"))
	c.Set("a::3", Item{Status: "generating", CreatedAt: time.Now()})

	gen := c.ItemsByStatus("generating")
	if len(gen) != 2 {
		t.Fatalf("generating entries = %d, want 2", len(gen))
	}
	for _, ki := range gen {
		if ki.Item.Status != "generating" {
			t.Fatalf("unexpected status %q", ki.Item.Status)
		}
	}
}

// ==============================
// Stats
// ==============================

func TestHitRate(t *testing.T) {
	c := New(10, 1<<20)
	c.Set("a::1", item("x"))

	c.Get("a::1")    // hit
	c.Get("a::miss") // miss

	st := c.Stats()
	if st.HitRate != 0.5 {
		t.Fatalf("hit rate = %v, want 0.5", st.HitRate)
	}
	if st.Count != 1 || st.MaxCount != 10 {
		t.Fatalf("count=%d maxCount=%d", st.Count, st.MaxCount)
	}
}
