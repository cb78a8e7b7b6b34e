package selector

import "testing"

// ==============================
// Eligibility sequence
// ==============================

// Pages 1..8 for a fresh owner must yield exactly t,f,f,t,f,t,f,t.
func TestEligibilitySequence(t *testing.T) {
	s := New()
	want := []bool{true, false, false, true, false, true, false, true}

	for i, w := range want {
		page := i + 1
		got := s.ShouldSelectPage("owner-a", loc(page), page)
		if got != w {
			t.Fatalf("page %d: got %v want %v", page, got, w)
		}
	}
}

// Page numbers parsed from trailing digits must follow the same rule.
func TestParsedPageNumbers(t *testing.T) {
	s := New()
	cases := []struct {
		location string
		want     bool
	}{
		{"page-1", true},
		{"page-2", false},
		{"page-3", false},
		{"page-4", true},
		{"chapter2/page-6", true},
		{"chapter2/page-7", false},
	}
	for _, c := range cases {
		if got := s.ShouldSelect("owner-a", c.location); got != c.want {
			t.Fatalf("ShouldSelect(%q): got %v want %v", c.location, got, c.want)
		}
	}
}

// ==============================
// Dedup and counter
// ==============================

// Selecting the same location twice returns true then false, and the counter
// increments only once.
func TestDedupSameLocation(t *testing.T) {
	s := New()

	if !s.ShouldSelectPage("owner-a", "loc-1", 1) {
		t.Fatalf("first call should select")
	}
	if s.Counter() != 1 {
		t.Fatalf("counter after first select = %d, want 1", s.Counter())
	}
	if s.ShouldSelectPage("owner-a", "loc-1", 1) {
		t.Fatalf("second call for same location should not select")
	}
	if s.Counter() != 1 {
		t.Fatalf("counter after revisit = %d, want 1", s.Counter())
	}
	if !s.IsProcessed("owner-a", "loc-1") {
		t.Fatalf("location should be marked processed")
	}
}

// Ineligible locations are not recorded, so a revisit re-evaluates the rule.
func TestIneligibleNotRecorded(t *testing.T) {
	s := New()

	if s.ShouldSelectPage("owner-a", "loc-2", 2) {
		t.Fatalf("page 2 should not be eligible")
	}
	if s.IsProcessed("owner-a", "loc-2") {
		t.Fatalf("unselected location must not be marked processed")
	}
	if s.Counter() != 0 {
		t.Fatalf("counter = %d, want 0", s.Counter())
	}
}

// ==============================
// Owner isolation
// ==============================

// Calls made while owner B is active must not affect owner A's state - but
// switching back to A resets, since state is keyed to the active owner.
func TestOwnerSwitchResets(t *testing.T) {
	s := New()

	if !s.ShouldSelectPage("owner-a", "loc-1", 1) {
		t.Fatalf("owner-a page 1 should select")
	}

	// Switch to B: fresh state.
	if !s.ShouldSelectPage("owner-b", "loc-1", 1) {
		t.Fatalf("owner-b page 1 should select on fresh state")
	}
	if s.Counter() != 1 {
		t.Fatalf("counter for owner-b = %d, want 1", s.Counter())
	}
	if s.IsProcessed("owner-a", "loc-1") {
		t.Fatalf("owner-a state should not be visible while owner-b is active")
	}

	// Back to A: reset again, loc-1 selectable anew.
	if !s.ShouldSelectPage("owner-a", "loc-1", 1) {
		t.Fatalf("owner-a should start fresh after switching back")
	}
}

func TestResetForOwner(t *testing.T) {
	s := New()

	s.ShouldSelectPage("owner-a", "loc-1", 1)
	s.ResetForOwner("owner-a")

	if s.Counter() != 0 {
		t.Fatalf("counter after reset = %d, want 0", s.Counter())
	}
	if s.IsProcessed("owner-a", "loc-1") {
		t.Fatalf("processed set should be empty after reset")
	}
	if !s.ShouldSelectPage("owner-a", "loc-1", 1) {
		t.Fatalf("location should be selectable again after reset")
	}
}

func loc(page int) string {
	return "loc-" + string(rune('0'+page))
}
