// Package selector decides which content locations are eligible for artifact
// generation. It is a deterministic eligibility rule plus a visited-location
// dedup, both keyed to the active owner: switching owners resets the state.
//
// The dedup exists so a revisit to an already-handled location is answered
// from the cache instead of re-triggering generation.
package selector

import "sync"

// Selector holds per-owner selection state. Safe for concurrent use.
type Selector struct {
	mu        sync.Mutex
	owner     string
	counter   int
	processed map[string]struct{}
}

func New() *Selector {
	return &Selector{processed: make(map[string]struct{})}
}

// ShouldSelect reports whether location is eligible for generation, deriving
// the page number from trailing digits in location (falling back to the
// would-be ordinal when there are none).
func (s *Selector) ShouldSelect(owner, location string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.switchOwnerLocked(owner)
	page, ok := trailingInt(location)
	if !ok {
		page = s.counter + 1
	}
	return s.selectLocked(location, page)
}

// ShouldSelectPage is ShouldSelect with the page number supplied by the
// caller instead of parsed.
func (s *Selector) ShouldSelectPage(owner, location string, page int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.switchOwnerLocked(owner)
	return s.selectLocked(location, page)
}

// ResetForOwner clears the state and binds it to owner.
func (s *Selector) ResetForOwner(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked(owner)
}

// IsProcessed reports whether location was already selected for owner.
// False for a non-active owner; never mutates state.
func (s *Selector) IsProcessed(owner, location string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner != s.owner {
		return false
	}
	_, ok := s.processed[location]
	return ok
}

// Counter returns the number of locations selected for the active owner.
func (s *Selector) Counter() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter
}

func (s *Selector) switchOwnerLocked(owner string) {
	if owner != s.owner {
		s.resetLocked(owner)
	}
}

func (s *Selector) resetLocked(owner string) {
	s.owner = owner
	s.counter = 0
	s.processed = make(map[string]struct{})
}

// selectLocked applies the eligibility rule and records the location.
// An already-processed location is never re-selected and leaves the state
// untouched, which is what lets revisits replay from the cache.
func (s *Selector) selectLocked(location string, page int) bool {
	if _, done := s.processed[location]; done {
		return false
	}
	if !eligible(page) {
		return false
	}
	s.processed[location] = struct{}{}
	s.counter++
	return true
}

// eligible yields true,false,false,true,false,true,false,true for pages 1..8:
// the first page always, then every even page past the second.
func eligible(page int) bool {
	return page == 1 || (page > 2 && page%2 == 0)
}

// trailingInt parses the run of decimal digits at the end of s.
func trailingInt(s string) (int, bool) {
	end := len(s)
	start := end
	for start > 0 && s[start-1] >= '0' && s[start-1] <= '9' {
		start--
	}
	if start == end {
		return 0, false
	}
	n := 0
	for i := start; i < end; i++ {
		n = n*10 + int(s[i]-'0')
		if n < 0 { // overflow
			return 0, false
		}
	}
	return n, true
}
