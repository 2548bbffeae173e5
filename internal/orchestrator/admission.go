package orchestrator

import "sync"

// slots gates how many searches may be live concurrently. Holders are
// tracked per search id so Release is idempotent and a double Acquire for
// the same search cannot consume two slots.
type slots struct {
	mu      sync.Mutex
	max     int
	holders map[int64]struct{}
}

func newSlots(max int) *slots {
	return &slots{max: max, holders: make(map[int64]struct{})}
}

// Acquire takes a slot for the search or reports ErrCapacityExceeded.
func (s *slots) Acquire(searchID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.holders[searchID]; ok {
		return nil
	}
	if len(s.holders) >= s.max {
		return ErrCapacityExceeded
	}
	s.holders[searchID] = struct{}{}
	return nil
}

// Release returns the search's slot. Safe to call when no slot is held.
func (s *slots) Release(searchID int64) {
	s.mu.Lock()
	delete(s.holders, searchID)
	s.mu.Unlock()
}

// Held returns the number of slots currently taken.
func (s *slots) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.holders)
}
