package overlay

import "sync"

// seenIDs deduplicates message ids across the dual delivery paths. The
// insertion order doubles as recency for the periodic trim.
type seenIDs struct {
	mu        sync.Mutex
	ids       map[string]struct{}
	order     []string
	threshold int
	keep      int
}

func newSeenIDs(threshold, keep int) *seenIDs {
	return &seenIDs{
		ids:       make(map[string]struct{}),
		threshold: threshold,
		keep:      keep,
	}
}

// Add records an id and reports whether it was previously unseen.
func (s *seenIDs) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

// Len returns the number of tracked ids.
func (s *seenIDs) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Trim retains only the keep most recent ids once the set exceeds its
// threshold.
func (s *seenIDs) Trim() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) <= s.threshold {
		return
	}
	for _, id := range s.order[:len(s.order)-s.keep] {
		delete(s.ids, id)
	}
	s.order = append([]string{}, s.order[len(s.order)-s.keep:]...)
}

// Clear empties the set.
func (s *seenIDs) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = make(map[string]struct{})
	s.order = nil
}
