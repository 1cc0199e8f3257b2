// Package selection holds the set of currently selected element ids shared
// by every view.
package selection

import (
	"sort"
	"sync"
)

// Set is a concurrency-safe set of element ids. Membership is not checked
// against any store: an id may stay selected after its element is gone,
// and readers are expected to ignore ids they cannot resolve.
type Set struct {
	mu       sync.RWMutex
	ids      map[string]struct{}
	revision uint64
}

// New returns an empty set.
func New() *Set {
	return &Set{ids: make(map[string]struct{})}
}

// Select makes id the only member when exclusive is true. Otherwise it
// toggles id's membership.
func (s *Set) Select(id string, exclusive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if exclusive {
		s.ids = map[string]struct{}{id: {}}
		s.revision++
		return
	}
	if _, ok := s.ids[id]; ok {
		delete(s.ids, id)
	} else {
		s.ids[id] = struct{}{}
	}
	s.revision++
}

// Remove drops id if present.
func (s *Set) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; ok {
		delete(s.ids, id)
		s.revision++
	}
}

// Clear empties the set.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.ids) == 0 {
		return
	}
	s.ids = make(map[string]struct{})
	s.revision++
}

// Has reports whether id is selected.
func (s *Set) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// All returns the selected ids, sorted.
func (s *Set) All() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of selected ids.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Revision increases on every change, letting a surface skip re-rendering
// when nothing moved.
func (s *Set) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}
