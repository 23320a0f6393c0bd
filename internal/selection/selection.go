// Package selection tracks the stores a client picked during onboarding.
// A non-empty selection unlocks the chat view.
package selection

import (
	"slices"
	"sync"
)

// Set is a set of opaque store ids. Ids are not checked against the
// catalog. The zero value is not usable; call New.
type Set struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func New() *Set {
	return &Set{ids: make(map[string]struct{})}
}

// Toggle adds id if absent and removes it if present.
func (s *Set) Toggle(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		delete(s.ids, id)
		return
	}
	s.ids[id] = struct{}{}
}

// SelectAll deselects everything when the selection already has as many
// entries as all, and otherwise selects exactly all.
func (s *Set) SelectAll(all []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ids) == len(all) {
		clear(s.ids)
		return
	}
	clear(s.ids)
	for _, id := range all {
		s.ids[id] = struct{}{}
	}
}

func (s *Set) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// IDs returns the selected ids sorted.
func (s *Set) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

func (s *Set) Clear() {
	s.mu.Lock()
	clear(s.ids)
	s.mu.Unlock()
}
