// Package items aggregates the item titles observed across instances so the
// dashboard can offer them for rule editing.
package items

import (
	"sort"
	"sync"
)

// Set tracks which titles each source has reported and serves the union.
// Sources are instance IDs plus the rule store's static seed.
type Set struct {
	mu      sync.RWMutex
	sources map[string]map[string]struct{}
}

// NewSet returns an empty item set.
func NewSet() *Set {
	return &Set{sources: make(map[string]map[string]struct{})}
}

// Report replaces the title set attributed to one source. An empty slice
// clears that source's contribution.
func (s *Set) Report(sourceID string, titles []string) {
	next := make(map[string]struct{}, len(titles))
	for _, title := range titles {
		if title != "" {
			next[title] = struct{}{}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(next) == 0 {
		delete(s.sources, sourceID)
		return
	}
	s.sources[sourceID] = next
}

// Seed merges titles into a source without dropping what it already reported.
func (s *Set) Seed(sourceID string, titles []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.sources[sourceID]
	if existing == nil {
		existing = make(map[string]struct{}, len(titles))
		s.sources[sourceID] = existing
	}
	for _, title := range titles {
		if title != "" {
			existing[title] = struct{}{}
		}
	}
}

// Forget drops a source entirely, used when an instance is removed.
func (s *Set) Forget(sourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sources, sourceID)
}

// Snapshot returns the sorted union of all reported titles.
func (s *Set) Snapshot() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, titles := range s.sources {
		for title := range titles {
			seen[title] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for title := range seen {
		out = append(out, title)
	}
	sort.Strings(out)
	return out
}
