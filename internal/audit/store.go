// Package audit keeps a bounded in-memory log of match traces so the
// explain tool can reconstruct why a request produced its candidates.
// Traces are keyed by the opaque match identifiers handed to callers;
// they live in process memory only and are evicted oldest-first.
package audit

import (
	"sync"

	"github.com/sponsorlabs/placemint/internal/model"
)

// DefaultCapacity bounds the trace store. At roughly 2 KB per trace this
// caps memory near 20 MB.
const DefaultCapacity = 10_000

// Store holds the most recent match traces keyed by match id. Every
// candidate of a request stores its own copy of the request's trace.
type Store struct {
	mu       sync.RWMutex
	traces   map[string]model.AuditTrace
	order    []string
	capacity int
}

// NewStore returns a trace store with the given capacity. Zero or
// negative capacity falls back to DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		traces:   make(map[string]model.AuditTrace, capacity),
		capacity: capacity,
	}
}

// Put records a trace under a match id, evicting the oldest entry when
// the store is full. Re-recording an existing id replaces the trace in
// place.
func (s *Store) Put(matchID string, trace model.AuditTrace) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.traces[matchID]; !exists {
		if len(s.order) >= s.capacity {
			oldest := s.order[0]
			s.order = s.order[1:]
			delete(s.traces, oldest)
		}
		s.order = append(s.order, matchID)
	}
	s.traces[matchID] = trace.Clone()
}

// Get returns a copy of the trace for a match id, if still retained.
func (s *Store) Get(matchID string) (model.AuditTrace, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trace, ok := s.traces[matchID]
	if !ok {
		return model.AuditTrace{}, false
	}
	return trace.Clone(), true
}

// Len reports the number of retained traces.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
