// Package store holds event history: an in-memory append-only log per
// node, and an optional SQLite-backed durable log behind the HistoryLog
// seam.
//
// The in-memory EventStore is the authoritative history during a
// simulation run. It never truncates and never mutates an appended
// entry — history is an audit trail, not the materialized view. A
// parallel id-set makes duplicate detection O(1).
package store

import (
	"sync"

	"causalmesh/pkg/model"
)

// EventStore is an append-only event log with O(1) duplicate lookup.
// Writes come only from the owning node, but observation (counts,
// snapshots) may happen from other goroutines, so reads and writes are
// guarded.
type EventStore struct {
	mu     sync.RWMutex
	events []*model.Event
	ids    map[string]struct{}
}

// NewEventStore returns an empty log.
func NewEventStore() *EventStore {
	return &EventStore{ids: make(map[string]struct{})}
}

// Append adds an event to the log. Appending an id already present is a
// no-op; existing entries are never removed or modified.
func (s *EventStore) Append(e *model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.ids[e.ID]; dup {
		return
	}
	s.events = append(s.events, e)
	s.ids[e.ID] = struct{}{}
}

// Count returns the number of events in the log.
func (s *EventStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Contains reports whether an event with the given id has been appended.
func (s *EventStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Events returns a snapshot of the log in append order. Entries are
// deep-copied so callers cannot mutate stored history.
func (s *EventStore) Events() []*model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Event, len(s.events))
	for i, e := range s.events {
		out[i] = e.Clone()
	}
	return out
}

// IDs returns a copy of the set of appended event ids.
func (s *EventStore) IDs() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{}, len(s.ids))
	for id := range s.ids {
		out[id] = struct{}{}
	}
	return out
}
