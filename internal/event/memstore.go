package event

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"geoattend/internal/apperr"
	"geoattend/internal/geofence"
)

// MemStore is a map-backed Store for dev and testing, mirroring the
// Postgres backend's semantics.
type MemStore struct {
	mu        sync.RWMutex
	events    map[string]Event
	locations map[string]Location
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		events:    make(map[string]Event),
		locations: make(map[string]Location),
	}
}

// GetEvent returns a single event by id.
func (s *MemStore) GetEvent(_ context.Context, id string) (Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return Event{}, apperr.ErrNotFound
	}
	return ev, nil
}

// SaveEvent inserts or updates an event.
func (s *MemStore) SaveEvent(_ context.Context, ev Event) (Event, error) {
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Status == "" {
		ev.Status = StatusUpcoming
	}
	if prev, ok := s.events[ev.ID]; ok {
		ev.CreatedAt = prev.CreatedAt
	} else {
		ev.CreatedAt = now
	}
	ev.UpdatedAt = now
	s.events[ev.ID] = ev
	return ev, nil
}

// TransitionEvent applies a guarded status change under the store mutex.
func (s *MemStore) TransitionEvent(_ context.Context, id string, from, to Status) (Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return Event{}, false, nil
	}
	if ev.Status != from {
		return Event{}, false, nil
	}
	ev.Status = to
	ev.UpdatedAt = time.Now().UTC()
	s.events[id] = ev
	return ev, true, nil
}

// FindEventsByStatus returns events in any of the given phases.
func (s *MemStore) FindEventsByStatus(_ context.Context, statuses ...Status) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Event
	for _, ev := range s.events {
		for _, st := range statuses {
			if ev.Status == st {
				res = append(res, ev)
				break
			}
		}
	}
	return res, nil
}

// GetLocation returns a location by id.
func (s *MemStore) GetLocation(_ context.Context, id string) (Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.locations[id]
	if !ok {
		return Location{}, apperr.ErrNotFound
	}
	return loc, nil
}

// SaveLocation inserts or updates a location.
func (s *MemStore) SaveLocation(_ context.Context, loc Location) (Location, error) {
	if len(loc.Boundary) < 3 {
		return Location{}, geofence.ErrDegenerateGeometry
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if loc.ID == "" {
		loc.ID = uuid.NewString()
	}
	if loc.CreatedAt.IsZero() {
		loc.CreatedAt = time.Now().UTC()
	}
	s.locations[loc.ID] = loc
	return loc, nil
}
