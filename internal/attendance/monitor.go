package attendance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"geoattend/internal/apperr"
	"geoattend/internal/event"
	"geoattend/internal/geofence"
	"geoattend/internal/metrics"
)

// Monitor ingests periodic presence pings while an event runs. Each ping
// touches only its own record, so there is no cross-student contention.
type Monitor struct {
	store  Store
	events EventSource
	now    func() time.Time
}

// NewMonitor creates a presence monitor.
func NewMonitor(store Store, events EventSource) *Monitor {
	return &Monitor{store: store, events: events, now: time.Now}
}

// RecordPing evaluates the coordinate against the event's venue boundary,
// appends the result to the student's ping log, and returns the inside
// verdict for immediate device feedback. It never changes record status;
// that is the finalizer's job.
func (m *Monitor) RecordPing(ctx context.Context, studentID, eventID, locationID string, lat, lng float64) (bool, error) {
	if studentID == "" || eventID == "" {
		return false, fmt.Errorf("%w: student and event required", apperr.ErrValidation)
	}

	ev, err := m.events.GetEvent(ctx, eventID)
	if err != nil {
		return false, err
	}
	if ev.Status != event.StatusOngoing {
		return false, ErrEventNotOngoing
	}

	rec, err := m.store.GetRecord(ctx, studentID, eventID)
	if err != nil {
		if isNotFound(err) {
			return false, ErrNotRegistered
		}
		return false, err
	}
	if rec.Status.Terminal() {
		return false, ErrNotRegistered
	}

	if locationID != "" && locationID != ev.VenueLocationID {
		return false, fmt.Errorf("%w: location %s is not the event's venue", apperr.ErrValidation, locationID)
	}
	venue, err := m.events.GetLocation(ctx, ev.VenueLocationID)
	if err != nil {
		return false, err
	}
	inside, err := geofence.Contains(geofence.Point{Lat: lat, Lng: lng}, venue.Boundary)
	if err != nil {
		return false, err
	}

	ping := Ping{
		EventID:    eventID,
		LocationID: venue.ID,
		Latitude:   lat,
		Longitude:  lng,
		Inside:     inside,
		Timestamp:  m.now().UTC().UnixMilli(),
	}
	if err := m.store.AppendPing(ctx, rec.ID, ping, studentID); err != nil {
		return false, err
	}
	metrics.Pings.WithLabelValues(strconv.FormatBool(inside)).Inc()
	return inside, nil
}
