package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"geoattend/internal/apperr"
	"geoattend/internal/event"
	"geoattend/internal/geofence"
	"geoattend/internal/metrics"
)

// EventSource is the slice of the event store the attendance services read.
type EventSource interface {
	GetEvent(ctx context.Context, id string) (event.Event, error)
	GetLocation(ctx context.Context, id string) (event.Location, error)
}

// RegisterInput carries one registration attempt. BiometricVerdict is the
// boolean outcome of the external verification service; this engine never
// sees encodings or scores.
type RegisterInput struct {
	StudentID        string
	EventID          string
	LocationID       string
	Latitude         float64
	Longitude        float64
	StudentGroups    []string
	BiometricVerdict bool
}

// Registrar validates registration attempts and creates the attendance
// record exactly once per (student, event) pair.
type Registrar struct {
	store  Store
	events EventSource

	// cutoffAtStart rejects registrations once the event is ONGOING.
	cutoffAtStart bool
	now           func() time.Time
}

// NewRegistrar creates a registrar. cutoffAtStart narrows the open window
// from REGISTRATION+ONGOING down to REGISTRATION only.
func NewRegistrar(store Store, events EventSource, cutoffAtStart bool) *Registrar {
	return &Registrar{store: store, events: events, cutoffAtStart: cutoffAtStart, now: time.Now}
}

// Register runs the precondition chain in order, short-circuiting on the
// first failure, then creates the record. The duplicate check and the insert
// are atomic at the store level, so concurrent attempts for the same pair
// produce exactly one record.
func (r *Registrar) Register(ctx context.Context, in RegisterInput) (Record, error) {
	if in.StudentID == "" || in.EventID == "" {
		metrics.Registrations.WithLabelValues("invalid").Inc()
		return Record{}, fmt.Errorf("%w: student and event required", apperr.ErrValidation)
	}

	ev, err := r.events.GetEvent(ctx, in.EventID)
	if err != nil {
		metrics.Registrations.WithLabelValues("error").Inc()
		return Record{}, err
	}
	if !ev.RegistrationOpen(r.cutoffAtStart) {
		metrics.Registrations.WithLabelValues("closed").Inc()
		return Record{}, ErrRegistrationClosed
	}
	if !ev.Eligible(in.StudentGroups) {
		metrics.Registrations.WithLabelValues("ineligible").Inc()
		return Record{}, ErrNotEligible
	}

	if _, err := r.store.GetRecord(ctx, in.StudentID, in.EventID); err == nil {
		metrics.Registrations.WithLabelValues("duplicate").Inc()
		return Record{}, ErrAlreadyRegistered
	} else if !isNotFound(err) {
		metrics.Registrations.WithLabelValues("error").Inc()
		return Record{}, err
	}

	if in.LocationID != "" && in.LocationID != ev.RegistrationLocationID {
		metrics.Registrations.WithLabelValues("invalid").Inc()
		return Record{}, fmt.Errorf("%w: location %s is not the event's registration area", apperr.ErrValidation, in.LocationID)
	}
	area, err := r.events.GetLocation(ctx, ev.RegistrationLocationID)
	if err != nil {
		metrics.Registrations.WithLabelValues("error").Inc()
		return Record{}, err
	}
	inside, err := geofence.Contains(geofence.Point{Lat: in.Latitude, Lng: in.Longitude}, area.Boundary)
	if err != nil {
		metrics.Registrations.WithLabelValues("error").Inc()
		return Record{}, err
	}
	if !inside {
		metrics.Registrations.WithLabelValues("outside").Inc()
		return Record{}, ErrOutsideGeofence
	}

	if !in.BiometricVerdict {
		metrics.Registrations.WithLabelValues("biometric").Inc()
		return Record{}, ErrBiometricMismatch
	}

	timeIn := r.now().UTC()
	rec := Record{
		StudentID:              in.StudentID,
		EventID:                in.EventID,
		RegistrationLocationID: ev.RegistrationLocationID,
		TimeIn:                 &timeIn,
		Status:                 StatusRegistered,
		UpdatedBy:              in.StudentID,
	}
	stored, created, err := r.store.CreateIfAbsent(ctx, rec)
	if err != nil {
		metrics.Registrations.WithLabelValues("error").Inc()
		return Record{}, err
	}
	if !created {
		metrics.Registrations.WithLabelValues("duplicate").Inc()
		return Record{}, ErrAlreadyRegistered
	}
	metrics.Registrations.WithLabelValues("ok").Inc()
	return stored, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, apperr.ErrNotFound)
}
