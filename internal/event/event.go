package event

import (
	"errors"
	"time"

	"geoattend/internal/geofence"
)

// Status is the lifecycle phase of an event.
type Status string

const (
	StatusUpcoming     Status = "UPCOMING"
	StatusRegistration Status = "REGISTRATION"
	StatusOngoing      Status = "ONGOING"
	StatusConcluded    Status = "CONCLUDED"
	StatusFinalized    Status = "FINALIZED"
	StatusCancelled    Status = "CANCELLED"
)

// Terminal reports whether the status can never change again.
func (s Status) Terminal() bool {
	return s == StatusFinalized || s == StatusCancelled
}

// LocationPurpose distinguishes where students check in from where the event
// is held.
type LocationPurpose string

const (
	PurposeRegistrationArea LocationPurpose = "REGISTRATION_AREA"
	PurposeEventVenue       LocationPurpose = "EVENT_VENUE"
)

// LocationEnvironment hints at expected GPS accuracy for clients; the
// geofence check ignores it.
type LocationEnvironment string

const (
	EnvironmentIndoor  LocationEnvironment = "INDOOR"
	EnvironmentOutdoor LocationEnvironment = "OUTDOOR"
)

// Location is a named geofenced area.
type Location struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Purpose     LocationPurpose     `json:"purpose"`
	Environment LocationEnvironment `json:"environment"`
	Boundary    []geofence.Point    `json:"boundary"`
	CreatedAt   time.Time           `json:"created_at"`
}

// Event is a scheduled happening students attend in person.
type Event struct {
	ID                     string    `json:"id"`
	Name                   string    `json:"name"`
	Description            string    `json:"description"`
	RegistrationLocationID string    `json:"registration_location_id"`
	VenueLocationID        string    `json:"venue_location_id"`
	EligibleGroups         []string  `json:"eligible_groups"`
	AllStudents            bool      `json:"all_students"`
	RegistrationStart      time.Time `json:"registration_start"`
	Start                  time.Time `json:"start"`
	End                    time.Time `json:"end"`
	Status                 Status    `json:"status"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// ErrInvalidSchedule rejects events whose timestamps are out of order.
var ErrInvalidSchedule = errors.New("event schedule must satisfy registrationStart < start < end")

// Validate checks the schedule ordering invariant.
func (e Event) Validate() error {
	if !e.RegistrationStart.Before(e.Start) || !e.Start.Before(e.End) {
		return ErrInvalidSchedule
	}
	return nil
}

// StatusAt derives the lifecycle phase from wall-clock time. It never returns
// FINALIZED or CANCELLED; those are applied by the finalizer and by
// administrative cancellation respectively.
func (e Event) StatusAt(now time.Time) Status {
	switch {
	case now.Before(e.RegistrationStart):
		return StatusUpcoming
	case now.Before(e.Start):
		return StatusRegistration
	case now.Before(e.End):
		return StatusOngoing
	default:
		return StatusConcluded
	}
}

// RegistrationOpen reports whether registrations are accepted in the current
// phase. Late arrivals during ONGOING are tolerated unless cutoffAtStart is
// set.
func (e Event) RegistrationOpen(cutoffAtStart bool) bool {
	if e.Status == StatusRegistration {
		return true
	}
	return e.Status == StatusOngoing && !cutoffAtStart
}

// Eligible reports whether a student with the given group memberships may
// register.
func (e Event) Eligible(groups []string) bool {
	if e.AllStudents {
		return true
	}
	for _, g := range groups {
		for _, allowed := range e.EligibleGroups {
			if g == allowed {
				return true
			}
		}
	}
	return false
}
