// Package attendance owns attendance records: their creation at
// registration, the ping log accumulated while an event runs, and the
// terminal verdict written at finalization.
package attendance

import (
	"errors"
	"time"
)

// RecordStatus is the state of one student's attendance at one event.
type RecordStatus string

const (
	StatusRegistered RecordStatus = "REGISTERED"
	StatusPresent    RecordStatus = "PRESENT"
	StatusLate       RecordStatus = "LATE"
	StatusAbsent     RecordStatus = "ABSENT"
)

// Terminal reports whether the status is a finalized verdict.
func (s RecordStatus) Terminal() bool {
	return s == StatusPresent || s == StatusLate || s == StatusAbsent
}

// Ping is one location report, appended in arrival order. Out-of-order
// timestamps are accepted but never reordered.
type Ping struct {
	EventID    string  `json:"event_id"`
	LocationID string  `json:"location_id"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Inside     bool    `json:"is_inside"`
	Timestamp  int64   `json:"timestamp"` // epoch millis
}

// Record is a student's attendance at an event. At most one non-superseded
// record exists per (StudentID, EventID); the store enforces that with a
// uniqueness constraint so concurrent registrations race safely.
type Record struct {
	ID                     string       `json:"id"`
	StudentID              string       `json:"student_id"`
	EventID                string       `json:"event_id"`
	RegistrationLocationID string       `json:"registration_location_id"`
	TimeIn                 *time.Time   `json:"time_in"`
	TimeOut                *time.Time   `json:"time_out"`
	Status                 RecordStatus `json:"status"`
	Reason                 *string      `json:"reason"`
	Pings                  []Ping       `json:"pings"`
	UpdatedBy              string       `json:"updated_by"`
	CreatedAt              time.Time    `json:"created_at"`
	UpdatedAt              time.Time    `json:"updated_at"`
}

var (
	// ErrAlreadyRegistered is returned when a record already exists for the
	// (student, event) pair.
	ErrAlreadyRegistered = errors.New("already registered for this event")
	// ErrOutsideGeofence rejects a registration reported from outside the
	// registration-area boundary.
	ErrOutsideGeofence = errors.New("coordinate is outside the registration area")
	// ErrBiometricMismatch rejects a registration whose identity verification
	// failed.
	ErrBiometricMismatch = errors.New("biometric verification failed")
	// ErrEventNotOngoing rejects pings while the event is not running.
	ErrEventNotOngoing = errors.New("event is not ongoing")
	// ErrNotRegistered rejects pings from students without an open record.
	ErrNotRegistered = errors.New("student is not registered for this event")
	// ErrRegistrationClosed rejects registrations outside the open window.
	ErrRegistrationClosed = errors.New("event is not open for registration")
	// ErrNotEligible rejects students outside the event's eligibility criteria.
	ErrNotEligible = errors.New("student is not eligible for this event")
)
