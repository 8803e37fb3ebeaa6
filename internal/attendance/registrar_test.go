package attendance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoattend/internal/apperr"
	"geoattend/internal/event"
	"geoattend/internal/geofence"
)

var (
	regArea = []geofence.Point{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 1}, {Lat: 1, Lng: 1}, {Lat: 1, Lng: 0}}
	venue   = []geofence.Point{{Lat: 10, Lng: 10}, {Lat: 10, Lng: 11}, {Lat: 11, Lng: 11}, {Lat: 11, Lng: 10}}
)

// seedEvent stores a registration area, venue, and an event in the given
// phase, returning the stored event.
func seedEvent(t *testing.T, events *event.MemStore, status event.Status) event.Event {
	t.Helper()
	ctx := context.Background()

	area, err := events.SaveLocation(ctx, event.Location{
		Name: "main gate", Purpose: event.PurposeRegistrationArea,
		Environment: event.EnvironmentOutdoor, Boundary: regArea,
	})
	require.NoError(t, err)
	hall, err := events.SaveLocation(ctx, event.Location{
		Name: "auditorium", Purpose: event.PurposeEventVenue,
		Environment: event.EnvironmentIndoor, Boundary: venue,
	})
	require.NoError(t, err)

	t0 := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	ev, err := events.SaveEvent(ctx, event.Event{
		Name:                   "orientation",
		RegistrationLocationID: area.ID,
		VenueLocationID:        hall.ID,
		AllStudents:            true,
		RegistrationStart:      t0,
		Start:                  t0.Add(30 * time.Minute),
		End:                    t0.Add(2 * time.Hour),
		Status:                 status,
	})
	require.NoError(t, err)
	return ev
}

func validInput(ev event.Event) RegisterInput {
	return RegisterInput{
		StudentID:        "s-100",
		EventID:          ev.ID,
		Latitude:         0.5,
		Longitude:        0.5,
		BiometricVerdict: true,
	}
}

func TestRegisterSuccess(t *testing.T) {
	events := event.NewMemStore()
	records := NewMemStore()
	reg := NewRegistrar(records, events, false)
	ev := seedEvent(t, events, event.StatusRegistration)

	rec, err := reg.Register(context.Background(), validInput(ev))
	require.NoError(t, err)
	assert.Equal(t, StatusRegistered, rec.Status)
	assert.Equal(t, ev.RegistrationLocationID, rec.RegistrationLocationID)
	require.NotNil(t, rec.TimeIn)
	assert.Empty(t, rec.Pings)
	assert.Nil(t, rec.Reason)
}

func TestRegisterWindowPolicy(t *testing.T) {
	events := event.NewMemStore()
	records := NewMemStore()

	// ONGOING tolerated by default.
	ev := seedEvent(t, events, event.StatusOngoing)
	_, err := NewRegistrar(records, events, false).Register(context.Background(), validInput(ev))
	assert.NoError(t, err)

	// Stricter policy closes the window at start.
	_, err = NewRegistrar(NewMemStore(), events, true).Register(context.Background(), validInput(ev))
	assert.ErrorIs(t, err, ErrRegistrationClosed)
}

func TestRegisterClosedPhases(t *testing.T) {
	for _, status := range []event.Status{
		event.StatusUpcoming, event.StatusConcluded, event.StatusFinalized, event.StatusCancelled,
	} {
		events := event.NewMemStore()
		reg := NewRegistrar(NewMemStore(), events, false)
		ev := seedEvent(t, events, status)
		_, err := reg.Register(context.Background(), validInput(ev))
		assert.ErrorIs(t, err, ErrRegistrationClosed, string(status))
	}
}

func TestRegisterPreconditionOrder(t *testing.T) {
	events := event.NewMemStore()
	records := NewMemStore()
	reg := NewRegistrar(records, events, false)
	ev := seedEvent(t, events, event.StatusRegistration)
	ctx := context.Background()

	t.Run("unknown event", func(t *testing.T) {
		in := validInput(ev)
		in.EventID = "nope"
		_, err := reg.Register(ctx, in)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("ineligible", func(t *testing.T) {
		restricted := ev
		restricted.AllStudents = false
		restricted.EligibleGroups = []string{"cs-2026"}
		restricted, err := events.SaveEvent(ctx, restricted)
		require.NoError(t, err)

		in := validInput(restricted)
		in.StudentGroups = []string{"me-2025"}
		_, err = reg.Register(ctx, in)
		assert.ErrorIs(t, err, ErrNotEligible)

		// Restore for the remaining subtests.
		_, err = events.SaveEvent(ctx, ev)
		require.NoError(t, err)
	})

	t.Run("outside geofence", func(t *testing.T) {
		in := validInput(ev)
		in.Latitude, in.Longitude = 10.5, 10.5 // inside the venue, not the gate
		_, err := reg.Register(ctx, in)
		assert.ErrorIs(t, err, ErrOutsideGeofence)
	})

	t.Run("biometric mismatch", func(t *testing.T) {
		in := validInput(ev)
		in.BiometricVerdict = false
		_, err := reg.Register(ctx, in)
		assert.ErrorIs(t, err, ErrBiometricMismatch)
	})

	t.Run("geofence rejected before biometric consulted", func(t *testing.T) {
		in := validInput(ev)
		in.Latitude, in.Longitude = 10.5, 10.5
		in.BiometricVerdict = false
		_, err := reg.Register(ctx, in)
		assert.ErrorIs(t, err, ErrOutsideGeofence)
	})

	t.Run("duplicate", func(t *testing.T) {
		_, err := reg.Register(ctx, validInput(ev))
		require.NoError(t, err)
		_, err = reg.Register(ctx, validInput(ev))
		assert.ErrorIs(t, err, ErrAlreadyRegistered)
	})
}

func TestRegisterConcurrentAttemptsCreateOneRecord(t *testing.T) {
	events := event.NewMemStore()
	records := NewMemStore()
	reg := NewRegistrar(records, events, false)
	ev := seedEvent(t, events, event.StatusRegistration)
	ctx := context.Background()

	const attempts = 50
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		created    int
		duplicates int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Register(ctx, validInput(ev))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case assert.ErrorIs(t, err, ErrAlreadyRegistered):
				duplicates++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, attempts-1, duplicates)

	rec, err := records.GetRecord(ctx, "s-100", ev.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRegistered, rec.Status)
}
