package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoattend/internal/event"
	"geoattend/internal/notify"
)

// TestFullAttendanceFlow walks one event end to end: the scheduler opens
// registration, a student registers inside the gate boundary, the event goes
// ongoing, the student pings from inside the venue, the event concludes, and
// the finalizer marks the record PRESENT.
func TestFullAttendanceFlow(t *testing.T) {
	events := event.NewMemStore()
	records := NewMemStore()
	notifier := notify.NewInMemory(16)
	reg := NewRegistrar(records, events, false)
	mon := NewMonitor(records, events)
	fin := NewFinalizer(records, FinalizePolicy{})
	sched := event.NewScheduler(events, fin, notifier, time.Second)
	ctx := context.Background()

	// Anchor the schedule so that "now" falls ten minutes into the
	// registration window; registration happens in real time.
	t0 := time.Now().UTC().Add(-10 * time.Minute)
	ev := seedEventAt(t, events, t0)

	sched.WithClock(func() time.Time { return t0.Add(10 * time.Minute) })
	sched.Tick(ctx)
	got, err := events.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	require.Equal(t, event.StatusRegistration, got.Status)

	rec, err := reg.Register(ctx, validInput(got))
	require.NoError(t, err)
	require.NotNil(t, rec.TimeIn)
	require.True(t, rec.TimeIn.Before(got.Start), "check-in lands before event start")

	sched.WithClock(func() time.Time { return t0.Add(35 * time.Minute) })
	sched.Tick(ctx)
	got, err = events.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	require.Equal(t, event.StatusOngoing, got.Status)

	inside, err := mon.RecordPing(ctx, "s-100", ev.ID, "", 10.5, 10.5)
	require.NoError(t, err)
	assert.True(t, inside)

	sched.WithClock(func() time.Time { return t0.Add(2*time.Hour + time.Second) })
	sched.Tick(ctx)
	got, err = events.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, event.StatusFinalized, got.Status)

	final, err := records.GetRecord(ctx, "s-100", ev.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPresent, final.Status)
	assert.Nil(t, final.Reason)
	require.NotNil(t, final.TimeOut)
	require.Len(t, final.Pings, 1)
	assert.True(t, final.Pings[0].Inside)
}

// seedEventAt mirrors seedEvent but anchors the schedule at t0 and leaves
// the initial status to the scheduler.
func seedEventAt(t *testing.T, events *event.MemStore, t0 time.Time) event.Event {
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

	ev, err := events.SaveEvent(ctx, event.Event{
		Name:                   "orientation",
		RegistrationLocationID: area.ID,
		VenueLocationID:        hall.ID,
		AllStudents:            true,
		RegistrationStart:      t0,
		Start:                  t0.Add(30 * time.Minute),
		End:                    t0.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	return ev
}
