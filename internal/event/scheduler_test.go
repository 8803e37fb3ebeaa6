package event

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoattend/internal/notify"
)

type stubFinalizer struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (f *stubFinalizer) FinalizeEvent(_ context.Context, _ Event) error {
	f.calls.Add(1)
	if f.fail.Load() {
		return errors.New("store flaked")
	}
	return nil
}

func newTestScheduler(t *testing.T) (*Scheduler, *MemStore, *stubFinalizer, *notify.InMemory) {
	t.Helper()
	store := NewMemStore()
	fin := &stubFinalizer{}
	notifier := notify.NewInMemory(64)
	s := NewScheduler(store, fin, notifier, time.Second)
	return s, store, fin, notifier
}

func drain(n *notify.InMemory) []notify.Change {
	var out []notify.Change
	for {
		select {
		case c := <-n.Changes():
			out = append(out, c)
		default:
			return out
		}
	}
}

func TestSchedulerWalksLifecycleInOrder(t *testing.T) {
	s, store, fin, notifier := newTestScheduler(t)
	ctx := context.Background()

	t0 := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	ev, err := store.SaveEvent(ctx, testEvent(t0))
	require.NoError(t, err)
	require.Equal(t, StatusUpcoming, ev.Status)

	steps := []struct {
		now  time.Time
		want Status
	}{
		{t0.Add(-time.Hour), StatusUpcoming},
		{t0.Add(10 * time.Minute), StatusRegistration},
		{t0.Add(12 * time.Minute), StatusRegistration}, // idempotent no-op
		{t0.Add(35 * time.Minute), StatusOngoing},
		{t0.Add(2*time.Hour + time.Second), StatusFinalized},
	}
	for _, step := range steps {
		s.now = func() time.Time { return step.now }
		s.Tick(ctx)
		got, err := store.GetEvent(ctx, ev.ID)
		require.NoError(t, err)
		assert.Equal(t, step.want, got.Status, "at %s", step.now)
	}

	assert.Equal(t, int32(1), fin.calls.Load())

	var seen []string
	for _, c := range drain(notifier) {
		seen = append(seen, c.Old+">"+c.New)
	}
	assert.Equal(t, []string{
		"UPCOMING>REGISTRATION",
		"REGISTRATION>ONGOING",
		"ONGOING>CONCLUDED",
		"CONCLUDED>FINALIZED",
	}, seen)
}

func TestSchedulerRetriesFinalizationWithoutRollingBack(t *testing.T) {
	s, store, fin, _ := newTestScheduler(t)
	ctx := context.Background()

	t0 := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	ev, err := store.SaveEvent(ctx, testEvent(t0))
	require.NoError(t, err)

	fin.fail.Store(true)
	s.now = func() time.Time { return t0.Add(3 * time.Hour) }
	s.Tick(ctx)

	got, err := store.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConcluded, got.Status, "finalization failure must not roll back CONCLUDED")
	assert.Equal(t, int32(1), fin.calls.Load())

	// Next tick retries and succeeds.
	fin.fail.Store(false)
	s.Tick(ctx)
	got, err = store.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFinalized, got.Status)
	assert.Equal(t, int32(2), fin.calls.Load())

	// Terminal events fall out of the poll set.
	s.Tick(ctx)
	assert.Equal(t, int32(2), fin.calls.Load())
}

func TestSchedulerLeavesCancelledEventsAlone(t *testing.T) {
	s, store, fin, notifier := newTestScheduler(t)
	ctx := context.Background()

	t0 := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	ev := testEvent(t0)
	ev.Status = StatusCancelled
	ev, err := store.SaveEvent(ctx, ev)
	require.NoError(t, err)

	s.now = func() time.Time { return t0.Add(time.Hour) }
	s.Tick(ctx)

	got, err := store.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Zero(t, fin.calls.Load())
	assert.Empty(t, drain(notifier))
}

func TestSchedulerDoesNotOverwriteConcurrentCancellation(t *testing.T) {
	s, store, fin, notifier := newTestScheduler(t)
	ctx := context.Background()

	t0 := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	ev := testEvent(t0)
	ev.Status = StatusOngoing
	ev, err := store.SaveEvent(ctx, ev)
	require.NoError(t, err)

	// The scheduler read its copy at tick start; an admin cancels the event
	// before the scheduler writes. The stale copy must not win.
	stale := ev
	_, applied, err := store.TransitionEvent(ctx, ev.ID, StatusOngoing, StatusCancelled)
	require.NoError(t, err)
	require.True(t, applied)

	s.now = func() time.Time { return t0.Add(3 * time.Hour) }
	require.NoError(t, s.processEvent(ctx, stale))

	got, err := store.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status, "cancellation must survive a stale scheduler write")
	assert.Zero(t, fin.calls.Load(), "a cancelled event must not be finalized")
	assert.Empty(t, drain(notifier), "a lost race publishes nothing")
}

func TestTransitionEventIsGuardedByCurrentStatus(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	t0 := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	ev, err := store.SaveEvent(ctx, testEvent(t0))
	require.NoError(t, err)

	_, applied, err := store.TransitionEvent(ctx, ev.ID, StatusOngoing, StatusConcluded)
	require.NoError(t, err)
	assert.False(t, applied, "mismatched expected status must be a no-op")

	got, err := store.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusUpcoming, got.Status)

	updated, applied, err := store.TransitionEvent(ctx, ev.ID, StatusUpcoming, StatusRegistration)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, StatusRegistration, updated.Status)

	_, applied, err = store.TransitionEvent(ctx, "missing", StatusUpcoming, StatusRegistration)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestSchedulerProcessesManyEventsIndependently(t *testing.T) {
	s, store, _, _ := newTestScheduler(t)
	ctx := context.Background()

	t0 := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 30; i++ {
		ev, err := store.SaveEvent(ctx, testEvent(t0.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
		ids = append(ids, ev.ID)
	}

	s.now = func() time.Time { return t0.Add(15 * time.Minute) }
	s.Tick(ctx)

	for i, id := range ids {
		got, err := store.GetEvent(ctx, id)
		require.NoError(t, err)
		want := StatusRegistration
		if i > 15 {
			want = StatusUpcoming
		}
		assert.Equal(t, want, got.Status, "event %d", i)
	}
}
