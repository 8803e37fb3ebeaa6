package attendance

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"geoattend/internal/event"
	"geoattend/internal/metrics"
)

const finalizerActor = "system:finalizer"

// FinalizePolicy configures the verdict for check-ins at or after event
// start. The default (strict) marks them ABSENT, matching the behavior this
// engine replaces; LenientLate marks them LATE instead.
type FinalizePolicy struct {
	LenientLate bool
}

// Finalizer converts open attendance records into terminal verdicts once
// their event has concluded. Idempotent per record: terminal records are
// never touched again.
type Finalizer struct {
	store  Store
	policy FinalizePolicy
	now    func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewFinalizer creates a finalizer.
func NewFinalizer(store Store, policy FinalizePolicy) *Finalizer {
	return &Finalizer{
		store:    store,
		policy:   policy,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
}

// FinalizeEvent writes a terminal status for every open record of the event.
// One record failing does not stop the rest; the scheduler retries the whole
// pass on its next tick until every record is terminal. Concurrent calls for
// the same event are collapsed by an in-flight guard.
func (f *Finalizer) FinalizeEvent(ctx context.Context, ev event.Event) error {
	f.mu.Lock()
	if _, busy := f.inflight[ev.ID]; busy {
		f.mu.Unlock()
		return nil
	}
	f.inflight[ev.ID] = struct{}{}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.inflight, ev.ID)
		f.mu.Unlock()
	}()

	records, err := f.store.ListOpenRecords(ctx, ev.ID)
	if err != nil {
		return err
	}

	failed := 0
	for _, rec := range records {
		if rec.Status.Terminal() {
			continue
		}
		if err := f.finalizeRecord(ctx, ev, rec); err != nil {
			log.Printf("finalizer: event %s record %s: %v", ev.ID, rec.ID, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("finalize event %s: %d of %d records failed", ev.ID, failed, len(records))
	}
	return nil
}

func (f *Finalizer) finalizeRecord(ctx context.Context, ev event.Event, rec Record) error {
	now := f.now().UTC()
	switch {
	case rec.TimeIn == nil:
		rec.Status = StatusAbsent
		rec.Reason = strptr("Did not check in")
	case !rec.TimeIn.Before(ev.Start):
		rec.Status = StatusAbsent
		if f.policy.LenientLate {
			rec.Status = StatusLate
		}
		rec.Reason = strptr("Late check-in")
	default:
		rec.Status = StatusPresent
		rec.Reason = nil
	}
	rec.TimeOut = &now
	rec.UpdatedBy = finalizerActor
	if err := f.store.SaveRecord(ctx, rec); err != nil {
		return err
	}
	metrics.Finalized.WithLabelValues(string(rec.Status)).Inc()
	return nil
}

func strptr(s string) *string { return &s }
