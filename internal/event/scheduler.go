package event

import (
	"context"
	"log"
	"sync"
	"time"

	"geoattend/internal/metrics"
	"geoattend/internal/notify"
)

// Finalizer converts a concluded event's open attendance records into
// terminal verdicts. It must be idempotent per record; the scheduler retries
// it on every tick until it reports success.
type Finalizer interface {
	FinalizeEvent(ctx context.Context, ev Event) error
}

// Scheduler polls non-terminal events on a fixed interval and drives their
// status through the lifecycle. Each event is an independent unit of work;
// one event failing never aborts the tick.
type Scheduler struct {
	store     Store
	finalizer Finalizer
	notifier  notify.Notifier
	interval  time.Duration
	workers   int
	opTimeout time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewScheduler creates a scheduler. interval is a deployment parameter, not a
// correctness constant; workers bounds per-tick parallelism.
func NewScheduler(store Store, finalizer Finalizer, notifier notify.Notifier, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Scheduler{
		store:     store,
		finalizer: finalizer,
		notifier:  notifier,
		interval:  interval,
		workers:   8,
		opTimeout: 30 * time.Second,
		now:       time.Now,
	}
}

// WithClock overrides the scheduler's time source. Tests and replay tooling
// use it to drive ticks through an event's whole lifetime.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Run polls until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick processes every non-terminal event once. Exported so the worker can
// run an immediate pass on startup and tests can drive time explicitly.
func (s *Scheduler) Tick(ctx context.Context) {
	events, err := s.store.FindEventsByStatus(ctx,
		StatusUpcoming, StatusRegistration, StatusOngoing, StatusConcluded)
	if err != nil {
		log.Printf("scheduler: list events failed: %v", err)
		metrics.TickErrors.Inc()
		return
	}

	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup
	for _, ev := range events {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(ev Event) {
			defer wg.Done()
			defer func() { <-sem }()
			// Bound each event's store calls so a stuck write cannot wedge
			// the tick; a timeout is a retryable failure, never a success.
			evCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
			defer cancel()
			if err := s.processEvent(evCtx, ev); err != nil {
				log.Printf("scheduler: event %s: %v", ev.ID, err)
				metrics.TickErrors.Inc()
			}
		}(ev)
	}
	wg.Wait()
}

// processEvent applies the time-derived transition for one event and, once
// the event is CONCLUDED, runs finalization and promotes to FINALIZED. A
// finalization failure leaves the event CONCLUDED for the next tick.
func (s *Scheduler) processEvent(ctx context.Context, ev Event) error {
	if ev.Status.Terminal() {
		return nil
	}
	now := s.now()

	if next := ev.StatusAt(now); next != ev.Status {
		applied, err := s.transition(ctx, &ev, next, now)
		if err != nil {
			return err
		}
		if !applied {
			// Another writer (an admin cancel, or a concurrent tick)
			// changed the status since we read it. Leave the event alone;
			// the next tick sees the fresh state.
			return nil
		}
	}

	if ev.Status != StatusConcluded {
		return nil
	}
	if err := s.finalizer.FinalizeEvent(ctx, ev); err != nil {
		return err
	}
	_, err := s.transition(ctx, &ev, StatusFinalized, now)
	return err
}

// transition is a compare-and-swap on the stored status: it only applies when
// the event still holds the status this tick read, so a concurrent write is
// never overwritten by stale data.
func (s *Scheduler) transition(ctx context.Context, ev *Event, next Status, now time.Time) (bool, error) {
	old := ev.Status
	saved, applied, err := s.store.TransitionEvent(ctx, ev.ID, old, next)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}
	*ev = saved
	metrics.Transitions.WithLabelValues(string(next)).Inc()

	if err := s.notifier.Publish(ctx, notify.Change{
		EventID: ev.ID,
		Old:     string(old),
		New:     string(next),
		At:      now,
	}); err != nil {
		// Fire-and-forget contract: delivery failures never surface.
		log.Printf("scheduler: notify %s %s->%s failed: %v", ev.ID, old, next, err)
	}
	return true, nil
}
