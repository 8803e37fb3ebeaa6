package event

import "context"

// Store is the persistence contract the lifecycle engine depends on. Two
// backends implement it: Postgres (Repository) and memory (MemStore).
type Store interface {
	GetEvent(ctx context.Context, id string) (Event, error)
	SaveEvent(ctx context.Context, ev Event) (Event, error)
	// TransitionEvent moves the event from one status to another only if it
	// still holds the expected status, reporting a lost race as
	// applied=false. Status writers (scheduler, cancellation) must use this
	// rather than SaveEvent so a concurrent CANCELLED is never clobbered.
	TransitionEvent(ctx context.Context, id string, from, to Status) (Event, bool, error)
	FindEventsByStatus(ctx context.Context, statuses ...Status) ([]Event, error)
	GetLocation(ctx context.Context, id string) (Location, error)
	SaveLocation(ctx context.Context, loc Location) (Location, error)
}
