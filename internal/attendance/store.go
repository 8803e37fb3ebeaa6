package attendance

import "context"

// Store is the persistence contract for attendance records. Implemented by
// Repository (Postgres) and MemStore (dev/tests).
type Store interface {
	// GetRecord returns the non-superseded record for the pair, or
	// apperr.ErrNotFound.
	GetRecord(ctx context.Context, studentID, eventID string) (Record, error)
	// CreateIfAbsent atomically inserts rec unless a record already exists
	// for its (StudentID, EventID) pair. It returns the stored record and
	// whether this call created it.
	CreateIfAbsent(ctx context.Context, rec Record) (Record, bool, error)
	// AppendPing appends one ping to the record's log and bumps the record's
	// audit fields in a single atomic write.
	AppendPing(ctx context.Context, recordID string, ping Ping, updatedBy string) error
	// ListOpenRecords returns the event's records still awaiting a terminal
	// status.
	ListOpenRecords(ctx context.Context, eventID string) ([]Record, error)
	// SaveRecord persists a mutated record.
	SaveRecord(ctx context.Context, rec Record) error
	// ListByStudent returns a student's records, most recent first.
	ListByStudent(ctx context.Context, studentID string, limit, offset int) ([]Record, error)
}
