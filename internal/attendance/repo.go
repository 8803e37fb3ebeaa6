package attendance

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"geoattend/internal/apperr"
)

// Repository persists attendance records in Postgres. The UNIQUE
// (student_id, event_id) index on attendance_records carries the
// registration uniqueness invariant across service instances.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id, student_id, event_id, registration_location_id,
	time_in, time_out, status, reason, updated_by, created_at, updated_at`

// GetRecord returns the record for the (student, event) pair with its pings.
func (r *Repository) GetRecord(ctx context.Context, studentID, eventID string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE student_id = $1 AND event_id = $2
	`, studentID, eventID)
	rec, err := scanRecord(row)
	if err != nil {
		return Record{}, err
	}
	rec.Pings, err = r.loadPings(ctx, rec.ID)
	return rec, err
}

// CreateIfAbsent inserts the record unless the pair already has one. The
// insert and the duplicate check are one statement, so concurrent attempts
// yield exactly one created record.
func (r *Repository) CreateIfAbsent(ctx context.Context, rec Record) (Record, bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = StatusRegistered
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records
			(id, student_id, event_id, registration_location_id, time_in, status, reason, updated_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (student_id, event_id) DO NOTHING
		RETURNING created_at, updated_at
	`, rec.ID, rec.StudentID, rec.EventID, rec.RegistrationLocationID,
		rec.TimeIn, rec.Status, rec.Reason, rec.UpdatedBy)
	err := row.Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, apperr.Unavailable(err)
	}
	// Lost the race; hand back the winner.
	existing, err := r.GetRecord(ctx, rec.StudentID, rec.EventID)
	if err != nil {
		return Record{}, false, err
	}
	return existing, false, nil
}

// AppendPing writes one ping row and bumps the record's audit fields inside
// a transaction.
func (r *Repository) AppendPing(ctx context.Context, recordID string, ping Ping, updatedBy string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Unavailable(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attendance_pings (record_id, event_id, location_id, latitude, longitude, is_inside, ts)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, recordID, ping.EventID, ping.LocationID, ping.Latitude, ping.Longitude, ping.Inside, ping.Timestamp); err != nil {
		return apperr.Unavailable(err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE attendance_records SET updated_by = $2, updated_at = NOW() WHERE id = $1
	`, recordID, updatedBy); err != nil {
		return apperr.Unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return apperr.Unavailable(err)
	}
	return nil
}

// ListOpenRecords returns the event's records still lacking a terminal
// status. Ping logs are not loaded; the finalizer does not read them.
func (r *Repository) ListOpenRecords(ctx context.Context, eventID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE event_id = $1 AND status = $2
		ORDER BY created_at ASC
	`, eventID, StatusRegistered)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// SaveRecord persists a mutated record's verdict fields.
func (r *Repository) SaveRecord(ctx context.Context, rec Record) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET time_in = $2, time_out = $3, status = $4, reason = $5, updated_by = $6, updated_at = NOW()
		WHERE id = $1
	`, rec.ID, rec.TimeIn, rec.TimeOut, rec.Status, rec.Reason, rec.UpdatedBy)
	if err != nil {
		return apperr.Unavailable(err)
	}
	return nil
}

// ListByStudent returns a student's attendance history, most recent first.
func (r *Repository) ListByStudent(ctx context.Context, studentID string, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE student_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, studentID, limit, offset)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (r *Repository) loadPings(ctx context.Context, recordID string) ([]Ping, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_id, location_id, latitude, longitude, is_inside, ts
		FROM attendance_pings
		WHERE record_id = $1
		ORDER BY seq ASC
	`, recordID)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	defer rows.Close()
	var pings []Ping
	for rows.Next() {
		var p Ping
		if err := rows.Scan(&p.EventID, &p.LocationID, &p.Latitude, &p.Longitude, &p.Inside, &p.Timestamp); err != nil {
			return nil, apperr.Unavailable(err)
		}
		pings = append(pings, p)
	}
	return pings, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.StudentID, &rec.EventID, &rec.RegistrationLocationID,
		&rec.TimeIn, &rec.TimeOut, &rec.Status, &rec.Reason, &rec.UpdatedBy,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, apperr.ErrNotFound
		}
		return Record{}, apperr.Unavailable(err)
	}
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]Record, error) {
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
