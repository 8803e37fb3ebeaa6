package event

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/google/uuid"

	"geoattend/internal/apperr"
	"geoattend/internal/geofence"
)

// Repository persists events and locations in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetEvent returns a single event by id.
func (r *Repository) GetEvent(ctx context.Context, id string) (Event, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, description, registration_location_id, venue_location_id,
		       eligible_groups, all_students, registration_start, start_at, end_at,
		       status, created_at, updated_at
		FROM events WHERE id = $1
	`, id)
	return scanEvent(row)
}

// SaveEvent inserts or updates an event, enforcing the schedule invariant.
func (r *Repository) SaveEvent(ctx context.Context, ev Event) (Event, error) {
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Status == "" {
		ev.Status = StatusUpcoming
	}
	groups, err := json.Marshal(ev.EligibleGroups)
	if err != nil {
		return Event{}, err
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO events (id, name, description, registration_location_id, venue_location_id,
		                    eligible_groups, all_students, registration_start, start_at, end_at, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			registration_location_id = EXCLUDED.registration_location_id,
			venue_location_id = EXCLUDED.venue_location_id,
			eligible_groups = EXCLUDED.eligible_groups,
			all_students = EXCLUDED.all_students,
			registration_start = EXCLUDED.registration_start,
			start_at = EXCLUDED.start_at,
			end_at = EXCLUDED.end_at,
			status = EXCLUDED.status,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`, ev.ID, ev.Name, ev.Description, ev.RegistrationLocationID, ev.VenueLocationID,
		string(groups), ev.AllStudents, ev.RegistrationStart, ev.Start, ev.End, ev.Status)
	if err := row.Scan(&ev.CreatedAt, &ev.UpdatedAt); err != nil {
		return Event{}, apperr.Unavailable(err)
	}
	return ev, nil
}

// TransitionEvent applies a guarded status change. The WHERE clause on the
// stored status makes the compare-and-swap atomic; zero rows means another
// writer got there first.
func (r *Repository) TransitionEvent(ctx context.Context, id string, from, to Status) (Event, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE events SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING id, name, description, registration_location_id, venue_location_id,
		          eligible_groups, all_students, registration_start, start_at, end_at,
		          status, created_at, updated_at
	`, id, from, to)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Event{}, false, nil
		}
		return Event{}, false, err
	}
	return ev, true, nil
}

// FindEventsByStatus returns events in any of the given phases, oldest first
// so long-overdue transitions are handled before fresh ones.
func (r *Repository) FindEventsByStatus(ctx context.Context, statuses ...Status) ([]Event, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	placeholders := ""
	for i, s := range statuses {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "$" + strconv.Itoa(i+1)
		args[i] = string(s)
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, description, registration_location_id, venue_location_id,
		       eligible_groups, all_students, registration_start, start_at, end_at,
		       status, created_at, updated_at
		FROM events WHERE status IN (`+placeholders+`)
		ORDER BY end_at ASC
	`, args...)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	defer rows.Close()
	var res []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

// GetLocation returns a location with its boundary ring.
func (r *Repository) GetLocation(ctx context.Context, id string) (Location, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, purpose, environment, boundary, created_at
		FROM locations WHERE id = $1
	`, id)
	var loc Location
	var boundary string
	if err := row.Scan(&loc.ID, &loc.Name, &loc.Purpose, &loc.Environment, &boundary, &loc.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Location{}, apperr.ErrNotFound
		}
		return Location{}, apperr.Unavailable(err)
	}
	if err := json.Unmarshal([]byte(boundary), &loc.Boundary); err != nil {
		return Location{}, err
	}
	return loc, nil
}

// SaveLocation inserts or updates a location.
func (r *Repository) SaveLocation(ctx context.Context, loc Location) (Location, error) {
	if len(loc.Boundary) < 3 {
		return Location{}, geofence.ErrDegenerateGeometry
	}
	if loc.ID == "" {
		loc.ID = uuid.NewString()
	}
	boundary, err := json.Marshal(loc.Boundary)
	if err != nil {
		return Location{}, err
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO locations (id, name, purpose, environment, boundary)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			purpose = EXCLUDED.purpose,
			environment = EXCLUDED.environment,
			boundary = EXCLUDED.boundary
		RETURNING created_at
	`, loc.ID, loc.Name, loc.Purpose, loc.Environment, string(boundary))
	if err := row.Scan(&loc.CreatedAt); err != nil {
		return Location{}, apperr.Unavailable(err)
	}
	return loc, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (Event, error) {
	var ev Event
	var groups string
	err := row.Scan(&ev.ID, &ev.Name, &ev.Description, &ev.RegistrationLocationID,
		&ev.VenueLocationID, &groups, &ev.AllStudents, &ev.RegistrationStart,
		&ev.Start, &ev.End, &ev.Status, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Event{}, apperr.ErrNotFound
		}
		return Event{}, apperr.Unavailable(err)
	}
	if groups != "" {
		if err := json.Unmarshal([]byte(groups), &ev.EligibleGroups); err != nil {
			return Event{}, err
		}
	}
	return ev, nil
}
