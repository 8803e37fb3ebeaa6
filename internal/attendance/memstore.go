package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"geoattend/internal/apperr"
)

// MemStore is a map-backed Store for dev and testing. Its CreateIfAbsent
// gives the same exactly-one-winner guarantee as the Postgres unique index.
type MemStore struct {
	mu      sync.Mutex
	byPair  map[string]string // studentID|eventID -> record id
	records map[string]Record
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		byPair:  make(map[string]string),
		records: make(map[string]Record),
	}
}

func pairKey(studentID, eventID string) string { return studentID + "|" + eventID }

// GetRecord returns the record for the (student, event) pair.
func (s *MemStore) GetRecord(_ context.Context, studentID, eventID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byPair[pairKey(studentID, eventID)]
	if !ok {
		return Record{}, apperr.ErrNotFound
	}
	return s.records[id], nil
}

// CreateIfAbsent inserts rec unless the pair already has a record.
func (s *MemStore) CreateIfAbsent(_ context.Context, rec Record) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(rec.StudentID, rec.EventID)
	if id, ok := s.byPair[key]; ok {
		return s.records[id], false, nil
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = StatusRegistered
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.byPair[key] = rec.ID
	s.records[rec.ID] = rec
	return rec, true, nil
}

// AppendPing appends one ping and bumps audit fields.
func (s *MemStore) AppendPing(_ context.Context, recordID string, ping Ping, updatedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordID]
	if !ok {
		return apperr.ErrNotFound
	}
	rec.Pings = append(rec.Pings, ping)
	rec.UpdatedBy = updatedBy
	rec.UpdatedAt = time.Now().UTC()
	s.records[recordID] = rec
	return nil
}

// ListOpenRecords returns the event's non-terminal records.
func (s *MemStore) ListOpenRecords(_ context.Context, eventID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []Record
	for _, rec := range s.records {
		if rec.EventID == eventID && !rec.Status.Terminal() {
			res = append(res, rec)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

// SaveRecord persists a mutated record.
func (s *MemStore) SaveRecord(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.records[rec.ID]
	if !ok {
		return apperr.ErrNotFound
	}
	rec.Pings = stored.Pings
	rec.CreatedAt = stored.CreatedAt
	rec.UpdatedAt = time.Now().UTC()
	s.records[rec.ID] = rec
	return nil
}

// ListByStudent returns a student's records, most recent first.
func (s *MemStore) ListByStudent(_ context.Context, studentID string, limit, offset int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var res []Record
	for _, rec := range s.records {
		if rec.StudentID == studentID {
			res = append(res, rec)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	if offset >= len(res) {
		return nil, nil
	}
	res = res[offset:]
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}
