package directory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the in-memory reference Store. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record

	// now is a clock hook for timestamp tests.
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory directory.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// Search returns records matching the query, case-insensitive, against
// username, email, and full name. An empty query returns everything.
func (s *MemoryStore) Search(_ context.Context, query string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(query))
	results := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		if needle == "" || recordMatches(rec, needle) {
			results = append(results, copyRecord(rec))
		}
	}
	return results, nil
}

// Get returns the record with the given ID.
func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(rec), nil
}

// Create stores a new record with an assigned ID and timestamps.
func (s *MemoryStore) Create(_ context.Context, rec *Record) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.records {
		if strings.EqualFold(existing.Username, rec.Username) ||
			strings.EqualFold(existing.Email, rec.Email) {
			return nil, ErrConflict
		}
	}

	now := s.now()
	stored := &Record{
		ID:        uuid.NewString(),
		Username:  rec.Username,
		Email:     rec.Email,
		FullName:  rec.FullName,
		Active:    rec.Active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.records[stored.ID] = stored
	return copyRecord(stored), nil
}

// Update replaces the mutable fields of the record identified by rec.ID.
func (s *MemoryStore) Update(_ context.Context, rec *Record) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.records[rec.ID]
	if !ok {
		return nil, ErrNotFound
	}

	stored.Username = rec.Username
	stored.Email = rec.Email
	stored.FullName = rec.FullName
	stored.Active = rec.Active
	stored.UpdatedAt = s.now()
	return copyRecord(stored), nil
}

// Delete removes the record with the given ID.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func recordMatches(rec *Record, needle string) bool {
	return strings.Contains(strings.ToLower(rec.Username), needle) ||
		strings.Contains(strings.ToLower(rec.Email), needle) ||
		strings.Contains(strings.ToLower(rec.FullName), needle)
}

// copyRecord shields the internal map from caller mutation.
func copyRecord(rec *Record) *Record {
	dup := *rec
	return &dup
}

var _ Store = (*MemoryStore)(nil)
