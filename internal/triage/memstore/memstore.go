// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/triagem/internal/triage"
)

// Store holds triage records in memory. Suitable for dev/testing.
type Store struct {
	mu      sync.RWMutex
	records map[string]*triage.Record // triage ID -> record
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{records: make(map[string]*triage.Record)}
}

// Create stores a copy of r.
func (s *Store) Create(_ context.Context, r *triage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.ID] = clone(r)
	return nil
}

// Get retrieves a record by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*triage.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, false, nil
	}
	return clone(r), true, nil
}

// List returns copies of matching records, newest first.
func (s *Store) List(_ context.Context, filter triage.StatusFilter) ([]*triage.Record, error) {
	s.mu.RLock()
	out := make([]*triage.Record, 0, len(s.records))
	for _, r := range s.records {
		if filter.Matches(r) {
			out = append(out, clone(r))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// MarkValidated sets the validation fields of a pending record.
func (s *Store) MarkValidated(_ context.Context, id, feedback, validatedBy string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return triage.ErrNotFound
	}
	if r.Validated {
		return triage.ErrAlreadyValidated
	}
	r.Validated = true
	r.Feedback = feedback
	r.ValidatedBy = validatedBy
	r.ValidatedAt = &at
	return nil
}

// Delete removes a record, reporting whether it existed.
func (s *Store) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return false, nil
	}
	delete(s.records, id)
	return true, nil
}

// Stats counts records, validations and distinct reviewers.
func (s *Store) Stats(_ context.Context) (triage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	validated := 0
	reviewers := make(map[string]struct{})
	for _, r := range s.records {
		if r.Validated {
			validated++
		}
		if r.ValidatedBy != "" {
			reviewers[r.ValidatedBy] = struct{}{}
		}
	}
	return triage.NewStats(len(s.records), validated, len(reviewers)), nil
}

func clone(r *triage.Record) *triage.Record {
	cp := *r
	if r.ValidatedAt != nil {
		at := *r.ValidatedAt
		cp.ValidatedAt = &at
	}
	return &cp
}
