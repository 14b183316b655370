package triage

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/triagem/internal/casebase"
)

// Service is the business boundary for the review workflow.
type Service struct {
	store    Store
	cases    casebase.Store
	embedder casebase.Embedder
	notifier Notifier
	logger   log.Logger
	hooks    Hooks
	now      func() time.Time
}

// NewService creates a new triage service. notifier may be nil.
func NewService(store Store, cases casebase.Store, embedder casebase.Embedder, notifier Notifier, logger log.Logger, hooks Hooks) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:    store,
		cases:    cases,
		embedder: embedder,
		notifier: notifier,
		logger:   logger,
		hooks:    hooks,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Submit stores a diagnosis for review as a pending record.
func (s *Service) Submit(ctx context.Context, symptoms, response string) (*Record, error) {
	symptoms = strings.TrimSpace(symptoms)
	if symptoms == "" {
		return nil, ErrEmptySymptoms
	}
	if strings.TrimSpace(response) == "" {
		return nil, ErrEmptyResponse
	}

	r := &Record{
		ID:        ulid.Make().String(),
		Symptoms:  symptoms,
		Response:  response,
		CreatedAt: s.now(),
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}
	if s.hooks.OnSubmit != nil {
		s.hooks.OnSubmit()
	}

	s.logger.Info(ctx, "triage submitted for review", "triage_id", r.ID)

	if s.notifier != nil {
		cp := *r
		go s.notifySubmitted(context.WithoutCancel(ctx), &cp)
	}
	return r, nil
}

// Get fetches a record by id.
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	r, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

// List returns records matching filter, newest first.
func (s *Service) List(ctx context.Context, filter StatusFilter) ([]*Record, error) {
	return s.store.List(ctx, filter)
}

// Delete removes a record. The case base is left untouched.
func (s *Service) Delete(ctx context.Context, id string) error {
	ok, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if s.hooks.OnDelete != nil {
		s.hooks.OnDelete()
	}
	s.logger.Info(ctx, "triage deleted", "triage_id", id)
	return nil
}

// Stats returns workflow aggregate counts.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.store.Stats(ctx)
}

// CaseBaseStats counts case-base entries by origin.
func (s *Service) CaseBaseStats(ctx context.Context) (casebase.Stats, error) {
	return casebase.ReadStats(ctx, s.cases)
}

// CaseBaseEntries lists case-base entries, optionally filtered by origin.
func (s *Service) CaseBaseEntries(ctx context.Context, origin casebase.Origin) ([]casebase.Entry, error) {
	return s.cases.Entries(ctx, origin)
}

func (s *Service) notifySubmitted(ctx context.Context, r *Record) {
	if err := s.notifier.NotifySubmitted(ctx, r); err != nil {
		s.logger.Error(ctx, err, "submission notification failed", "triage_id", r.ID)
	}
}

func (s *Service) notifyValidated(ctx context.Context, r *Record, res *ValidationResult) {
	if err := s.notifier.NotifyValidated(ctx, r, res); err != nil {
		s.logger.Error(ctx, err, "validation notification failed", "triage_id", r.ID)
	}
}
