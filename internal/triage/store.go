package triage

import (
	"context"
	"time"
)

// Store is the persistence interface for triage records.
// List returns records ordered by CreatedAt descending.
// MarkValidated returns ErrNotFound for unknown ids and ErrAlreadyValidated
// when the record is not pending.
type Store interface {
	Create(ctx context.Context, r *Record) error
	Get(ctx context.Context, id string) (*Record, bool, error)
	List(ctx context.Context, filter StatusFilter) ([]*Record, error)
	MarkValidated(ctx context.Context, id, feedback, validatedBy string, at time.Time) error
	Delete(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context) (Stats, error)
}

// Notifier is told about workflow transitions. Failures never fail the action.
type Notifier interface {
	NotifySubmitted(ctx context.Context, r *Record) error
	NotifyValidated(ctx context.Context, r *Record, res *ValidationResult) error
}
