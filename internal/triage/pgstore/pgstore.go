// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/triagem/internal/postgres"
	"github.com/linnemanlabs/triagem/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/triagem/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Schema returns the DDL applied by New. cmd/migrate ships the same table as
// a versioned migration.
func Schema() string { return schema }

// Store persists triage records in PostgreSQL.
type Store struct {
	pool  *pgxpool.Pool
	owned bool
}

// Open connects to PostgreSQL through postgres.NewPool and applies the schema.
// Close releases the pool.
func Open(ctx context.Context, databaseURL string, opts postgres.PoolOptions) (*Store, error) {
	pool, err := postgres.NewPool(ctx, databaseURL, opts)
	if err != nil {
		return nil, err
	}
	s, err := New(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New applies the schema on an existing pool. The caller keeps ownership of pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool if Open created it.
func (s *Store) Close() {
	if s.owned {
		s.pool.Close()
	}
}

const recordColumns = `id, symptoms, response, created_at, validated,
	COALESCE(feedback, ''), COALESCE(validated_by, ''), validated_at`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Create inserts a pending record.
func (s *Store) Create(ctx context.Context, r *triage.Record) error {
	ctx, span := startSpan(ctx, "pgstore.Create", "INSERT")
	defer span.End()
	span.SetAttributes(attribute.String("triagem.triage.id", r.ID))

	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO triage_records (id, symptoms, response, created_at) VALUES ($1, $2, $3, $4)`,
		r.ID, r.Symptoms, r.Response, createdAt.UTC())
	if err != nil {
		return fail(span, fmt.Errorf("insert triage record: %w", err))
	}
	return nil
}

// Get retrieves a record by ID.
func (s *Store) Get(ctx context.Context, id string) (*triage.Record, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	r, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM triage_records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("get triage record: %w", err))
	}
	return r, true, nil
}

// List returns matching records, newest first.
func (s *Store) List(ctx context.Context, filter triage.StatusFilter) ([]*triage.Record, error) {
	ctx, span := startSpan(ctx, "pgstore.List", "SELECT")
	defer span.End()
	span.SetAttributes(attribute.String("triagem.filter", string(filter)))

	query := `SELECT ` + recordColumns + ` FROM triage_records`
	var args []any
	switch filter {
	case triage.StatusPending:
		query += ` WHERE validated = $1`
		args = append(args, 0)
	case triage.StatusValidated:
		query += ` WHERE validated = $1`
		args = append(args, 1)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fail(span, fmt.Errorf("list triage records: %w", err))
	}
	defer rows.Close()

	var out []*triage.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fail(span, fmt.Errorf("scan triage record: %w", err))
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate triage records: %w", err))
	}
	span.SetAttributes(attribute.Int("triagem.records", len(out)))
	return out, nil
}

// MarkValidated moves a pending record to validated. The update only matches
// pending rows so two concurrent reviewers cannot both succeed.
func (s *Store) MarkValidated(ctx context.Context, id, feedback, validatedBy string, at time.Time) error {
	ctx, span := startSpan(ctx, "pgstore.MarkValidated", "UPDATE")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	tag, err := tx.Exec(ctx,
		`UPDATE triage_records
		    SET validated = 1, feedback = NULLIF($2, ''), validated_by = $3, validated_at = $4
		  WHERE id = $1 AND validated = 0`,
		id, feedback, validatedBy, at.UTC())
	if err != nil {
		return fail(span, fmt.Errorf("mark validated: %w", err))
	}

	if tag.RowsAffected() == 0 {
		var validated int16
		err := tx.QueryRow(ctx, `SELECT validated FROM triage_records WHERE id = $1`, id).Scan(&validated)
		if errors.Is(err, pgx.ErrNoRows) {
			return triage.ErrNotFound
		}
		if err != nil {
			return fail(span, fmt.Errorf("check triage record: %w", err))
		}
		return triage.ErrAlreadyValidated
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Delete removes a record, reporting whether it existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Delete", "DELETE")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `DELETE FROM triage_records WHERE id = $1`, id)
	if err != nil {
		return false, fail(span, fmt.Errorf("delete triage record: %w", err))
	}
	return tag.RowsAffected() > 0, nil
}

// Stats counts records, validations and distinct reviewers.
func (s *Store) Stats(ctx context.Context) (triage.Stats, error) {
	ctx, span := startSpan(ctx, "pgstore.Stats", "SELECT")
	defer span.End()

	var total, validated, reviewers int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(validated), 0), COUNT(DISTINCT validated_by)
		   FROM triage_records`).Scan(&total, &validated, &reviewers)
	if err != nil {
		return triage.Stats{}, fail(span, fmt.Errorf("triage stats: %w", err))
	}
	return triage.NewStats(int(total), int(validated), int(reviewers)), nil
}

func scanRecord(row pgx.Row) (*triage.Record, error) {
	var (
		r           triage.Record
		validated   int16
		validatedAt *time.Time
	)
	if err := row.Scan(&r.ID, &r.Symptoms, &r.Response, &r.CreatedAt, &validated,
		&r.Feedback, &r.ValidatedBy, &validatedAt); err != nil {
		return nil, err
	}
	r.Validated = validated == 1
	if validatedAt != nil {
		at := validatedAt.UTC()
		r.ValidatedAt = &at
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}
