// Package casebase defines the knowledge base of clinical cases used for
// retrieval: seed cases loaded from a file and cases confirmed by reviewers.
// Storage backends live in subpackages (memstore, tsstore).
package casebase

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Origin tells where a case-base entry came from.
type Origin string

const (
	// OriginSeed marks cases loaded from the seed file.
	OriginSeed Origin = "seed"

	// OriginValidated marks cases appended after reviewer validation.
	OriginValidated Origin = "validated"
)

const (
	seedPrefix      = "case_"
	validatedPrefix = "validated_"
)

// ErrDimensionMismatch is returned when a vector does not match the index dimension.
var ErrDimensionMismatch = errors.New("casebase: vector dimension mismatch")

// Entry is a single case in the knowledge base.
type Entry struct {
	ID     string    `json:"id"`
	Text   string    `json:"text"`
	Vector []float32 `json:"-"`
	Origin Origin    `json:"origin"`
}

// Match is an Entry returned by a nearest-neighbour query.
type Match struct {
	Entry
	Score float64 `json:"score"`
}

// Store is the vector index contract the triage workflow relies on.
// Query returns at most k matches ordered by descending similarity.
type Store interface {
	Upsert(ctx context.Context, e Entry) error
	IDs(ctx context.Context) ([]string, error)
	Query(ctx context.Context, vector []float32, k int) ([]Match, error)
	Entries(ctx context.Context, origin Origin) ([]Entry, error)
}

// Embedder maps text to a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SeedID returns the id of the i-th seed case.
func SeedID(i int) string {
	return seedPrefix + strconv.Itoa(i)
}

// NewValidatedID returns a fresh id for a reviewer-validated case.
func NewValidatedID() string {
	return validatedPrefix + ulid.Make().String()
}

// OriginFromID derives the origin from the id namespace. Unknown prefixes yield "".
func OriginFromID(id string) Origin {
	switch {
	case strings.HasPrefix(id, seedPrefix):
		return OriginSeed
	case strings.HasPrefix(id, validatedPrefix):
		return OriginValidated
	default:
		return ""
	}
}

// Stats counts case-base entries by origin.
type Stats struct {
	Total     int `json:"total" yaml:"total"`
	Seed      int `json:"seed" yaml:"seed"`
	Validated int `json:"validated" yaml:"validated"`
}

// ComputeStats partitions ids by origin.
func ComputeStats(ids []string) Stats {
	s := Stats{Total: len(ids)}
	for _, id := range ids {
		switch OriginFromID(id) {
		case OriginSeed:
			s.Seed++
		case OriginValidated:
			s.Validated++
		}
	}
	return s
}

// ReadStats fetches all ids from the store and counts them.
func ReadStats(ctx context.Context, store Store) (Stats, error) {
	ids, err := store.IDs(ctx)
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(ids), nil
}
