// Package memstore provides an in-memory casebase.Store using brute-force
// cosine similarity. Suitable for dev/testing and small case bases.
package memstore

import (
	"context"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/linnemanlabs/triagem/internal/casebase"
)

// Store keeps entries in insertion order.
type Store struct {
	mu        sync.RWMutex
	dimension int
	entries   []casebase.Entry
	index     map[string]int // entry ID -> position in entries
}

// New initializes an empty Store.
func New() *Store {
	return &Store{index: make(map[string]int)}
}

// Upsert stores a copy of e, replacing any entry with the same ID.
// The first upsert fixes the vector dimension.
func (s *Store) Upsert(_ context.Context, e casebase.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dimension == 0 {
		s.dimension = len(e.Vector)
	}
	if len(e.Vector) != s.dimension {
		return casebase.ErrDimensionMismatch
	}

	cp := e
	cp.Vector = slices.Clone(e.Vector)
	if cp.Origin == "" {
		cp.Origin = casebase.OriginFromID(cp.ID)
	}

	if pos, ok := s.index[e.ID]; ok {
		s.entries[pos] = cp
		return nil
	}
	s.index[e.ID] = len(s.entries)
	s.entries = append(s.entries, cp)
	return nil
}

// IDs returns all entry ids in insertion order.
func (s *Store) IDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, len(s.entries))
	for i := range s.entries {
		ids[i] = s.entries[i].ID
	}
	return ids, nil
}

// Query returns the k entries most similar to vector. Ties keep insertion order.
func (s *Store) Query(_ context.Context, vector []float32, k int) ([]casebase.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 || len(s.entries) == 0 {
		return nil, nil
	}
	if len(vector) != s.dimension {
		return nil, casebase.ErrDimensionMismatch
	}

	scores := make([]float64, len(s.entries))
	idxs := make([]int, len(s.entries))
	for i := range s.entries {
		scores[i] = cosine(s.entries[i].Vector, vector)
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(a, b int) bool {
		return scores[idxs[a]] > scores[idxs[b]]
	})

	if k > len(idxs) {
		k = len(idxs)
	}
	out := make([]casebase.Match, 0, k)
	for _, j := range idxs[:k] {
		e := s.entries[j]
		e.Vector = nil
		out = append(out, casebase.Match{Entry: e, Score: scores[j]})
	}
	return out, nil
}

// Entries lists entries of the given origin, or all entries when origin is empty.
func (s *Store) Entries(_ context.Context, origin casebase.Origin) ([]casebase.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]casebase.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if origin != "" && e.Origin != origin {
			continue
		}
		e.Vector = nil
		out = append(out, e)
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
