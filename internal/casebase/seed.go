package casebase

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"
)

// maxSeedWorkers bounds concurrent embedding calls during seed loading.
const maxSeedWorkers = 4

// ReadSeedFile returns one case per non-blank line of path.
func ReadSeedFile(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // path is operator config
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var cases []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cases = append(cases, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return cases, nil
}

// LoadSeeds inserts every seed case whose id is not already present in store.
// Ids are positional (case_0, case_1, ...) so repeated loads never duplicate entries.
// It returns the number of entries added.
func LoadSeeds(ctx context.Context, store Store, embedder Embedder, cases []string) (int, error) {
	existing, err := store.IDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list case ids: %w", err)
	}
	have := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		have[id] = struct{}{}
	}

	type pending struct {
		id   string
		text string
	}
	var missing []pending
	for i, text := range cases {
		id := SeedID(i)
		if _, ok := have[id]; ok {
			continue
		}
		missing = append(missing, pending{id: id, text: text})
	}
	if len(missing) == 0 {
		return 0, nil
	}

	vectors := make([][]float32, len(missing))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxSeedWorkers)
	for i := range missing {
		g.Go(func() error {
			vec, err := embedder.Embed(gctx, missing[i].text)
			if err != nil {
				return fmt.Errorf("embed %s: %w", missing[i].id, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	// upsert in file order so stores with insertion-ordered ties stay deterministic
	added := 0
	for i, p := range missing {
		if err := store.Upsert(ctx, Entry{ID: p.id, Text: p.text, Vector: vectors[i], Origin: OriginSeed}); err != nil {
			return added, fmt.Errorf("upsert %s: %w", p.id, err)
		}
		added++
	}
	return added, nil
}
