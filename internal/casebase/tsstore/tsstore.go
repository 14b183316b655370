// Package tsstore provides a Typesense implementation of casebase.Store.
package tsstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/typesense/typesense-go/v2/typesense"
	"github.com/typesense/typesense-go/v2/typesense/api"
	"github.com/typesense/typesense-go/v2/typesense/api/pointer"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/triagem/internal/casebase"
)

var tracer = otel.Tracer("github.com/linnemanlabs/triagem/internal/casebase/tsstore")

const (
	// DefaultCollection is the collection name used when none is configured.
	DefaultCollection = "triage_cases"

	pageSize = 250

	fieldText      = "text"
	fieldOrigin    = "origin"
	fieldEmbedding = "embedding"
)

// Store persists case-base entries in a Typesense collection.
type Store struct {
	client     *typesense.Client
	collection string
}

// NewClient builds a Typesense client for serverURL.
func NewClient(serverURL, apiKey string) *typesense.Client {
	return typesense.NewClient(
		typesense.WithServer(serverURL),
		typesense.WithAPIKey(apiKey),
		typesense.WithConnectionTimeout(5*time.Second),
	)
}

// New returns a Store over the given collection.
func New(client *typesense.Client, collection string) *Store {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Store{client: client, collection: collection}
}

// Ping checks that the Typesense server is healthy.
func (s *Store) Ping(ctx context.Context) error {
	ok, err := s.client.Health(ctx, 2*time.Second)
	if err != nil {
		return fmt.Errorf("typesense health: %w", err)
	}
	if !ok {
		return fmt.Errorf("typesense health: server not ready")
	}
	return nil
}

// EnsureCollection creates the collection with a dimension-sized embedding field if it does not exist.
func (s *Store) EnsureCollection(ctx context.Context, dimension int) error {
	ctx, span := s.startSpan(ctx, "tsstore.EnsureCollection", "collections.create")
	defer span.End()

	collections, err := s.client.Collections().Retrieve(ctx)
	if err != nil {
		return recordErr(span, fmt.Errorf("retrieve collections: %w", err))
	}
	for _, col := range collections {
		if col.Name == s.collection {
			return nil
		}
	}

	if dimension <= 0 {
		return recordErr(span, fmt.Errorf("collection %s missing and embedding dimension unknown", s.collection))
	}

	schema := &api.CollectionSchema{
		Name: s.collection,
		Fields: []api.Field{
			{Name: fieldText, Type: "string"},
			{Name: fieldOrigin, Type: "string", Facet: pointer.True()},
			{Name: fieldEmbedding, Type: "float[]", NumDim: pointer.Int(dimension)},
		},
	}
	if _, err := s.client.Collections().Create(ctx, schema); err != nil {
		return recordErr(span, fmt.Errorf("create collection %s: %w", s.collection, err))
	}
	return nil
}

// Upsert inserts or replaces an entry.
func (s *Store) Upsert(ctx context.Context, e casebase.Entry) error {
	ctx, span := s.startSpan(ctx, "tsstore.Upsert", "documents.upsert")
	defer span.End()
	span.SetAttributes(attribute.String("triagem.case.id", e.ID))

	origin := e.Origin
	if origin == "" {
		origin = casebase.OriginFromID(e.ID)
	}
	doc := map[string]any{
		"id":           e.ID,
		fieldText:      e.Text,
		fieldOrigin:    string(origin),
		fieldEmbedding: e.Vector,
	}
	if _, err := s.client.Collection(s.collection).Documents().Upsert(ctx, doc); err != nil {
		return recordErr(span, fmt.Errorf("upsert %s: %w", e.ID, err))
	}
	return nil
}

// IDs pages through the whole collection and returns every document id.
func (s *Store) IDs(ctx context.Context) ([]string, error) {
	ctx, span := s.startSpan(ctx, "tsstore.IDs", "documents.search")
	defer span.End()

	var ids []string
	err := s.scan(ctx, "", "id", func(doc map[string]any) {
		if id, ok := doc["id"].(string); ok {
			ids = append(ids, id)
		}
	})
	if err != nil {
		return nil, recordErr(span, err)
	}
	return ids, nil
}

// Entries lists entries of the given origin, or all entries when origin is empty.
func (s *Store) Entries(ctx context.Context, origin casebase.Origin) ([]casebase.Entry, error) {
	ctx, span := s.startSpan(ctx, "tsstore.Entries", "documents.search")
	defer span.End()

	filter := ""
	if origin != "" {
		filter = fieldOrigin + ":=" + string(origin)
	}
	var out []casebase.Entry
	err := s.scan(ctx, filter, "id,"+fieldText+","+fieldOrigin, func(doc map[string]any) {
		out = append(out, documentToEntry(doc))
	})
	if err != nil {
		return nil, recordErr(span, err)
	}
	return out, nil
}

// Query runs a nearest-neighbour vector query and returns at most k matches.
func (s *Store) Query(ctx context.Context, vector []float32, k int) ([]casebase.Match, error) {
	ctx, span := s.startSpan(ctx, "tsstore.Query", "documents.search")
	defer span.End()
	span.SetAttributes(attribute.Int("triagem.casebase.k", k))

	if k <= 0 {
		return nil, nil
	}

	params := &api.SearchCollectionParams{
		Q:             pointer.String("*"),
		VectorQuery:   pointer.String(vectorQuery(vector, k)),
		ExcludeFields: pointer.String(fieldEmbedding),
		PerPage:       pointer.Int(k),
	}
	result, err := s.client.Collection(s.collection).Documents().Search(ctx, params)
	if err != nil {
		return nil, recordErr(span, fmt.Errorf("vector search: %w", err))
	}
	if result.Hits == nil {
		return nil, nil
	}

	matches := make([]casebase.Match, 0, len(*result.Hits))
	for _, hit := range *result.Hits {
		if hit.Document == nil {
			continue
		}
		m := casebase.Match{Entry: documentToEntry(*hit.Document)}
		if hit.VectorDistance != nil {
			m.Score = 1 - float64(*hit.VectorDistance)
		}
		matches = append(matches, m)
	}
	span.SetAttributes(attribute.Int("triagem.casebase.hits", len(matches)))
	return matches, nil
}

func (s *Store) scan(ctx context.Context, filter, include string, fn func(map[string]any)) error {
	for page := 1; ; page++ {
		params := &api.SearchCollectionParams{
			Q:             pointer.String("*"),
			QueryBy:       pointer.String(fieldText),
			IncludeFields: pointer.String(include),
			Page:          pointer.Int(page),
			PerPage:       pointer.Int(pageSize),
		}
		if filter != "" {
			params.FilterBy = pointer.String(filter)
		}
		result, err := s.client.Collection(s.collection).Documents().Search(ctx, params)
		if err != nil {
			return fmt.Errorf("search page %d: %w", page, err)
		}
		if result.Hits == nil || len(*result.Hits) == 0 {
			return nil
		}
		for _, hit := range *result.Hits {
			if hit.Document != nil {
				fn(*hit.Document)
			}
		}
		if len(*result.Hits) < pageSize {
			return nil
		}
	}
}

func (s *Store) startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "typesense"),
		attribute.String("db.operation.name", op),
		attribute.String("db.collection.name", s.collection),
	))
}

func recordErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// vectorQuery renders the Typesense vector_query parameter.
func vectorQuery(vector []float32, k int) string {
	var b strings.Builder
	b.WriteString(fieldEmbedding)
	b.WriteString(":([")
	for i, v := range vector {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteString("], k:")
	b.WriteString(strconv.Itoa(k))
	b.WriteByte(')')
	return b.String()
}

func documentToEntry(doc map[string]any) casebase.Entry {
	var e casebase.Entry
	e.ID, _ = doc["id"].(string)
	e.Text, _ = doc[fieldText].(string)
	if o, ok := doc[fieldOrigin].(string); ok && o != "" {
		e.Origin = casebase.Origin(o)
	} else {
		e.Origin = casebase.OriginFromID(e.ID)
	}
	return e
}
