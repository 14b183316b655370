package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/linnemanlabs/go-core/log"
)

func newEmbeddingsServer(t *testing.T, vec []float32, calls *int) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %s, want /embeddings", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Authorization = %q, want Bearer test-key", r.Header.Get("Authorization"))
		}
		var req openai.EmbeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != openai.SmallEmbedding3 {
			t.Errorf("model = %q, want %q", req.Model, openai.SmallEmbedding3)
		}
		mu.Lock()
		*calls++
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.EmbeddingResponse{
			Object: "list",
			Data:   []openai.Embedding{{Object: "embedding", Embedding: vec, Index: 0}},
			Model:  openai.SmallEmbedding3,
		})
	}))
}

func TestClient_Embed(t *testing.T) {
	t.Parallel()

	var calls int
	srv := newEmbeddingsServer(t, []float32{0.1, 0.2, 0.3}, &calls)
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, APIKey: "test-key", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	vec, err := c.Embed(context.Background(), "febre alta")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[2] != 0.3 {
		t.Errorf("vec = %v, want [0.1 0.2 0.3]", vec)
	}
	if c.Model() != string(openai.SmallEmbedding3) {
		t.Errorf("Model = %q, want %q", c.Model(), openai.SmallEmbedding3)
	}
}

func TestClient_EmbedServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"down","type":"server_error"}}`))
	}))
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL, APIKey: "test-key"})
	if _, err := c.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error from failing server")
	}
}

func TestClient_EmbedEmptyData(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[],"model":"m"}`))
	}))
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL, APIKey: "test-key"})
	if _, err := c.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error for empty data")
	}
}

func TestNew_RequiresKeyForDefaultEndpoint(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without key or base URL")
	}
	if _, err := New(Config{BaseURL: "http://localhost:11434/v1"}); err != nil {
		t.Errorf("custom base URL without key: %v", err)
	}
}

type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text))}, nil
}

func TestCached_MemoizesByText(t *testing.T) {
	t.Parallel()

	inner := &countingEmbedder{}
	e := Cached(inner, NewMemoryCache(time.Minute), "m")
	ctx := context.Background()

	for range 3 {
		if _, err := e.Embed(ctx, "same text"); err != nil {
			t.Fatalf("Embed: %v", err)
		}
	}
	if _, err := e.Embed(ctx, "other"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("inner calls = %d, want 2", inner.calls)
	}
}

func TestCached_DoesNotCacheErrors(t *testing.T) {
	t.Parallel()

	inner := &countingEmbedder{err: errors.New("down")}
	e := Cached(inner, NewMemoryCache(time.Minute), "m")
	ctx := context.Background()

	_, _ = e.Embed(ctx, "x")
	_, _ = e.Embed(ctx, "x")
	if inner.calls != 2 {
		t.Errorf("inner calls = %d, want 2", inner.calls)
	}
}

func TestCacheKey_ModelScoped(t *testing.T) {
	t.Parallel()

	if cacheKey("a", "text") == cacheKey("b", "text") {
		t.Error("keys for different models should differ")
	}
	if cacheKey("a", "text") != cacheKey("a", "text") {
		t.Error("keys should be deterministic")
	}
}

func TestMemoryCache_ReturnsCopy(t *testing.T) {
	t.Parallel()

	c := NewMemoryCache(time.Minute)
	ctx := context.Background()
	c.Set(ctx, "k", []float32{1, 2})

	got, ok := c.Get(ctx, "k")
	if !ok {
		t.Fatal("expected hit")
	}
	got[0] = 99
	again, _ := c.Get(ctx, "k")
	if again[0] != 1 {
		t.Errorf("cached vector mutated through returned slice: %v", again)
	}
}

func TestVectorCodec_RoundTrip(t *testing.T) {
	t.Parallel()

	in := []float32{0, -1.5, 3.25, 1e-7}
	out, err := decodeVector(encodeVector(in))
	if err != nil {
		t.Fatalf("decodeVector: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated payload")
	}
}

func TestRedisCache_Integration(t *testing.T) {
	addr := os.Getenv("TRIAGEM_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TRIAGEM_TEST_REDIS_ADDR not set, skipping integration test")
	}
	ctx := context.Background()
	c, err := NewRedisCache(ctx, addr, "", time.Minute, log.Nop())
	if err != nil {
		t.Fatalf("NewRedisCache: %v", err)
	}
	defer func() { _ = c.Close() }()

	key := cacheKey("test", t.Name())
	c.Set(ctx, key, []float32{1, 2, 3})
	got, ok := c.Get(ctx, key)
	if !ok || len(got) != 3 || got[1] != 2 {
		t.Errorf("Get = %v, %v; want [1 2 3], true", got, ok)
	}
	if _, ok := c.Get(ctx, cacheKey("test", "missing")); ok {
		t.Error("expected miss for unknown key")
	}
}
