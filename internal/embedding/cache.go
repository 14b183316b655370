package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/go-core/log"
)

// Embedder is the subset of casebase.Embedder wrapped by Cached.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Cache stores vectors by key. Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, vec []float32)
}

// CachedEmbedder memoizes an Embedder.
type CachedEmbedder struct {
	inner Embedder
	cache Cache
	model string
}

// Cached wraps inner so identical text for the same model is embedded once.
func Cached(inner Embedder, cache Cache, model string) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: cache, model: model}
}

// Embed returns a cached vector or computes and stores a new one.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(c.model, text)
	if vec, ok := c.cache.Get(ctx, key); ok {
		return vec, nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(ctx, key, vec)
	return vec, nil
}

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return "emb:" + hex.EncodeToString(sum[:])
}

// MemoryCache is an in-process cache backed by go-cache.
type MemoryCache struct {
	cache *gocache.Cache
}

// NewMemoryCache creates a memory cache with the given TTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{cache: gocache.New(ttl, 2*ttl)}
}

// Get returns a copy of the cached vector.
func (m *MemoryCache) Get(_ context.Context, key string) ([]float32, bool) {
	v, ok := m.cache.Get(key)
	if !ok {
		return nil, false
	}
	vec, ok := v.([]float32)
	if !ok {
		return nil, false
	}
	return slices.Clone(vec), true
}

// Set stores a copy of vec with the default TTL.
func (m *MemoryCache) Set(_ context.Context, key string, vec []float32) {
	m.cache.Set(key, slices.Clone(vec), gocache.DefaultExpiration)
}

// RedisCache shares vectors between replicas through Redis.
// Errors are logged and treated as cache misses.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger log.Logger
}

// NewRedisCache connects to addr and verifies the connection.
func NewRedisCache(ctx context.Context, addr, password string, ttl time.Duration, logger log.Logger) (*RedisCache, error) {
	if logger == nil {
		logger = log.Nop()
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger}, nil
}

// Close releases the Redis connection pool.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// Get fetches and decodes a vector.
func (r *RedisCache) Get(ctx context.Context, key string) ([]float32, bool) {
	b, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn(ctx, "embedding cache get failed", "error", err)
		}
		return nil, false
	}
	vec, err := decodeVector(b)
	if err != nil {
		r.logger.Warn(ctx, "embedding cache entry corrupt", "error", err)
		return nil, false
	}
	return vec, true
}

// Set encodes and stores a vector.
func (r *RedisCache) Set(ctx context.Context, key string, vec []float32) {
	if err := r.client.Set(ctx, key, encodeVector(vec), r.ttl).Err(); err != nil {
		r.logger.Warn(ctx, "embedding cache set failed", "error", err)
	}
}

func encodeVector(vec []float32) []byte {
	b := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return b
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector payload length %d not a multiple of 4", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return vec, nil
}
