package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/redis/go-redis/v9"
)

// IdempotencyBackend persists the idempotency-key → agent-id mapping. The
// in-memory backend is always available; a Redis backend is used instead
// when REDIS_URL is configured, per §2.2.
type IdempotencyBackend interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, agentID string)
	Delete(ctx context.Context, key string)
}

// InMemoryIdempotencyBackend is a mutex-guarded map backend, the default
// when no Redis URL is configured.
type InMemoryIdempotencyBackend struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewInMemoryIdempotencyBackend creates an empty in-memory backend.
func NewInMemoryIdempotencyBackend() *InMemoryIdempotencyBackend {
	return &InMemoryIdempotencyBackend{data: make(map[string]string)}
}

func (b *InMemoryIdempotencyBackend) Get(_ context.Context, key string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	return v, ok
}

func (b *InMemoryIdempotencyBackend) Set(_ context.Context, key, agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = agentID
}

func (b *InMemoryIdempotencyBackend) Delete(_ context.Context, key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
}

// RedisIdempotencyBackend mirrors the idempotency-key mapping into Redis so
// it can be shared by other process-scoped collaborators that happen to
// point at the same instance; the orchestrator itself never relies on this
// surviving a restart (the in-memory state non-goal stands regardless).
type RedisIdempotencyBackend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisIdempotencyBackend creates a Redis-backed idempotency backend.
func NewRedisIdempotencyBackend(client *redis.Client, ttl time.Duration) *RedisIdempotencyBackend {
	return &RedisIdempotencyBackend{client: client, prefix: "orchestrator:idempotency:", ttl: ttl}
}

func (b *RedisIdempotencyBackend) Get(ctx context.Context, key string) (string, bool) {
	v, err := b.client.Get(ctx, b.prefix+key).Result()
	if err != nil {
		return "", false
	}
	return v, true
}

func (b *RedisIdempotencyBackend) Set(ctx context.Context, key, agentID string) {
	b.client.Set(ctx, b.prefix+key, agentID, b.ttl)
}

func (b *RedisIdempotencyBackend) Delete(ctx context.Context, key string) {
	b.client.Del(ctx, b.prefix+key)
}

// IdempotencyCache fronts a backend with a bloom filter: a negative test is
// a guaranteed miss and skips the backend lookup entirely, while a positive
// test falls through to an authoritative lookup. The filter's false-positive
// rate only ever costs a wasted probe, never an incorrect idempotent hit.
type IdempotencyCache struct {
	mu      sync.Mutex
	filter  *bloom.BloomFilter
	backend IdempotencyBackend
}

// NewIdempotencyCache creates a cache sized for expectedKeys entries at a
// 1% target false-positive rate, backed by backend.
func NewIdempotencyCache(backend IdempotencyBackend, expectedKeys uint) *IdempotencyCache {
	if expectedKeys == 0 {
		expectedKeys = 10000
	}
	return &IdempotencyCache{
		filter:  bloom.NewWithEstimates(expectedKeys, 0.01),
		backend: backend,
	}
}

// Lookup returns the agent id bound to key, if any.
func (c *IdempotencyCache) Lookup(ctx context.Context, key string) (string, bool) {
	c.mu.Lock()
	maybePresent := c.filter.TestString(key)
	c.mu.Unlock()
	if !maybePresent {
		return "", false
	}
	return c.backend.Get(ctx, key)
}

// Bind records that key maps to agentID.
func (c *IdempotencyCache) Bind(ctx context.Context, key, agentID string) {
	c.mu.Lock()
	c.filter.AddString(key)
	c.mu.Unlock()
	c.backend.Set(ctx, key, agentID)
}

// Purge removes key's binding. The bloom filter itself is never shrunk
// (blooms don't support deletion), so every later Lookup of a purged key
// still probes the backend, which then reports a miss.
func (c *IdempotencyCache) Purge(ctx context.Context, key string) {
	c.backend.Delete(ctx, key)
}
