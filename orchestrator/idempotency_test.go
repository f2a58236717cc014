package orchestrator

import (
	"context"
	"testing"
)

func TestIdempotencyCacheBindThenLookup(t *testing.T) {
	cache := NewIdempotencyCache(NewInMemoryIdempotencyBackend(), 100)
	ctx := context.Background()

	if _, ok := cache.Lookup(ctx, "key-1"); ok {
		t.Fatal("expected a miss before binding")
	}

	cache.Bind(ctx, "key-1", "agent-1")

	id, ok := cache.Lookup(ctx, "key-1")
	if !ok || id != "agent-1" {
		t.Fatalf("expected a hit on agent-1, got %q, %v", id, ok)
	}
}

// TestIdempotencyCacheBloomMissSkipsBackend confirms an unbound key never
// reaches the backend: the bloom filter's negative test is a guaranteed
// miss.
func TestIdempotencyCacheBloomMissSkipsBackend(t *testing.T) {
	backend := NewInMemoryIdempotencyBackend()
	cache := NewIdempotencyCache(backend, 100)
	ctx := context.Background()

	// Seed the backend directly, bypassing Bind: a hit here could only come
	// from a backend probe.
	backend.Set(ctx, "never-bound", "agent-x")

	if _, ok := cache.Lookup(ctx, "never-bound"); ok {
		t.Fatal("expected a miss for a key that was never bound")
	}
}

func TestIdempotencyCachePurgeRemovesBackendEntry(t *testing.T) {
	cache := NewIdempotencyCache(NewInMemoryIdempotencyBackend(), 100)
	ctx := context.Background()

	cache.Bind(ctx, "key-1", "agent-1")
	cache.Purge(ctx, "key-1")

	// The bloom filter itself never shrinks, so a post-purge lookup still
	// probes the backend, but it must come back empty.
	if id, ok := cache.Lookup(ctx, "key-1"); ok {
		t.Fatalf("expected purge to remove the binding, got %q", id)
	}
}

func TestInMemoryIdempotencyBackendDelete(t *testing.T) {
	b := NewInMemoryIdempotencyBackend()
	ctx := context.Background()

	b.Set(ctx, "k", "v")
	if v, ok := b.Get(ctx, "k"); !ok || v != "v" {
		t.Fatalf("expected to read back the set value, got %q, %v", v, ok)
	}
	b.Delete(ctx, "k")
	if _, ok := b.Get(ctx, "k"); ok {
		t.Fatal("expected the key to be gone after delete")
	}
}
