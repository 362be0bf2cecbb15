package naming

import (
	"context"
	"testing"
	"time"
)

func TestBindLookupUnbind(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Lookup(5); err == nil {
		t.Fatal("expected error looking up unbound uid")
	}

	r.Bind(5, "127.0.0.1:9000")
	addr, err := r.Lookup(5)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if addr != "127.0.0.1:9000" {
		t.Fatalf("unexpected address: %s", addr)
	}

	r.Unbind(5)
	if _, err := r.Lookup(5); err == nil {
		t.Fatal("expected error after unbind")
	}
}

func TestWatchReceivesUpdates(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := r.Watch(ctx)
	initial := <-ch
	if len(initial) != 0 {
		t.Fatalf("expected empty initial snapshot, got %v", initial)
	}

	r.Bind(2, "127.0.0.1:9002")

	select {
	case snapshot := <-ch:
		if snapshot[2] != "127.0.0.1:9002" {
			t.Fatalf("expected snapshot to contain new binding, got %v", snapshot)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for watch update")
	}
}

func TestCachedRegistryServesFromCache(t *testing.T) {
	backend := NewRegistry()
	backend.Bind(7, "127.0.0.1:9007")
	cached := NewCachedRegistry(backend, time.Minute)

	addr, err := cached.Lookup(7)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if addr != "127.0.0.1:9007" {
		t.Fatalf("unexpected address: %s", addr)
	}

	// Mutate the backend directly, bypassing the cache's own Bind, to
	// confirm the cached value is what gets served until invalidated.
	backend.Bind(7, "127.0.0.1:9999")
	addr, err = cached.Lookup(7)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if addr != "127.0.0.1:9007" {
		t.Fatalf("expected stale cached address, got %s", addr)
	}

	cached.Invalidate()
	addr, err = cached.Lookup(7)
	if err != nil {
		t.Fatalf("lookup after invalidate: %v", err)
	}
	if addr != "127.0.0.1:9999" {
		t.Fatalf("expected fresh address after invalidate, got %s", addr)
	}
}

func TestCachedRegistryBindInvalidatesEntry(t *testing.T) {
	backend := NewRegistry()
	cached := NewCachedRegistry(backend, time.Minute)

	cached.Bind(3, "127.0.0.1:9003")
	addr, err := cached.Lookup(3)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if addr != "127.0.0.1:9003" {
		t.Fatalf("unexpected address: %s", addr)
	}

	cached.Bind(3, "127.0.0.1:9333")
	addr, err = cached.Lookup(3)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if addr != "127.0.0.1:9333" {
		t.Fatalf("expected updated address after rebind, got %s", addr)
	}
}
