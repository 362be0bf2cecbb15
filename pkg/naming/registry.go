// Package naming resolves ring member UIDs to network addresses. It is the
// adapted form of ZTAP's pkg/discovery: the same in-memory-registry-plus-
// watch-channel shape, narrowed from label-matched service discovery to
// the simpler uid -> address binding a ring node needs to dial its
// successor.
package naming

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Registry binds node UIDs to addresses and notifies watchers of changes,
// the same role pkg/discovery.InMemoryDiscovery plays for ZTAP's enforcer
// processes.
type Registry struct {
	mu       sync.RWMutex
	bindings map[int32]string
	watchers []chan map[int32]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[int32]string)}
}

// Bind records the address a UID is reachable at, overwriting any prior
// binding.
func (r *Registry) Bind(uid int32, address string) {
	r.mu.Lock()
	r.bindings[uid] = address
	r.mu.Unlock()
	r.notifyWatchers()
}

// Unbind removes a UID's binding, e.g. on graceful shutdown.
func (r *Registry) Unbind(uid int32) {
	r.mu.Lock()
	delete(r.bindings, uid)
	r.mu.Unlock()
	r.notifyWatchers()
}

// Lookup resolves a UID's current address.
func (r *Registry) Lookup(uid int32) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.bindings[uid]
	if !ok {
		return "", fmt.Errorf("naming: no binding for uid %d", uid)
	}
	return addr, nil
}

// Snapshot returns a copy of every current binding.
func (r *Registry) Snapshot() map[int32]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int32]string, len(r.bindings))
	for uid, addr := range r.bindings {
		out[uid] = addr
	}
	return out
}

// Watch returns a channel that receives the full binding set whenever it
// changes, closing when ctx is done. Mirrors
// pkg/discovery.InMemoryDiscovery.Watch, minus the label filter this
// domain has no use for.
func (r *Registry) Watch(ctx context.Context) <-chan map[int32]string {
	ch := make(chan map[int32]string, 10)

	r.mu.Lock()
	r.watchers = append(r.watchers, ch)
	r.mu.Unlock()

	ch <- r.Snapshot()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, w := range r.watchers {
			if w == ch {
				r.watchers = append(r.watchers[:i], r.watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch
}

func (r *Registry) notifyWatchers() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := r.Snapshot()
	for _, ch := range r.watchers {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

// CachedRegistry wraps a Registry with a TTL cache over Lookup, the same
// pattern as pkg/discovery.CacheDiscovery. RebuildRing reassigns every
// successor on each topology change, so the cache is invalidated wholesale
// on every Invalidate call rather than per-entry expiry alone.
type CachedRegistry struct {
	backend *Registry
	ttl     time.Duration

	mu    sync.RWMutex
	cache map[int32]cacheEntry
}

type cacheEntry struct {
	address   string
	expiresAt time.Time
}

// NewCachedRegistry wraps backend with a TTL cache.
func NewCachedRegistry(backend *Registry, ttl time.Duration) *CachedRegistry {
	return &CachedRegistry{backend: backend, ttl: ttl, cache: make(map[int32]cacheEntry)}
}

// Lookup resolves uid, serving a cached address when still fresh.
func (c *CachedRegistry) Lookup(uid int32) (string, error) {
	c.mu.RLock()
	if entry, ok := c.cache[uid]; ok && time.Now().Before(entry.expiresAt) {
		c.mu.RUnlock()
		return entry.address, nil
	}
	c.mu.RUnlock()

	addr, err := c.backend.Lookup(uid)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.cache[uid] = cacheEntry{address: addr, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return addr, nil
}

// Bind delegates to the backend and drops any stale cache entry for uid.
func (c *CachedRegistry) Bind(uid int32, address string) {
	c.backend.Bind(uid, address)
	c.mu.Lock()
	delete(c.cache, uid)
	c.mu.Unlock()
}

// Unbind delegates to the backend and drops uid's cache entry.
func (c *CachedRegistry) Unbind(uid int32) {
	c.backend.Unbind(uid)
	c.mu.Lock()
	delete(c.cache, uid)
	c.mu.Unlock()
}

// Invalidate clears every cached entry. Called after RebuildRing, since a
// topology change can move any UID to a new successor relationship even
// though its own address hasn't changed.
func (c *CachedRegistry) Invalidate() {
	c.mu.Lock()
	c.cache = make(map[int32]cacheEntry)
	c.mu.Unlock()
}
