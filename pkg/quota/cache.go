package quota

import (
	"context"
	"sync"
	"time"
)

type cacheEntry struct {
	policy  Policy
	found   bool
	loadedAt time.Time
}

// cachingResolver wraps a PolicyResolver with a 60-second in-memory TTL,
// so a hot path doesn't re-fetch a policy document on every dispatch
// while still picking up a policy change across distributed instances
// within one TTL window (spec.md §4.E).
type cachingResolver struct {
	inner PolicyResolver
	ttl   time.Duration
	now   func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func newCachingResolver(inner PolicyResolver, ttl time.Duration) *cachingResolver {
	return &cachingResolver{inner: inner, ttl: ttl, now: time.Now, cache: make(map[string]cacheEntry)}
}

func (c *cachingResolver) Resolve(ctx context.Context, namespace, tenant string) (Policy, bool, error) {
	key := namespace + ":" + tenant

	c.mu.Lock()
	if e, ok := c.cache[key]; ok && c.now().Sub(e.loadedAt) < c.ttl {
		c.mu.Unlock()
		return e.policy, e.found, nil
	}
	c.mu.Unlock()

	p, found, err := c.inner.Resolve(ctx, namespace, tenant)
	if err != nil {
		return Policy{}, false, err
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry{policy: p, found: found, loadedAt: c.now()}
	c.mu.Unlock()

	return p, found, nil
}

// invalidate drops a cached entry immediately, for policy updates that
// shouldn't wait out the TTL. Nothing in this module calls it; PutPolicy
// does not.
func (c *cachingResolver) invalidate(namespace, tenant string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, namespace+":"+tenant)
}
