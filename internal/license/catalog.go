package license

import (
	"context"
	"sync"
	"time"

	"tenantgov.org/internal/apperr"
)

type catalogEntry struct {
	plan    Plan
	expires time.Time
}

// Catalog caches plans process-wide for a short TTL. Plans are read-only,
// so sharing them across tenants is safe; licenses and usage are never cached here.
type Catalog struct {
	source PlanSource
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]catalogEntry
}

var _ PlanSource = (*Catalog)(nil)

// NewCatalog wraps source with a TTL cache. A non-positive ttl disables caching.
func NewCatalog(source PlanSource, ttl time.Duration) *Catalog {
	return &Catalog{
		source:  source,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]catalogEntry),
	}
}

// Plan returns a cached plan or loads it from the source.
func (c *Catalog) Plan(ctx context.Context, planID string) (Plan, error) {
	now := c.now()
	c.mu.Lock()
	if e, ok := c.entries[planID]; ok && now.Before(e.expires) {
		c.mu.Unlock()
		return e.plan, nil
	}
	c.mu.Unlock()

	plan, err := c.source.Plan(ctx, planID)
	if err != nil {
		return Plan{}, apperr.Unavailable("license: load plan", err)
	}
	if c.ttl > 0 {
		c.mu.Lock()
		c.entries[planID] = catalogEntry{plan: plan, expires: now.Add(c.ttl)}
		c.mu.Unlock()
	}
	return plan, nil
}

// Invalidate drops a cached plan, e.g. after a new version is published.
func (c *Catalog) Invalidate(planID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, planID)
}
