package license

import (
	"context"
	"strings"
	"sync"

	"tenantgov.org/internal/apperr"
	"tenantgov.org/internal/tenant"
)

type usageKey struct {
	tenantID tenant.ID
	key      string
}

// MemoryResolver keeps licenses and usage in process.
// Limits come from an explicit override or from the tenant's license.
type MemoryResolver struct {
	mu       sync.Mutex
	licenses map[tenant.ID]License
	limits   map[usageKey]int64
	usage    map[usageKey]int64
}

var (
	_ AtomicResolver = (*MemoryResolver)(nil)
	_ Source         = (*MemoryResolver)(nil)
)

// NewMemoryResolver creates an empty resolver.
func NewMemoryResolver() *MemoryResolver {
	return &MemoryResolver{
		licenses: make(map[tenant.ID]License),
		limits:   make(map[usageKey]int64),
		usage:    make(map[usageKey]int64),
	}
}

// PutLicense stores or replaces the license of its tenant.
func (r *MemoryResolver) PutLicense(l License) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.licenses[l.TenantID()] = l
}

// SetLimit overrides the limit of one tenant quota.
func (r *MemoryResolver) SetLimit(tenantID tenant.ID, key string, limit int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limits[usageKey{tenantID, key}] = limit
}

func (r *MemoryResolver) License(ctx context.Context, tenantID tenant.ID) (License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.licenses[tenantID]
	if !ok {
		return License{}, apperr.New(apperr.CodeNotFound, "license not found for tenant "+tenantID.String())
	}
	return l, nil
}

func (r *MemoryResolver) CheckQuota(ctx context.Context, tenantID tenant.ID, key string) (UsageQuota, error) {
	if err := ctx.Err(); err != nil {
		return UsageQuota{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.quotaLocked(tenantID, key), nil
}

func (r *MemoryResolver) TrackUsage(ctx context.Context, tenantID tenant.ID, key string, amount int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usage[usageKey{tenantID, strings.TrimSpace(key)}] += amount
	return nil
}

func (r *MemoryResolver) ConsumeQuota(ctx context.Context, tenantID tenant.ID, key string, amount int64) (UsageQuota, bool, error) {
	if err := ctx.Err(); err != nil {
		return UsageQuota{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.quotaLocked(tenantID, key)
	if !q.CanConsume(amount) {
		return q, false, nil
	}
	r.usage[usageKey{tenantID, q.Key}] += amount
	q.Current += amount
	return q, true, nil
}

func (r *MemoryResolver) quotaLocked(tenantID tenant.ID, key string) UsageQuota {
	key = strings.TrimSpace(key)
	uk := usageKey{tenantID, key}
	limit, ok := r.limits[uk]
	if !ok {
		if l, found := r.licenses[tenantID]; found {
			limit = l.QuotaLimit(key)
		}
	}
	return UsageQuota{Key: key, Limit: limit, Current: r.usage[uk]}
}

// StaticPlans is a PlanSource over a fixed set of plans.
type StaticPlans map[string]Plan

func (s StaticPlans) Plan(ctx context.Context, planID string) (Plan, error) {
	p, ok := s[planID]
	if !ok {
		return Plan{}, apperr.New(apperr.CodeNotFound, "plan "+planID+" not found")
	}
	return p, nil
}
