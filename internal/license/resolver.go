package license

import (
	"context"

	"tenantgov.org/internal/tenant"
)

// Resolver reads and tracks quota usage owned by billing.
type Resolver interface {
	CheckQuota(ctx context.Context, tenantID tenant.ID, key string) (UsageQuota, error)
	TrackUsage(ctx context.Context, tenantID tenant.ID, key string, amount int64) error
}

// AtomicResolver performs check-and-increment as one operation.
// ok is false when the increment would exceed the limit; quota is the state observed.
type AtomicResolver interface {
	Resolver
	ConsumeQuota(ctx context.Context, tenantID tenant.ID, key string, amount int64) (quota UsageQuota, ok bool, err error)
}

// Source resolves the license of a tenant for the current unit of work.
type Source interface {
	License(ctx context.Context, tenantID tenant.ID) (License, error)
}

// PlanSource loads catalog plans.
type PlanSource interface {
	Plan(ctx context.Context, planID string) (Plan, error)
}
