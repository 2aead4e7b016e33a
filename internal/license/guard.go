package license

import (
	"context"
	"log/slog"
	"strings"

	"tenantgov.org/internal/apperr"
	"tenantgov.org/internal/obs"
	"tenantgov.org/internal/tenant"
)

// Subject is anything carrying a tenant and its license, usually auth.SecurityContext.
type Subject interface {
	TenantID() tenant.ID
	License() License
}

// Guard performs admission control against a subject's license.
type Guard struct {
	resolver Resolver
	metrics  *obs.Metrics
	logger   *slog.Logger
}

// GuardOption configures Guard.
type GuardOption func(*Guard)

func WithMetrics(m *obs.Metrics) GuardOption {
	return func(g *Guard) { g.metrics = m }
}

func WithLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) { g.logger = l }
}

// NewGuard constructs a Guard over resolver.
func NewGuard(resolver Resolver, opts ...GuardOption) *Guard {
	g := &Guard{resolver: resolver}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = obs.Or(g.logger)
	return g
}

// AssertModule fails with a license violation when the module is not licensed.
func (g *Guard) AssertModule(s Subject, slug string) error {
	if s.License().CanAccessModule(slug) {
		return nil
	}
	return g.deny(s, KindModule, slug)
}

// AssertFeature fails with a license violation when the feature flag is not licensed.
func (g *Guard) AssertFeature(s Subject, key string) error {
	if s.License().HasFeature(key) {
		return nil
	}
	return g.deny(s, KindFeature, key)
}

// AssertIntegration fails with a license violation when the integration is not licensed.
func (g *Guard) AssertIntegration(s Subject, slug string) error {
	if s.License().CanUseIntegration(slug) {
		return nil
	}
	return g.deny(s, KindIntegration, slug)
}

// ConsumeQuota records amount units against key, or fails with a quota error.
// An amount of 0 means 1. A license that is not valid admits nothing,
// whatever limit the resolver holds.
func (g *Guard) ConsumeQuota(ctx context.Context, s Subject, key string, amount int64) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return apperr.InvalidArgument("quota key is required")
	}
	if amount == 0 {
		amount = 1
	}
	if amount < 0 {
		return apperr.InvalidArgument("quota amount must be positive")
	}
	if g.resolver == nil {
		return apperr.New(apperr.CodeUnavailable, "license resolver is not configured")
	}
	tenantID := s.TenantID()
	if !s.License().IsValid() {
		return g.exhausted(tenantID, key, UsageQuota{Key: key}, amount)
	}

	if atomic, ok := g.resolver.(AtomicResolver); ok {
		quota, consumed, err := atomic.ConsumeQuota(ctx, tenantID, key, amount)
		if err != nil {
			return apperr.Unavailable("license: consume quota", err)
		}
		if !consumed {
			return g.exhausted(tenantID, key, quota, amount)
		}
		g.metrics.QuotaConsumed(key, amount)
		return nil
	}

	quota, err := g.resolver.CheckQuota(ctx, tenantID, key)
	if err != nil {
		return apperr.Unavailable("license: check quota", err)
	}
	if !quota.CanConsume(amount) {
		return g.exhausted(tenantID, key, quota, amount)
	}
	if err := g.resolver.TrackUsage(ctx, tenantID, key, amount); err != nil {
		return apperr.Unavailable("license: track usage", err)
	}
	g.metrics.QuotaConsumed(key, amount)
	return nil
}

func (g *Guard) deny(s Subject, kind, slug string) error {
	lic := s.License()
	g.metrics.LicenseDenied(kind)
	g.logger.Info("license_denied",
		"tenant_id", s.TenantID().Int64(),
		"kind", kind,
		"slug", slug,
		"plan_id", lic.PlanID(),
		"status", lic.Status().String(),
	)
	return &ViolationError{Kind: kind, Slug: slug, PlanID: lic.PlanID(), TenantID: s.TenantID()}
}

func (g *Guard) exhausted(tenantID tenant.ID, key string, quota UsageQuota, amount int64) error {
	g.metrics.QuotaExhausted(key)
	g.logger.Info("quota_exhausted",
		"tenant_id", tenantID.Int64(),
		"key", key,
		"current", quota.Current,
		"limit", quota.Limit,
		"requested", amount,
	)
	return &QuotaError{Key: key, Current: quota.Current, Limit: quota.Limit, Requested: amount}
}
