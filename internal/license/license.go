package license

import (
	"time"

	"tenantgov.org/internal/apperr"
	"tenantgov.org/internal/tenant"
)

// GraceWindow is how long a grace license stays valid after expiry.
const GraceWindow = 7 * 24 * time.Hour

// License binds a tenant to a plan. It is a per-request projection of billing state.
type License struct {
	tenantID  tenant.ID
	plan      Plan
	status    Status
	expiresAt *time.Time
	now       func() time.Time
}

// Option tweaks License construction.
type Option func(*License)

// WithClock overrides the clock used by IsValid and the capability accessors.
func WithClock(now func() time.Time) Option {
	return func(l *License) {
		if now != nil {
			l.now = now
		}
	}
}

// New validates and builds a license. expiresAt may be nil.
func New(tenantID tenant.ID, plan Plan, status Status, expiresAt *time.Time, opts ...Option) (License, error) {
	if !tenantID.Valid() {
		return License{}, apperr.InvalidArgument("license tenant id must be positive")
	}
	if plan.ID() == "" {
		return License{}, apperr.InvalidArgument("license plan is required")
	}
	if !status.Known() {
		return License{}, apperr.InvalidArgument("license status is unknown")
	}
	l := License{
		tenantID: tenantID,
		plan:     plan,
		status:   status,
		now:      time.Now,
	}
	if expiresAt != nil {
		exp := expiresAt.UTC()
		l.expiresAt = &exp
	}
	for _, opt := range opts {
		opt(&l)
	}
	return l, nil
}

func (l License) TenantID() tenant.ID { return l.tenantID }
func (l License) Plan() Plan          { return l.plan }
func (l License) PlanID() string      { return l.plan.ID() }
func (l License) Status() Status      { return l.status }

// ExpiresAt returns the expiry, if any.
func (l License) ExpiresAt() (time.Time, bool) {
	if l.expiresAt == nil {
		return time.Time{}, false
	}
	return *l.expiresAt, true
}

// IsValid evaluates validity against the license clock.
func (l License) IsValid() bool {
	return l.IsValidAt(l.clock())
}

// IsValidAt evaluates the status state machine at now.
func (l License) IsValidAt(now time.Time) bool {
	switch l.status {
	case StatusActive, StatusTrial:
		return true
	case StatusGrace:
		return l.inGrace(now)
	case StatusExpired, StatusSuspended, StatusCancelled:
		return false
	default:
		return false
	}
}

// GraceDaysRemaining returns whole days left in the grace window, 0 outside it.
func (l License) GraceDaysRemaining(now time.Time) int {
	if l.status != StatusGrace || !l.inGrace(now) {
		return 0
	}
	left := l.expiresAt.Add(GraceWindow).Sub(now)
	return int(left / (24 * time.Hour))
}

func (l License) inGrace(now time.Time) bool {
	if l.expiresAt == nil {
		return false
	}
	end := l.expiresAt.Add(GraceWindow)
	return now.After(*l.expiresAt) && !now.After(end)
}

func (l License) CanAccessModule(slug string) bool {
	return l.IsValid() && l.plan.IncludesModule(slug)
}

func (l License) HasFeature(key string) bool {
	return l.IsValid() && l.plan.IncludesFeature(key)
}

func (l License) CanUseIntegration(slug string) bool {
	return l.IsValid() && l.plan.AllowsIntegration(slug)
}

// QuotaLimit returns the plan limit for key, or 0 when the license is invalid.
func (l License) QuotaLimit(key string) int64 {
	if !l.IsValid() {
		return 0
	}
	return l.plan.QuotaLimit(key)
}

// MaxSeats returns the plan seat limit, or 0 when the license is invalid.
func (l License) MaxSeats() int64 {
	if !l.IsValid() {
		return 0
	}
	return l.plan.MaxSeats()
}

func (l License) clock() time.Time {
	if l.now == nil {
		return time.Now()
	}
	return l.now()
}
