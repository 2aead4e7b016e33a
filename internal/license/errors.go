package license

import (
	"fmt"
	"strconv"

	"tenantgov.org/internal/apperr"
	"tenantgov.org/internal/tenant"
)

// Violation kinds.
const (
	KindModule      = "module"
	KindFeature     = "feature"
	KindIntegration = "integration"
)

// ViolationError reports an entitlement the tenant's plan does not include.
type ViolationError struct {
	Kind     string
	Slug     string
	PlanID   string
	TenantID tenant.ID
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("license: %s %q is not included in plan %q", e.Kind, e.Slug, e.PlanID)
}

// Unwrap exposes the kernel error so boundaries can map code and metadata.
func (e *ViolationError) Unwrap() error {
	return apperr.WithMetadata(apperr.CodeLicenseViolation, e.Error(), map[string]string{
		"kind":      e.Kind,
		"slug":      e.Slug,
		"plan_id":   e.PlanID,
		"tenant_id": e.TenantID.String(),
	})
}

// QuotaError reports a consumption that would overrun the quota limit.
type QuotaError struct {
	Key       string
	Current   int64
	Limit     int64
	Requested int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("license: quota %q exhausted (%d/%d, requested %d)", e.Key, e.Current, e.Limit, e.Requested)
}

func (e *QuotaError) Unwrap() error {
	return apperr.WithMetadata(apperr.CodeQuotaExhausted, e.Error(), map[string]string{
		"key":       e.Key,
		"current":   strconv.FormatInt(e.Current, 10),
		"limit":     strconv.FormatInt(e.Limit, 10),
		"requested": strconv.FormatInt(e.Requested, 10),
	})
}
