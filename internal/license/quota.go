package license

import "math"

// UsageQuota is the usage of one metered key for a tenant.
// Current may exceed Limit after late-arriving consumption.
type UsageQuota struct {
	Key     string `json:"key"`
	Limit   int64  `json:"limit"`
	Current int64  `json:"current"`
}

func (q UsageQuota) IsUnlimited() bool { return q.Limit == Unlimited }

func (q UsageQuota) IsExhausted() bool {
	return !q.IsUnlimited() && q.Current >= q.Limit
}

// Remaining never goes below zero; unlimited quotas report math.MaxInt64.
func (q UsageQuota) Remaining() int64 {
	if q.IsUnlimited() {
		return math.MaxInt64
	}
	if q.Current >= q.Limit {
		return 0
	}
	return q.Limit - q.Current
}

// PercentageUsed is capped at 100.
func (q UsageQuota) PercentageUsed() float64 {
	if q.IsUnlimited() {
		return 0
	}
	if q.Limit <= 0 {
		return 100
	}
	pct := float64(q.Current) / float64(q.Limit) * 100
	return math.Max(0, math.Min(pct, 100))
}

// CanConsume reports whether amount more units fit under the limit.
func (q UsageQuota) CanConsume(amount int64) bool {
	if q.IsUnlimited() {
		return true
	}
	if amount < 0 || q.Current > q.Limit {
		return false
	}
	return amount <= q.Limit-q.Current
}
