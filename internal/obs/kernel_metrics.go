package obs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tenantgov"

// Metrics bundles the kernel's counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	idempotencyLookups *prometheus.CounterVec
	licenseDenials     *prometheus.CounterVec
	quotaConsumed      *prometheus.CounterVec
	quotaExhausted     *prometheus.CounterVec
	dispatchDuration   *prometheus.HistogramVec
	integrityChecks    *prometheus.CounterVec
	integrityFailed    prometheus.Counter
	chainAppends       prometheus.Counter
}

// NewMetrics registers the kernel metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		idempotencyLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotency_lookups_total",
			Help:      "Idempotency cache lookups by outcome.",
		}, []string{"outcome"}),
		licenseDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "license_denials_total",
			Help:      "Requests rejected by the license guard.",
		}, []string{"kind"}),
		quotaConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_consumed_total",
			Help:      "Units of quota consumed.",
		}, []string{"key"}),
		quotaExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_exhausted_total",
			Help:      "Quota consumption attempts rejected as exhausted.",
		}, []string{"key"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Command and query dispatch latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind", "route", "outcome"}),
		integrityChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_checks_total",
			Help:      "Hash chain verifications by result.",
		}, []string{"result"}),
		integrityFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_failed_entries_total",
			Help:      "Chain entries reported as broken.",
		}),
		chainAppends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_appends_total",
			Help:      "Entries appended to tenant hash chains.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.idempotencyLookups,
			m.licenseDenials,
			m.quotaConsumed,
			m.quotaExhausted,
			m.dispatchDuration,
			m.integrityChecks,
			m.integrityFailed,
			m.chainAppends,
		)
	}
	return m
}

func (m *Metrics) IdempotencyLookup(outcome string) {
	if m == nil {
		return
	}
	m.idempotencyLookups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) LicenseDenied(kind string) {
	if m == nil {
		return
	}
	m.licenseDenials.WithLabelValues(kind).Inc()
}

func (m *Metrics) QuotaConsumed(key string, amount int64) {
	if m == nil {
		return
	}
	m.quotaConsumed.WithLabelValues(key).Add(float64(amount))
}

func (m *Metrics) QuotaExhausted(key string) {
	if m == nil {
		return
	}
	m.quotaExhausted.WithLabelValues(key).Inc()
}

func (m *Metrics) Dispatched(kind, route, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.dispatchDuration.WithLabelValues(kind, route, outcome).Observe(time.Since(started).Seconds())
}

func (m *Metrics) IntegrityChecked(passed bool, failed int) {
	if m == nil {
		return
	}
	result := "passed"
	if !passed {
		result = "failed"
	}
	m.integrityChecks.WithLabelValues(result).Inc()
	m.integrityFailed.Add(float64(failed))
}

func (m *Metrics) ChainAppended() {
	if m == nil {
		return
	}
	m.chainAppends.Inc()
}
