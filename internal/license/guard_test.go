package license

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tenantgov.org/internal/apperr"
	"tenantgov.org/internal/obs"
	"tenantgov.org/internal/tenant"
)

type subject struct {
	id  tenant.ID
	lic License
}

func (s subject) TenantID() tenant.ID { return s.id }
func (s subject) License() License    { return s.lic }

func activeSubject(t *testing.T) subject {
	t.Helper()
	l, err := New(7, testPlan(t), StatusActive, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return subject{id: 7, lic: l}
}

// plainResolver exposes only the non-atomic port.
type plainResolver struct {
	quota    UsageQuota
	checkErr error
	trackErr error
	tracked  int64
}

func (r *plainResolver) CheckQuota(ctx context.Context, tenantID tenant.ID, key string) (UsageQuota, error) {
	return r.quota, r.checkErr
}

func (r *plainResolver) TrackUsage(ctx context.Context, tenantID tenant.ID, key string, amount int64) error {
	if r.trackErr != nil {
		return r.trackErr
	}
	r.tracked += amount
	return nil
}

func TestAssertModuleViolationCarriesPlan(t *testing.T) {
	g := NewGuard(NewMemoryResolver(), WithMetrics(obs.NewMetrics(prometheus.NewRegistry())))
	s := activeSubject(t)

	if err := g.AssertModule(s, "invoicing"); err != nil {
		t.Fatalf("licensed module rejected: %v", err)
	}
	err := g.AssertModule(s, "payroll")
	if !errors.Is(err, apperr.ErrLicenseViolation) {
		t.Fatalf("expected license violation, got %v", err)
	}
	var v *ViolationError
	if !errors.As(err, &v) {
		t.Fatalf("expected ViolationError, got %T", err)
	}
	if v.Slug != "payroll" || v.PlanID != "professional-v2" || v.Kind != KindModule {
		t.Fatalf("unexpected violation: %+v", v)
	}
	md := apperr.MetadataOf(err)
	if md["slug"] != "payroll" || md["plan_id"] != "professional-v2" {
		t.Fatalf("metadata missing slug or plan: %v", md)
	}
}

func TestAssertFeatureAndIntegration(t *testing.T) {
	g := NewGuard(nil)
	s := activeSubject(t)
	if err := g.AssertFeature(s, "sms_reminders"); err != nil {
		t.Fatalf("licensed feature rejected: %v", err)
	}
	if err := g.AssertFeature(s, "ai_scheduling"); !errors.Is(err, apperr.ErrLicenseViolation) {
		t.Fatalf("expected violation, got %v", err)
	}
	if err := g.AssertIntegration(s, "mollie"); !errors.Is(err, apperr.ErrLicenseViolation) {
		t.Fatalf("expected violation, got %v", err)
	}
}

func TestExpiredLicenseDeniesEverything(t *testing.T) {
	exp := time.Now().Add(-30 * 24 * time.Hour)
	l, _ := New(7, testPlan(t), StatusGrace, &exp)
	g := NewGuard(nil)
	if err := g.AssertModule(subject{id: 7, lic: l}, "invoicing"); !errors.Is(err, apperr.ErrLicenseViolation) {
		t.Fatalf("expired grace license must be denied, got %v", err)
	}
}

func TestConsumeQuotaAtomicResolver(t *testing.T) {
	r := NewMemoryResolver()
	s := activeSubject(t)
	r.PutLicense(s.lic)
	r.SetLimit(7, "invoices", 3)
	g := NewGuard(r)
	ctx := context.Background()

	if err := g.ConsumeQuota(ctx, s, "invoices", 2); err != nil {
		t.Fatalf("ConsumeQuota: %v", err)
	}
	err := g.ConsumeQuota(ctx, s, "invoices", 2)
	var qe *QuotaError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QuotaError, got %v", err)
	}
	if qe.Current != 2 || qe.Limit != 3 || qe.Requested != 2 {
		t.Fatalf("unexpected quota error: %+v", qe)
	}
	if !errors.Is(err, apperr.ErrQuotaExhausted) {
		t.Fatalf("quota error must match sentinel")
	}
	if err := g.ConsumeQuota(ctx, s, "invoices", 0); err != nil {
		t.Fatalf("amount 0 means 1 and must fit: %v", err)
	}
	q, _ := r.CheckQuota(ctx, 7, "invoices")
	if q.Current != 3 {
		t.Fatalf("current=%d, want 3", q.Current)
	}
}

func TestConsumeQuotaUsesLicenseLimits(t *testing.T) {
	r := NewMemoryResolver()
	s := activeSubject(t)
	r.PutLicense(s.lic)
	g := NewGuard(r)
	for i := 0; i < 500; i++ {
		if err := g.ConsumeQuota(context.Background(), s, "api_calls", 1); err != nil {
			t.Fatalf("unlimited quota failed at %d: %v", i, err)
		}
	}
	if err := g.ConsumeQuota(context.Background(), s, "unknown_key", 1); !errors.Is(err, apperr.ErrQuotaExhausted) {
		t.Fatalf("unprovisioned key must be exhausted, got %v", err)
	}
}

func TestConsumeQuotaFallbackPath(t *testing.T) {
	r := &plainResolver{quota: UsageQuota{Key: "sms", Limit: 10, Current: 9}}
	g := NewGuard(r)
	s := activeSubject(t)
	if err := g.ConsumeQuota(context.Background(), s, "sms", 1); err != nil {
		t.Fatalf("ConsumeQuota: %v", err)
	}
	if r.tracked != 1 {
		t.Fatalf("tracked=%d, want 1", r.tracked)
	}
	if err := g.ConsumeQuota(context.Background(), s, "sms", 2); !errors.Is(err, apperr.ErrQuotaExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	if r.tracked != 1 {
		t.Fatalf("rejected consumption must not be tracked")
	}
}

func TestConsumeQuotaInfrastructureFailure(t *testing.T) {
	s := activeSubject(t)
	refused := errors.New("dial tcp 10.0.0.5:5432: connection refused")

	g := NewGuard(&plainResolver{checkErr: refused})
	err := g.ConsumeQuota(context.Background(), s, "sms", 1)
	if !errors.Is(err, apperr.ErrUnavailable) || !errors.Is(err, refused) {
		t.Fatalf("expected unavailable wrapping cause, got %v", err)
	}
	if errors.Is(err, apperr.ErrQuotaExhausted) {
		t.Fatalf("infrastructure failure must not look like exhaustion")
	}

	g = NewGuard(&plainResolver{quota: UsageQuota{Limit: 5}, trackErr: refused})
	if err := g.ConsumeQuota(context.Background(), s, "sms", 1); !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("expected unavailable on track failure, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g = NewGuard(NewMemoryResolver())
	if err := g.ConsumeQuota(ctx, s, "sms", 1); !apperr.IsRetryable(err) {
		t.Fatalf("cancelled context must be retryable, got %v", err)
	}
}

func TestConsumeQuotaRejectsBadArguments(t *testing.T) {
	g := NewGuard(NewMemoryResolver())
	s := activeSubject(t)
	if err := g.ConsumeQuota(context.Background(), s, " ", 1); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for empty key, got %v", err)
	}
	if err := g.ConsumeQuota(context.Background(), s, "sms", -1); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for negative amount, got %v", err)
	}
}

func TestConcurrentConsumptionNeverOverruns(t *testing.T) {
	r := NewMemoryResolver()
	s := activeSubject(t)
	r.SetLimit(7, "bookings", 50)
	g := NewGuard(r)

	var wg sync.WaitGroup
	var granted atomic.Int64
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.ConsumeQuota(context.Background(), s, "bookings", 1); err == nil {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	if granted.Load() != 50 {
		t.Fatalf("granted=%d, want 50", granted.Load())
	}
	q, _ := r.CheckQuota(context.Background(), 7, "bookings")
	if q.Current != 50 {
		t.Fatalf("current=%d, want 50", q.Current)
	}
}

func TestConsumeQuotaDeniedForInvalidLicense(t *testing.T) {
	exp := time.Now().Add(-30 * 24 * time.Hour)
	for _, status := range []Status{StatusSuspended, StatusCancelled, StatusExpired, StatusGrace} {
		t.Run(status.String(), func(t *testing.T) {
			l, err := New(7, testPlan(t), status, &exp)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			s := subject{id: 7, lic: l}

			plain := &plainResolver{quota: UsageQuota{Key: "invoices", Limit: 100}}
			if err := NewGuard(plain).ConsumeQuota(context.Background(), s, "invoices", 1); !errors.Is(err, apperr.ErrQuotaExhausted) {
				t.Fatalf("expected quota exhausted, got %v", err)
			}
			if plain.tracked != 0 {
				t.Fatalf("usage tracked for an invalid license: %d", plain.tracked)
			}

			mem := NewMemoryResolver()
			mem.SetLimit(7, "invoices", 100)
			if err := NewGuard(mem).ConsumeQuota(context.Background(), s, "invoices", 1); !errors.Is(err, apperr.ErrQuotaExhausted) {
				t.Fatalf("expected quota exhausted, got %v", err)
			}
			if q, _ := mem.CheckQuota(context.Background(), 7, "invoices"); q.Current != 0 {
				t.Fatalf("current=%d, want 0", q.Current)
			}
		})
	}
}

func TestConsumeQuotaHugeAmount(t *testing.T) {
	r := NewMemoryResolver()
	s := activeSubject(t)
	r.SetLimit(7, "invoices", 10)
	g := NewGuard(r)
	if err := g.ConsumeQuota(context.Background(), s, "invoices", 5); err != nil {
		t.Fatalf("ConsumeQuota: %v", err)
	}
	if err := g.ConsumeQuota(context.Background(), s, "invoices", math.MaxInt64); !errors.Is(err, apperr.ErrQuotaExhausted) {
		t.Fatalf("expected quota exhausted, got %v", err)
	}
	g = NewGuard(&plainResolver{quota: UsageQuota{Key: "invoices", Limit: 10, Current: 5}})
	if err := g.ConsumeQuota(context.Background(), s, "invoices", math.MaxInt64); !errors.Is(err, apperr.ErrQuotaExhausted) {
		t.Fatalf("fallback path: expected quota exhausted, got %v", err)
	}
}
