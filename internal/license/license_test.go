package license

import (
	"errors"
	"testing"
	"time"

	"tenantgov.org/internal/apperr"
)

func testPlan(t *testing.T) Plan {
	t.Helper()
	p, err := NewPlan(PlanDefinition{
		ID:           "professional-v2",
		Name:         "Professional",
		Version:      2,
		Modules:      []string{"appointments", "invoicing", " "},
		Features:     []string{"sms_reminders"},
		Quotas:       map[string]int64{"invoices": 100, "api_calls": Unlimited},
		Integrations: []string{"exact_online"},
		MaxSeats:     25,
	})
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	return p
}

func fixedClock(now time.Time) Option {
	return WithClock(func() time.Time { return now })
}

func TestStatusStateMachine(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-48 * time.Hour)
	cases := []struct {
		status Status
		want   bool
	}{
		{StatusActive, true},
		{StatusTrial, true},
		{StatusExpired, false},
		{StatusSuspended, false},
		{StatusCancelled, false},
	}
	for _, tc := range cases {
		t.Run(tc.status.String(), func(t *testing.T) {
			l, err := New(7, testPlan(t), tc.status, &past, fixedClock(now))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if got := l.IsValid(); got != tc.want {
				t.Fatalf("IsValid=%v, want %v", got, tc.want)
			}
		})
	}
}

func TestGraceWindowBoundaries(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"three days ago", now.Add(-3 * 24 * time.Hour), true},
		{"ten days ago", now.Add(-10 * 24 * time.Hour), false},
		{"window minus one second", now.Add(-GraceWindow + time.Second), true},
		{"window exactly", now.Add(-GraceWindow), true},
		{"window plus one second", now.Add(-GraceWindow - time.Second), false},
		{"not yet expired", now.Add(time.Hour), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exp := tc.expiresAt
			l, err := New(7, testPlan(t), StatusGrace, &exp)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if got := l.IsValidAt(now); got != tc.want {
				t.Fatalf("IsValidAt=%v, want %v", got, tc.want)
			}
		})
	}
}

func TestGraceWithoutExpiryIsInvalid(t *testing.T) {
	l, err := New(7, testPlan(t), StatusGrace, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l.IsValid() {
		t.Fatalf("grace license without expiry must be invalid")
	}
}

func TestGraceDaysRemaining(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	exp := now.Add(-3*24*time.Hour - time.Hour)
	l, _ := New(7, testPlan(t), StatusGrace, &exp)
	if got := l.GraceDaysRemaining(now); got != 3 {
		t.Fatalf("GraceDaysRemaining=%d, want 3", got)
	}
	if got := l.GraceDaysRemaining(now.Add(8 * 24 * time.Hour)); got != 0 {
		t.Fatalf("outside window must be 0, got %d", got)
	}
	active, _ := New(7, testPlan(t), StatusActive, &exp)
	if got := active.GraceDaysRemaining(now); got != 0 {
		t.Fatalf("non-grace license must report 0, got %d", got)
	}
}

func TestCapabilitiesDenyWhenInvalid(t *testing.T) {
	plan := testPlan(t)
	active, _ := New(7, plan, StatusActive, nil)
	if !active.CanAccessModule("invoicing") || !active.HasFeature("sms_reminders") || !active.CanUseIntegration("exact_online") {
		t.Fatalf("active license must expose plan content")
	}
	if active.QuotaLimit("invoices") != 100 || active.MaxSeats() != 25 {
		t.Fatalf("unexpected limits: %d %d", active.QuotaLimit("invoices"), active.MaxSeats())
	}
	if active.CanAccessModule("payroll") {
		t.Fatalf("payroll is not in the plan")
	}

	suspended, _ := New(7, plan, StatusSuspended, nil)
	if suspended.CanAccessModule("invoicing") || suspended.HasFeature("sms_reminders") || suspended.CanUseIntegration("exact_online") {
		t.Fatalf("invalid license must deny every capability")
	}
	if suspended.QuotaLimit("invoices") != 0 || suspended.QuotaLimit("api_calls") != 0 || suspended.MaxSeats() != 0 {
		t.Fatalf("invalid license must report zero limits")
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	plan := testPlan(t)
	if _, err := New(0, plan, StatusActive, nil); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid tenant error, got %v", err)
	}
	if _, err := New(1, Plan{}, StatusActive, nil); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected missing plan error, got %v", err)
	}
	if _, err := New(1, plan, Status(42), nil); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected unknown status error, got %v", err)
	}
	if _, err := NewPlan(PlanDefinition{ID: "x", Quotas: map[string]int64{"seats": -2}}); err == nil {
		t.Fatalf("expected quota below -1 to fail")
	}
}

func TestParseStatusRoundTrip(t *testing.T) {
	for _, s := range []Status{StatusActive, StatusGrace, StatusExpired, StatusSuspended, StatusTrial, StatusCancelled} {
		text, err := s.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v): %v", s, err)
		}
		var back Status
		if err := back.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%s): %v", text, err)
		}
		if back != s {
			t.Fatalf("round trip %v -> %v", s, back)
		}
	}
	if _, err := ParseStatus("lapsed"); err == nil {
		t.Fatalf("expected unknown status to fail")
	}
}

func TestPlanAccessorsReturnCopies(t *testing.T) {
	p := testPlan(t)
	q := p.Quotas()
	q["invoices"] = 1
	if p.QuotaLimit("invoices") != 100 {
		t.Fatalf("plan was mutated through Quotas()")
	}
	if got := p.Modules(); len(got) != 2 || got[0] != "appointments" {
		t.Fatalf("unexpected modules: %v", got)
	}
}
