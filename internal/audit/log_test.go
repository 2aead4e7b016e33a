package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"tenantgov.org/internal/auth"
	"tenantgov.org/internal/license"
	"tenantgov.org/internal/obs"
	"tenantgov.org/internal/tenant"
)

func TestLogEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := obs.NewLogger(&buf, "info")

	plan, err := license.NewPlan(license.PlanDefinition{ID: "basic"})
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	lic, err := license.New(4, plan, license.StatusActive, nil)
	if err != nil {
		t.Fatalf("license.New: %v", err)
	}
	sc, err := auth.NewSecurityContext(auth.Params{
		TenantID:      4,
		UserID:        tenant.UserID("3f2504e0-4f89-11d3-9a0c-0305e82c3301"),
		License:       lic,
		CorrelationID: "corr-1",
	})
	if err != nil {
		t.Fatalf("NewSecurityContext: %v", err)
	}

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithSecurity(ctx, sc)

	if err := LogEventTo(ctx, logger, "audit.test", map[string]any{"foo": "bar"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	line := buf.String()
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "audit.test" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["user_id"] != "3f2504e0-4f89-11d3-9a0c-0305e82c3301" {
		t.Fatalf("unexpected user id: %v", entry["user_id"])
	}
	if entry["tenant_id"] != float64(4) || entry["correlation_id"] != "corr-1" || entry["auth_method"] != "token" {
		t.Fatalf("security context missing: %v", entry)
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["foo"] != "bar" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEventTo(context.Background(), obs.NewLogger(&bytes.Buffer{}, "info"), " ", nil); err == nil {
		t.Fatalf("expected error for empty event")
	}
}
