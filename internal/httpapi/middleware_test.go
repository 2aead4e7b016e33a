package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tenantgov.org/internal/audit"
	"tenantgov.org/internal/ids"
	"tenantgov.org/internal/obs"
)

func TestRateLimitExceeded(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequestID(RateLimit(base, 1, 1))

	req := httptest.NewRequest(http.MethodGet, "/limited", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, req.Clone(context.Background()))
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first call 200, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req.Clone(context.Background()))
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr2.Code)
	}
	if rr2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	var body map[string]any
	if err := json.Unmarshal(rr2.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode rate limit body: %v", err)
	}
	if body["error"] == "" {
		t.Fatalf("expected error message in body")
	}
	if body["request_id"] == "" {
		t.Fatalf("expected request_id in body")
	}

	// Other clients keep their own bucket.
	other := req.Clone(context.Background())
	other.RemoteAddr = "10.0.0.2:1234"
	rr3 := httptest.NewRecorder()
	handler.ServeHTTP(rr3, other)
	if rr3.Code != http.StatusOK {
		t.Fatalf("expected other client 200, got %d", rr3.Code)
	}
}

func TestRequestIDPropagates(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = audit.RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "req-from-gateway")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if seen != "req-from-gateway" || rr.Header().Get(requestIDHeader) != "req-from-gateway" {
		t.Fatalf("caller request id not kept: ctx=%q header=%q", seen, rr.Header().Get(requestIDHeader))
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if !ids.Valid(seen) || rr.Header().Get(requestIDHeader) != seen {
		t.Fatalf("expected minted ULID request id, got %q", seen)
	}
}

func TestLoggingJSONEmitsStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	prev := obs.SetLogger(obs.NewLogger(&buf, "info"))
	defer obs.SetLogger(prev)

	handler := RequestID(LoggingJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/log-test", nil)
	req.Header.Set("User-Agent", "middleware-test")
	req.RemoteAddr = "127.0.0.1:1234"

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req.Clone(context.Background()))

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected log line")
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v", err)
	}
	for _, key := range []string{"time", "level", "msg", "request_id", "method", "path", "status", "duration_ms"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("expected key %q in log entry", key)
		}
	}
	if entry["msg"] != "request_complete" {
		t.Fatalf("unexpected msg: %v", entry["msg"])
	}
	if entry["status"] != float64(http.StatusTeapot) {
		t.Fatalf("unexpected status: %v", entry["status"])
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("preflight must not reach the handler")
	}))
	req := httptest.NewRequest(http.MethodOptions, "/v1/tenants/11/chain", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("local origin not allowed")
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key") {
		t.Fatalf("Idempotency-Key must be allowed")
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc.def", "abc.def", true},
		{"bearer  abc ", "abc", true},
		{"", "", false},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"Bear", "", false},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if tc.ok != (err == nil) || got != tc.want {
			t.Fatalf("extractBearerToken(%q) = %q, %v", tc.header, got, err)
		}
	}
}
