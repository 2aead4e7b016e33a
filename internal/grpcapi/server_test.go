package grpcapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"tenantgov.org/internal/apperr"
	"tenantgov.org/internal/audit"
	"tenantgov.org/internal/auth"
	"tenantgov.org/internal/license"
	"tenantgov.org/internal/tenant"
)

const salon tenant.ID = 11

// whoami echoes the authenticated caller through health messages so the
// test needs no generated code of its own.
type whoami struct{}

func (whoami) check(ctx context.Context, in *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	switch in.GetService() {
	case "panic":
		panic("boom")
	case "payroll":
		return nil, apperr.WithMetadata(apperr.CodeLicenseViolation, "module payroll not in plan", map[string]string{"slug": "payroll"})
	}
	sc, err := auth.RequireSecurity(ctx)
	if err != nil {
		return nil, err
	}
	if sc.TenantID() != salon || audit.RequestIDFromContext(ctx) == "" {
		return nil, errors.New("unexpected caller")
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

var whoamiDesc = grpc.ServiceDesc{
	ServiceName: "tenantgov.test.Whoami",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Check",
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(healthpb.HealthCheckRequest)
			if err := dec(in); err != nil {
				return nil, err
			}
			h := func(ctx context.Context, req any) (any, error) {
				return srv.(whoami).check(ctx, req.(*healthpb.HealthCheckRequest))
			}
			if interceptor == nil {
				return h(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: "/tenantgov.test.Whoami/Check"}, h)
		},
	}},
}

type harness struct {
	srv    *Server
	conn   *grpc.ClientConn
	tokens *auth.Tokens
}

func newHarness(t *testing.T) harness {
	t.Helper()
	tokens, err := auth.NewTokens("test-secret")
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	plan, err := license.NewPlan(license.PlanDefinition{ID: "starter"})
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	lic, err := license.New(salon, plan, license.StatusActive, nil)
	if err != nil {
		t.Fatalf("license.New: %v", err)
	}
	resolver := license.NewMemoryResolver()
	resolver.PutLicense(lic)

	srv := New(auth.NewAuthenticator(tokens, resolver, nil), slog.New(slog.NewJSONHandler(io.Discard, nil)))
	srv.Registrar().RegisterService(&whoamiDesc, whoami{})

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
	)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return harness{srv: srv, conn: conn, tokens: tokens}
}

func (h harness) call(ctx context.Context, service string, opts ...grpc.CallOption) (*healthpb.HealthCheckResponse, error) {
	out := new(healthpb.HealthCheckResponse)
	err := h.conn.Invoke(ctx, "/tenantgov.test.Whoami/Check", &healthpb.HealthCheckRequest{Service: service}, out, opts...)
	return out, err
}

func (h harness) bearer(t *testing.T, ctx context.Context) context.Context {
	t.Helper()
	tok, err := h.tokens.Issue(auth.Identity{TenantID: salon, UserID: tenant.NewUserID()}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return auth.ContextWithToken(ctx, tok)
}

func TestHealthIsPublicAndTracksServing(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := healthpb.NewHealthClient(h.conn)

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING before readiness, got %v", resp.GetStatus())
	}

	h.srv.SetServing(true)
	for _, svc := range []string{"", ServiceName} {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: svc})
		if err != nil {
			t.Fatalf("Check(%q): %v", svc, err)
		}
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			t.Fatalf("Check(%q) = %v", svc, resp.GetStatus())
		}
	}
}

type checkFunc func(context.Context) error

func (f checkFunc) Check(ctx context.Context) error { return f(ctx) }

func TestWatchReadiness(t *testing.T) {
	h := newHarness(t)
	h.srv.SetServing(true)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.srv.WatchReadiness(ctx, checkFunc(func(context.Context) error { return errors.New("db down") }), time.Hour)
	}()

	client := healthpb.NewHealthClient(h.conn)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
		if err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_NOT_SERVING {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("failing check never reported NOT_SERVING: %v %v", resp, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestUnaryRequiresBearer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.call(ctx, ""); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
	bad := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer nope")
	if _, err := h.call(bad, ""); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated for a bad token, got %v", err)
	}
	basic := metadata.AppendToOutgoingContext(ctx, "authorization", "Basic Zm9vOmJhcg==")
	if _, err := h.call(basic, ""); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated for basic auth, got %v", err)
	}
}

func TestUnaryInjectsSecurityContext(t *testing.T) {
	h := newHarness(t)
	ctx := audit.WithRequestID(h.bearer(t, context.Background()), "req-42")

	var header metadata.MD
	resp, err := h.call(ctx, "", grpc.Header(&header))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected response %v", resp)
	}
	if got := header.Get(requestIDKey); len(got) != 1 || got[0] != "req-42" {
		t.Fatalf("request id not echoed: %v", got)
	}
}

func TestUnaryMapsKernelErrors(t *testing.T) {
	h := newHarness(t)
	ctx := h.bearer(t, context.Background())

	_, err := h.call(ctx, "payroll")
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", err)
	}
	if !errors.Is(err, apperr.ErrLicenseViolation) {
		t.Fatalf("client did not restore the kernel error: %v", err)
	}
	if apperr.MetadataOf(err)["slug"] != "payroll" {
		t.Fatalf("metadata lost: %v", apperr.MetadataOf(err))
	}

	if _, err := h.call(ctx, "panic"); status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal after panic, got %v", err)
	}
}

func TestFromStatus(t *testing.T) {
	withInfo := func(code apperr.Code, domain string) error {
		st, err := status.New(code.GRPCCode(), "denied").WithDetails(&errdetails.ErrorInfo{
			Reason:   string(code),
			Domain:   domain,
			Metadata: map[string]string{"key": "invoices"},
		})
		if err != nil {
			t.Fatalf("WithDetails: %v", err)
		}
		return st.Err()
	}

	cases := []struct {
		name string
		err  error
		want apperr.Code
	}{
		{"quota", withInfo(apperr.CodeQuotaExhausted, apperr.Domain), apperr.CodeQuotaExhausted},
		{"foreign domain", withInfo(apperr.CodeQuotaExhausted, "example.com"), apperr.CodeUnknown},
		{"unavailable", status.Error(codes.Unavailable, "connection refused"), apperr.CodeUnavailable},
		{"deadline", status.Error(codes.DeadlineExceeded, "deadline"), apperr.CodeUnavailable},
		{"internal", status.Error(codes.Internal, "internal"), apperr.CodeUnknown},
		{"plain", errors.New("boom"), apperr.CodeUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := apperr.CodeOf(FromStatus(tc.err)); got != tc.want {
				t.Fatalf("code %s, want %s", got, tc.want)
			}
		})
	}
	if FromStatus(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}
