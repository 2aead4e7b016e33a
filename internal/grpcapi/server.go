// Package grpcapi serves the kernel's gRPC surface: the governance service and
// standard health checks, behind interceptors that authenticate callers and
// map kernel errors.
package grpcapi

import (
	"context"
	"log/slog"
	"net"
	"runtime/debug"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"tenantgov.org/internal/apperr"
	"tenantgov.org/internal/audit"
	"tenantgov.org/internal/auth"
	"tenantgov.org/internal/ids"
	"tenantgov.org/internal/obs"
)

const (
	// ServiceName names the governance service and its health key.
	ServiceName = "tenantgov.v1.Governance"

	requestIDKey = "x-request-id"
)

// ReadinessChecker is satisfied by httpapi.ReadyCheck.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// Server wraps a grpc.Server with health reporting and the kernel interceptors.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	auth   *auth.Authenticator
	logger *slog.Logger
}

// New builds the server. Methods under publicPrefixes skip authentication.
func New(authn *auth.Authenticator, logger *slog.Logger, opts ...grpc.ServerOption) *Server {
	s := &Server{
		health: health.NewServer(),
		auth:   authn,
		logger: obs.Or(logger),
	}
	opts = append(opts, grpc.ChainUnaryInterceptor(s.recoverUnary, s.logUnary, s.authUnary))
	s.grpc = grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Registrar exposes the underlying server for service registration.
func (s *Server) Registrar() grpc.ServiceRegistrar { return s.grpc }

func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// SetServing flips the reported health of the server and the governance service.
func (s *Server) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	obs.SetReady(ok)
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// WatchReadiness polls rc every interval until ctx ends.
func (s *Server) WatchReadiness(ctx context.Context, rc ReadinessChecker, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	check := func() {
		cctx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		err := rc.Check(cctx)
		if err != nil {
			s.logger.Warn("grpc_not_ready", "err", err)
		}
		s.SetServing(err == nil)
	}
	check()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			check()
		}
	}
}

// GracefulStop reports NOT_SERVING and drains in-flight calls.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.Stop()
}

var publicPrefixes = []string{
	"/grpc.health.v1.Health/",
	"/grpc.reflection.",
}

func isPublic(method string) bool {
	for _, p := range publicPrefixes {
		if strings.HasPrefix(method, p) {
			return true
		}
	}
	return false
}

func (s *Server) recoverUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("grpc_panic", "method", info.FullMethod, "panic", p, "stack", string(debug.Stack()))
			err = status.Error(codes.Internal, "internal error")
		}
	}()
	return next(ctx, req)
}

// logUnary attaches a request id and logs the outcome of every call.
func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	rid := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(requestIDKey); len(v) > 0 && len(v[0]) <= 128 {
			rid = strings.TrimSpace(v[0])
		}
	}
	if rid == "" {
		rid = ids.New()
	}
	ctx = audit.WithRequestID(ctx, rid)
	_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDKey, rid))

	start := time.Now()
	resp, err := next(ctx, req)
	err = apperr.ToGRPC(err)
	s.logger.Info("rpc_complete",
		"request_id", rid,
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"duration_ms", float64(time.Since(start).Microseconds())/1000,
	)
	return resp, err
}

func (s *Server) authUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	if isPublic(info.FullMethod) || s.auth == nil {
		return next(ctx, req)
	}
	token, err := bearerFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	sc, err := s.auth.Authenticate(ctx, auth.Credentials{
		Token:         token,
		IP:            peerIP(ctx),
		CorrelationID: audit.RequestIDFromContext(ctx),
	})
	if err != nil {
		return nil, err
	}
	ctx = auth.ContextWithSecurity(ctx, sc)
	ctx = auth.ContextWithToken(ctx, token)
	return next(ctx, req)
}

func bearerFromMetadata(ctx context.Context) (string, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return "", apperr.New(apperr.CodeUnauthenticated, "missing bearer token")
	}
	v := strings.TrimSpace(vals[0])
	const prefix = "bearer "
	if len(v) <= len(prefix) || !strings.EqualFold(v[:len(prefix)], prefix) {
		return "", apperr.New(apperr.CodeUnauthenticated, "invalid authorization scheme")
	}
	return strings.TrimSpace(v[len(prefix):]), nil
}

func peerIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String()
	}
	return host
}
