package grpcapi

import (
	"context"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"tenantgov.org/internal/apperr"
	"tenantgov.org/internal/audit"
	"tenantgov.org/internal/auth"
)

// Dial creates a client connection that forwards the caller's bearer token and
// request id from ctx on every unary call. Transport defaults to insecure.
func Dial(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(forwardUnary),
	}
	return grpc.NewClient(target, append(base, opts...)...)
}

func forwardUnary(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	if tok, ok := auth.TokenFromContext(ctx); ok {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+tok)
	}
	if rid := audit.RequestIDFromContext(ctx); rid != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, requestIDKey, rid)
	}
	return FromStatus(invoker(ctx, method, req, reply, cc, opts...))
}

// FromStatus turns a gRPC status carrying an ErrorInfo from this domain back
// into a kernel error. Other errors pass through.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != apperr.Domain {
			continue
		}
		return &apperr.Error{
			Code:     apperr.Code(info.GetReason()),
			Message:  st.Message(),
			Metadata: info.GetMetadata(),
			Cause:    err,
		}
	}
	if st.Code() == codes.Unavailable || st.Code() == codes.DeadlineExceeded {
		return apperr.Unavailable("grpc call", err)
	}
	return err
}

// CheckHealth asks target for the serving status of service ("" for the server).
func CheckHealth(ctx context.Context, target, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := Dial(target)
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	defer conn.Close()
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}
