package grpcapi

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"tenantgov.org/internal/apperr"
	"tenantgov.org/internal/auth"
	"tenantgov.org/internal/governance"
	"tenantgov.org/internal/tenant"
)

// Method names of the governance service. Requests and responses are
// google.protobuf.Struct documents shaped like the HTTP JSON bodies.
const (
	MethodAppendEntry     = "AppendEntry"
	MethodVerifyIntegrity = "VerifyIntegrity"
	MethodReadQuota       = "ReadQuota"
)

// GovernanceServer is the server API of tenantgov.v1.Governance.
type GovernanceServer interface {
	AppendEntry(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	VerifyIntegrity(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	ReadQuota(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var governanceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GovernanceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(MethodAppendEntry, GovernanceServer.AppendEntry),
		unaryMethod(MethodVerifyIntegrity, GovernanceServer.VerifyIntegrity),
		unaryMethod(MethodReadQuota, GovernanceServer.ReadQuota),
	},
	Metadata: "tenantgov/v1/governance.proto",
}

func unaryMethod(name string, call func(GovernanceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(GovernanceServer), ctx, in)
			}
			h := func(ctx context.Context, req any) (any, error) {
				return call(srv.(GovernanceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: full}, h)
		},
	}
}

// RegisterGovernance serves gov on s behind the kernel interceptors.
func (s *Server) RegisterGovernance(gov *governance.Service) {
	s.grpc.RegisterService(&governanceDesc, governanceServer{gov: gov})
}

type governanceServer struct {
	gov *governance.Service
}

func (g governanceServer) AppendEntry(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sc, tid, err := scope(ctx, in, "idempotency_key", "entry_id", "entry_type", "payload", "retention")
	if err != nil {
		return nil, err
	}
	entry, err := g.gov.Append(ctx, sc, governance.AppendRequest{
		Tenant:    tid,
		Key:       stringField(in, "idempotency_key"),
		EntryID:   stringField(in, "entry_id"),
		EntryType: stringField(in, "entry_type"),
		Payload:   stringField(in, "payload"),
		Retention: stringField(in, "retention"),
	})
	if err != nil {
		return nil, err
	}
	return toStruct(entry)
}

func (g governanceServer) VerifyIntegrity(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sc, tid, err := scope(ctx, in)
	if err != nil {
		return nil, err
	}
	res, err := g.gov.Verify(ctx, sc, tid)
	if err != nil {
		return nil, err
	}
	return toStruct(res)
}

func (g governanceServer) ReadQuota(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sc, tid, err := scope(ctx, in, "key")
	if err != nil {
		return nil, err
	}
	view, err := g.gov.Quota(ctx, sc, tid, stringField(in, "key"))
	if err != nil {
		return nil, err
	}
	return toStruct(view)
}

// scope resolves the caller and the tenant_id of in, rejecting fields outside allowed.
func scope(ctx context.Context, in *structpb.Struct, allowed ...string) (auth.SecurityContext, tenant.ID, error) {
	sc, err := auth.RequireSecurity(ctx)
	if err != nil {
		return auth.SecurityContext{}, 0, err
	}
	for name, v := range in.GetFields() {
		if name == "tenant_id" {
			continue
		}
		known := false
		for _, a := range allowed {
			if a == name {
				known = true
				break
			}
		}
		if !known {
			return auth.SecurityContext{}, 0, apperr.InvalidArgument(fmt.Sprintf("unknown field %q", name))
		}
		if _, ok := v.GetKind().(*structpb.Value_StringValue); !ok {
			return auth.SecurityContext{}, 0, apperr.InvalidArgument(fmt.Sprintf("field %q must be a string", name))
		}
	}
	tid, err := tenantField(in)
	if err != nil {
		return auth.SecurityContext{}, 0, err
	}
	return sc, tid, nil
}

// tenantField accepts tenant_id as a JSON number or a decimal string.
func tenantField(in *structpb.Struct) (tenant.ID, error) {
	switch k := in.GetFields()["tenant_id"].GetKind().(type) {
	case *structpb.Value_NumberValue:
		v := k.NumberValue
		if v != math.Trunc(v) || v >= math.MaxInt64 || v < math.MinInt64 {
			return 0, apperr.InvalidArgument("tenant_id must be an integer")
		}
		return tenant.NewID(int64(v))
	case *structpb.Value_StringValue:
		return tenant.ParseID(k.StringValue)
	default:
		return 0, apperr.InvalidArgument("tenant_id is required")
	}
}

func stringField(in *structpb.Struct, name string) string {
	return in.GetFields()[name].GetStringValue()
}

// toStruct renders v the way the HTTP layer encodes it.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("grpcapi: encode response: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("grpcapi: encode response: %w", err)
	}
	return structpb.NewStruct(m)
}

// GovernanceClient calls tenantgov.v1.Governance. Use a connection from Dial so
// the caller's bearer token travels with every call.
type GovernanceClient struct {
	cc grpc.ClientConnInterface
}

func NewGovernanceClient(cc grpc.ClientConnInterface) *GovernanceClient {
	return &GovernanceClient{cc: cc}
}

func (c *GovernanceClient) invoke(ctx context.Context, method string, in map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, apperr.InvalidArgument(err.Error())
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *GovernanceClient) AppendEntry(ctx context.Context, in map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodAppendEntry, in, opts...)
}

func (c *GovernanceClient) VerifyIntegrity(ctx context.Context, tenantID tenant.ID, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodVerifyIntegrity, map[string]any{"tenant_id": tenantID.String()}, opts...)
}

func (c *GovernanceClient) ReadQuota(ctx context.Context, tenantID tenant.ID, key string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodReadQuota, map[string]any{"tenant_id": tenantID.String(), "key": key}, opts...)
}
