package server

import (
	"context"

	"google.golang.org/grpc"

	"github.com/ppiankov/mandate/internal/rpc"
)

// AuthorityServer is the server API of mandate.v1.AuthorityService.
type AuthorityServer interface {
	CreateDelegation(context.Context, *rpc.CreateDelegationRequest) (*rpc.CreateDelegationResponse, error)
	AddPolicy(context.Context, *rpc.AddPolicyRequest) (*rpc.AddPolicyResponse, error)
	RemovePolicy(context.Context, *rpc.RemovePolicyRequest) (*rpc.ReceiptResponse, error)
	Authorize(context.Context, *rpc.AuthorizeRequest) (*rpc.AuthorizeResponse, error)
	Evaluate(context.Context, *rpc.EvaluateRequest) (*rpc.EvaluateResponse, error)
	Transition(context.Context, *rpc.TransitionRequest) (*rpc.ReceiptResponse, error)
	Export(context.Context, *rpc.ExportRequest) (*rpc.ExportResponse, error)
	Verify(context.Context, *rpc.VerifyRequest) (*rpc.VerifyResponse, error)
	Alerts(context.Context, *rpc.AlertsRequest) (*rpc.AlertsResponse, error)
}

// ServiceDesc describes AuthorityService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: rpc.ServiceName,
	HandlerType: (*AuthorityServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(rpc.MethodCreateDelegation, AuthorityServer.CreateDelegation),
		unary(rpc.MethodAddPolicy, AuthorityServer.AddPolicy),
		unary(rpc.MethodRemovePolicy, AuthorityServer.RemovePolicy),
		unary(rpc.MethodAuthorize, AuthorityServer.Authorize),
		unary(rpc.MethodEvaluate, AuthorityServer.Evaluate),
		unary(rpc.MethodTransition, AuthorityServer.Transition),
		unary(rpc.MethodExport, AuthorityServer.Export),
		unary(rpc.MethodVerify, AuthorityServer.Verify),
		unary(rpc.MethodAlerts, AuthorityServer.Alerts),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mandate/v1/authority",
}

// RegisterAuthorityServer registers srv on s.
func RegisterAuthorityServer(s grpc.ServiceRegistrar, srv AuthorityServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unary builds the method descriptor for one request/response method, decoding the
// request and running any server interceptor the way generated code does.
func unary[Req, Resp any](method string, call func(AuthorityServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(AuthorityServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: rpc.FullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
