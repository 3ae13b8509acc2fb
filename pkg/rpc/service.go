package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const serviceName = "lookup.v1.Lookup"

// Full method names.
const (
	MethodCheck  = "/" + serviceName + "/Check"
	MethodSetup  = "/" + serviceName + "/Setup"
	MethodQuery  = "/" + serviceName + "/Query"
	MethodInfo   = "/" + serviceName + "/Info"
	MethodHealth = "/" + serviceName + "/Health"
)

// LookupServer is the server API for the Lookup service.
type LookupServer interface {
	Check(context.Context, *CheckRequest) (*CheckResponse, error)
	Setup(context.Context, *SetupRequest) (*SetupResponse, error)
	Query(context.Context, *QueryRequest) (*QueryResponse, error)
	Info(context.Context, *InfoRequest) (*InfoResponse, error)
	Health(context.Context, *HealthRequest) (*HealthResponse, error)
}

// UnimplementedLookupServer can be embedded to have forward compatible implementations.
type UnimplementedLookupServer struct{}

func (UnimplementedLookupServer) Check(context.Context, *CheckRequest) (*CheckResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Check not implemented")
}
func (UnimplementedLookupServer) Setup(context.Context, *SetupRequest) (*SetupResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Setup not implemented")
}
func (UnimplementedLookupServer) Query(context.Context, *QueryRequest) (*QueryResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Query not implemented")
}
func (UnimplementedLookupServer) Info(context.Context, *InfoRequest) (*InfoResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Info not implemented")
}
func (UnimplementedLookupServer) Health(context.Context, *HealthRequest) (*HealthResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Health not implemented")
}

// RegisterLookupServer registers the Lookup service on a gRPC server.
func RegisterLookupServer(s grpc.ServiceRegistrar, srv LookupServer) {
	s.RegisterService(&Lookup_ServiceDesc, srv)
}

// LookupClient is the client API for the Lookup service.
type LookupClient interface {
	Check(ctx context.Context, in *CheckRequest, opts ...grpc.CallOption) (*CheckResponse, error)
	Setup(ctx context.Context, in *SetupRequest, opts ...grpc.CallOption) (*SetupResponse, error)
	Query(ctx context.Context, in *QueryRequest, opts ...grpc.CallOption) (*QueryResponse, error)
	Info(ctx context.Context, in *InfoRequest, opts ...grpc.CallOption) (*InfoResponse, error)
	Health(ctx context.Context, in *HealthRequest, opts ...grpc.CallOption) (*HealthResponse, error)
}

type lookupClient struct{ cc grpc.ClientConnInterface }

// NewLookupClient wraps a connection. The connection must use Codec.
func NewLookupClient(cc grpc.ClientConnInterface) LookupClient { return &lookupClient{cc: cc} }

func (c *lookupClient) Check(ctx context.Context, in *CheckRequest, opts ...grpc.CallOption) (*CheckResponse, error) {
	out := new(CheckResponse)
	if err := c.cc.Invoke(ctx, MethodCheck, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *lookupClient) Setup(ctx context.Context, in *SetupRequest, opts ...grpc.CallOption) (*SetupResponse, error) {
	out := new(SetupResponse)
	if err := c.cc.Invoke(ctx, MethodSetup, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *lookupClient) Query(ctx context.Context, in *QueryRequest, opts ...grpc.CallOption) (*QueryResponse, error) {
	out := new(QueryResponse)
	if err := c.cc.Invoke(ctx, MethodQuery, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *lookupClient) Info(ctx context.Context, in *InfoRequest, opts ...grpc.CallOption) (*InfoResponse, error) {
	out := new(InfoResponse)
	if err := c.cc.Invoke(ctx, MethodInfo, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *lookupClient) Health(ctx context.Context, in *HealthRequest, opts ...grpc.CallOption) (*HealthResponse, error) {
	out := new(HealthResponse)
	if err := c.cc.Invoke(ctx, MethodHealth, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func _Lookup_Check_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CheckRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LookupServer).Check(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodCheck}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LookupServer).Check(ctx, req.(*CheckRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Lookup_Setup_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SetupRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LookupServer).Setup(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodSetup}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LookupServer).Setup(ctx, req.(*SetupRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Lookup_Query_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(QueryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LookupServer).Query(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodQuery}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LookupServer).Query(ctx, req.(*QueryRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Lookup_Info_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(InfoRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LookupServer).Info(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodInfo}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LookupServer).Info(ctx, req.(*InfoRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Lookup_Health_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(HealthRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LookupServer).Health(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodHealth}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LookupServer).Health(ctx, req.(*HealthRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Lookup_ServiceDesc is the grpc.ServiceDesc for the Lookup service.
var Lookup_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*LookupServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Check", Handler: _Lookup_Check_Handler},
		{MethodName: "Setup", Handler: _Lookup_Setup_Handler},
		{MethodName: "Query", Handler: _Lookup_Query_Handler},
		{MethodName: "Info", Handler: _Lookup_Info_Handler},
		{MethodName: "Health", Handler: _Lookup_Health_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lookup.cbor",
}
