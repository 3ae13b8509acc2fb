// Package grpcserver implements the gRPC lookup service.
//
// It delegates all business logic to internal/service.LookupService, translating
// between rpc messages and service-layer types.
package grpcserver

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"

	"github.com/sprl/lookup/internal/service"
	"github.com/sprl/lookup/internal/session"
	"github.com/sprl/lookup/pkg/pir"
	"github.com/sprl/lookup/pkg/rpc"
)

// Server implements the rpc.LookupServer interface.
type Server struct {
	rpc.UnimplementedLookupServer
	svc *service.LookupService
}

// New creates a new gRPC server backed by the given LookupService.
func New(svc *service.LookupService) *Server {
	return &Server{svc: svc}
}

// NewGRPCServer returns a grpc.Server with the CBOR codec, message limits,
// recovery and logging interceptors, and srv registered. creds may be nil.
func NewGRPCServer(srv *Server, creds credentials.TransportCredentials, logger *slog.Logger) *grpc.Server {
	opts := []grpc.ServerOption{
		grpc.ForceServerCodec(rpc.Codec{}),
		grpc.MaxRecvMsgSize(rpc.MaxMessageBytes),
		grpc.MaxSendMsgSize(rpc.MaxMessageBytes),
		grpc.ChainUnaryInterceptor(RecoveryUnaryInterceptor(logger), LoggingUnaryInterceptor(logger)),
	}
	if creds != nil {
		opts = append(opts, grpc.Creds(creds))
	}
	gs := grpc.NewServer(opts...)
	rpc.RegisterLookupServer(gs, srv)
	return gs
}

func (s *Server) Check(ctx context.Context, req *rpc.CheckRequest) (*rpc.CheckResponse, error) {
	if req.SessionID == "" {
		return nil, status.Error(codes.InvalidArgument, "session_id is required")
	}
	return &rpc.CheckResponse{Valid: s.svc.CheckSession(ctx, req.SessionID)}, nil
}

func (s *Server) Setup(ctx context.Context, req *rpc.SetupRequest) (*rpc.SetupResponse, error) {
	if len(req.PublicParams) == 0 {
		return nil, status.Error(codes.InvalidArgument, "public_params is required")
	}
	id, err := s.svc.RegisterKey(ctx, req.PublicParams)
	if err != nil {
		return nil, mapError(err)
	}
	return &rpc.SetupResponse{SessionID: id}, nil
}

func (s *Server) Query(ctx context.Context, req *rpc.QueryRequest) (*rpc.QueryResponse, error) {
	if len(req.Query) == 0 {
		return nil, status.Error(codes.InvalidArgument, "query is required")
	}
	resp, err := s.svc.Answer(ctx, req.Query)
	if err != nil {
		return nil, mapError(err)
	}
	return &rpc.QueryResponse{Response: resp}, nil
}

func (s *Server) Info(ctx context.Context, _ *rpc.InfoRequest) (*rpc.InfoResponse, error) {
	info := s.svc.Info()
	return &rpc.InfoResponse{Height: info.Height, LastUpdate: info.LastUpdate, Price: info.Price}, nil
}

func (s *Server) Health(ctx context.Context, _ *rpc.HealthRequest) (*rpc.HealthResponse, error) {
	h := s.svc.HealthCheck(ctx)
	return &rpc.HealthResponse{
		Status:   h.Status,
		Version:  h.Version,
		Sessions: h.Sessions,
		Buckets:  h.Buckets,
	}, nil
}

// mapError translates service-layer errors to gRPC status codes.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, service.ErrInvalidSession),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrSessionExpired):
		return status.Errorf(codes.Unauthenticated, "%v", err)
	case errors.Is(err, pir.ErrInvalidQuery), errors.Is(err, pir.ErrInvalidPublicParams):
		return status.Errorf(codes.InvalidArgument, "%v", err)
	case errors.Is(err, service.ErrEphemeralDisabled):
		return status.Errorf(codes.PermissionDenied, "%v", err)
	case errors.Is(err, service.ErrNotReady):
		return status.Errorf(codes.Unavailable, "%v", err)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Errorf(codes.DeadlineExceeded, "%v", err)
	case errors.Is(err, context.Canceled):
		return status.Errorf(codes.Canceled, "%v", err)
	default:
		return status.Errorf(codes.Internal, "%v", err)
	}
}
