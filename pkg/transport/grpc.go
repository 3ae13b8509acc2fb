package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/sprl/lookup/pkg/dataset"
	"github.com/sprl/lookup/pkg/rpc"
)

// GRPCConfig configures the gRPC transport.
type GRPCConfig struct {
	// Target is host:port, or a grpc:// / grpcs:// URL. grpcs enables TLS.
	Target string

	// TLS overrides the TLS config used for grpcs targets.
	TLS *tls.Config

	Timeouts Timeouts

	// DialOptions are appended to the defaults (tests pass a bufconn dialer).
	DialOptions []grpc.DialOption
}

// GRPC talks to pkg/grpcserver.
type GRPC struct {
	conn     *grpc.ClientConn
	client   rpc.LookupClient
	timeouts Timeouts
}

// ParseGRPCTarget splits a grpc:// or grpcs:// URL into host:port and a TLS flag.
// Bare host:port targets are returned unchanged without TLS.
func ParseGRPCTarget(target string) (string, bool, error) {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return target, false, nil
	}
	switch u.Scheme {
	case "grpc":
		return u.Host, false, nil
	case "grpcs":
		return u.Host, true, nil
	default:
		return "", false, fmt.Errorf("invalid grpc target %q: scheme must be grpc or grpcs", target)
	}
}

// NewGRPC creates the client connection. No I/O happens until the first call.
func NewGRPC(cfg GRPCConfig) (*GRPC, error) {
	host, useTLS, err := ParseGRPCTarget(cfg.Target)
	if err != nil {
		return nil, err
	}

	creds := insecure.NewCredentials()
	if useTLS || cfg.TLS != nil {
		tlsCfg := cfg.TLS
		if tlsCfg == nil {
			tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		creds = credentials.NewTLS(tlsCfg)
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(rpc.Codec{}),
			grpc.MaxCallRecvMsgSize(rpc.MaxMessageBytes),
			grpc.MaxCallSendMsgSize(rpc.MaxMessageBytes),
		),
	}
	opts = append(opts, cfg.DialOptions...)

	conn, err := grpc.NewClient(host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %q: %w", host, err)
	}
	return &GRPC{conn: conn, client: rpc.NewLookupClient(conn), timeouts: cfg.Timeouts}, nil
}

func grpcWrap(ctx context.Context, op string, err error) error {
	if status.Code(err) == codes.DeadlineExceeded {
		return fmt.Errorf("%w: %w: %s: %w", ErrTransport, ErrTimeout, op, err)
	}
	return wrap(ctx, op, err)
}

// Check implements Transport.
func (g *GRPC) Check(ctx context.Context, sessionID string) (bool, error) {
	ctx, cancel := withTimeout(ctx, g.timeouts.Check)
	defer cancel()

	resp, err := g.client.Check(ctx, &rpc.CheckRequest{SessionID: sessionID})
	if err != nil {
		return false, grpcWrap(ctx, "check", err)
	}
	return resp.Valid, nil
}

// Setup implements Transport.
func (g *GRPC) Setup(ctx context.Context, publicParams []byte, progress Progress) (string, error) {
	ctx, cancel := withTimeout(ctx, g.timeouts.Setup)
	defer cancel()

	total := int64(len(publicParams))
	report(progress, Upload, 0, total)
	resp, err := g.client.Setup(ctx, &rpc.SetupRequest{PublicParams: publicParams})
	if err != nil {
		return "", grpcWrap(ctx, "setup", err)
	}
	report(progress, Upload, total, total)
	if resp.SessionID == "" {
		return "", wrap(ctx, "setup", fmt.Errorf("response is missing id"))
	}
	return resp.SessionID, nil
}

// Query implements Transport.
func (g *GRPC) Query(ctx context.Context, query []byte, progress Progress) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, g.timeouts.Query)
	defer cancel()

	total := int64(len(query))
	report(progress, Upload, 0, total)
	resp, err := g.client.Query(ctx, &rpc.QueryRequest{Query: query})
	if err != nil {
		return nil, grpcWrap(ctx, "query", err)
	}
	report(progress, Upload, total, total)
	n := int64(len(resp.Response))
	report(progress, Download, n, n)
	return resp.Response, nil
}

// Info implements Transport.
func (g *GRPC) Info(ctx context.Context) (dataset.Info, error) {
	ctx, cancel := withTimeout(ctx, g.timeouts.Check)
	defer cancel()

	resp, err := g.client.Info(ctx, &rpc.InfoRequest{})
	if err != nil {
		return dataset.Info{}, grpcWrap(ctx, "info", err)
	}
	return dataset.Info{Height: resp.Height, LastUpdate: resp.LastUpdate, Price: resp.Price}, nil
}

// Close closes the connection.
func (g *GRPC) Close() error {
	return g.conn.Close()
}
