package grpcserver

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/sprl/lookup/internal/service"
	"github.com/sprl/lookup/pkg/blob"
	"github.com/sprl/lookup/pkg/credential"
	"github.com/sprl/lookup/pkg/dataset"
	"github.com/sprl/lookup/pkg/identifier"
	"github.com/sprl/lookup/pkg/pir"
	"github.com/sprl/lookup/pkg/record"
	"github.com/sprl/lookup/pkg/rpc"
	"github.com/sprl/lookup/pkg/transport"
)

var testPIR = pir.Params{BucketBits: 12, ItemSize: 128}

func setupTestServer(t *testing.T, load bool) *Server {
	t.Helper()
	ctx := context.Background()

	svc, err := service.New(service.Config{PIR: testPIR, SessionTTL: time.Hour, AllowEphemeral: true, Workers: 2}, nil, nil)
	if err != nil {
		t.Fatalf("failed to create lookup service: %v", err)
	}
	if load {
		b, err := dataset.NewBuilder(dataset.Config{
			Identifier:  identifier.Config{Variant: identifier.Name, BucketBits: testPIR.BucketBits},
			NameLayout:  record.DefaultNameLayout(),
			Compression: "zstd",
			ItemSize:    testPIR.ItemSize,
		}, nil)
		if err != nil {
			t.Fatalf("failed to create builder: %v", err)
		}
		if err := b.AddName(dataset.NameEntry{Name: "example.eth", Records: map[string]string{"url": "https://example.org"}}); err != nil {
			t.Fatalf("failed to add name: %v", err)
		}
		store := blob.NewMemoryStore()
		info, err := b.Publish(ctx, store, 0)
		if err != nil {
			t.Fatalf("failed to publish: %v", err)
		}
		if err := svc.LoadFrom(ctx, store, info); err != nil {
			t.Fatalf("failed to load dataset: %v", err)
		}
	}
	return New(svc)
}

func newEngine(t *testing.T, seed byte) (*pir.Engine, []byte) {
	t.Helper()
	engine, err := pir.NewEngine(testPIR, pir.NewSecretCache(credential.NewMemoryStorage(), pir.DefaultSecretSlot))
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	pp, err := engine.DeriveKeys(context.Background(), bytes.Repeat([]byte{seed}, pir.SeedSize), true)
	if err != nil {
		t.Fatalf("failed to derive keys: %v", err)
	}
	return engine, pp
}

func registerSession(t *testing.T, srv *Server, pp []byte) string {
	t.Helper()
	resp, err := srv.Setup(context.Background(), &rpc.SetupRequest{PublicParams: pp})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	return resp.SessionID
}

func TestSetup(t *testing.T) {
	srv := setupTestServer(t, true)
	_, pp := newEngine(t, 1)

	id := registerSession(t, srv, pp)
	if len(id) != pir.SessionIDSize {
		t.Errorf("expected %d character session id, got %q", pir.SessionIDSize, id)
	}

	check, err := srv.Check(context.Background(), &rpc.CheckRequest{SessionID: id})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !check.Valid {
		t.Error("expected registered session to be valid")
	}
}

func TestSetup_Errors(t *testing.T) {
	srv := setupTestServer(t, true)

	_, err := srv.Setup(context.Background(), &rpc.SetupRequest{})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument for empty params, got %v", err)
	}
	_, err = srv.Setup(context.Background(), &rpc.SetupRequest{PublicParams: []byte("garbage")})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument for garbage params, got %v", err)
	}
	_, err = srv.Check(context.Background(), &rpc.CheckRequest{})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument for empty session id, got %v", err)
	}
}

func TestQuery_Errors(t *testing.T) {
	ctx := context.Background()
	srv := setupTestServer(t, true)
	engine, _ := newEngine(t, 2)

	unknown, err := engine.BuildQuery("6f1c0a52-0f54-4a55-9d3c-2a8ff1d0c8aa", 1)
	if err != nil {
		t.Fatal(err)
	}
	_, err = srv.Query(ctx, &rpc.QueryRequest{Query: unknown})
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("expected Unauthenticated, got %v", err)
	}
	_, err = srv.Query(ctx, &rpc.QueryRequest{})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument, got %v", err)
	}

	empty := setupTestServer(t, false)
	_, pp := newEngine(t, 3)
	id := registerSession(t, empty, pp)
	q, err := engine.BuildQuery(id, 1)
	if err != nil {
		t.Fatal(err)
	}
	_, err = empty.Query(ctx, &rpc.QueryRequest{Query: q})
	if status.Code(err) != codes.Unavailable {
		t.Errorf("expected Unavailable before a dataset is loaded, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	srv := setupTestServer(t, true)
	resp, err := srv.Health(context.Background(), &rpc.HealthRequest{})
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("expected healthy, got %q", resp.Status)
	}
	if resp.Buckets != 1 {
		t.Errorf("expected 1 bucket, got %d", resp.Buckets)
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{service.ErrInvalidSession, codes.Unauthenticated},
		{pir.ErrInvalidQuery, codes.InvalidArgument},
		{service.ErrEphemeralDisabled, codes.PermissionDenied},
		{service.ErrNotReady, codes.Unavailable},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		if got := status.Code(mapError(tt.err)); got != tt.want {
			t.Errorf("mapError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
	if mapError(nil) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestRecoveryInterceptor(t *testing.T) {
	interceptor := RecoveryUnaryInterceptor(nil)
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: rpc.MethodQuery},
		func(context.Context, any) (any, error) { panic("boom") })
	if status.Code(err) != codes.Internal {
		t.Errorf("expected Internal after panic, got %v", err)
	}
}

// TestTransportEndToEnd looks up a name through the gRPC transport.
func TestTransportEndToEnd(t *testing.T) {
	srv := setupTestServer(t, true)
	lis := bufconn.Listen(1 << 20)
	gs := NewGRPCServer(srv, nil, nil)
	go gs.Serve(lis)
	defer gs.Stop()

	tr, err := transport.NewGRPC(transport.GRPCConfig{
		Target:   "passthrough:///bufnet",
		Timeouts: transport.DefaultTimeouts(),
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	ctx := context.Background()
	engine, pp := newEngine(t, 4)
	id, err := tr.Setup(ctx, pp, nil)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	key, err := identifier.Derive("example.eth", identifier.Config{Variant: identifier.Name, BucketBits: testPIR.BucketBits})
	if err != nil {
		t.Fatal(err)
	}
	query, err := engine.BuildQuery(id, key.Bucket)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := tr.Query(ctx, query, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	payload, err := engine.DecodeResponse(resp)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload) == 0 {
		t.Error("expected the bucket of example.eth to be non-empty")
	}

	if _, err := tr.Setup(ctx, []byte("garbage"), nil); !errors.Is(err, transport.ErrTransport) {
		t.Errorf("expected a transport error, got %v", err)
	}
}
