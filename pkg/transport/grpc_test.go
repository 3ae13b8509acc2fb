package transport

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/sprl/lookup/pkg/rpc"
)

type fakeLookup struct {
	rpc.UnimplementedLookupServer
	delay time.Duration
}

func (f *fakeLookup) Check(_ context.Context, req *rpc.CheckRequest) (*rpc.CheckResponse, error) {
	return &rpc.CheckResponse{Valid: req.SessionID == "good"}, nil
}

func (f *fakeLookup) Setup(_ context.Context, req *rpc.SetupRequest) (*rpc.SetupResponse, error) {
	if len(req.PublicParams) == 0 {
		return nil, status.Error(codes.InvalidArgument, "public params required")
	}
	return &rpc.SetupResponse{SessionID: "session-1"}, nil
}

func (f *fakeLookup) Query(ctx context.Context, req *rpc.QueryRequest) (*rpc.QueryResponse, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, status.FromContextError(ctx.Err()).Err()
		}
	}
	return &rpc.QueryResponse{Response: bytes.Repeat(req.Query, 2)}, nil
}

func (f *fakeLookup) Info(context.Context, *rpc.InfoRequest) (*rpc.InfoResponse, error) {
	return &rpc.InfoResponse{Height: 100, LastUpdate: "gen", Price: 1.5}, nil
}

func newTestGRPC(t *testing.T, srv rpc.LookupServer, timeouts Timeouts) *GRPC {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer(grpc.ForceServerCodec(rpc.Codec{}))
	rpc.RegisterLookupServer(s, srv)
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	tr, err := NewGRPC(GRPCConfig{
		Target:   "passthrough:///bufnet",
		Timeouts: timeouts,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestGRPCRoundTrip(t *testing.T) {
	tr := newTestGRPC(t, &fakeLookup{}, DefaultTimeouts())
	ctx := context.Background()

	ok, err := tr.Check(ctx, "good")
	require.NoError(t, err)
	assert.True(t, ok)

	id, err := tr.Setup(ctx, []byte("pk"), nil)
	require.NoError(t, err)
	assert.Equal(t, "session-1", id)

	var stages []Stage
	resp, err := tr.Query(ctx, []byte("ab"), func(stage Stage, done, total int64) {
		stages = append(stages, stage)
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("abab"), resp)
	assert.Contains(t, stages, Download)

	info, err := tr.Info(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 100, info.Height)
	assert.Equal(t, "gen", info.LastUpdate)
}

func TestGRPCErrors(t *testing.T) {
	tr := newTestGRPC(t, &fakeLookup{delay: time.Second}, Timeouts{Query: 50 * time.Millisecond})

	_, err := tr.Setup(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrTransport)
	assert.NotErrorIs(t, err, ErrTimeout)

	_, err = tr.Query(context.Background(), []byte("q"), nil)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestParseGRPCTarget(t *testing.T) {
	host, useTLS, err := ParseGRPCTarget("grpcs://lookup.example:443")
	require.NoError(t, err)
	assert.Equal(t, "lookup.example:443", host)
	assert.True(t, useTLS)

	host, useTLS, err = ParseGRPCTarget("localhost:9091")
	require.NoError(t, err)
	assert.Equal(t, "localhost:9091", host)
	assert.False(t, useTLS)

	_, _, err = ParseGRPCTarget("http://localhost:9091")
	assert.Error(t, err)
}
