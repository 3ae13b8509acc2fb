// Package transport carries lookup requests to the server.
//
// Two implementations share one method set: HTTP (the REST surface served by
// pkg/server) and GRPC (pkg/grpcserver). Every failure wraps ErrTransport;
// failures caused by a deadline additionally wrap ErrTimeout. Nothing is
// retried.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sprl/lookup/pkg/dataset"
)

var (
	// ErrTransport marks any failure to complete a request.
	ErrTransport = errors.New("transport error")

	// ErrTimeout marks a request that ran out of time.
	ErrTimeout = errors.New("request timed out")
)

// Stage identifies the direction of a progress report.
type Stage int

const (
	// Upload reports request bytes sent.
	Upload Stage = iota
	// Download reports response bytes received.
	Download
)

func (s Stage) String() string {
	if s == Download {
		return "download"
	}
	return "upload"
}

// Progress observes bytes moved. total is -1 when unknown.
type Progress func(stage Stage, done, total int64)

// Transport is the client's view of the server.
type Transport interface {
	// Check reports whether the server still knows sessionID.
	Check(ctx context.Context, sessionID string) (bool, error)

	// Setup uploads public parameters and returns the new session id.
	Setup(ctx context.Context, publicParams []byte, progress Progress) (string, error)

	// Query sends an encrypted query and returns the encrypted response.
	Query(ctx context.Context, query []byte, progress Progress) ([]byte, error)

	// Info fetches the dataset description.
	Info(ctx context.Context) (dataset.Info, error)

	Close() error
}

// Timeouts bounds each call. Zero means no bound beyond the caller's context.
type Timeouts struct {
	Check time.Duration
	Setup time.Duration
	Query time.Duration
}

// DefaultTimeouts returns the timeouts used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Check: 10 * time.Second,
		Setup: 2 * time.Minute,
		Query: time.Minute,
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// wrap attaches the taxonomy to err. A deadline on ctx turns into ErrTimeout.
func wrap(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w: %s: %w", ErrTransport, ErrTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}

func report(progress Progress, stage Stage, done, total int64) {
	if progress != nil {
		progress(stage, done, total)
	}
}

// Open returns an HTTP or gRPC transport for endpoint.
func Open(kind, endpoint string, timeouts Timeouts) (Transport, error) {
	switch kind {
	case "", "http":
		t, err := NewHTTP(HTTPConfig{BaseURL: endpoint, Timeouts: timeouts})
		if err != nil {
			return nil, err
		}
		return t, nil
	case "grpc":
		t, err := NewGRPC(GRPCConfig{Target: endpoint, Timeouts: timeouts})
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}
