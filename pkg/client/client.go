// Package client runs private lookups end to end.
//
// A lookup derives the bucket of an identifier, makes sure a registered
// credential exists (uploading fresh public parameters when it does not),
// sends an encrypted query for the bucket, and decodes, inflates and resolves
// the answer. One lookup runs at a time per Client.
package client

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/sprl/lookup/pkg/cache"
	"github.com/sprl/lookup/pkg/credential"
	"github.com/sprl/lookup/pkg/identifier"
	"github.com/sprl/lookup/pkg/observability/metrics"
	"github.com/sprl/lookup/pkg/pir"
	"github.com/sprl/lookup/pkg/record"
	"github.com/sprl/lookup/pkg/transport"
)

var (
	// ErrBusy is returned when a lookup is already running and queueing is off.
	ErrBusy = errors.New("lookup already in progress")

	// ErrRetrieval marks a response that could not be turned into a single record.
	ErrRetrieval = errors.New("retrieval failed")

	// ErrVariant is returned when a lookup does not match the configured identifier variant.
	ErrVariant = errors.New("identifier variant mismatch")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("client closed")
)

// Decompressor inflates bucket payloads. *compress.Codec satisfies it.
type Decompressor interface {
	Decompress(data []byte) ([]byte, error)
}

// Config holds client configuration.
type Config struct {
	// Identifier controls key and bucket derivation.
	Identifier identifier.Config

	// NameLayout and BalanceLayout describe the record streams.
	NameLayout    record.NameLayout
	BalanceLayout record.BalanceLayout

	// Credential configures the credential store.
	Credential credential.Config

	// QueueLookups makes a concurrent lookup wait for the running one instead of failing with ErrBusy.
	QueueLookups bool

	// Ephemeral skips the credential: every lookup uses a fresh key and sends
	// its public parameters inline.
	Ephemeral bool

	Privacy PrivacyConfig
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Identifier.Validate(); err != nil {
		return err
	}
	var err error
	if c.Identifier.Variant == identifier.Name {
		err = c.NameLayout.Validate()
	} else {
		err = c.BalanceLayout.Validate()
	}
	if err != nil {
		return err
	}
	if w := c.keyWidth(); w > c.Identifier.KeyWidth() {
		return fmt.Errorf("%w: key width %d exceeds %d", record.ErrInvalidLayout, w, c.Identifier.KeyWidth())
	}
	return nil
}

// keyWidth is the record key width of the configured variant's layout.
func (c Config) keyWidth() int {
	if c.Identifier.Variant == identifier.Name {
		return c.NameLayout.KeyWidth
	}
	return c.BalanceLayout.KeyWidth
}

// Deps are the collaborators of a Client.
type Deps struct {
	Transport transport.Transport
	Factory   pir.Factory
	Codec     Decompressor

	// Storage persists the credential. Required unless Ephemeral is set.
	Storage credential.Storage

	// Cache, if set, keeps compressed bucket payloads that decoded cleanly,
	// per dataset generation.
	Cache *cache.BucketCache

	Logger  *slog.Logger
	Metrics *metrics.ClientMetrics
	Tracer  trace.Tracer

	// CredentialOptions are passed to the credential store.
	CredentialOptions []credential.Option

	// Random is the key source for ephemeral lookups. Default: crypto/rand
	Random io.Reader
}

// Client is the query orchestrator.
type Client struct {
	cfg       Config
	transport transport.Transport
	factory   pir.Factory
	codec     Decompressor
	creds     *credential.Store
	cache     *cache.BucketCache
	logger    *slog.Logger
	metrics   *metrics.ClientMetrics
	tracer    trace.Tracer
	random    io.Reader
	timing    *TimingObfuscator

	// sem admits one lookup at a time.
	sem chan struct{}

	mu     sync.Mutex
	engine pir.Client
	closed bool
}

// New creates a client.
func New(cfg Config, deps Deps) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Transport == nil {
		return nil, errors.New("transport required")
	}
	if deps.Factory == nil {
		return nil, errors.New("pir factory required")
	}
	if deps.Codec == nil {
		return nil, errors.New("decompressor required")
	}
	if !cfg.Ephemeral && deps.Storage == nil {
		return nil, errors.New("credential storage required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "client", "variant", cfg.Identifier.Variant.String())
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/sprl/lookup/pkg/client")
	}
	random := deps.Random
	if random == nil {
		random = rand.Reader
	}

	c := &Client{
		cfg:       cfg,
		transport: deps.Transport,
		factory:   deps.Factory,
		codec:     deps.Codec,
		cache:     deps.Cache,
		logger:    logger,
		metrics:   deps.Metrics,
		tracer:    tracer,
		random:    random,
		timing:    NewTimingObfuscator(cfg.Privacy.MinLatency, cfg.Privacy.JitterRange),
		sem:       make(chan struct{}, 1),
	}
	if !cfg.Ephemeral {
		opts := append([]credential.Option{credential.WithLogger(logger)}, deps.CredentialOptions...)
		c.creds = credential.NewStore(deps.Storage, credential.CheckerFunc(deps.Transport.Check), cfg.Credential, opts...)
	}
	return c, nil
}

// Config returns the client configuration.
func (c *Client) Config() Config { return c.cfg }

// acquire admits one lookup. The returned func releases it.
func (c *Client) acquire(ctx context.Context, wait bool) (func(), error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	release := func() { <-c.sem }
	if !wait {
		select {
		case c.sem <- struct{}{}:
			return release, nil
		default:
			return nil, ErrBusy
		}
	}
	select {
	case c.sem <- struct{}{}:
		return release, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// pirClient returns the crypto client, creating it on first use.
func (c *Client) pirClient(ctx context.Context) (pir.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine != nil {
		return c.engine, nil
	}
	engine, err := c.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pir client: %w", err)
	}
	c.engine = engine
	return engine, nil
}

// Close releases the transport. Running lookups finish; later ones fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.transport.Close()
}
