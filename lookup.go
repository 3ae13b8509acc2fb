// Package lookup resolves ENS names and Bitcoin address balances without
// telling the server which one was asked for.
//
// The server holds a bucketed database. A lookup hashes the identifier to a
// bucket, fetches that bucket with a homomorphically encrypted query, then
// decompresses and scans it locally for the record keyed by the identifier.
//
// # Quick Start
//
//	c, err := lookup.Open(lookup.Config{
//	    Profile:  profile, // from config.File.Profile("names")
//	    Endpoint: "http://localhost:8080",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	res, err := c.LookupName(ctx, "vitalik.eth")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if res.Found() {
//	    fmt.Println(res.Record.ChecksumAddress())
//	}
//
// # Credentials
//
// The first lookup uploads public parameters (a few MiB) and keeps the
// resulting session in credential storage. Later lookups, including those of
// a new process over the same storage, reuse it until it expires or the server
// forgets it, at which point a fresh one is registered transparently.
// Ephemeral mode skips the credential and sends the parameters with each query.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sprl/lookup/pkg/cache"
	"github.com/sprl/lookup/pkg/client"
	"github.com/sprl/lookup/pkg/compress"
	"github.com/sprl/lookup/pkg/config"
	"github.com/sprl/lookup/pkg/credential"
	"github.com/sprl/lookup/pkg/dataset"
	"github.com/sprl/lookup/pkg/identifier"
	"github.com/sprl/lookup/pkg/match"
	"github.com/sprl/lookup/pkg/observability/metrics"
	"github.com/sprl/lookup/pkg/pir"
	"github.com/sprl/lookup/pkg/record"
	"github.com/sprl/lookup/pkg/transport"
)

// Errors a lookup can return. Test with errors.Is.
var (
	ErrInvalidIdentifier = identifier.ErrInvalidIdentifier
	ErrDecompression     = compress.ErrDecompression
	ErrMalformedStream   = record.ErrMalformedStream
	ErrAmbiguous         = match.ErrAmbiguous
	ErrRetrieval         = client.ErrRetrieval
	ErrTransport         = transport.ErrTransport
	ErrTimeout           = transport.ErrTimeout
	ErrBusy              = client.ErrBusy
	ErrVariant           = client.ErrVariant
	ErrClosed            = client.ErrClosed
)

// NameResult is the outcome of a name lookup.
type NameResult = client.NameResult

// BalanceResult is the outcome of a balance lookup.
type BalanceResult = client.BalanceResult

// Info describes the dataset a server publishes.
type Info = dataset.Info

// Config controls a [Client].
//
// Only [Config.Profile] and [Config.Endpoint] are required.
type Config struct {
	// Profile fixes the identifier variant, bucket count, record layout and
	// compression. It must match the server's dataset.
	Profile config.Profile

	// Endpoint is the server URL (http) or host:port (grpc).
	Endpoint string

	// Transport is "http" or "grpc". Default: http
	Transport string

	// Timeouts bound each server call. Default: transport.DefaultTimeouts()
	Timeouts transport.Timeouts

	// CredentialFile or CredentialDB keeps the credential across restarts.
	// With neither, it lives in memory and is registered again by the next process.
	CredentialFile       string
	CredentialPassphrase string
	CredentialDB         string

	// MaxValid is the maximum credential age. Default: 7 days
	MaxValid time.Duration

	// QueueLookups makes concurrent lookups wait instead of failing with ErrBusy.
	QueueLookups bool

	// Ephemeral uses a fresh key per lookup and registers nothing.
	Ephemeral bool

	// StrictAddress validates Bitcoin address checksums before hashing.
	StrictAddress bool

	// BucketCacheBytes enables the local bucket cache. Zero disables it.
	BucketCacheBytes int
	BucketCacheTTL   time.Duration

	Privacy client.PrivacyConfig

	Logger *slog.Logger
}

// ConfigFromFile maps the client section of a configuration file.
func ConfigFromFile(f config.File, logger *slog.Logger) (Config, error) {
	profile, err := f.Profile(f.Client.Profile)
	if err != nil {
		return Config{}, err
	}
	c := f.Client
	return Config{
		Profile:   profile,
		Endpoint:  c.Endpoint,
		Transport: c.Transport,
		Timeouts: transport.Timeouts{
			Check: c.CheckTimeout.Duration,
			Setup: c.SetupTimeout.Duration,
			Query: c.QueryTimeout.Duration,
		},
		CredentialFile:       c.CredentialFile,
		CredentialPassphrase: c.CredentialPassphrase,
		CredentialDB:         c.CredentialDB,
		MaxValid:             c.MaxValid.Duration,
		QueueLookups:         c.QueueLookups,
		Ephemeral:            c.Ephemeral,
		StrictAddress:        c.StrictAddress,
		BucketCacheBytes:     c.BucketCacheMB << 20,
		BucketCacheTTL:       c.BucketCacheTTL.Duration,
		Logger:               logger,
	}, nil
}

// Client runs private lookups against one server.
//
// Lookups are safe to call from multiple goroutines; they run one at a time.
type Client struct {
	cfg       Config
	inner     *client.Client
	transport transport.Transport
	cover     *client.CoverTraffic
	closers   []io.Closer

	closeOnce sync.Once
	closeErr  error
}

// Open connects nothing yet: the transport is dialed lazily and keys are
// created on the first lookup.
func Open(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("lookup: Endpoint is required")
	}
	if cfg.Profile.Name == "" {
		return nil, errors.New("lookup: Profile is required")
	}
	if err := cfg.Profile.Validate(); err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}
	if cfg.CredentialFile != "" && cfg.CredentialDB != "" {
		return nil, errors.New("lookup: CredentialFile and CredentialDB are exclusive")
	}
	if cfg.Timeouts == (transport.Timeouts{}) {
		cfg.Timeouts = transport.DefaultTimeouts()
	}
	if cfg.MaxValid <= 0 {
		cfg.MaxValid = credential.DefaultMaxValid
	}
	p := cfg.Profile

	codec, err := compress.New(p.Compression)
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}
	tr, err := transport.Open(cfg.Transport, cfg.Endpoint, cfg.Timeouts)
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}

	c := &Client{cfg: cfg, transport: tr}
	deps := client.Deps{
		Transport: tr,
		Codec:     codec,
		Logger:    cfg.Logger,
		Metrics:   metrics.Client(),
	}

	storageKey := p.StorageKey
	if storageKey == "" {
		storageKey = credential.DefaultStorageKey
	}

	var secrets *pir.SecretCache
	if cfg.Ephemeral {
		secrets = pir.NewVolatileSecretCache()
	} else {
		storage, err := c.openStorage()
		if err != nil {
			tr.Close()
			return nil, err
		}
		deps.Storage = storage
		secrets = pir.NewSecretCache(storage, storageKey)
	}
	deps.Factory = pir.NewFactory(p.PIR(), secrets)

	if cfg.BucketCacheBytes > 0 {
		deps.Cache = cache.NewBucketCache(cache.BucketCacheConfig{
			MaxBytes: cfg.BucketCacheBytes,
			TTL:      cfg.BucketCacheTTL,
		})
	}

	inner, err := client.New(client.Config{
		Identifier:    p.Identifier(cfg.StrictAddress),
		NameLayout:    p.NameLayout(),
		BalanceLayout: p.BalanceLayout(),
		Credential:    credential.Config{StorageKey: storageKey, MaxValid: cfg.MaxValid},
		QueueLookups:  cfg.QueueLookups,
		Ephemeral:     cfg.Ephemeral,
		Privacy:       cfg.Privacy,
	}, deps)
	if err != nil {
		c.closeAll()
		return nil, fmt.Errorf("lookup: %w", err)
	}
	c.inner = inner

	if cfg.Privacy.CoverInterval > 0 {
		c.cover = client.NewCoverTraffic(inner, cfg.Privacy.CoverInterval, cfg.Privacy.CoverTimeout)
		c.cover.Start()
	}
	return c, nil
}

// openStorage returns the credential storage selected by the config.
func (c *Client) openStorage() (credential.Storage, error) {
	switch {
	case c.cfg.CredentialDB != "":
		db, err := credential.NewLevelDBStorage(c.cfg.CredentialDB, c.cfg.Profile.Name+"/")
		if err != nil {
			return nil, fmt.Errorf("lookup: %w", err)
		}
		c.closers = append(c.closers, db)
		return db, nil
	case c.cfg.CredentialFile != "":
		var opts []credential.FileStorageOption
		if c.cfg.CredentialPassphrase != "" {
			opts = append(opts, credential.WithPassphrase(c.cfg.CredentialPassphrase))
		}
		fs, err := credential.NewFileStorage(c.cfg.CredentialFile, opts...)
		if err != nil {
			return nil, fmt.Errorf("lookup: %w", err)
		}
		return fs, nil
	default:
		return credential.NewMemoryStorage(), nil
	}
}

// LookupName resolves an ENS name. A name that is not in the dataset is a
// result with Status match.NotFound, not an error.
func (c *Client) LookupName(ctx context.Context, name string) (NameResult, error) {
	return c.inner.LookupName(ctx, name, nil)
}

// LookupBalance resolves the balance and recent transactions of a Bitcoin address.
func (c *Client) LookupBalance(ctx context.Context, address string) (BalanceResult, error) {
	return c.inner.LookupBalance(ctx, address, nil)
}

// LookupNameWithProgress is LookupName reporting upload and download progress.
func (c *Client) LookupNameWithProgress(ctx context.Context, name string, progress transport.Progress) (NameResult, error) {
	return c.inner.LookupName(ctx, name, progress)
}

// LookupBalanceWithProgress is LookupBalance reporting upload and download progress.
func (c *Client) LookupBalanceWithProgress(ctx context.Context, address string, progress transport.Progress) (BalanceResult, error) {
	return c.inner.LookupBalance(ctx, address, progress)
}

// Info fetches the dataset description from the server.
func (c *Client) Info(ctx context.Context) (Info, error) {
	return c.transport.Info(ctx)
}

// Profile returns the profile the client was opened with.
func (c *Client) Profile() config.Profile { return c.cfg.Profile }

// Close stops cover traffic and releases the transport and credential storage.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.cover != nil {
			c.cover.Stop()
		}
		errs := []error{c.inner.Close()}
		for _, cl := range c.closers {
			errs = append(errs, cl.Close())
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

// closeAll releases what Open acquired before the inner client existed.
func (c *Client) closeAll() {
	c.transport.Close()
	for _, cl := range c.closers {
		cl.Close()
	}
	c.closers = nil
}
