// Package service implements the lookup server: session registration,
// encrypted query answering and dataset reloads.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sprl/lookup/internal/session"
	"github.com/sprl/lookup/pkg/blob"
	"github.com/sprl/lookup/pkg/dataset"
	"github.com/sprl/lookup/pkg/observability/logging"
	"github.com/sprl/lookup/pkg/observability/metrics"
	"github.com/sprl/lookup/pkg/pir"
)

// Errors
var (
	ErrInvalidSession    = errors.New("invalid session")
	ErrEphemeralDisabled = errors.New("ephemeral queries disabled")
	ErrNotReady          = errors.New("dataset not loaded")
	ErrNoDataDir         = errors.New("no data directory configured")
)

// Config holds service configuration.
type Config struct {
	// PIR are the protocol parameters; clients must use the same.
	PIR pir.Params

	// DataDir holds the published blob store and info.json. Reload reads it.
	DataDir string

	// SessionTTL bounds how long a registered session is honoured.
	SessionTTL time.Duration

	// AllowEphemeral accepts queries that carry their public parameters inline.
	AllowEphemeral bool

	// Workers bounds parallel row multiplications per query. Zero: one per CPU.
	Workers int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		PIR:            pir.Params{BucketBits: 12, ItemSize: 16 << 10},
		SessionTTL:     8 * 24 * time.Hour,
		AllowEphemeral: true,
	}
}

// Health is a snapshot of service state.
type Health struct {
	Healthy  bool
	Status   string
	Version  int64
	Sessions int
	Buckets  uint64
}

// LookupService answers private lookups. It never sees a secret key.
type LookupService struct {
	config    Config
	responder *pir.Responder
	sessions  *session.Manager
	metrics   *metrics.ServerMetrics
	logger    *slog.Logger

	mu      sync.RWMutex
	info    dataset.Info
	buckets uint64
	loaded  bool

	// reloadMu serializes loads.
	reloadMu sync.Mutex
}

// New creates a lookup service. The dataset is not loaded until Reload or LoadFrom.
func New(cfg Config, m *metrics.ServerMetrics, logger *slog.Logger) (*LookupService, error) {
	responder, err := pir.NewResponder(cfg.PIR, cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create responder: %w", err)
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultConfig().SessionTTL
	}
	return &LookupService{
		config:    cfg,
		responder: responder,
		sessions:  session.NewManager(cfg.SessionTTL),
		metrics:   m,
		logger:    logging.OrDefault(logger).With("component", "service"),
	}, nil
}

// Config returns the service configuration.
func (s *LookupService) Config() Config { return s.config }

// Sessions returns the session manager.
func (s *LookupService) Sessions() *session.Manager { return s.sessions }

// Run sweeps expired sessions until ctx is done.
func (s *LookupService) Run(ctx context.Context) {
	s.sessions.Run(ctx, session.DefaultCleanupInterval)
}

// RegisterKey validates uploaded public parameters and creates a session for them.
func (s *LookupService) RegisterKey(ctx context.Context, publicParams []byte) (string, error) {
	if err := s.responder.ValidatePublicParams(publicParams); err != nil {
		s.metrics.ObserveSetup("invalid")
		return "", err
	}
	sess, err := s.sessions.Create(publicParams)
	if err != nil {
		s.metrics.ObserveSetup("error")
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	s.metrics.ObserveSetup("ok")
	s.metrics.SetSessions(s.sessions.Count())
	s.logger.Info("session registered", logging.Session(sess.ID), "public_params_bytes", len(publicParams))
	return sess.ID, nil
}

// CheckSession reports whether id is a live session.
func (s *LookupService) CheckSession(ctx context.Context, id string) bool {
	valid := s.sessions.Valid(id)
	s.metrics.ObserveCheck(valid)
	return valid
}

// Answer answers a query: a 36-byte session id followed by the encrypted body.
func (s *LookupService) Answer(ctx context.Context, query []byte) (resp []byte, err error) {
	start := time.Now()
	mode := "session"
	defer func() {
		s.metrics.ObserveQuery(mode, queryOutcome(err), time.Since(start))
	}()

	id, body, err := pir.SplitQuery(query)
	if err != nil {
		return nil, err
	}
	ephemeral := id == pir.EphemeralSessionID
	if ephemeral {
		mode = "ephemeral"
		if !s.config.AllowEphemeral {
			return nil, ErrEphemeralDisabled
		}
	} else if _, err := s.sessions.Get(id); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}

	resp, err = s.responder.Answer(ctx, body, ephemeral)
	if errors.Is(err, pir.ErrNotLoaded) {
		return nil, fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	return resp, err
}

func queryOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidSession):
		return "invalid_session"
	case errors.Is(err, pir.ErrInvalidQuery), errors.Is(err, pir.ErrInvalidPublicParams):
		return "invalid_query"
	case errors.Is(err, ErrNotReady):
		return "not_ready"
	case errors.Is(err, ErrEphemeralDisabled):
		return "rejected"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

// Info returns the info of the loaded dataset.
func (s *LookupService) Info() dataset.Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// Reload reloads the dataset from DataDir.
func (s *LookupService) Reload(ctx context.Context) error {
	if s.config.DataDir == "" {
		return ErrNoDataDir
	}
	store, err := blob.NewFileStore(s.config.DataDir)
	if err != nil {
		s.metrics.ObserveReload("error")
		return err
	}
	defer store.Close()

	info, err := dataset.LoadInfo(s.config.DataDir)
	if err != nil {
		s.metrics.ObserveReload("error")
		return err
	}
	return s.LoadFrom(ctx, store, info)
}

// LoadFrom replaces the dataset with the buckets of store. Queries in flight
// finish against the previous rows.
func (s *LookupService) LoadFrom(ctx context.Context, store blob.ReadOnlyStore, info dataset.Info) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	start := time.Now()
	items, err := dataset.LoadItems(ctx, store, s.config.PIR)
	if err != nil {
		s.metrics.ObserveReload("error")
		return fmt.Errorf("failed to load items: %w", err)
	}
	var nonEmpty uint64
	for _, item := range items {
		if item != nil {
			nonEmpty++
		}
	}
	before := s.responder.Version()
	if err := s.responder.Load(items); err != nil {
		s.metrics.ObserveReload("error")
		return fmt.Errorf("failed to load responder: %w", err)
	}

	s.mu.Lock()
	s.info = info
	s.buckets = nonEmpty
	s.loaded = true
	s.mu.Unlock()

	outcome := "ok"
	if s.responder.Version() == before {
		outcome = "unchanged"
	}
	s.metrics.ObserveReload(outcome)
	s.logger.Info("dataset loaded",
		"outcome", outcome,
		"buckets", nonEmpty,
		"height", info.Height,
		"lastupdate", info.LastUpdate,
		"elapsed", time.Since(start),
	)
	return nil
}

// HealthCheck returns service health status.
func (s *LookupService) HealthCheck(ctx context.Context) Health {
	s.mu.RLock()
	loaded, buckets := s.loaded, s.buckets
	s.mu.RUnlock()

	sessions := s.sessions.Count()
	s.metrics.SetSessions(sessions)
	h := Health{
		Healthy:  loaded,
		Status:   "healthy",
		Version:  s.responder.Version(),
		Sessions: sessions,
		Buckets:  buckets,
	}
	if !loaded {
		h.Status = "no dataset loaded"
	}
	return h
}
