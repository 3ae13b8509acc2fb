// Package credential manages the client credential for the lookup service.
//
// A credential is a 32-byte secret seed plus the session id the server
// assigned when the public parameters derived from that seed were uploaded.
// It moves through four states:
//
//	Absent  - nothing usable is persisted (missing, partial or corrupt record)
//	Cached  - a complete record was read back from storage
//	Valid   - a cached record is young enough and the server still knows its session
//	Invalid - a cached record is too old or the server rejected (or could not check) it
//
// Absent and Invalid credentials are replaced, never reused. A replacement is
// persisted with a single Set call so the seed and session id always land
// together.
package credential

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

const (
	// KeySize is the size of the credential seed.
	KeySize = 32

	// DefaultStorageKey is the storage key of the persisted record.
	DefaultStorageKey = "lookup.credential"

	// DefaultMaxValid is how long a credential may be reused (one week).
	DefaultMaxValid = 7 * 24 * time.Hour
)

var (
	// ErrCredentialInvalid marks a credential that must be regenerated.
	ErrCredentialInvalid = errors.New("credential invalid")

	// ErrInvalidKey is returned when saving key material of the wrong size.
	ErrInvalidKey = errors.New("credential key must be 32 bytes")

	// ErrMissingSession is returned when saving without a session id.
	ErrMissingSession = errors.New("credential session id required")
)

// State is the lifecycle state of a credential.
type State int

const (
	// Absent means nothing usable is stored.
	Absent State = iota
	// Cached means a credential was loaded but not yet checked with the server.
	Cached
	// Valid means the credential is fresh and the server knows its session.
	Valid
	// Invalid means the credential must be replaced.
	Invalid
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Cached:
		return "cached"
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Credential is a seed and the session registered for it.
type Credential struct {
	Key       []byte
	SessionID string
	CreatedAt time.Time
}

// Storage is durable string storage.
type Storage interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, replacing any previous value atomically.
	Set(ctx context.Context, key, value string) error
}

// Checker asks the server whether a session is still valid.
type Checker interface {
	CheckSession(ctx context.Context, sessionID string) (bool, error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, sessionID string) (bool, error)

// CheckSession calls f.
func (f CheckerFunc) CheckSession(ctx context.Context, sessionID string) (bool, error) {
	return f(ctx, sessionID)
}

// Config holds store configuration.
type Config struct {
	// StorageKey is the key the record is persisted under.
	StorageKey string

	// MaxValid is the maximum credential age.
	MaxValid time.Duration
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		StorageKey: DefaultStorageKey,
		MaxValid:   DefaultMaxValid,
	}
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithRandom overrides the randomness source for new keys.
func WithRandom(r io.Reader) Option {
	return func(s *Store) { s.random = r }
}

// Store loads, revalidates and persists the credential.
type Store struct {
	storage Storage
	checker Checker
	cfg     Config
	now     func() time.Time
	random  io.Reader
	logger  *slog.Logger
}

// NewStore creates a store. Zero config fields take their defaults.
func NewStore(storage Storage, checker Checker, cfg Config, opts ...Option) *Store {
	if strings.TrimSpace(cfg.StorageKey) == "" {
		cfg.StorageKey = DefaultStorageKey
	}
	if cfg.MaxValid <= 0 {
		cfg.MaxValid = DefaultMaxValid
	}
	s := &Store{
		storage: storage,
		checker: checker,
		cfg:     cfg,
		now:     time.Now,
		random:  rand.Reader,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// persisted is the stored JSON shape. Pointers distinguish missing fields.
type persisted struct {
	Key       *string `json:"key"`
	UUID      *string `json:"uuid"`
	CreatedAt *int64  `json:"createdAt"`
}

// Load reads the persisted credential. It returns Cached or Absent.
func (s *Store) Load(ctx context.Context) (*Credential, State) {
	raw, ok, err := s.storage.Get(ctx, s.cfg.StorageKey)
	if err != nil {
		s.logger.Warn("credential read failed", "error", err)
		return nil, Absent
	}
	if !ok {
		return nil, Absent
	}

	cred, err := decode(raw)
	if err != nil {
		s.logger.Warn("discarding unusable credential record", "error", err)
		return nil, Absent
	}
	return cred, Cached
}

func decode(raw string) (*Credential, error) {
	var p persisted
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("failed to parse record: %w", err)
	}
	if p.Key == nil || p.UUID == nil || p.CreatedAt == nil {
		return nil, errors.New("record is missing fields")
	}
	if strings.TrimSpace(*p.UUID) == "" {
		return nil, errors.New("record has an empty session id")
	}
	key, err := base64.StdEncoding.DecodeString(*p.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("key is %d bytes, want %d", len(key), KeySize)
	}
	return &Credential{
		Key:       key,
		SessionID: *p.UUID,
		CreatedAt: time.UnixMilli(*p.CreatedAt),
	}, nil
}

func encode(cred *Credential) (string, error) {
	key := base64.StdEncoding.EncodeToString(cred.Key)
	created := cred.CreatedAt.UnixMilli()
	b, err := json.Marshal(persisted{Key: &key, UUID: &cred.SessionID, CreatedAt: &created})
	if err != nil {
		return "", fmt.Errorf("failed to encode record: %w", err)
	}
	return string(b), nil
}

// Expired reports whether cred is older than MaxValid.
func (s *Store) Expired(cred *Credential) bool {
	return s.now().Sub(cred.CreatedAt) > s.cfg.MaxValid
}

// Revalidate decides whether a cached credential is Valid or Invalid.
// The remote check is skipped when the credential is already too old, and any
// check failure counts as Invalid.
func (s *Store) Revalidate(ctx context.Context, cred *Credential) State {
	if cred == nil {
		return Absent
	}
	if s.Expired(cred) {
		s.logger.Info("credential expired", "created_at", cred.CreatedAt, "max_valid", s.cfg.MaxValid)
		return Invalid
	}
	if s.checker == nil {
		return Invalid
	}
	ok, err := s.checker.CheckSession(ctx, cred.SessionID)
	if err != nil {
		s.logger.Warn("session check failed; regenerating", "error", err)
		return Invalid
	}
	if !ok {
		s.logger.Info("server rejected session")
		return Invalid
	}
	return Valid
}

// Current loads and revalidates the credential. It returns Absent, Valid or Invalid.
func (s *Store) Current(ctx context.Context) (*Credential, State) {
	cred, state := s.Load(ctx)
	if state != Cached {
		return nil, state
	}
	state = s.Revalidate(ctx, cred)
	if state != Valid {
		return nil, state
	}
	return cred, Valid
}

// NewKey returns fresh random key material.
func (s *Store) NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(s.random, key); err != nil {
		return nil, fmt.Errorf("failed to generate credential key: %w", err)
	}
	return key, nil
}

// Save persists a new credential for key and sessionID, stamped with the current time.
func (s *Store) Save(ctx context.Context, key []byte, sessionID string) (*Credential, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrMissingSession
	}

	cred := &Credential{
		Key:       append([]byte(nil), key...),
		SessionID: sessionID,
		CreatedAt: s.now(),
	}
	value, err := encode(cred)
	if err != nil {
		return nil, err
	}
	if err := s.storage.Set(ctx, s.cfg.StorageKey, value); err != nil {
		return nil, fmt.Errorf("failed to persist credential: %w", err)
	}
	return cred, nil
}
