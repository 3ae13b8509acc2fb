package pir

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/zeebo/blake3"

	"github.com/sprl/lookup/pkg/encrypt"
)

const (
	secretKeyPrefix   = "pir-secret:"
	secretTagLabel    = "lookup pir secret index v1"
	secretSealingInfo = "lookup pir secret sealing v1"
)

// Storage is durable string storage for sealed secret keys.
// credential.MemoryStorage, FileStorage and LevelDBStorage all satisfy it.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// DefaultSecretSlot is the storage slot used when NewSecretCache is given none.
const DefaultSecretSlot = "default"

// SecretCache maps credential seeds to lattice secret keys.
//
// Lattice key generation cannot be driven by a caller-supplied seed, so the
// key generated for a seed is kept, sealed under a key derived from that seed
// and tagged with a keyed hash of the seed. Only the holder of the seed can
// recognize or open the entry.
//
// Each cache owns a single storage slot. Storing the secret of a new seed
// replaces the previous one, so a credential store holds at most one sealed
// secret per slot however often credentials are regenerated.
type SecretCache struct {
	storage Storage
	key     string
}

// NewSecretCache creates a cache over storage, writing to slot. Caches sharing
// a storage need distinct slots; the credential storage key is a natural choice.
func NewSecretCache(storage Storage, slot string) *SecretCache {
	if slot == "" {
		slot = DefaultSecretSlot
	}
	return &SecretCache{storage: storage, key: secretKeyPrefix + slot}
}

// NewVolatileSecretCache returns an in-memory cache. Ephemeral lookups derive
// a new seed every time and never come back to an old one.
func NewVolatileSecretCache() *SecretCache {
	return NewSecretCache(&lastSecret{}, "")
}

type lastSecret struct {
	mu         sync.Mutex
	key, value string
}

func (l *lastSecret) Get(_ context.Context, key string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.key == "" || key != l.key {
		return "", false, nil
	}
	return l.value, true, nil
}

func (l *lastSecret) Set(_ context.Context, key, value string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.key, l.value = key, value
	return nil
}

// seedTag identifies the seed a slot entry belongs to.
func seedTag(seed []byte) (string, error) {
	h, err := blake3.NewKeyed(seed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	h.Write([]byte(secretTagLabel))
	return hex.EncodeToString(h.Sum(nil)[:16]), nil
}

func sealerFor(seed []byte) (*encrypt.AESGCM, error) {
	key, err := encrypt.DeriveSeedKey(seed, secretSealingInfo)
	if err != nil {
		return nil, err
	}
	return encrypt.NewAESGCM(key)
}

// Load returns the secret key cached for seed, or ErrUnknownSeed.
func (c *SecretCache) Load(ctx context.Context, seed []byte, params rlwe.ParameterProvider) (*rlwe.SecretKey, error) {
	tag, err := seedTag(seed)
	if err != nil {
		return nil, err
	}
	raw, ok, err := c.storage.Get(ctx, c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret cache: %w", err)
	}
	if !ok {
		return nil, ErrUnknownSeed
	}
	stored, encoded, found := strings.Cut(raw, ".")
	if !found {
		return nil, fmt.Errorf("%w: corrupt entry", ErrUnknownSeed)
	}
	if stored != tag {
		return nil, ErrUnknownSeed
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt entry: %v", ErrUnknownSeed, err)
	}
	sealer, err := sealerFor(seed)
	if err != nil {
		return nil, err
	}
	plain, err := sealer.Open(sealed, c.aad(tag))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownSeed, err)
	}

	sk := rlwe.NewSecretKey(params)
	if err := sk.UnmarshalBinary(plain); err != nil {
		return nil, fmt.Errorf("%w: failed to decode secret key: %v", ErrUnknownSeed, err)
	}
	return sk, nil
}

// Store seals sk under seed, replacing whatever the slot held.
func (c *SecretCache) Store(ctx context.Context, seed []byte, sk *rlwe.SecretKey) error {
	tag, err := seedTag(seed)
	if err != nil {
		return err
	}
	plain, err := sk.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to serialize secret key: %w", err)
	}
	sealer, err := sealerFor(seed)
	if err != nil {
		return err
	}
	sealed, err := sealer.Seal(plain, c.aad(tag))
	if err != nil {
		return err
	}
	if err := c.storage.Set(ctx, c.key, tag+"."+base64.StdEncoding.EncodeToString(sealed)); err != nil {
		return fmt.Errorf("failed to write secret cache: %w", err)
	}
	return nil
}

func (c *SecretCache) aad(tag string) []byte {
	return []byte(c.key + "/" + tag)
}
