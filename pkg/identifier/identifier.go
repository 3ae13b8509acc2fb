// Package identifier turns human-readable identifiers into lookup keys.
//
// Two variants exist. Name identifiers (ENS names such as "vitalik.eth") are
// normalized with UTS-46 rules and hashed with the ENS namehash; the leading
// 16 bytes of the namehash form the record key. Address identifiers (Bitcoin
// addresses) are hashed as raw bytes with SHA-256 and truncated to 8 bytes.
//
// In both variants the bucket index is the LOW BucketBits bits of the digest.
// Name digests are read big-endian; address digests are read with their byte
// order reversed. The server partitions its data the same way, so this must
// not change.
package identifier

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/btcsuite/btcutil/base58"
	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/net/idna"
)

const (
	// NameKeyWidth is the width of a name record key in bytes.
	NameKeyWidth = 16

	// AddressKeyWidth is the width of an address record key in bytes.
	AddressKeyWidth = 8

	// MaxBucketBits bounds the bucket exponent.
	MaxBucketBits = 32
)

var (
	// ErrInvalidIdentifier is returned when an identifier cannot be normalized.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid identifier config")
)

// Variant selects how an identifier is normalized and hashed.
type Variant int

const (
	// Name identifiers are ENS names.
	Name Variant = iota + 1
	// Address identifiers are account addresses hashed as raw bytes.
	Address
)

func (v Variant) String() string {
	switch v {
	case Name:
		return "name"
	case Address:
		return "address"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// Config controls key derivation.
type Config struct {
	// Variant selects name or address hashing.
	Variant Variant

	// BucketBits is the bucket exponent B; buckets are in [0, 2^B).
	BucketBits uint

	// RequiredSuffix, if set, must terminate every normalized name (e.g. ".eth").
	RequiredSuffix string

	// StrictAddress requires addresses to decode as base58check or bech32.
	StrictAddress bool
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Variant != Name && c.Variant != Address {
		return fmt.Errorf("%w: unknown variant %d", ErrInvalidConfig, int(c.Variant))
	}
	if c.BucketBits == 0 || c.BucketBits > MaxBucketBits {
		return fmt.Errorf("%w: bucket bits must be in [1, %d], got %d", ErrInvalidConfig, MaxBucketBits, c.BucketBits)
	}
	return nil
}

// KeyWidth returns the record key width for the configured variant.
func (c Config) KeyWidth() int {
	if c.Variant == Address {
		return AddressKeyWidth
	}
	return NameKeyWidth
}

// NumBuckets returns 2^BucketBits.
func (c Config) NumBuckets() uint64 {
	return 1 << c.BucketBits
}

// Key is a derived identifier key.
type Key struct {
	// Raw is the identifier as supplied by the caller.
	Raw string

	// Normalized is the canonical form that was hashed.
	Normalized string

	// Digest is the full hash output.
	Digest []byte

	// Bytes is the record key prefix (a truncation of Digest).
	Bytes []byte

	// Bucket is the bucket index in [0, 2^BucketBits).
	Bucket uint64
}

// Derive derives the key and bucket for raw under cfg.
func Derive(raw string, cfg Config) (Key, error) {
	if err := cfg.Validate(); err != nil {
		return Key{}, err
	}
	switch cfg.Variant {
	case Address:
		return deriveAddress(raw, cfg)
	default:
		return deriveName(raw, cfg)
	}
}

// DeriveName derives a name key with the given bucket exponent.
func DeriveName(raw string, bucketBits uint) (Key, error) {
	return Derive(raw, Config{Variant: Name, BucketBits: bucketBits})
}

// DeriveAddress derives an address key with the given bucket exponent.
func DeriveAddress(raw string, bucketBits uint) (Key, error) {
	return Derive(raw, Config{Variant: Address, BucketBits: bucketBits})
}

func deriveName(raw string, cfg Config) (Key, error) {
	normalized, err := NormalizeName(raw)
	if err != nil {
		return Key{}, err
	}
	if cfg.RequiredSuffix != "" && !strings.HasSuffix(normalized, cfg.RequiredSuffix) {
		return Key{}, fmt.Errorf("%w: %q does not end with %q", ErrInvalidIdentifier, normalized, cfg.RequiredSuffix)
	}

	node := Namehash(normalized)
	digest := node.Bytes()
	return Key{
		Raw:        raw,
		Normalized: normalized,
		Digest:     digest,
		Bytes:      digest[:NameKeyWidth],
		Bucket:     binary.BigEndian.Uint64(digest[len(digest)-8:]) & mask(cfg.BucketBits),
	}, nil
}

func deriveAddress(raw string, cfg Config) (Key, error) {
	addr := strings.TrimSpace(raw)
	if addr == "" {
		return Key{}, fmt.Errorf("%w: empty address", ErrInvalidIdentifier)
	}
	if strings.IndexFunc(addr, unicode.IsSpace) >= 0 {
		return Key{}, fmt.Errorf("%w: address contains whitespace", ErrInvalidIdentifier)
	}
	if cfg.StrictAddress {
		if err := validateAddress(addr); err != nil {
			return Key{}, err
		}
	}

	sum := sha256.Sum256([]byte(addr))
	digest := sum[:AddressKeyWidth]
	return Key{
		Raw:        raw,
		Normalized: addr,
		Digest:     digest,
		Bytes:      digest,
		// Reversed byte order read as a big integer is a little-endian read.
		Bucket: binary.LittleEndian.Uint64(digest) & mask(cfg.BucketBits),
	}, nil
}

var nameProfile = idna.New(
	idna.MapForLookup(),
	idna.Transitional(false),
	idna.StrictDomainName(false),
)

// NormalizeName applies UTS-46 normalization to an ENS name.
func NormalizeName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrInvalidIdentifier)
	}
	normalized, err := nameProfile.ToUnicode(name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidIdentifier, err)
	}
	for _, label := range strings.Split(normalized, ".") {
		if label == "" {
			return "", fmt.Errorf("%w: empty label in %q", ErrInvalidIdentifier, raw)
		}
	}
	return normalized, nil
}

// Namehash computes the ENS namehash of an already normalized name.
func Namehash(name string) common.Hash {
	var node common.Hash
	if name == "" {
		return node
	}
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		labelHash := crypto.Keccak256([]byte(labels[i]))
		node = common.BytesToHash(crypto.Keccak256(node.Bytes(), labelHash))
	}
	return node
}

func validateAddress(addr string) error {
	if _, _, err := base58.CheckDecode(addr); err == nil {
		return nil
	}
	if _, _, err := bech32.Decode(addr); err == nil {
		return nil
	}
	return fmt.Errorf("%w: %q is neither base58check nor bech32", ErrInvalidIdentifier, addr)
}

func mask(bits uint) uint64 {
	return (uint64(1) << bits) - 1
}
