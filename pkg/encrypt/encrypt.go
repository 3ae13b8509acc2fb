// Package encrypt seals secrets kept on the client's disk.
//
// Two things are sealed: the credential record when a passphrase is
// configured, and the lattice secret keys cached for each credential seed.
// Both use AES-256-GCM. Keys come either from a high-entropy seed (HKDF) or
// from a user passphrase (Argon2id with a random salt stored next to the
// ciphertext).
package encrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size of AES-256 keys in bytes.
	KeySize = 32

	// NonceSize is the size of GCM nonces in bytes.
	NonceSize = 12

	// SaltSize is the size of passphrase salts.
	SaltSize = 16

	// Argon2Time is the time parameter for Argon2id.
	Argon2Time = 1

	// Argon2Memory is the memory parameter for Argon2id (64 MB).
	Argon2Memory = 64 * 1024

	// Argon2Threads is the parallelism parameter for Argon2id.
	Argon2Threads = 4
)

var (
	// ErrInvalidKey is returned when the encryption key is invalid.
	ErrInvalidKey = errors.New("invalid encryption key: must be 32 bytes")

	// ErrInvalidCiphertext is returned when ciphertext is too short.
	ErrInvalidCiphertext = errors.New("invalid ciphertext: too short")

	// ErrDecryptionFailed is returned when decryption fails (wrong key or tampered data).
	ErrDecryptionFailed = errors.New("decryption failed: authentication error")
)

// AESGCM seals data with AES-256-GCM.
type AESGCM struct {
	key    []byte
	cipher cipher.AEAD
}

// NewAESGCM creates a sealer for a 32-byte key.
func NewAESGCM(key []byte) (*AESGCM, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	keyCopy := make([]byte, KeySize)
	copy(keyCopy, key)
	return &AESGCM{key: keyCopy, cipher: gcm}, nil
}

// Seal encrypts plaintext bound to aad.
// Returns: nonce (12 bytes) || ciphertext || tag (16 bytes)
func (e *AESGCM) Seal(plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+e.cipher.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return e.cipher.Seal(nonce, nonce, plaintext, aad), nil
}

// Open decrypts data produced by Seal with the same aad.
func (e *AESGCM) Open(sealed, aad []byte) ([]byte, error) {
	if len(sealed) < NonceSize+e.cipher.Overhead() {
		return nil, ErrInvalidCiphertext
	}
	plaintext, err := e.cipher.Open(nil, sealed[:NonceSize], sealed[NonceSize:], aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// KeyFingerprint returns the first 8 bytes of SHA-256(key), hex encoded.
func (e *AESGCM) KeyFingerprint() string {
	hash := sha256.Sum256(e.key)
	return fmt.Sprintf("%x", hash[:8])
}

// DeriveSeedKey derives a sealing key from high-entropy seed material with HKDF-SHA256.
// Distinct info strings give independent keys for the same seed.
func DeriveSeedKey(seed []byte, info string) ([]byte, error) {
	if len(seed) == 0 {
		return nil, ErrInvalidKey
	}
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, seed, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// DerivePassphraseKey derives a key from a passphrase and salt using Argon2id.
func DerivePassphraseKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, Argon2Time, Argon2Memory, Argon2Threads, KeySize)
}

// SealWithPassphrase seals plaintext under a passphrase.
// Returns: salt (16 bytes) || nonce || ciphertext || tag
func SealWithPassphrase(passphrase string, plaintext, aad []byte) ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	sealer, err := NewAESGCM(DerivePassphraseKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	sealed, err := sealer.Seal(plaintext, aad)
	if err != nil {
		return nil, err
	}
	return append(salt, sealed...), nil
}

// OpenWithPassphrase reverses SealWithPassphrase.
func OpenWithPassphrase(passphrase string, data, aad []byte) ([]byte, error) {
	if len(data) < SaltSize {
		return nil, ErrInvalidCiphertext
	}
	sealer, err := NewAESGCM(DerivePassphraseKey(passphrase, data[:SaltSize]))
	if err != nil {
		return nil, err
	}
	return sealer.Open(data[SaltSize:], aad)
}

// GenerateKey generates a random 256-bit key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}
