package pir

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/schemes/bfv"
)

// SeedSize is the credential seed size DeriveKeys accepts.
const SeedSize = 32

// Engine is the lattigo BFV implementation of Client.
// It holds one key pair and remembers the bucket of the outstanding query.
type Engine struct {
	params  Params
	bfv     bfv.Parameters
	encoder *bfv.Encoder
	secrets *SecretCache
	rowSize int

	seed      []byte
	secretKey *rlwe.SecretKey
	encryptor *rlwe.Encryptor
	decryptor *rlwe.Decryptor
	publicKey []byte

	bucket   uint64
	hasQuery bool

	mu sync.Mutex
}

var _ Client = (*Engine)(nil)

// NewEngine creates a client engine. Secret keys are cached in secrets.
func NewEngine(params Params, secrets *SecretCache) (*Engine, error) {
	if secrets == nil {
		return nil, errors.New("secret cache required")
	}
	bp, err := params.BFV()
	if err != nil {
		return nil, err
	}
	return &Engine{
		params:  params,
		bfv:     bp,
		encoder: bfv.NewEncoder(bp),
		secrets: secrets,
		rowSize: ciphertextSize(bp),
	}, nil
}

// NewFactory returns a Factory building engines over secrets.
func NewFactory(params Params, secrets *SecretCache) Factory {
	return func(ctx context.Context) (Client, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return NewEngine(params, secrets)
	}
}

// Params returns the protocol parameters.
func (e *Engine) Params() Params { return e.params }

// DeriveKeys implements Client.
func (e *Engine) DeriveKeys(ctx context.Context, seed []byte, wantPublic bool) ([]byte, error) {
	if len(seed) != SeedSize {
		return nil, ErrInvalidSeed
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !wantPublic && e.secretKey != nil && bytes.Equal(seed, e.seed) {
		return nil, nil
	}

	sk, err := e.secrets.Load(ctx, seed, e.bfv)
	switch {
	case err == nil:
	case errors.Is(err, ErrUnknownSeed) && wantPublic:
		sk = rlwe.NewKeyGenerator(e.bfv).GenSecretKeyNew()
		if err := e.secrets.Store(ctx, seed, sk); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	e.install(seed, sk)
	if !wantPublic {
		return nil, nil
	}

	pk := rlwe.NewKeyGenerator(e.bfv).GenPublicKeyNew(sk)
	buf := new(bytes.Buffer)
	if _, err := pk.WriteTo(buf); err != nil {
		return nil, fmt.Errorf("failed to serialize public key: %w", err)
	}
	e.publicKey = buf.Bytes()
	return e.publicKey, nil
}

func (e *Engine) install(seed []byte, sk *rlwe.SecretKey) {
	e.seed = append([]byte(nil), seed...)
	e.secretKey = sk
	e.encryptor = rlwe.NewEncryptor(e.bfv, sk)
	e.decryptor = rlwe.NewDecryptor(e.bfv, sk)
	e.publicKey = nil
	e.hasQuery = false
}

// BuildQuery implements Client. The ephemeral session id inlines the public
// parameters from the last DeriveKeys(..., true) call.
func (e *Engine) BuildQuery(sessionID string, bucket uint64) ([]byte, error) {
	if len(sessionID) != SessionIDSize {
		return nil, fmt.Errorf("%w: session id must be %d characters", ErrInvalidQuery, SessionIDSize)
	}
	if bucket >= e.params.NumBuckets() {
		return nil, fmt.Errorf("%w: %d >= %d", ErrBucketOutOfRange, bucket, e.params.NumBuckets())
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.encryptor == nil {
		return nil, ErrNoKeys
	}
	ephemeral := sessionID == EphemeralSessionID
	if ephemeral && e.publicKey == nil {
		return nil, fmt.Errorf("%w: ephemeral query needs public parameters", ErrNoKeys)
	}

	values := make([]uint64, e.bfv.MaxSlots())
	values[bucket] = 1
	pt := bfv.NewPlaintext(e.bfv, e.bfv.MaxLevel())
	if err := e.encoder.Encode(values, pt); err != nil {
		return nil, fmt.Errorf("failed to encode selector: %w", err)
	}
	ct, err := e.encryptor.EncryptNew(pt)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt: %w", err)
	}

	buf := new(bytes.Buffer)
	buf.WriteString(sessionID)
	if ephemeral {
		buf.Write(e.publicKey)
	}
	if _, err := ct.WriteTo(buf); err != nil {
		return nil, fmt.Errorf("failed to serialize ciphertext: %w", err)
	}

	e.bucket = bucket
	e.hasQuery = true
	return buf.Bytes(), nil
}

// DecodeResponse implements Client.
func (e *Engine) DecodeResponse(response []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.decryptor == nil {
		return nil, ErrNoKeys
	}
	if !e.hasQuery {
		return nil, ErrNoQuery
	}

	cts, err := readRows(bytes.NewReader(response), e.bfv, e.rowSize)
	if err != nil {
		return nil, err
	}
	if len(cts) != e.params.Rows() {
		return nil, fmt.Errorf("%w: got %d rows, want %d", ErrInvalidResponse, len(cts), e.params.Rows())
	}

	item := make([]byte, 0, len(cts)*BytesPerSlot)
	values := make([]uint64, e.bfv.MaxSlots())
	for i, ct := range cts {
		pt := e.decryptor.DecryptNew(ct)
		if err := e.encoder.Decode(pt, values); err != nil {
			return nil, fmt.Errorf("failed to decode row %d: %w", i, err)
		}
		v := values[e.bucket]
		if v > 0xFFFF {
			return nil, fmt.Errorf("%w: row %d slot value %d out of range", ErrInvalidResponse, i, v)
		}
		item = append(item, byte(v>>8), byte(v))
	}
	e.hasQuery = false

	return UnframeItem(item[:e.params.ItemSize])
}

// writeRows serializes cts as [count u32 BE] then [len u32 BE][ciphertext] per row.
func writeRows(w io.Writer, cts []*rlwe.Ciphertext) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(cts)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	for i, ct := range cts {
		binary.BigEndian.PutUint32(hdr[:], uint32(ct.BinarySize()))
		if _, err := w.Write(hdr[:]); err != nil {
			return err
		}
		if _, err := ct.WriteTo(w); err != nil {
			return fmt.Errorf("failed to serialize row %d: %w", i, err)
		}
	}
	return nil
}

// readRows is the inverse of writeRows. No row may exceed maxRow bytes.
func readRows(r *bytes.Reader, params bfv.Parameters, maxRow int) ([]*rlwe.Ciphertext, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: missing row count", ErrInvalidResponse)
	}
	count := binary.BigEndian.Uint32(hdr[:])
	// Every row carries at least its own length header.
	if uint64(count)*4 > uint64(r.Len()) {
		return nil, fmt.Errorf("%w: %d rows cannot fit %d bytes", ErrInvalidResponse, count, r.Len())
	}

	cts := make([]*rlwe.Ciphertext, 0, count)
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, fmt.Errorf("%w: row %d: missing length", ErrInvalidResponse, i)
		}
		n := binary.BigEndian.Uint32(hdr[:])
		if uint64(n) > uint64(maxRow) {
			return nil, fmt.Errorf("%w: row %d: length %d exceeds ciphertext size %d", ErrInvalidResponse, i, n, maxRow)
		}
		if uint64(n) > uint64(r.Len()) {
			return nil, fmt.Errorf("%w: row %d: length %d exceeds remaining %d bytes", ErrInvalidResponse, i, n, r.Len())
		}
		chunk := make([]byte, n)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrInvalidResponse, i, err)
		}
		ct := rlwe.NewCiphertext(params, 1, params.MaxLevel())
		if err := readObject(ct, chunk, ErrInvalidResponse); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		cts = append(cts, ct)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidResponse, r.Len())
	}
	return cts, nil
}

// ciphertextSize is the serialized size of a fresh degree-1 ciphertext.
func ciphertextSize(params bfv.Parameters) int {
	return rlwe.NewCiphertext(params, 1, params.MaxLevel()).BinarySize()
}

// readObject deserializes untrusted bytes into obj. lattigo trusts the length
// fields it reads and panics on absurd ones; those panics come back as kind.
func readObject(obj io.ReaderFrom, data []byte, kind error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", kind, r)
		}
	}()
	if _, err := obj.ReadFrom(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w: %v", kind, err)
	}
	return nil
}
