package pir

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/schemes/bfv"
	"github.com/zeebo/blake3"

	"github.com/sprl/lookup/pkg/cache"
)

// ErrNotLoaded is returned when answering before a database is loaded.
var ErrNotLoaded = errors.New("database not loaded")

// Responder answers encrypted queries against a bucket database.
// It never holds a secret key.
type Responder struct {
	params  Params
	bfv     bfv.Parameters
	rows    *cache.PlaintextCache
	workers int

	publicKeySize  int
	ciphertextSize int
}

// NewResponder creates a responder. workers bounds the row multiplications
// run in parallel per query; zero means one per CPU.
func NewResponder(params Params, workers int) (*Responder, error) {
	bp, err := params.BFV()
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Responder{
		params:  params,
		bfv:     bp,
		rows:    cache.NewPlaintextCache(bp),
		workers: workers,

		publicKeySize:  rlwe.NewPublicKey(bp).BinarySize(),
		ciphertextSize: ciphertextSize(bp),
	}, nil
}

// Params returns the protocol parameters.
func (r *Responder) Params() Params { return r.params }

// Load replaces the database. items[b] is the framed item of bucket b (nil for
// an empty bucket). It is a no-op when the items are unchanged since the last load.
func (r *Responder) Load(items [][]byte) error {
	if uint64(len(items)) > r.params.NumBuckets() {
		return fmt.Errorf("%w: %d items for %d buckets", ErrBucketOutOfRange, len(items), r.params.NumBuckets())
	}
	h := blake3.New()
	for b, item := range items {
		if len(item) > r.params.ItemSize {
			return fmt.Errorf("%w: bucket %d holds %d bytes, item size is %d", ErrItemTooLarge, b, len(item), r.params.ItemSize)
		}
		var hdr [4]byte
		binary.BigEndian.PutUint32(hdr[:], uint32(len(item)))
		h.Write(hdr[:])
		h.Write(item)
	}
	digest := h.Sum(nil)
	if !r.rows.NeedsRefresh(digest) {
		return nil
	}

	return r.rows.Load(r.params.Rows(), digest, func(row int, values []uint64) {
		off := row * BytesPerSlot
		for b, item := range items {
			if off >= len(item) {
				continue
			}
			v := uint64(item[off]) << 8
			if off+1 < len(item) {
				v |= uint64(item[off+1])
			}
			values[b] = v
		}
	})
}

// Version returns the database version, incremented on every effective Load.
func (r *Responder) Version() int64 { return r.rows.Version() }

// ValidatePublicParams checks that pp is a serialized public key for these parameters.
func (r *Responder) ValidatePublicParams(pp []byte) error {
	_, err := r.readPublicKey(pp)
	return err
}

func (r *Responder) readPublicKey(pp []byte) (*rlwe.PublicKey, error) {
	if len(pp) != r.publicKeySize {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidPublicParams, len(pp), r.publicKeySize)
	}
	pk := rlwe.NewPublicKey(r.bfv)
	if err := readObject(pk, pp, ErrInvalidPublicParams); err != nil {
		return nil, err
	}
	return pk, nil
}

// Answer computes the response to a query body (the query without its session
// id). An ephemeral body starts with the client's public parameters.
func (r *Responder) Answer(ctx context.Context, body []byte, ephemeral bool) ([]byte, error) {
	rows, _ := r.rows.Snapshot()
	if rows == nil {
		return nil, ErrNotLoaded
	}

	want := r.ciphertextSize
	if ephemeral {
		want += r.publicKeySize
	}
	if len(body) != want {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidQuery, len(body), want)
	}
	if ephemeral {
		if _, err := r.readPublicKey(body[:r.publicKeySize]); err != nil {
			return nil, err
		}
		body = body[r.publicKeySize:]
	}
	query := rlwe.NewCiphertext(r.bfv, 1, r.bfv.MaxLevel())
	if err := readObject(query, body, ErrInvalidQuery); err != nil {
		return nil, err
	}

	results := make([]*rlwe.Ciphertext, len(rows))
	errs := make([]error, r.workers)
	var wg sync.WaitGroup
	for w := 0; w < r.workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			// Evaluators are not thread-safe; each worker gets its own.
			evaluator := bfv.NewEvaluator(r.bfv, nil)
			for i := w; i < len(rows); i += r.workers {
				if err := ctx.Err(); err != nil {
					errs[w] = err
					return
				}
				ct, err := evaluator.MulNew(query, rows[i])
				if err != nil {
					errs[w] = fmt.Errorf("failed to multiply row %d: %w", i, err)
					return
				}
				results[i] = ct
			}
		}(w)
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	if err := writeRows(buf, results); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
