// Package dataset builds the bucketed lookup database from source records.
//
// Sources are JSONL files, one record per line. Each record is keyed and
// bucketed exactly as the client will key its lookup, encoded in the wire
// layout, grouped by bucket, compressed, and written to a blob store. The
// server frames each bucket's blob into a fixed-size item for retrieval.
package dataset

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sprl/lookup/pkg/blob"
	"github.com/sprl/lookup/pkg/compress"
	"github.com/sprl/lookup/pkg/identifier"
	"github.com/sprl/lookup/pkg/pir"
	"github.com/sprl/lookup/pkg/record"
)

var (
	// ErrInvalidSource is returned for source lines that cannot be used.
	ErrInvalidSource = errors.New("invalid source record")

	// ErrBucketOverflow is returned when a bucket does not fit an item.
	ErrBucketOverflow = errors.New("bucket exceeds item size")
)

// maxLineSize bounds a single JSONL source line.
const maxLineSize = 4 << 20

// NameEntry is one line of a names source.
type NameEntry struct {
	Name    string            `json:"name"`
	Address string            `json:"address,omitempty"`
	Records map[string]string `json:"records,omitempty"`
}

// BalanceEntry is one line of a balances source.
type BalanceEntry struct {
	Address      string               `json:"address"`
	Balance      uint64               `json:"balance"`
	Transactions []record.Transaction `json:"transactions"`
}

// Config controls a build.
type Config struct {
	// Identifier keys and buckets the source records.
	Identifier identifier.Config

	// NameLayout is used when Identifier.Variant is identifier.Name.
	NameLayout record.NameLayout

	// BalanceLayout is used when Identifier.Variant is identifier.Address.
	BalanceLayout record.BalanceLayout

	// Compression names the bucket codec.
	Compression string

	// ItemSize is the retrieval item size every bucket must fit.
	ItemSize int
}

// Validate checks the build configuration.
func (c Config) Validate() error {
	if err := c.Identifier.Validate(); err != nil {
		return err
	}
	switch c.Identifier.Variant {
	case identifier.Name:
		if err := c.NameLayout.Validate(); err != nil {
			return err
		}
		if c.NameLayout.KeyWidth > c.Identifier.KeyWidth() {
			return fmt.Errorf("%w: key width %d exceeds %d", record.ErrInvalidLayout, c.NameLayout.KeyWidth, c.Identifier.KeyWidth())
		}
	case identifier.Address:
		if err := c.BalanceLayout.Validate(); err != nil {
			return err
		}
		if c.BalanceLayout.KeyWidth > c.Identifier.KeyWidth() {
			return fmt.Errorf("%w: key width %d exceeds %d", record.ErrInvalidLayout, c.BalanceLayout.KeyWidth, c.Identifier.KeyWidth())
		}
	}
	if _, err := compress.ParseAlgorithm(c.Compression); err != nil {
		return err
	}
	return pir.Params{BucketBits: c.Identifier.BucketBits, ItemSize: c.ItemSize}.Validate()
}

// Builder accumulates source records by bucket.
// Records are deduplicated by normalized identifier; the last one wins.
type Builder struct {
	cfg    Config
	codec  *compress.Codec
	logger *slog.Logger

	names    map[uint64]map[string]record.NameRecord
	balances map[uint64]map[string]record.BalanceRecord

	maxHeight uint32
	count     int
}

// NewBuilder creates a builder.
func NewBuilder(cfg Config, logger *slog.Logger) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codec, err := compress.New(cfg.Compression)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		cfg:      cfg,
		codec:    codec,
		logger:   logger,
		names:    make(map[uint64]map[string]record.NameRecord),
		balances: make(map[uint64]map[string]record.BalanceRecord),
	}, nil
}

// Len returns the number of distinct records added.
func (b *Builder) Len() int { return b.count }

// MaxHeight returns the highest transaction height seen.
func (b *Builder) MaxHeight() uint32 { return b.maxHeight }

// AddName adds a name record.
func (b *Builder) AddName(e NameEntry) error {
	if b.cfg.Identifier.Variant != identifier.Name {
		return fmt.Errorf("%w: builder is not configured for names", ErrInvalidSource)
	}
	key, err := identifier.Derive(e.Name, b.cfg.Identifier)
	if err != nil {
		return err
	}

	rec := record.NameRecord{
		KeyPrefix: key.Bytes[:b.cfg.NameLayout.KeyWidth],
		Entries:   e.Records,
	}
	if addr := strings.TrimSpace(e.Address); addr != "" {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%w: %q is not a hex address", ErrInvalidSource, addr)
		}
		rec.Address = common.HexToAddress(addr).Bytes()
	}
	if rec.Address == nil && len(rec.Entries) == 0 {
		return fmt.Errorf("%w: %s has neither an address nor records", ErrInvalidSource, key.Normalized)
	}

	bucket := b.names[key.Bucket]
	if bucket == nil {
		bucket = make(map[string]record.NameRecord)
		b.names[key.Bucket] = bucket
	}
	if _, dup := bucket[key.Normalized]; !dup {
		b.count++
	}
	bucket[key.Normalized] = rec
	return nil
}

// AddBalance adds a balance record.
func (b *Builder) AddBalance(e BalanceEntry) error {
	if b.cfg.Identifier.Variant != identifier.Address {
		return fmt.Errorf("%w: builder is not configured for balances", ErrInvalidSource)
	}
	key, err := identifier.Derive(e.Address, b.cfg.Identifier)
	if err != nil {
		return err
	}
	layout := b.cfg.BalanceLayout
	if len(e.Transactions) == 0 || len(e.Transactions) > layout.MaxTransactions {
		return fmt.Errorf("%w: %s has %d transactions, want 1..%d", ErrInvalidSource, key.Normalized, len(e.Transactions), layout.MaxTransactions)
	}
	if e.Balance > layout.MaxAmount {
		return fmt.Errorf("%w: %s balance %d exceeds supply", ErrInvalidSource, key.Normalized, e.Balance)
	}

	txns := slices.Clone(e.Transactions)
	for _, tx := range txns {
		if tx.Amount > layout.MaxAmount {
			return fmt.Errorf("%w: %s transaction amount %d exceeds supply", ErrInvalidSource, key.Normalized, tx.Amount)
		}
		b.maxHeight = max(b.maxHeight, tx.Height)
	}
	record.SortTransactions(txns)

	rec := record.BalanceRecord{
		KeyPrefix:    key.Bytes[:layout.KeyWidth],
		Balance:      e.Balance,
		Transactions: txns,
	}
	if w := layout.AddressHashWidth; w > 0 {
		if layout.KeyWidth+w > len(key.Digest) {
			return fmt.Errorf("%w: key and address hash widths exceed the digest", ErrInvalidSource)
		}
		rec.AddressHash = key.Digest[layout.KeyWidth : layout.KeyWidth+w]
	}

	bucket := b.balances[key.Bucket]
	if bucket == nil {
		bucket = make(map[string]record.BalanceRecord)
		b.balances[key.Bucket] = bucket
	}
	if _, dup := bucket[key.Normalized]; !dup {
		b.count++
	}
	bucket[key.Normalized] = rec
	return nil
}

// ReadJSONL adds every line of r. Blank lines are skipped. With skipInvalid,
// unusable lines are logged and skipped instead of failing the build.
func (b *Builder) ReadJSONL(ctx context.Context, r io.Reader, skipInvalid bool) (added, skipped int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		if line%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return added, skipped, err
			}
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		if err := b.addLine([]byte(text)); err != nil {
			if !skipInvalid {
				return added, skipped, fmt.Errorf("line %d: %w", line, err)
			}
			b.logger.Warn("skipping source line", "line", line, "error", err)
			skipped++
			continue
		}
		added++
	}
	if err := scanner.Err(); err != nil {
		return added, skipped, fmt.Errorf("failed to read source: %w", err)
	}
	return added, skipped, nil
}

func (b *Builder) addLine(line []byte) error {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if b.cfg.Identifier.Variant == identifier.Name {
		var e NameEntry
		if err := dec.Decode(&e); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSource, err)
		}
		return b.AddName(e)
	}
	var e BalanceEntry
	if err := dec.Decode(&e); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	return b.AddBalance(e)
}

// Build encodes and compresses every bucket.
func (b *Builder) Build(ctx context.Context) ([]*blob.Blob, error) {
	buckets := b.bucketIndexes()
	out := make([]*blob.Blob, 0, len(buckets))
	maxPayload := pir.Params{BucketBits: b.cfg.Identifier.BucketBits, ItemSize: b.cfg.ItemSize}.MaxPayload()
	now := time.Now()

	for _, bucket := range buckets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, n, err := b.encodeBucket(bucket)
		if err != nil {
			return nil, fmt.Errorf("bucket %d: %w", bucket, err)
		}
		compressed, err := b.codec.Compress(data)
		if err != nil {
			return nil, fmt.Errorf("bucket %d: %w", bucket, err)
		}
		if len(compressed) > maxPayload {
			return nil, fmt.Errorf("%w: bucket %d compresses to %d bytes, limit %d", ErrBucketOverflow, bucket, len(compressed), maxPayload)
		}
		blb := blob.NewBlob(bucket, compressed, n, b.codec.Algorithm.String())
		blb.CreatedAt = now
		out = append(out, blb)
	}
	return out, nil
}

func (b *Builder) bucketIndexes() []uint64 {
	var buckets []uint64
	if b.cfg.Identifier.Variant == identifier.Name {
		for k := range b.names {
			buckets = append(buckets, k)
		}
	} else {
		for k := range b.balances {
			buckets = append(buckets, k)
		}
	}
	slices.Sort(buckets)
	return buckets
}

// encodeBucket encodes a bucket's records in identifier order so builds are reproducible.
func (b *Builder) encodeBucket(bucket uint64) ([]byte, int, error) {
	if b.cfg.Identifier.Variant == identifier.Name {
		m := b.names[bucket]
		recs := make([]record.NameRecord, 0, len(m))
		for _, id := range sortedKeys(m) {
			recs = append(recs, m[id])
		}
		data, err := record.EncodeNames(recs, b.cfg.NameLayout)
		return data, len(recs), err
	}
	m := b.balances[bucket]
	recs := make([]record.BalanceRecord, 0, len(m))
	for _, id := range sortedKeys(m) {
		recs = append(recs, m[id])
	}
	data, err := record.EncodeBalances(recs, b.cfg.BalanceLayout)
	return data, len(recs), err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Publish builds every bucket, replaces the contents of store, and returns the
// dataset info. price is the USD value of one BTC to publish with it.
func (b *Builder) Publish(ctx context.Context, store blob.Store, price float64) (Info, error) {
	blobs, err := b.Build(ctx)
	if err != nil {
		return Info{}, err
	}

	stale, err := store.Buckets(ctx)
	if err != nil {
		return Info{}, err
	}
	keep := make(map[uint64]bool, len(blobs))
	for _, blb := range blobs {
		keep[blb.Bucket] = true
	}
	for _, bucket := range stale {
		if !keep[bucket] {
			if err := store.Delete(ctx, bucket); err != nil {
				return Info{}, err
			}
		}
	}
	if err := store.PutBatch(ctx, blobs); err != nil {
		return Info{}, err
	}

	info := Info{
		Height:     b.maxHeight,
		LastUpdate: time.Now().UTC().Format(time.RFC3339),
		Price:      price,
	}
	b.logger.Info("dataset published",
		"variant", b.cfg.Identifier.Variant.String(),
		"records", b.count,
		"buckets", len(blobs),
		"height", info.Height,
	)
	return info, nil
}

// LoadItems frames every bucket of store into retrieval items. Empty buckets are nil.
func LoadItems(ctx context.Context, store blob.ReadOnlyStore, params pir.Params) ([][]byte, error) {
	buckets, err := store.Buckets(ctx)
	if err != nil {
		return nil, err
	}
	items := make([][]byte, params.NumBuckets())
	for _, bucket := range buckets {
		if bucket >= params.NumBuckets() {
			return nil, fmt.Errorf("%w: bucket %d in a %d bucket database", pir.ErrBucketOutOfRange, bucket, params.NumBuckets())
		}
		blb, err := store.Get(ctx, bucket)
		if err != nil {
			return nil, fmt.Errorf("bucket %d: %w", bucket, err)
		}
		item, err := pir.FrameItem(blb.Data, params.ItemSize)
		if err != nil {
			return nil, fmt.Errorf("bucket %d: %w", bucket, err)
		}
		items[bucket] = item
	}
	return items, nil
}
