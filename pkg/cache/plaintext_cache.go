// Package cache provides caching for expensive lookup operations: encoded
// database rows on the server and compressed bucket payloads on the client.
package cache

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/schemes/bfv"
)

// PlaintextCache holds the bucket matrix pre-encoded as BFV plaintexts, one per row.
// Encoding is the expensive part of answering a query, so it happens once per
// dataset load.
//
// Cache invalidation:
//   - Rows change only when the dataset is reloaded
//   - The digest of the source dataset is kept to detect changes
//   - Version increments on every load
type PlaintextCache struct {
	rows []*rlwe.Plaintext

	// Digest of the dataset the rows were built from
	digest []byte

	lastUpdate time.Time
	version    int64

	params  bfv.Parameters
	encoder *bfv.Encoder

	mu sync.RWMutex
}

// NewPlaintextCache creates an empty cache for params.
func NewPlaintextCache(params bfv.Parameters) *PlaintextCache {
	return &PlaintextCache{
		lastUpdate: time.Now(),
		params:     params,
		encoder:    bfv.NewEncoder(params),
	}
}

// RowFiller writes the slot values of row into values, which is zeroed and
// has one entry per slot.
type RowFiller func(row int, values []uint64)

// Load encodes count rows produced by fill and replaces the cache contents.
// digest identifies the source dataset.
func (c *PlaintextCache) Load(count int, digest []byte, fill RowFiller) error {
	rows := make([]*rlwe.Plaintext, count)
	values := make([]uint64, c.params.MaxSlots())

	// Encoding happens outside the lock; readers keep the old rows until the swap.
	encoder := c.encoder.ShallowCopy()
	for i := range rows {
		clear(values)
		fill(i, values)
		pt := bfv.NewPlaintext(c.params, c.params.MaxLevel())
		if err := encoder.Encode(values, pt); err != nil {
			return fmt.Errorf("failed to encode row %d: %w", i, err)
		}
		rows[i] = pt
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = rows
	c.digest = append([]byte(nil), digest...)
	c.lastUpdate = time.Now()
	c.version++
	return nil
}

// Get returns a pre-encoded row, or nil if not cached.
func (c *PlaintextCache) Get(row int) *rlwe.Plaintext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if row < 0 || row >= len(c.rows) {
		return nil
	}
	return c.rows[row]
}

// Snapshot returns the current rows and their version. The slice is shared;
// callers must not modify it.
func (c *PlaintextCache) Snapshot() ([]*rlwe.Plaintext, int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rows, c.version
}

// IsStale checks if the cache is older than maxAge.
func (c *PlaintextCache) IsStale(maxAge time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.lastUpdate) > maxAge
}

// NeedsRefresh reports whether digest differs from the dataset the rows were built from.
func (c *PlaintextCache) NeedsRefresh(digest []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rows == nil || !bytes.Equal(c.digest, digest)
}

// Version returns the current cache version (incremented on each load).
func (c *PlaintextCache) Version() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// LastUpdate returns when the cache was last updated.
func (c *PlaintextCache) LastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}

// Size returns the number of cached rows.
func (c *PlaintextCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rows)
}

// Clear removes all cached rows.
func (c *PlaintextCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = nil
	c.digest = nil
}
