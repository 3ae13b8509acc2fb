package blob

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore implements Store using an in-memory map.
// Useful for testing, demos, and the server's --demo mode.
// Not persistent - data is lost on restart.
type MemoryStore struct {
	blobs map[uint64]*Blob
	mu    sync.RWMutex
}

// NewMemoryStore creates a new in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[uint64]*Blob)}
}

// Put stores a blob in memory.
func (s *MemoryStore) Put(ctx context.Context, blob *Blob) error {
	if err := validate(blob); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[blob.Bucket] = blob
	return nil
}

// PutBatch stores multiple blobs. Nothing is stored if any blob is invalid.
func (s *MemoryStore) PutBatch(ctx context.Context, blobs []*Blob) error {
	for _, b := range blobs {
		if err := validate(b); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range blobs {
		s.blobs[b.Bucket] = b
	}
	return nil
}

// Get retrieves the blob of a bucket.
func (s *MemoryStore) Get(ctx context.Context, bucket uint64) (*Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[bucket]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return b, nil
}

// Buckets returns all non-empty bucket indexes in ascending order.
func (s *MemoryStore) Buckets(ctx context.Context) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buckets := make([]uint64, 0, len(s.blobs))
	for b := range s.blobs {
		buckets = append(buckets, b)
	}
	slices.Sort(buckets)
	return buckets, nil
}

// Delete removes the blob of a bucket.
func (s *MemoryStore) Delete(ctx context.Context, bucket uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, bucket)
	return nil
}

// Stats returns store statistics.
func (s *MemoryStore) Stats(ctx context.Context) (*StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blobs := make([]*Blob, 0, len(s.blobs))
	for _, b := range s.blobs {
		blobs = append(blobs, b)
	}
	return computeStats(blobs), nil
}

// Close is a no-op for memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// Clear removes all blobs.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs = make(map[uint64]*Blob)
}
