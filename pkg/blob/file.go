package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// FileStore implements Store using the local filesystem.
// Each blob is stored as a JSON file named after its bucket.
//
// Directory structure:
//
//	basePath/
//	├── index.json          # Non-empty bucket indexes
//	└── blobs/
//	    ├── 00000000.json
//	    ├── 0000084f.json
//	    └── ...
type FileStore struct {
	basePath  string
	blobsPath string

	// In-memory index (loaded from disk)
	buckets map[uint64]struct{}

	mu sync.RWMutex
}

// NewFileStore creates a new file-based blob store.
// Creates the directory structure if it doesn't exist.
func NewFileStore(basePath string) (*FileStore, error) {
	blobsPath := filepath.Join(basePath, "blobs")

	if err := os.MkdirAll(blobsPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blobs directory: %w", err)
	}

	store := &FileStore{
		basePath:  basePath,
		blobsPath: blobsPath,
		buckets:   make(map[uint64]struct{}),
	}

	if err := store.loadIndex(); err != nil {
		return nil, err
	}

	return store, nil
}

// indexPath returns the path to the index file.
func (s *FileStore) indexPath() string {
	return filepath.Join(s.basePath, "index.json")
}

// blobPath returns the path to a blob file.
func (s *FileStore) blobPath(bucket uint64) string {
	return filepath.Join(s.blobsPath, fmt.Sprintf("%08x.json", bucket))
}

// loadIndex loads the bucket index from disk.
func (s *FileStore) loadIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil // No index yet, start fresh
	}
	if err != nil {
		return fmt.Errorf("failed to read index: %w", err)
	}

	var buckets []uint64
	if err := json.Unmarshal(data, &buckets); err != nil {
		return fmt.Errorf("failed to parse index: %w", err)
	}
	for _, b := range buckets {
		s.buckets[b] = struct{}{}
	}
	return nil
}

// saveIndex writes the bucket index to disk. Caller holds the write lock.
func (s *FileStore) saveIndex() error {
	data, err := json.Marshal(s.sortedBuckets())
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}
	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := os.Rename(tmp, s.indexPath()); err != nil {
		return fmt.Errorf("failed to replace index: %w", err)
	}
	return nil
}

func (s *FileStore) sortedBuckets() []uint64 {
	buckets := make([]uint64, 0, len(s.buckets))
	for b := range s.buckets {
		buckets = append(buckets, b)
	}
	slices.Sort(buckets)
	return buckets
}

func (s *FileStore) writeBlob(blob *Blob) error {
	data, err := blob.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize blob: %w", err)
	}
	if err := os.WriteFile(s.blobPath(blob.Bucket), data, 0644); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}
	s.buckets[blob.Bucket] = struct{}{}
	return nil
}

// Put stores a blob to disk.
func (s *FileStore) Put(ctx context.Context, blob *Blob) error {
	if err := validate(blob); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeBlob(blob); err != nil {
		return err
	}
	return s.saveIndex()
}

// PutBatch stores multiple blobs and writes the index once.
func (s *FileStore) PutBatch(ctx context.Context, blobs []*Blob) error {
	for _, b := range blobs {
		if err := validate(b); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range blobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.writeBlob(b); err != nil {
			return err
		}
	}
	return s.saveIndex()
}

// Get retrieves the blob of a bucket.
func (s *FileStore) Get(ctx context.Context, bucket uint64) (*Blob, error) {
	s.mu.RLock()
	_, ok := s.buckets[bucket]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrBlobNotFound
	}

	data, err := os.ReadFile(s.blobPath(bucket))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	b, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse blob %08x: %w", bucket, err)
	}
	return b, nil
}

// Buckets returns all non-empty bucket indexes in ascending order.
func (s *FileStore) Buckets(ctx context.Context) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedBuckets(), nil
}

// Delete removes the blob of a bucket.
func (s *FileStore) Delete(ctx context.Context, bucket uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buckets[bucket]; !ok {
		return nil
	}
	if err := os.Remove(s.blobPath(bucket)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	delete(s.buckets, bucket)
	return s.saveIndex()
}

// Stats returns store statistics. It reads every blob.
func (s *FileStore) Stats(ctx context.Context) (*StoreStats, error) {
	buckets, _ := s.Buckets(ctx)
	blobs := make([]*Blob, 0, len(buckets))
	for _, b := range buckets {
		blob, err := s.Get(ctx, b)
		if err != nil {
			return nil, err
		}
		blobs = append(blobs, blob)
	}
	return computeStats(blobs), nil
}

// Close is a no-op for file store.
func (s *FileStore) Close() error {
	return nil
}
