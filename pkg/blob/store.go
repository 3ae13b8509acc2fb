package blob

import (
	"context"
	"errors"
	"fmt"
)

// Common errors for blob stores.
var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrInvalidBlob  = errors.New("invalid blob")
)

// Store is the interface for bucket blob storage backends.
type Store interface {
	// Put stores a blob, replacing any blob already in its bucket.
	Put(ctx context.Context, blob *Blob) error

	// PutBatch stores multiple blobs.
	PutBatch(ctx context.Context, blobs []*Blob) error

	// Get retrieves the blob of a bucket. Returns ErrBlobNotFound for empty buckets.
	Get(ctx context.Context, bucket uint64) (*Blob, error)

	// Buckets returns the indexes of all non-empty buckets in ascending order.
	Buckets(ctx context.Context) ([]uint64, error)

	// Delete removes the blob of a bucket. No error if the bucket is empty.
	Delete(ctx context.Context, bucket uint64) error

	// Stats returns overall store statistics.
	Stats(ctx context.Context) (*StoreStats, error)

	// Close closes the store.
	Close() error
}

// ReadOnlyStore is a read-only view of a blob store.
// The server only needs this much.
type ReadOnlyStore interface {
	Get(ctx context.Context, bucket uint64) (*Blob, error)
	Buckets(ctx context.Context) ([]uint64, error)
	Stats(ctx context.Context) (*StoreStats, error)
}

func validate(b *Blob) error {
	if b == nil {
		return fmt.Errorf("%w: nil blob", ErrInvalidBlob)
	}
	if len(b.Data) == 0 {
		return fmt.Errorf("%w: bucket %d has no data", ErrInvalidBlob, b.Bucket)
	}
	return nil
}
