// Package blob provides storage for bucket blobs: the compressed, encoded
// records that share a bucket index. The server loads every blob into its
// retrieval database; the builder writes them.
package blob

import (
	"encoding/json"
	"time"
)

// Blob is the content of one bucket.
// Data is opaque to storage: a compressed record stream.
type Blob struct {
	// Bucket is the bucket index.
	Bucket uint64 `json:"bucket"`

	// Data is the compressed record stream.
	Data []byte `json:"data"`

	// Records is the number of records in Data.
	Records int `json:"records"`

	// Algorithm names the compression applied to Data.
	Algorithm string `json:"algorithm"`

	// CreatedAt is when this blob was built.
	CreatedAt time.Time `json:"created_at"`

	// Version for future schema changes.
	Version int `json:"version"`
}

// NewBlob creates a blob for bucket.
func NewBlob(bucket uint64, data []byte, records int, algorithm string) *Blob {
	return &Blob{
		Bucket:    bucket,
		Data:      data,
		Records:   records,
		Algorithm: algorithm,
		CreatedAt: time.Now(),
		Version:   1,
	}
}

// Serialize converts the blob to JSON bytes for storage.
func (b *Blob) Serialize() ([]byte, error) {
	return json.Marshal(b)
}

// Deserialize parses JSON bytes into a Blob.
func Deserialize(data []byte) (*Blob, error) {
	var blob Blob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, err
	}
	return &blob, nil
}

// StoreStats contains statistics about a blob store.
type StoreStats struct {
	// TotalBlobs is the number of non-empty buckets.
	TotalBlobs int64 `json:"total_blobs"`

	// TotalRecords is the number of records across all blobs.
	TotalRecords int64 `json:"total_records"`

	// TotalSize is the compressed size of all blobs in bytes.
	TotalSize int64 `json:"total_size"`

	// MaxBlobSize is the largest compressed blob in bytes.
	MaxBlobSize int64 `json:"max_blob_size"`

	// AvgRecordsPerBlob is the average number of records per non-empty bucket.
	AvgRecordsPerBlob float64 `json:"avg_records_per_blob"`
}

func computeStats(blobs []*Blob) *StoreStats {
	stats := &StoreStats{TotalBlobs: int64(len(blobs))}
	for _, b := range blobs {
		stats.TotalRecords += int64(b.Records)
		size := int64(len(b.Data))
		stats.TotalSize += size
		stats.MaxBlobSize = max(stats.MaxBlobSize, size)
	}
	if stats.TotalBlobs > 0 {
		stats.AvgRecordsPerBlob = float64(stats.TotalRecords) / float64(stats.TotalBlobs)
	}
	return stats
}
