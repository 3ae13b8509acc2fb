package cache

import (
	"bytes"
	"testing"
	"time"

	"github.com/tuneinsight/lattigo/v5/schemes/bfv"
)

func testParams(t *testing.T) bfv.Parameters {
	t.Helper()
	params, err := bfv.NewParametersFromLiteral(bfv.ParametersLiteral{
		LogN:             13,
		LogQ:             []int{54, 54},
		LogP:             []int{55},
		PlaintextModulus: 65537,
	})
	if err != nil {
		t.Fatalf("Failed to create params: %v", err)
	}
	return params
}

func TestPlaintextCache(t *testing.T) {
	params := testParams(t)
	cache := NewPlaintextCache(params)

	fill := func(row int, values []uint64) {
		values[0] = uint64(row)
		values[1] = 0xBEEF
	}

	if err := cache.Load(3, []byte("digest-1"), fill); err != nil {
		t.Fatalf("Failed to load rows: %v", err)
	}

	if cache.Size() != 3 {
		t.Errorf("Expected 3 cached rows, got %d", cache.Size())
	}

	for i := 0; i < 3; i++ {
		if cache.Get(i) == nil {
			t.Errorf("Get(%d) returned nil", i)
		}
	}
	if cache.Get(3) != nil || cache.Get(-1) != nil {
		t.Error("Get outside the matrix should return nil")
	}

	// Rows decode back to what was filled.
	encoder := bfv.NewEncoder(params)
	decoded := make([]uint64, params.MaxSlots())
	if err := encoder.Decode(cache.Get(2), decoded); err != nil {
		t.Fatalf("Failed to decode row: %v", err)
	}
	if decoded[0] != 2 || decoded[1] != 0xBEEF || decoded[2] != 0 {
		t.Errorf("Row 2 decoded to %v", decoded[:3])
	}

	rows, version := cache.Snapshot()
	if len(rows) != 3 || version != 1 {
		t.Errorf("Snapshot returned %d rows at version %d", len(rows), version)
	}

	if err := cache.Load(3, []byte("digest-1"), fill); err != nil {
		t.Fatalf("Failed to reload rows: %v", err)
	}
	if cache.Version() != 2 {
		t.Errorf("Expected version 2, got %d", cache.Version())
	}

	if cache.NeedsRefresh([]byte("digest-1")) {
		t.Error("NeedsRefresh should return false for the same dataset")
	}
	if !cache.NeedsRefresh([]byte("digest-2")) {
		t.Error("NeedsRefresh should return true for a changed dataset")
	}

	if cache.IsStale(1 * time.Hour) {
		t.Error("Cache should not be stale immediately after loading")
	}

	cache.Clear()
	if cache.Size() != 0 {
		t.Errorf("After Clear, size should be 0, got %d", cache.Size())
	}
	if !cache.NeedsRefresh([]byte("digest-1")) {
		t.Error("Cleared cache should need a refresh")
	}
}

func TestPlaintextCacheEmpty(t *testing.T) {
	cache := NewPlaintextCache(testParams(t))

	if cache.Get(0) != nil {
		t.Error("Get on empty cache should return nil")
	}
	if rows, version := cache.Snapshot(); rows != nil || version != 0 {
		t.Error("Snapshot on empty cache should be empty")
	}
}

func TestBucketCache(t *testing.T) {
	c := NewBucketCache(BucketCacheConfig{})

	if _, ok := c.Get("gen-1", 7); ok {
		t.Fatal("Empty cache should miss")
	}

	payload := bytes.Repeat([]byte{0xAB}, 100<<10)
	c.Set("gen-1", 7, payload)

	got, ok := c.Get("gen-1", 7)
	if !ok || !bytes.Equal(got, payload) {
		t.Fatal("Expected cached payload")
	}
	if _, ok := c.Get("gen-2", 7); ok {
		t.Error("A new generation should miss")
	}
	if _, ok := c.Get("gen-1", 8); ok {
		t.Error("A different bucket should miss")
	}

	hits, misses := c.Stats()
	if hits != 1 || misses != 3 {
		t.Errorf("Expected 1 hit and 3 misses, got %d and %d", hits, misses)
	}

	c.Reset()
	if _, ok := c.Get("gen-1", 7); ok {
		t.Error("Reset cache should miss")
	}
}

func TestBucketCacheExpiry(t *testing.T) {
	c := NewBucketCache(BucketCacheConfig{TTL: time.Minute})
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	c.Set("gen", 1, []byte("payload"))
	if _, ok := c.Get("gen", 1); !ok {
		t.Fatal("Fresh entry should hit")
	}

	now = now.Add(time.Minute)
	if _, ok := c.Get("gen", 1); ok {
		t.Error("Expired entry should miss")
	}
}
