package cache

import (
	"encoding/binary"
	"strconv"
	"sync"
	"time"

	"github.com/VictoriaMetrics/fastcache"
)

// DefaultBucketCacheBytes is the default capacity of a BucketCache.
const DefaultBucketCacheBytes = 32 << 20

// BucketCache keeps compressed bucket payloads on the client so repeated
// lookups in the same bucket skip the round trip.
//
// Entries are keyed by dataset generation and bucket index; a new dataset
// generation (see Info.LastUpdate) naturally misses. Entries also expire after TTL.
type BucketCache struct {
	cache *fastcache.Cache
	ttl   time.Duration
	now   func() time.Time

	hits, misses uint64
	mu           sync.Mutex
}

// BucketCacheConfig configures a BucketCache.
type BucketCacheConfig struct {
	// MaxBytes bounds memory use. Default: 32 MiB
	MaxBytes int

	// TTL is how long an entry is served. Zero means entries never expire.
	TTL time.Duration
}

// NewBucketCache creates a bucket cache.
func NewBucketCache(cfg BucketCacheConfig) *BucketCache {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultBucketCacheBytes
	}
	return &BucketCache{
		cache: fastcache.New(cfg.MaxBytes),
		ttl:   cfg.TTL,
		now:   time.Now,
	}
}

func bucketKey(generation string, bucket uint64) []byte {
	key := make([]byte, 0, len(generation)+21)
	key = append(key, generation...)
	key = append(key, '/')
	return strconv.AppendUint(key, bucket, 10)
}

// Get returns the cached payload for bucket in generation.
func (c *BucketCache) Get(generation string, bucket uint64) ([]byte, bool) {
	v := c.cache.GetBig(nil, bucketKey(generation, bucket))
	ok := len(v) >= 8
	if ok && c.ttl > 0 {
		expires := int64(binary.BigEndian.Uint64(v))
		ok = c.now().UnixNano() < expires
	}

	c.mu.Lock()
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()

	if !ok {
		return nil, false
	}
	return v[8:], true
}

// Set stores payload for bucket in generation.
func (c *BucketCache) Set(generation string, bucket uint64, payload []byte) {
	v := make([]byte, 8, 8+len(payload))
	if c.ttl > 0 {
		binary.BigEndian.PutUint64(v, uint64(c.now().Add(c.ttl).UnixNano()))
	}
	v = append(v, payload...)
	c.cache.SetBig(bucketKey(generation, bucket), v)
}

// Reset drops every entry.
func (c *BucketCache) Reset() {
	c.cache.Reset()
}

// Stats returns hit and miss counts.
func (c *BucketCache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
