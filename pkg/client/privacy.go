// Privacy utilities layered over the private query.
//
// The query hides which bucket is asked for; these hide when and how often:
// - Timing obfuscation: pad every lookup to a minimum duration plus jitter,
//   so cache hits and misses look alike to a local observer
// - Cover queries: background queries for random buckets

package client

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"
	"time"
)

// PrivacyConfig holds privacy-related configuration.
type PrivacyConfig struct {
	// Timing obfuscation
	MinLatency  time.Duration // Minimum lookup duration
	JitterRange time.Duration // Random jitter added on top

	// Cover queries
	CoverInterval time.Duration // Zero disables
	CoverTimeout  time.Duration
}

// DefaultPrivacyConfig returns privacy settings with no added latency.
func DefaultPrivacyConfig() PrivacyConfig {
	return PrivacyConfig{
		CoverTimeout: time.Minute,
	}
}

// HighPrivacyConfig pads lookups and sends periodic cover queries.
func HighPrivacyConfig() PrivacyConfig {
	return PrivacyConfig{
		MinLatency:    2 * time.Second,
		JitterRange:   500 * time.Millisecond,
		CoverInterval: 5 * time.Minute,
		CoverTimeout:  time.Minute,
	}
}

// TimingObfuscator adds random delays to hide lookup timing patterns.
type TimingObfuscator struct {
	minLatency  time.Duration
	jitterRange time.Duration
}

// NewTimingObfuscator creates a new timing obfuscator.
func NewTimingObfuscator(minLatency, jitterRange time.Duration) *TimingObfuscator {
	return &TimingObfuscator{
		minLatency:  minLatency,
		jitterRange: jitterRange,
	}
}

// ObfuscateContext returns a func that sleeps until at least minLatency plus
// jitter has passed since the call. Cancellation cuts the sleep short.
func (t *TimingObfuscator) ObfuscateContext(ctx context.Context) func() {
	if t == nil || (t.minLatency <= 0 && t.jitterRange <= 0) {
		return func() {}
	}
	start := time.Now()
	target := t.minLatency + randomDuration(t.jitterRange)

	return func() {
		remaining := target - time.Since(start)
		if remaining <= 0 {
			return
		}
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
}

// randomDuration returns a random duration in [0, max).
func randomDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return max / 2
	}
	return time.Duration(n.Int64())
}

func randomBucket(numBuckets uint64) uint64 {
	n, err := rand.Int(rand.Reader, new(big.Int).SetUint64(numBuckets))
	if err != nil {
		return 0
	}
	return n.Uint64()
}

// CoverTraffic sends a query for a random bucket every interval.
// A cover query is skipped while a real lookup is running.
type CoverTraffic struct {
	client   *Client
	interval time.Duration
	timeout  time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu   sync.Mutex
	sent int
}

// NewCoverTraffic creates a runner for c.
func NewCoverTraffic(c *Client, interval, timeout time.Duration) *CoverTraffic {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &CoverTraffic{
		client:   c,
		interval: interval,
		timeout:  timeout,
		stopCh:   make(chan struct{}),
	}
}

// Start begins sending cover queries in the background.
func (d *CoverTraffic) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		for {
			select {
			case <-d.stopCh:
				return
			case <-ticker.C:
				d.send()
			}
		}
	}()
}

// Stop stops sending cover queries and waits for the one in flight.
func (d *CoverTraffic) Stop() {
	close(d.stopCh)
	d.wg.Wait()
}

// Sent returns how many cover queries completed.
func (d *CoverTraffic) Sent() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent
}

func (d *CoverTraffic) send() {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.client.CoverQuery(ctx); err != nil {
		d.client.logger.Debug("cover query skipped", "error", err)
		return
	}
	d.mu.Lock()
	d.sent++
	d.mu.Unlock()
}

// CoverQuery queries a random bucket and discards the answer. It returns
// ErrBusy instead of waiting when a lookup is running.
func (c *Client) CoverQuery(ctx context.Context) error {
	release, err := c.acquire(ctx, false)
	if err != nil {
		return err
	}
	defer release()

	_, err = c.fetchBucket(ctx, randomBucket(c.cfg.Identifier.NumBuckets()), nil)
	return err
}
