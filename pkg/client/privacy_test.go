package client

import (
	"context"
	"testing"
	"time"
)

func TestTimingObfuscator_ObfuscateContext(t *testing.T) {
	obfuscator := NewTimingObfuscator(50*time.Millisecond, 10*time.Millisecond)

	start := time.Now()
	done := obfuscator.ObfuscateContext(context.Background())

	// Simulate some work
	time.Sleep(10 * time.Millisecond)

	done()
	elapsed := time.Since(start)

	// Should take at least minLatency (50ms)
	if elapsed < 50*time.Millisecond {
		t.Errorf("expected at least 50ms, got %v", elapsed)
	}
}

func TestTimingObfuscator_Cancelled(t *testing.T) {
	obfuscator := NewTimingObfuscator(time.Second, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	obfuscator.ObfuscateContext(ctx)()
	elapsed := time.Since(start)

	if elapsed >= time.Second {
		t.Errorf("expected cancellation to cut the wait short, took %v", elapsed)
	}
}

func TestTimingObfuscator_Disabled(t *testing.T) {
	for _, obfuscator := range []*TimingObfuscator{nil, NewTimingObfuscator(0, 0)} {
		start := time.Now()
		obfuscator.ObfuscateContext(context.Background())()
		if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
			t.Errorf("expected no delay, got %v", elapsed)
		}
	}
}

func TestTimingObfuscator_SlowWorkNotPadded(t *testing.T) {
	obfuscator := NewTimingObfuscator(10*time.Millisecond, 0)
	done := obfuscator.ObfuscateContext(context.Background())
	time.Sleep(30 * time.Millisecond)

	start := time.Now()
	done()
	if elapsed := time.Since(start); elapsed > 5*time.Millisecond {
		t.Errorf("expected no extra wait after slow work, got %v", elapsed)
	}
}

func TestPrivacyConfig_Defaults(t *testing.T) {
	cfg := DefaultPrivacyConfig()

	if cfg.MinLatency != 0 || cfg.JitterRange != 0 {
		t.Error("expected no timing padding by default")
	}
	if cfg.CoverInterval != 0 {
		t.Error("expected cover queries to be disabled by default")
	}
	if cfg.CoverTimeout <= 0 {
		t.Error("expected a cover query timeout")
	}
}

func TestPrivacyConfig_HighPrivacy(t *testing.T) {
	cfg := HighPrivacyConfig()

	if cfg.MinLatency < time.Second {
		t.Errorf("expected MinLatency of at least 1s, got %v", cfg.MinLatency)
	}
	if cfg.JitterRange <= 0 {
		t.Error("expected jitter in high privacy mode")
	}
	if cfg.CoverInterval <= 0 {
		t.Error("expected cover queries in high privacy mode")
	}
}

func TestRandomDuration(t *testing.T) {
	if d := randomDuration(0); d != 0 {
		t.Errorf("randomDuration(0) = %v, want 0", d)
	}
	for i := 0; i < 100; i++ {
		if d := randomDuration(time.Millisecond); d < 0 || d >= time.Millisecond {
			t.Fatalf("randomDuration out of range: %v", d)
		}
	}
}

func TestRandomBucket(t *testing.T) {
	seen := make(map[uint64]bool)
	for i := 0; i < 200; i++ {
		b := randomBucket(16)
		if b >= 16 {
			t.Fatalf("bucket %d out of range", b)
		}
		seen[b] = true
	}
	if len(seen) < 2 {
		t.Error("expected more than one distinct bucket")
	}
}
