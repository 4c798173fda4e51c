package ratelimit

import (
	"testing"
	"time"
)

func timeoutChan() <-chan time.Time { return time.After(2 * time.Second) }

func Test_UnlimitedBucketAlwaysTakes(t *testing.T) {
	b := New(0, nil)
	for i := 0; i < 1000; i++ {
		if !b.Take() {
			t.Fatal("expected unlimited bucket to always allow Take")
		}
	}
}

// Test_TokensNeverNegative is testable property #2: tokens >= 0 always.
func Test_TokensNeverNegative(t *testing.T) {
	b := New(100, nil)
	for i := 0; i < 10000; i++ {
		b.Take()
		if b.Tokens() < 0 {
			t.Fatalf("tokens went negative: %d", b.Tokens())
		}
	}
}

func Test_BucketExhaustsAtCeiling(t *testing.T) {
	b := New(50, nil) // requestsPerInterval = ceil(50/50) = 1
	if b.ceiling != 1 {
		t.Fatalf("expected ceiling 1, got %d", b.ceiling)
	}
	if !b.Take() {
		t.Fatal("expected first take to succeed")
	}
	if b.Take() {
		t.Fatal("expected second take to fail before refill")
	}
}

func Test_RefillRestoresCeilingAndInvokesCallback(t *testing.T) {
	refilled := make(chan struct{}, 1)
	b := New(1000, func() {
		select {
		case refilled <- struct{}{}:
		default:
		}
	})
	b.Start()
	defer b.Stop()

	for b.Take() {
	}
	select {
	case <-refilled:
	case <-timeoutChan():
		t.Fatal("timed out waiting for refill callback")
	}
	if b.Tokens() != b.ceiling {
		t.Fatalf("tokens = %d after refill, want ceiling %d", b.Tokens(), b.ceiling)
	}
}
