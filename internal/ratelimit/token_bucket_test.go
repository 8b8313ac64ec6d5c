package ratelimit

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func TestBucketStartsFull(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	b := NewTokenBucket(3, clk)

	for i := 0; i < 3; i++ {
		if !b.Allow() {
			t.Fatalf("call %d rejected from a full bucket", i)
		}
	}
	if b.Allow() {
		t.Fatalf("call allowed from an empty bucket")
	}
}

func TestBucketRefills(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	b := NewTokenBucket(10, clk)

	for i := 0; i < 10; i++ {
		b.Allow()
	}
	if b.Allow() {
		t.Fatalf("empty bucket allowed a call")
	}

	// 100ms at 10/s refills exactly one token.
	clk.advance(100 * time.Millisecond)
	if !b.Allow() {
		t.Fatalf("refilled token not granted")
	}
	if b.Allow() {
		t.Fatalf("second call allowed after a single-token refill")
	}
}

func TestBucketCapsAtCapacity(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	b := NewTokenBucket(5, clk)

	clk.advance(time.Hour)
	b.Allow()
	if got := b.Tokens(); got > 4.0001 {
		t.Fatalf("bucket overfilled: %v tokens after one spend", got)
	}
}
