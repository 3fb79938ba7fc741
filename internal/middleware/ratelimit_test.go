package middleware

import (
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	clock := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     3,
		interval: time.Minute,
		now:      func() time.Time { return clock },
	}

	for i := 0; i < 3; i++ {
		if !rl.allow("user:1") {
			t.Fatalf("request %d refused", i+1)
		}
	}
	if rl.allow("user:1") {
		t.Fatal("fourth request within the interval should be refused")
	}
	if !rl.allow("user:2") {
		t.Fatal("buckets must be per caller")
	}

	clock = clock.Add(time.Minute)
	if !rl.allow("user:1") {
		t.Fatal("bucket should refill after the interval")
	}
}
