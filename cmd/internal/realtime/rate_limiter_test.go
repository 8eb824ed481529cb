package realtime

import (
	"testing"
	"time"
)

func TestRateLimiter_Allow(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, time.Second)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if !rl.Allow(t0) {
			t.Fatalf("event %d should be allowed", i)
		}
	}
	if rl.Allow(t0) {
		t.Fatalf("fourth event in the same instant should be denied")
	}
	if !rl.Allow(t0.Add(time.Second)) {
		t.Fatalf("event after a full window should be allowed")
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(0, 0)
	now := time.Now()
	for i := 0; i < rateLimitEvents; i++ {
		if !rl.Allow(now) {
			t.Fatalf("event %d should be allowed under default burst", i)
		}
	}
	if rl.Allow(now) {
		t.Fatalf("default burst exceeded but allowed")
	}
}
