package api

import (
	"testing"
	"time"
)

func TestRateLimiterAllows(t *testing.T) {
	l := newRateLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		if !l.allow("10.0.0.1") {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}
	if l.allow("10.0.0.1") {
		t.Error("fourth attempt should be denied")
	}

	// Other keys are unaffected.
	if !l.allow("10.0.0.2") {
		t.Error("separate key should be allowed")
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	l := newRateLimiter(1, time.Hour)

	current := time.Now()
	l.now = func() time.Time { return current }

	if !l.allow("k") {
		t.Fatal("first attempt should pass")
	}
	if l.allow("k") {
		t.Fatal("second attempt should be denied")
	}

	current = current.Add(time.Hour + time.Second)
	if !l.allow("k") {
		t.Error("attempt in a new window should pass")
	}
}

func TestRateLimiterPrune(t *testing.T) {
	l := newRateLimiter(1, time.Hour)

	current := time.Now()
	l.now = func() time.Time { return current }

	l.allow("stale")
	current = current.Add(2 * time.Hour)
	l.allow("fresh")

	l.prune()

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.buckets["stale"]; ok {
		t.Error("stale bucket should be pruned")
	}
	if _, ok := l.buckets["fresh"]; !ok {
		t.Error("fresh bucket should survive")
	}
}
