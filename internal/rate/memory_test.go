package rate

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterEnforcesLimit(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "orders", 3, time.Minute)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	ok, err := l.Allow(ctx, "orders", 3, time.Minute)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok {
		t.Fatal("fourth request should be rejected")
	}
}

func TestMemoryLimiterWindowRollsOver(t *testing.T) {
	l := NewMemoryLimiter()
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, _ := l.Allow(ctx, "orders", 1, time.Minute); !ok {
		t.Fatal("first request should be allowed")
	}
	if ok, _ := l.Allow(ctx, "orders", 1, time.Minute); ok {
		t.Fatal("second request in the same window should be rejected")
	}

	now = now.Add(time.Minute)
	if ok, _ := l.Allow(ctx, "orders", 1, time.Minute); !ok {
		t.Fatal("request in a fresh window should be allowed")
	}
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()

	if ok, _ := l.Allow(ctx, "a", 1, time.Minute); !ok {
		t.Fatal("key a should be allowed")
	}
	if ok, _ := l.Allow(ctx, "b", 1, time.Minute); !ok {
		t.Fatal("key b should not be throttled by key a")
	}
}
