package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestLimiter creates a Limiter against a local Redis instance. Tests
// that call this helper require a running Redis on localhost:6379.
func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	cleanup := func() {
		iter := client.Scan(ctx, 0, "rl:*:test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return NewLimiter(client)
}

func TestAllow_WithinLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:msg:", Limit: 3, Window: time.Minute}

	for i := 0; i < rule.Limit; i++ {
		allowed, err := l.Allow(ctx, "test_u1", rule)
		if err != nil {
			t.Fatalf("Allow() error: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
}

func TestAllow_OverLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:msg:", Limit: 2, Window: time.Minute}

	l.Allow(ctx, "test_u2", rule)
	l.Allow(ctx, "test_u2", rule)

	allowed, err := l.Allow(ctx, "test_u2", rule)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if allowed {
		t.Fatal("request over the limit must be denied")
	}
}

func TestAllow_IdentifiersIndependent(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:msg:", Limit: 1, Window: time.Minute}

	if allowed, _ := l.Allow(ctx, "test_u3", rule); !allowed {
		t.Fatal("first request for u3 should be allowed")
	}
	if allowed, _ := l.Allow(ctx, "test_u3", rule); allowed {
		t.Fatal("second request for u3 should be denied")
	}
	if allowed, _ := l.Allow(ctx, "test_u4", rule); !allowed {
		t.Fatal("u4 must not be affected by u3's counter")
	}
}

func TestRemaining(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:report:", Limit: 5, Window: time.Minute}

	remaining, err := l.Remaining(ctx, "test_u5", rule)
	if err != nil {
		t.Fatalf("Remaining() error: %v", err)
	}
	if remaining != rule.Limit {
		t.Fatalf("expected full limit for fresh key, got %d", remaining)
	}

	for i := 0; i < 2; i++ {
		l.Allow(ctx, "test_u5", rule)
	}
	remaining, err = l.Remaining(ctx, "test_u5", rule)
	if err != nil {
		t.Fatalf("Remaining() error: %v", err)
	}
	if remaining != rule.Limit-2 {
		t.Fatalf("expected %d remaining, got %d", rule.Limit-2, remaining)
	}
}

func TestAllow_WindowExpiry(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:conn:", Limit: 1, Window: time.Second}

	if allowed, _ := l.Allow(ctx, "test_ip1", rule); !allowed {
		t.Fatal("first request should be allowed")
	}
	if allowed, _ := l.Allow(ctx, "test_ip1", rule); allowed {
		t.Fatal("second request inside the window should be denied")
	}

	time.Sleep(1100 * time.Millisecond)

	if allowed, _ := l.Allow(ctx, "test_ip1", rule); !allowed {
		t.Fatal("request after the window expired should be allowed")
	}
}

func TestAllow_FailsOpenOnRedisError(t *testing.T) {
	// A client pointed at a closed port errors on every call.
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("localhost:%d", 1),
		DialTimeout: 100 * time.Millisecond,
	})
	defer client.Close()
	l := NewLimiter(client)

	allowed, err := l.Allow(context.Background(), "test_u6", RuleMessage)
	if err == nil {
		t.Fatal("expected a Redis error")
	}
	if !allowed {
		t.Fatal("limiter must fail open on Redis errors")
	}
}
