package session

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

// newTestStore creates a Store connected to a local Redis instance and
// removes leftover test session keys. Tests that call this helper require a
// running Redis on localhost:6379.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	client.Close()

	store, err := NewStore("localhost:6379", "test-server")
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}

	cleanup := func() {
		iter := store.Client().Scan(ctx, 0, SessionPrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			store.Client().Del(ctx, iter.Val())
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		store.Close()
	})
	return store
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "test_s1"); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	sess, err := store.Get(ctx, "test_s1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if sess == nil {
		t.Fatal("expected session, got nil")
	}
	if sess.Status != StatusPendingAuth {
		t.Errorf("expected status %q, got %q", StatusPendingAuth, sess.Status)
	}
	if sess.UserID != "" {
		t.Errorf("fresh session must have no user, got %q", sess.UserID)
	}
	if sess.Server != "test-server" {
		t.Errorf("expected server test-server, got %q", sess.Server)
	}
}

func TestActivate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "test_s2"); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := store.Activate(ctx, "test_s2", "u1", "Alice"); err != nil {
		t.Fatalf("Activate() error: %v", err)
	}

	sess, err := store.Get(ctx, "test_s2")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if sess.Status != StatusActive {
		t.Errorf("expected status %q, got %q", StatusActive, sess.Status)
	}
	if sess.UserID != "u1" || sess.DisplayName != "Alice" {
		t.Errorf("identity not recorded: %+v", sess)
	}
}

func TestGet_Missing(t *testing.T) {
	store := newTestStore(t)

	sess, err := store.Get(context.Background(), "test_missing")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if sess != nil {
		t.Fatalf("expected nil for missing session, got %+v", sess)
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "test_s3"); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := store.Delete(ctx, "test_s3"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	sess, err := store.Get(ctx, "test_s3")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if sess != nil {
		t.Fatal("expected session gone after delete")
	}
}

func TestSessionTTLSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "test_s4"); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	ttl, err := store.Client().TTL(ctx, SessionPrefix+"test_s4").Result()
	if err != nil {
		t.Fatalf("TTL() error: %v", err)
	}
	if ttl <= 0 || ttl > SessionTTL {
		t.Errorf("expected TTL in (0, %s], got %s", SessionTTL, ttl)
	}
}
