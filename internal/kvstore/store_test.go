package kvstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestStore(t *testing.T) (Store, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb, "test:"), mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestStoreSetGetDel(t *testing.T) {
	store, _, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "v" {
		t.Errorf("Get = %q, want %q", v, "v")
	}

	if err := store.Del(ctx, "k"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Del = %v, want ErrNotFound", err)
	}
}

func TestStoreSetNX(t *testing.T) {
	store, _, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	ok, err := store.SetNX(ctx, "k", "first", time.Minute)
	if err != nil || !ok {
		t.Fatalf("SetNX first = %v, %v", ok, err)
	}
	ok, err = store.SetNX(ctx, "k", "second", time.Minute)
	if err != nil {
		t.Fatalf("SetNX second: %v", err)
	}
	if ok {
		t.Error("second SetNX should return false")
	}
	v, _ := store.Get(ctx, "k")
	if v != "first" {
		t.Errorf("value = %q, want %q", v, "first")
	}
}

func TestStoreExpiry(t *testing.T) {
	store, mr, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Set(ctx, "k", "v", time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mr.FastForward(2 * time.Second)
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after expiry = %v, want ErrNotFound", err)
	}
}

func TestStorePrefixIsolation(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	a := New(rdb, "a:")
	b := New(rdb, "b:")
	ctx := context.Background()

	if err := a.Set(ctx, "k", "va", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := b.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("prefix b must not see prefix a keys, got %v", err)
	}
}
