package tokenstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisBackend(t *testing.T, ttl time.Duration) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBackend(client, "damio:admin:", ttl), mr
}

func TestRedisBackendPrefixAndTTL(t *testing.T) {
	ctx := context.Background()
	backend, mr := newRedisBackend(t, time.Minute)

	if err := backend.Set(ctx, "sid:adminToken", "token"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, err := mr.Get("damio:admin:sid:adminToken"); err != nil || got != "token" {
		t.Fatalf("expected prefixed key, got %q, %v", got, err)
	}
	if ttl := mr.TTL("damio:admin:sid:adminToken"); ttl != time.Minute {
		t.Fatalf("expected 1m ttl, got %s", ttl)
	}

	mr.FastForward(40 * time.Second)
	if val, ok, err := backend.Get(ctx, "sid:adminToken"); !ok || err != nil || val != "token" {
		t.Fatalf("Get = %q, %v, %v", val, ok, err)
	}
	if ttl := mr.TTL("damio:admin:sid:adminToken"); ttl != time.Minute {
		t.Fatalf("expected read to reset ttl to 1m, got %s", ttl)
	}

	mr.FastForward(61 * time.Second)
	if _, ok, err := backend.Get(ctx, "sid:adminToken"); ok || err != nil {
		t.Fatalf("expected idle key to expire, got ok=%v err=%v", ok, err)
	}
}

func TestRedisBackendWithoutTTL(t *testing.T) {
	ctx := context.Background()
	backend, mr := newRedisBackend(t, 0)

	if err := backend.Set(ctx, "k", "v"); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := backend.Get(ctx, "k"); !ok || err != nil {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if ttl := mr.TTL("damio:admin:k"); ttl != 0 {
		t.Fatalf("expected no expiry, got %s", ttl)
	}
}

func TestRedisBackendDelete(t *testing.T) {
	ctx := context.Background()
	backend, mr := newRedisBackend(t, time.Minute)

	_ = backend.Set(ctx, "a", "1")
	_ = backend.Set(ctx, "b", "2")
	if err := backend.Delete(ctx); err != nil {
		t.Fatalf("empty delete: %v", err)
	}
	if err := backend.Delete(ctx, "a", "b", "missing"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if mr.Exists("damio:admin:a") || mr.Exists("damio:admin:b") {
		t.Fatal("expected both keys removed")
	}
	if _, ok, _ := backend.Get(ctx, "a"); ok {
		t.Fatal("deleted key must read as absent")
	}
}

func TestStoreOverRedis(t *testing.T) {
	ctx := context.Background()
	backend, _ := newRedisBackend(t, time.Minute)
	store := New(backend, "sid-9", nil)

	if err := store.SetCredential(ctx, "cred"); err != nil {
		t.Fatal(err)
	}
	if got, _ := store.GetCredential(ctx); got != "cred" {
		t.Fatalf("GetCredential = %q", got)
	}
	if err := store.ClearAll(ctx); err != nil {
		t.Fatal(err)
	}
	if got, _ := store.GetCredential(ctx); got != "" {
		t.Fatalf("expected cleared credential, got %q", got)
	}
}
