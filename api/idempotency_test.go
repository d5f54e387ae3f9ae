package api

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestDeduper(t *testing.T) (*RedisDeduper, *miniredis.Miniredis) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		if cerr := client.Close(); cerr != nil {
			t.Logf("redis close: %v", cerr)
		}
	})
	return NewRedisDeduper(client, time.Minute), m
}

func TestRedisDeduperRejectsReplay(t *testing.T) {
	deduper, m := newTestDeduper(t)
	ctx := context.Background()

	added, err := deduper.Add(ctx, "user:u1", "k1")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !added {
		t.Fatalf("expected key to be added")
	}
	if ttl := m.TTL("idem:user:u1:k1"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	again, err := deduper.Add(ctx, "user:u1", "k1")
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if again {
		t.Fatalf("expected replayed key to be rejected")
	}

	other, err := deduper.Add(ctx, "user:u2", "k1")
	if err != nil {
		t.Fatalf("other scope add: %v", err)
	}
	if !other {
		t.Fatalf("keys must be scoped per session")
	}
}

func TestRedisDeduperRemoveAllowsRetry(t *testing.T) {
	deduper, _ := newTestDeduper(t)
	ctx := context.Background()

	if _, err := deduper.Add(ctx, "s", "k"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := deduper.Remove(ctx, "s", "k"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	added, err := deduper.Add(ctx, "s", "k")
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if !added {
		t.Fatalf("expected key to be accepted after removal")
	}
}
