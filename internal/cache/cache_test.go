package cache

import (
	"context"
	"testing"
	"time"

	"plenario/internal/db"
	"plenario/internal/migrate"
)

func backends(t *testing.T) map[string]struct {
	cache Cache
	now   *time.Time
} {
	t.Helper()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	memNow := now
	mem := NewMemory()
	mem.Now = func() time.Time { return memNow }

	storeNow := now
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := NewStore(conn)
	store.Now = func() time.Time { return storeNow }

	return map[string]struct {
		cache Cache
		now   *time.Time
	}{
		"memory": {cache: mem, now: &memNow},
		"store":  {cache: store, now: &storeNow},
	}
}

func TestSetGetExpiry(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := b.cache.Set(ctx, "flow:veto", "flow-1", time.Minute); err != nil {
				t.Fatalf("set: %v", err)
			}
			val, ok, err := b.cache.Get(ctx, "flow:veto")
			if err != nil || !ok || val != "flow-1" {
				t.Fatalf("get = %q,%v,%v", val, ok, err)
			}

			*b.now = b.now.Add(2 * time.Minute)
			if _, ok, _ := b.cache.Get(ctx, "flow:veto"); ok {
				t.Fatal("entry should have expired")
			}
		})
	}
}

func TestIncrAndExpire(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for want := int64(1); want <= 3; want++ {
				n, err := b.cache.Incr(ctx, "ratelimit:addr:1")
				if err != nil {
					t.Fatalf("incr: %v", err)
				}
				if n != want {
					t.Fatalf("incr = %d, want %d", n, want)
				}
			}
			if err := b.cache.Expire(ctx, "ratelimit:addr:1", time.Minute); err != nil {
				t.Fatalf("expire: %v", err)
			}
			ttl, err := b.cache.TTL(ctx, "ratelimit:addr:1")
			if err != nil {
				t.Fatalf("ttl: %v", err)
			}
			if ttl <= 0 || ttl > time.Minute {
				t.Fatalf("ttl = %v", ttl)
			}

			*b.now = b.now.Add(2 * time.Minute)
			n, err := b.cache.Incr(ctx, "ratelimit:addr:1")
			if err != nil {
				t.Fatalf("incr after expiry: %v", err)
			}
			if n != 1 {
				t.Fatalf("counter should restart after expiry, got %d", n)
			}
		})
	}
}

func TestKeysPatternAndDel(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, key := range []string{"flow:veto", "flow:mocao", "session:1"} {
				if err := b.cache.Set(ctx, key, "x", 0); err != nil {
					t.Fatalf("set %s: %v", key, err)
				}
			}
			keys, err := b.cache.Keys(ctx, "flow:*")
			if err != nil {
				t.Fatalf("keys: %v", err)
			}
			if len(keys) != 2 {
				t.Fatalf("keys = %v, want 2 flow entries", keys)
			}
			if err := b.cache.Del(ctx, keys...); err != nil {
				t.Fatalf("del: %v", err)
			}
			if _, ok, _ := b.cache.Get(ctx, "flow:veto"); ok {
				t.Fatal("deleted key still present")
			}
			if _, ok, _ := b.cache.Get(ctx, "session:1"); !ok {
				t.Fatal("unmatched key should survive")
			}
		})
	}
}

func TestNoTTLSentinel(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := b.cache.Set(ctx, "permanent", "v", 0); err != nil {
				t.Fatalf("set: %v", err)
			}
			ttl, err := b.cache.TTL(ctx, "permanent")
			if err != nil {
				t.Fatalf("ttl: %v", err)
			}
			if ttl != NoTTL {
				t.Fatalf("ttl = %v, want NoTTL", ttl)
			}
		})
	}
}
