package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreFromClient(client, "apiclient.cache"), mr
}

func newMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	s, err := NewMemoryStore("apiclient.cache", 100)
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStores_SetGetDelete(t *testing.T) {
	redisStore, _ := newRedisStore(t)
	stores := map[string]Store{
		"memory": newMemoryStore(t),
		"redis":  redisStore,
	}

	ctx := context.Background()
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			if err := s.Set(ctx, "k1", []byte(`{"a":1}`), time.Minute); err != nil {
				t.Fatalf("Set: %v", err)
			}
			v, ok, err := s.Get(ctx, "k1")
			if err != nil || !ok {
				t.Fatalf("Get: ok=%v err=%v", ok, err)
			}
			if string(v) != `{"a":1}` {
				t.Errorf("value = %s", v)
			}

			if err := s.Delete(ctx, "k1"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, ok, _ := s.Get(ctx, "k1"); ok {
				t.Error("expected miss after delete")
			}
			if err := s.Delete(ctx, "never-set"); err != nil {
				t.Errorf("Delete of missing key: %v", err)
			}
		})
	}
}

func TestStores_ShortTTLNotPersisted(t *testing.T) {
	redisStore, mr := newRedisStore(t)
	stores := map[string]Store{
		"memory": newMemoryStore(t),
		"redis":  redisStore,
	}

	ctx := context.Background()
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			if err := s.Set(ctx, "short", []byte("x"), 500*time.Millisecond); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if _, ok, _ := s.Get(ctx, "short"); ok {
				t.Error("entry with TTL below one second must not be stored")
			}
		})
	}

	if mr.Exists("apiclient.cache:short") {
		t.Error("redis key unexpectedly present")
	}
}

func TestRedisStore_NamespaceAndExpiry(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "https://api.example.com/v1/x", []byte("body"), 2*time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !mr.Exists("apiclient.cache:https://api.example.com/v1/x") {
		t.Fatal("key not stored under namespace")
	}

	mr.FastForward(3 * time.Second)
	if _, ok, _ := s.Get(ctx, "https://api.example.com/v1/x"); ok {
		t.Error("expected entry to expire")
	}
}

func TestRedisStore_FlushOnlyNamespace(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	mr.Set("other:key", "keep")
	for _, k := range []string{"a", "b", "c"} {
		if err := s.Set(ctx, k, []byte(k), time.Minute); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	for _, k := range []string{"a", "b", "c"} {
		if _, ok, _ := s.Get(ctx, k); ok {
			t.Errorf("key %s survived flush", k)
		}
	}
	if !mr.Exists("other:key") {
		t.Error("flush removed a key outside the namespace")
	}
}

func TestMemoryStore_Flush(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, "a", []byte("1"), time.Minute)
	_ = s.Set(ctx, "b", []byte("2"), time.Minute)
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Error("expected miss after flush")
	}
}

func TestStores_DeletePrefix(t *testing.T) {
	redisStore, mr := newRedisStore(t)
	stores := map[string]Store{
		"memory": newMemoryStore(t),
		"redis":  redisStore,
	}

	ctx := context.Background()
	const base = "https://api.example.com/aims/v1/2/users"
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{base + "?page=1", base + "?page=2&q=[a]", base + "/9", "https://api.example.com/other"} {
				if err := s.Set(ctx, k, []byte("v"), time.Minute); err != nil {
					t.Fatalf("Set: %v", err)
				}
			}

			if err := s.DeletePrefix(ctx, base+"?"); err != nil {
				t.Fatalf("DeletePrefix: %v", err)
			}
			for _, k := range []string{base + "?page=1", base + "?page=2&q=[a]"} {
				if _, ok, _ := s.Get(ctx, k); ok {
					t.Errorf("%s survived DeletePrefix", k)
				}
			}
			for _, k := range []string{base + "/9", "https://api.example.com/other"} {
				if _, ok, _ := s.Get(ctx, k); !ok {
					t.Errorf("%s removed by DeletePrefix", k)
				}
			}
		})
	}

	if !mr.Exists("apiclient.cache:" + base + "/9") {
		t.Error("redis key outside the prefix was removed")
	}
}
