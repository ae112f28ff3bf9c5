package cache

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := cache.Set(ctx, "key1", []byte("value1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "key2", []byte("value2"), time.Minute)

		if err := cache.Delete(ctx, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if val, _ := cache.Get(ctx, "key2"); val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, "expiring", []byte("temp"), 10*time.Millisecond)

		if val, _ := cache.Get(ctx, "expiring"); val == nil {
			t.Error("expected value before expiration")
		}

		time.Sleep(20 * time.Millisecond)

		if val, _ := cache.Get(ctx, "expiring"); val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		small := NewLRUCache(3)

		_ = small.Set(ctx, "a", []byte("1"), time.Minute)
		_ = small.Set(ctx, "b", []byte("2"), time.Minute)
		_ = small.Set(ctx, "c", []byte("3"), time.Minute)

		// Touch 'a' so 'b' becomes the least recently used.
		_, _ = small.Get(ctx, "a")
		_ = small.Set(ctx, "d", []byte("4"), time.Minute)

		if val, _ := small.Get(ctx, "b"); val != nil {
			t.Error("expected 'b' to be evicted")
		}
		if val, _ := small.Get(ctx, "a"); val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("Stats", func(t *testing.T) {
		stats := NewLRUCache(50)
		_ = stats.Set(ctx, "k1", []byte("v1"), time.Minute)
		_ = stats.Set(ctx, "k2", []byte("v2"), time.Minute)
		_, _ = stats.Get(ctx, "k1")
		_, _ = stats.Get(ctx, "missing")

		got := stats.Stats()
		want := Stats{Size: 2, Capacity: 50, Hits: 1, Misses: 1}
		if got != want {
			t.Errorf("expected %+v, got %+v", want, got)
		}
	})

	t.Run("Close", func(t *testing.T) {
		c := NewLRUCache(10)
		_ = c.Set(ctx, "k", []byte("v"), time.Minute)

		if err := c.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
		if val, _ := c.Get(ctx, "k"); val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(10)

	if _, ok, err := GetJSON[[]string](ctx, c, "feed"); ok || err != nil {
		t.Fatalf("expected clean miss, got %v %v", ok, err)
	}

	addrs := []string{"0xa", "0xb"}
	if err := SetJSON(ctx, c, "feed", addrs, time.Minute); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}
	got, ok, err := GetJSON[[]string](ctx, c, "feed")
	if err != nil || !ok {
		t.Fatalf("GetJSON failed: %v %v", ok, err)
	}
	if !slices.Equal(got, addrs) {
		t.Errorf("expected %v, got %v", addrs, got)
	}

	_ = c.Set(ctx, "corrupt", []byte("{not json"), time.Minute)
	if _, _, err := GetJSON[[]string](ctx, c, "corrupt"); err == nil {
		t.Error("expected decode error")
	}
}

func TestTwoPhaseCache(t *testing.T) {
	ctx := context.Background()
	local := NewLRUCache(10)
	remote := NewLRUCache(10)
	c := newTwoPhase(local, remote, time.Minute)

	t.Run("PopulatesL1OnL2Hit", func(t *testing.T) {
		_ = remote.Set(ctx, "k", []byte("v"), time.Hour)

		val, err := c.Get(ctx, "k")
		if err != nil || string(val) != "v" {
			t.Fatalf("expected L2 hit, got %q %v", val, err)
		}
		if val, _ := local.Get(ctx, "k"); string(val) != "v" {
			t.Error("expected L1 to be populated")
		}
	})

	t.Run("WritesBothLevels", func(t *testing.T) {
		if err := c.Set(ctx, "w", []byte("x"), time.Hour); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		for name, level := range map[string]*LRUCache{"L1": local, "L2": remote} {
			if val, _ := level.Get(ctx, "w"); string(val) != "x" {
				t.Errorf("%s missing value", name)
			}
		}
	})

	t.Run("DeletesBothLevels", func(t *testing.T) {
		_ = c.Set(ctx, "d", []byte("x"), time.Hour)
		_ = c.Delete(ctx, "d")
		if val, _ := c.Get(ctx, "d"); val != nil {
			t.Error("expected miss after delete")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := c.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cache, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
