package cache

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/policyrag/internal/model"
)

func newTestBadger(t *testing.T) *BadgerCache {
	t.Helper()
	c, err := NewBadgerCache(BadgerConfig{InMemory: true})
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestKey(t *testing.T) {
	a := Key("claim_verify", "ab", "c")
	b := Key("claim_verify", "a", "bc")
	if a == b {
		t.Error("Expected input boundaries to change the key")
	}
	if a != Key("claim_verify", "ab", "c") {
		t.Error("Expected key to be deterministic")
	}
	if !strings.HasPrefix(a, "policyrag:v1:claim_verify:") {
		t.Errorf("Unexpected key format: %s", a)
	}
	if got := Stage(a); got != "claim_verify" {
		t.Errorf("Stage() = %q, want claim_verify", got)
	}
}

func TestBackends(t *testing.T) {
	backends := map[string]Cache{
		"memory":  NewMemoryCache(time.Hour, time.Minute),
		"badger":  newTestBadger(t),
		"layered": NewLayeredCache(NewMemoryCache(time.Hour, time.Minute), newTestBadger(t)),
	}

	for name, c := range backends {
		t.Run(name, func(t *testing.T) {
			if _, ok := c.Get("missing"); ok {
				t.Fatal("Expected miss for unknown key")
			}
			if err := c.Set("k", []byte("v"), 0); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			got, ok := c.Get("k")
			if !ok || string(got) != "v" {
				t.Fatalf("Get() = %q, %v", got, ok)
			}
			if err := c.Delete("k"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if _, ok := c.Get("k"); ok {
				t.Fatal("Expected miss after delete")
			}
			_ = c.Set("a", []byte("1"), 0)
			if err := c.Clear(); err != nil {
				t.Fatalf("Clear failed: %v", err)
			}
			if _, ok := c.Get("a"); ok {
				t.Fatal("Expected miss after clear")
			}
		})
	}
}

func TestLayeredCache_PromotesToMemory(t *testing.T) {
	mem := NewMemoryCache(time.Hour, time.Minute)
	persistent := newTestBadger(t)
	_ = persistent.Set("k", []byte("v"), 0)

	c := NewLayeredCache(mem, persistent)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("Expected hit from persistent layer")
	}
	if _, ok := mem.Get("k"); !ok {
		t.Error("Expected value promoted to memory")
	}
}

type verdict struct {
	Supported bool   `json:"supported"`
	Rationale string `json:"rationale"`
}

func TestLoader_CachesAndObserves(t *testing.T) {
	var hits, misses int
	l := NewLoader(NewMemoryCache(time.Hour, time.Minute), 0, nil).WithObserver(func(stage string, hit bool) {
		if stage != "claim_verify" {
			t.Errorf("Unexpected stage %s", stage)
		}
		if hit {
			hits++
		} else {
			misses++
		}
	})

	calls := 0
	compute := func(context.Context) (verdict, error) {
		calls++
		return verdict{Supported: true, Rationale: "quoted"}, nil
	}

	for i := 0; i < 3; i++ {
		v, _, err := Load(context.Background(), l, "claim_verify", []string{"claim", "evidence"}, compute)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if !v.Supported || v.Rationale != "quoted" {
			t.Errorf("Unexpected value %+v", v)
		}
	}
	if calls != 1 {
		t.Errorf("Expected 1 compute, got %d", calls)
	}
	if hits != 2 || misses != 1 {
		t.Errorf("Expected 2 hits and 1 miss, got %d/%d", hits, misses)
	}
}

func TestLoader_ErrorsNotCached(t *testing.T) {
	l := NewLoader(NewMemoryCache(time.Hour, time.Minute), 0, nil)
	boom := errors.New("judge timeout")

	_, _, err := Load(context.Background(), l, "s", []string{"x"}, func(context.Context) (verdict, error) {
		return verdict{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected judge error, got %v", err)
	}

	v, hit, err := Load(context.Background(), l, "s", []string{"x"}, func(context.Context) (verdict, error) {
		return verdict{Supported: true}, nil
	})
	if err != nil || hit || !v.Supported {
		t.Errorf("Expected fresh compute after error, got %+v hit=%v err=%v", v, hit, err)
	}
}

func TestLoader_CorruptEntryIsMiss(t *testing.T) {
	mem := NewMemoryCache(time.Hour, time.Minute)
	key := Key("s", "x")
	_ = mem.Set(key, []byte("{not json"), 0)

	l := NewLoader(mem, 0, nil)
	v, hit, err := Load(context.Background(), l, "s", []string{"x"}, func(context.Context) (verdict, error) {
		return verdict{Rationale: "recomputed"}, nil
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if hit {
		t.Error("Expected corrupt entry to count as a miss")
	}
	if v.Rationale != "recomputed" {
		t.Errorf("Unexpected value %+v", v)
	}
	data, _ := mem.Get(key)
	if string(data) == "{not json" {
		t.Error("Expected corrupt entry to be replaced")
	}
}

func TestLoader_ScopeSeparatesModels(t *testing.T) {
	mem := NewMemoryCache(time.Hour, time.Minute)
	compute := func(name string) func(context.Context) (verdict, error) {
		return func(context.Context) (verdict, error) {
			return verdict{Rationale: name}, nil
		}
	}

	a := NewLoader(mem, 0, nil).WithScope("openai/gpt-4o-mini")
	if _, _, err := Load(context.Background(), a, "s", []string{"x"}, compute("mini")); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	b := NewLoader(mem, 0, nil).WithScope("openai/gpt-4o")
	v, hit, err := Load(context.Background(), b, "s", []string{"x"}, compute("full"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if hit || v.Rationale != "full" {
		t.Errorf("Expected a miss computed by the second model, got hit=%v %+v", hit, v)
	}

	if _, hit, _ := Load(context.Background(), a, "s", []string{"x"}, compute("again")); !hit {
		t.Error("Expected the first model's entry to still hit")
	}
}

func TestLoader_SingleflightCollapsesConcurrentComputes(t *testing.T) {
	l := NewLoader(nil, 0, nil)
	var calls int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = Load(context.Background(), l, "s", []string{"same"}, func(context.Context) (int, error) {
				atomic.AddInt32(&calls, 1)
				<-release
				return 1, nil
			})
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected 1 compute, got %d", got)
	}
}

func TestLoader_NilLoaderComputes(t *testing.T) {
	v, hit, err := Load(context.Background(), nil, "s", nil, func(context.Context) (string, error) {
		return "direct", nil
	})
	if err != nil || hit || v != "direct" {
		t.Errorf("Unexpected result %q hit=%v err=%v", v, hit, err)
	}
}

func TestNew(t *testing.T) {
	c, err := New(model.CacheConfig{Enabled: false}, nil)
	if err != nil || c != nil {
		t.Fatalf("Expected nil cache when disabled, got %v, %v", c, err)
	}

	c, err = New(model.CacheConfig{Enabled: true, Backend: "memory"}, nil)
	if err != nil {
		t.Fatalf("New(memory) failed: %v", err)
	}
	if _, ok := c.(*MemoryCache); !ok {
		t.Errorf("Expected *MemoryCache, got %T", c)
	}

	c, err = New(model.CacheConfig{Enabled: true, Backend: "layered", Dir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("New(layered) failed: %v", err)
	}
	if err := Close(c); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	if _, err := New(model.CacheConfig{Enabled: true, Backend: "etcd"}, nil); err == nil {
		t.Error("Expected error for unknown backend")
	}
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	c, err := NewRedisCache(addr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer func() { _ = c.Close() }()

	key := Key("test", t.Name())
	if err := c.Set(key, []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got, ok := c.Get(key); !ok || string(got) != "v" {
		t.Fatalf("Get() = %q, %v", got, ok)
	}
	if err := c.Delete(key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok := c.Get(key); ok {
		t.Error("Expected miss after delete")
	}
}
