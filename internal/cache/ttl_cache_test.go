package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	nomadly "github.com/StrawberryAcai/Nomadly.backend"
)

var _ nomadly.Cache = (*TTLCache)(nil)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestTTLCache_SetAndGet(t *testing.T) {
	cache := NewTTLCache(time.Second)
	ctx := context.Background()
	args := map[string]interface{}{"keyword": "부산"}

	cache.Set(ctx, "get_search_keyword", args, "bar")

	got, ok := cache.Get(ctx, "get_search_keyword", args)
	if !ok {
		t.Fatal("expected a hit")
	}
	if got != "bar" {
		t.Errorf("expected %v, got %v", "bar", got)
	}
	if _, ok := cache.Get(ctx, "get_detail_common", args); ok {
		t.Error("different tool name must not share an entry")
	}
}

func TestTTLCache_Expiration(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	cache := NewTTLCache(120*time.Second, WithClock(clock.Now))
	ctx := context.Background()
	args := map[string]interface{}{"contentId": "126508"}

	cache.Set(ctx, "get_detail_common", args, "v")

	clock.Advance(120 * time.Second)
	if _, ok := cache.Get(ctx, "get_detail_common", args); !ok {
		t.Fatal("entry at exactly the TTL should still be fresh")
	}

	clock.Advance(time.Second)
	if _, ok := cache.Get(ctx, "get_detail_common", args); ok {
		t.Error("expected a miss for an expired item")
	}
	if cache.Len() != 0 {
		t.Errorf("expired entry not reclaimed, len = %d", cache.Len())
	}
}

func TestTTLCache_OverwriteResetsAge(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cache := NewTTLCache(10*time.Second, WithClock(clock.Now))
	ctx := context.Background()
	args := map[string]interface{}{"a": 1}

	cache.Set(ctx, "t", args, "old")
	clock.Advance(8 * time.Second)
	cache.Set(ctx, "t", args, "new")
	clock.Advance(8 * time.Second)

	got, ok := cache.Get(ctx, "t", args)
	if !ok || got != "new" {
		t.Errorf("got %v, %v", got, ok)
	}
}

func TestKey_OrderIndependent(t *testing.T) {
	a := map[string]interface{}{"mapX": 126.98, "mapY": 37.56, "radius": 1000, "opts": map[string]interface{}{"z": 1, "a": 2}}
	b := map[string]interface{}{"radius": 1000, "opts": map[string]interface{}{"a": 2, "z": 1}, "mapY": 37.56, "mapX": 126.98}

	if Key("get_location_based_list", a) != Key("get_location_based_list", b) {
		t.Errorf("keys differ:\n%s\n%s", Key("x", a), Key("x", b))
	}
	if !strings.HasPrefix(Key("get_location_based_list", a), "get_location_based_list:") {
		t.Errorf("key lacks tool prefix: %s", Key("get_location_based_list", a))
	}
}

func TestTTLCache_DoneContext(t *testing.T) {
	cache := NewTTLCache(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	args := map[string]interface{}{"k": "v"}

	cache.Set(ctx, "t", args, "v")
	if cache.Len() != 0 {
		t.Error("Set with a done context should be a no-op")
	}

	cache.Set(context.Background(), "t", args, "v")
	if _, ok := cache.Get(ctx, "t", args); ok {
		t.Error("Get with a done context should miss")
	}
}

func TestTTLCache_LookupNotFound(t *testing.T) {
	cache := NewTTLCache(0)
	_, err := cache.Lookup(context.Background(), "missing")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("unexpected Lookup error: %v", err)
	}
	if cache.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want default", cache.ttl)
	}
}

func TestTTLCache_Concurrency(t *testing.T) {
	cache := NewTTLCache(time.Second)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			args := map[string]interface{}{"n": i % 4}
			cache.Set(ctx, "t", args, fmt.Sprint(i%4))
			if v, ok := cache.Get(ctx, "t", args); ok && v != fmt.Sprint(i%4) {
				t.Errorf("cross-key value %v for %d", v, i)
			}
		}(i)
	}
	wg.Wait()

	if cache.Len() != 4 {
		t.Errorf("len = %d, want 4", cache.Len())
	}
}
