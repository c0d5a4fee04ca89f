package cache

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"
)

type recordingCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	ttls    map[string]time.Duration
	gets    int
	sets    int
	deletes int
}

func newRecordingCache() *recordingCache {
	return &recordingCache{
		data: make(map[string][]byte),
		ttls: make(map[string]time.Duration),
	}
}

func (c *recordingCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v, ok := c.data[key]
	return v, ok
}

func (c *recordingCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.data[key] = value
	c.ttls[key] = ttl
}

func (c *recordingCache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	delete(c.data, key)
}

func (c *recordingCache) DeletePattern(_ context.Context, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
}

func TestTieredCacheLocalHitSkipsShared(t *testing.T) {
	local := newRecordingCache()
	shared := newRecordingCache()
	c := NewTieredCache(local, shared)
	ctx := context.Background()

	c.Set(ctx, "k1", []byte("v1"), time.Minute)
	if local.sets != 1 || shared.sets != 1 {
		t.Fatalf("writes must reach both tiers: local=%d shared=%d", local.sets, shared.sets)
	}

	got, ok := c.Get(ctx, "k1")
	if !ok || !bytes.Equal(got, []byte("v1")) {
		t.Fatalf("get = %q, %v, want v1 hit", got, ok)
	}
	if shared.gets != 0 {
		t.Fatalf("local hit must not touch the shared tier")
	}
}

func TestTieredCacheSharedHitRepopulatesLocal(t *testing.T) {
	local := newRecordingCache()
	shared := newRecordingCache()
	c := NewTieredCache(local, shared)
	ctx := context.Background()

	// Entry exists only in the shared tier, as after a process restart.
	shared.data["k1"] = []byte("v1")

	got, ok := c.Get(ctx, "k1")
	if !ok || !bytes.Equal(got, []byte("v1")) {
		t.Fatalf("get = %q, %v, want shared-tier hit", got, ok)
	}
	if _, ok := local.data["k1"]; !ok {
		t.Fatalf("shared hit should repopulate the local tier")
	}
	if local.ttls["k1"] != time.Minute {
		t.Fatalf("repopulated entry TTL = %v, want the short local TTL", local.ttls["k1"])
	}

	// Second read now stays local.
	sharedGets := shared.gets
	if _, ok := c.Get(ctx, "k1"); !ok {
		t.Fatalf("repopulated entry should hit locally")
	}
	if shared.gets != sharedGets {
		t.Fatalf("repopulated entry still consulted the shared tier")
	}
}

func TestTieredCacheWithoutSharedTier(t *testing.T) {
	local := newRecordingCache()
	c := NewTieredCache(local, nil)
	ctx := context.Background()

	c.Set(ctx, "k1", []byte("v1"), time.Minute)
	if got, ok := c.Get(ctx, "k1"); !ok || !bytes.Equal(got, []byte("v1")) {
		t.Fatalf("tier-1-only cache lost the entry: %q, %v", got, ok)
	}
	if _, ok := c.Get(ctx, "missing"); ok {
		t.Fatalf("miss reported as hit")
	}

	c.Delete(ctx, "k1")
	c.DeletePattern(ctx, "k")
	if _, ok := c.Get(ctx, "k1"); ok {
		t.Fatalf("deleted entry should miss")
	}
}

func TestTieredCacheDeleteReachesBothTiers(t *testing.T) {
	local := newRecordingCache()
	shared := newRecordingCache()
	c := NewTieredCache(local, shared)
	ctx := context.Background()

	c.Set(ctx, "k1", []byte("v1"), time.Minute)
	c.Delete(ctx, "k1")

	if local.deletes != 1 || shared.deletes != 1 {
		t.Fatalf("delete must reach both tiers: local=%d shared=%d", local.deletes, shared.deletes)
	}
	if _, ok := c.Get(ctx, "k1"); ok {
		t.Fatalf("deleted entry should miss")
	}
}
