package cache

import (
	"context"
	"time"

	"github.com/norwood-labs/marginalia/internal/core/ports"
)

// TieredCache composes the in-process tier with an optional shared tier.
// Reads check tier 1 first and repopulate it on a tier-2 hit; writes go to
// both. A missing or failing shared tier degrades to tier-1-only behavior
// without surfacing errors to callers.
type TieredCache struct {
	local  ports.Cache
	shared ports.Cache // may be nil
}

func NewTieredCache(local, shared ports.Cache) *TieredCache {
	return &TieredCache{local: local, shared: shared}
}

func (c *TieredCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if value, ok := c.local.Get(ctx, key); ok {
		return value, true
	}
	if c.shared == nil {
		return nil, false
	}
	value, ok := c.shared.Get(ctx, key)
	if !ok {
		return nil, false
	}
	// Repopulate tier 1 with a short TTL; the shared entry's own expiry
	// still bounds staleness across processes.
	c.local.Set(ctx, key, value, time.Minute)
	return value, true
}

func (c *TieredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	c.local.Set(ctx, key, value, ttl)
	if c.shared != nil {
		c.shared.Set(ctx, key, value, ttl)
	}
}

func (c *TieredCache) Delete(ctx context.Context, key string) {
	c.local.Delete(ctx, key)
	if c.shared != nil {
		c.shared.Delete(ctx, key)
	}
}

func (c *TieredCache) DeletePattern(ctx context.Context, prefix string) {
	c.local.DeletePattern(ctx, prefix)
	if c.shared != nil {
		c.shared.DeletePattern(ctx, prefix)
	}
}
