// Package tiered stacks a per-process cache over one shared by all replicas.
package tiered

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/cache"
)

// Cache reads L1, then L2, backfilling L1 on an L2 hit. Writes go to both.
//
// L1 entries never outlive l1Expire, which bounds how long a replica can
// serve a zone after another replica invalidated it in L2. An L2 read error
// is a miss, so zone reads keep working while NATS KV is down.
type Cache struct {
	l1, l2   cache.Cache
	l1Expire time.Duration
}

var _ cache.Cache = (*Cache)(nil)

func New(l1, l2 cache.Cache, l1Expire time.Duration) *Cache {
	return &Cache{l1: l1, l2: l2, l1Expire: l1Expire}
}

func (c *Cache) l1TTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > c.l1Expire {
		return c.l1Expire
	}
	return ttl
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok, err := c.l1.Get(ctx, key); err != nil || ok {
		return v, ok, err
	}

	v, ok, err := c.l2.Get(ctx, key)
	switch {
	case err != nil:
		slog.WarnContext(ctx, "cache.l2.get_failed", "key", key, "error", err)
		return nil, false, nil
	case !ok:
		return nil, false, nil
	}
	if err := c.l1.Set(ctx, key, v, c.l1Expire); err != nil {
		slog.DebugContext(ctx, "cache.l1.backfill_failed", "key", key, "error", err)
	}
	return v, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, c.l1TTL(ttl)); err != nil {
		return err
	}
	return c.l2.Set(ctx, key, value, ttl)
}

// Delete clears L2 before L1 so a concurrent Get cannot backfill L1 from a
// stale L2 entry. L1 is cleared even when the L2 delete fails.
func (c *Cache) Delete(ctx context.Context, key string) error {
	l2Err := c.l2.Delete(ctx, key)
	return errors.Join(l2Err, c.l1.Delete(ctx, key))
}
