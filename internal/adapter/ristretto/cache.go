// Package ristretto is the in-process L1 behind the tiered zone cache.
package ristretto

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache holds zone snapshots and idempotent responses in process memory.
// Entries cost their key plus value size in bytes.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// New returns a cache bounded to maxSizeMB megabytes.
func New(maxSizeMB int64) (*Cache, error) {
	if maxSizeMB <= 0 {
		return nil, fmt.Errorf("ristretto: size must be positive, got %d MB", maxSizeMB)
	}
	maxCost := maxSizeMB << 20
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		// Zone snapshots are ~1 KB; track ten counters per expected entry.
		NumCounters:        maxCost / 1024 * 10,
		MaxCost:            maxCost,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}
	return &Cache{c: c}, nil
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.c.Get(key)
	return v, ok, nil
}

// Set stores value for ttl. An entry refused by the admission policy is not
// an error; the next Get misses and the caller falls through to L2.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if c.c.SetWithTTL(key, value, int64(len(key)+len(value)), ttl) {
		c.c.Wait()
	}
	return nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

func (c *Cache) Close() { c.c.Close() }
