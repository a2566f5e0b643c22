// Package natskv is the shared L2 cache: a JetStream KV bucket every API and
// worker replica reads zone lookups and idempotent responses from.
package natskv

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// headerLen is the size of the expiry prefix stored ahead of each value.
const headerLen = 8

// Cache stores values in a KV bucket. The bucket TTL bounds every entry;
// shorter per-entry TTLs are enforced on read from an expiry prefix.
type Cache struct {
	kv  jetstream.KeyValue
	now func() time.Time
}

// New wraps an existing bucket.
func New(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv, now: time.Now}
}

// Open creates or updates bucket with maxAge as its TTL.
func Open(ctx context.Context, js jetstream.JetStream, bucket string, maxAge time.Duration) (*Cache, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "mission control zone and idempotency cache",
		TTL:         maxAge,
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("kv bucket %s: %w", bucket, err)
	}
	return New(kv), nil
}

// Get returns the value under key. Entries past their own expiry read as a
// miss; the bucket purges them later.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := c.kv.Get(ctx, kvKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv get %s: %w", key, err)
	}
	value, expires, ok := unpack(entry.Value())
	if !ok || (!expires.IsZero() && !c.now().Before(expires)) {
		return nil, false, nil
	}
	return value, true, nil
}

// Set writes value under key. ttl <= 0 leaves the entry to the bucket TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}
	if _, err := c.kv.Put(ctx, kvKey(key), pack(value, expires)); err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(ctx, kvKey(key))
	if err == nil || errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return fmt.Errorf("kv delete %s: %w", key, err)
}

func pack(value []byte, expires time.Time) []byte {
	out := make([]byte, headerLen+len(value))
	if !expires.IsZero() {
		binary.BigEndian.PutUint64(out, uint64(expires.UnixNano()))
	}
	copy(out[headerLen:], value)
	return out
}

func unpack(raw []byte) (value []byte, expires time.Time, ok bool) {
	if len(raw) < headerLen {
		return nil, time.Time{}, false
	}
	if n := binary.BigEndian.Uint64(raw); n != 0 {
		expires = time.Unix(0, int64(n))
	}
	return raw[headerLen:], expires, true
}

// kvKey maps cache keys onto the KV key alphabet; ':' separators become '.'.
func kvKey(key string) string {
	return strings.ReplaceAll(key, ":", ".")
}
