// Package cachetest holds the behavior every cache.Cache adapter must share.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/cache"
)

type zoneView struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Run exercises c with the zone and idempotency key shapes the services use.
// Each case writes its own keys, so c may be shared across cases.
func Run(t *testing.T, c cache.Cache) {
	t.Helper()

	tests := []struct {
		name string
		run  func(ctx context.Context, t *testing.T)
	}{
		{"set then get", func(ctx context.Context, t *testing.T) {
			mustSet(ctx, t, c, "zone:org-1:z1", `{"id":"z1"}`)
			expect(ctx, t, c, "zone:org-1:z1", `{"id":"z1"}`)
		}},
		{"miss", func(ctx context.Context, t *testing.T) {
			expectMiss(ctx, t, c, "zone:org-1:missing")
		}},
		{"overwrite", func(ctx context.Context, t *testing.T) {
			mustSet(ctx, t, c, "zone:org-1:z2", "v1")
			mustSet(ctx, t, c, "zone:org-1:z2", "v2")
			expect(ctx, t, c, "zone:org-1:z2", "v2")
		}},
		{"delete", func(ctx context.Context, t *testing.T) {
			mustSet(ctx, t, c, "idem:org-1:k1", "stored-response")
			if err := c.Delete(ctx, "idem:org-1:k1"); err != nil {
				t.Fatal(err)
			}
			expectMiss(ctx, t, c, "idem:org-1:k1")
		}},
		{"delete absent key", func(ctx context.Context, t *testing.T) {
			if err := c.Delete(ctx, "idem:org-1:never"); err != nil {
				t.Fatalf("delete of an absent key: %v", err)
			}
		}},
		{"organizations do not collide", func(ctx context.Context, t *testing.T) {
			mustSet(ctx, t, c, "zone:org-a:z", "a")
			mustSet(ctx, t, c, "zone:org-b:z", "b")
			expect(ctx, t, c, "zone:org-a:z", "a")
		}},
		{"json round trip", func(ctx context.Context, t *testing.T) {
			if err := cache.SetJSON(ctx, c, "zone:org-1:json", zoneView{ID: "z", Status: "active"}, time.Minute); err != nil {
				t.Fatal(err)
			}
			got, ok, err := cache.GetJSON[zoneView](ctx, c, "zone:org-1:json")
			if err != nil || !ok || got != (zoneView{ID: "z", Status: "active"}) {
				t.Fatalf("GetJSON = %+v ok=%v err=%v", got, ok, err)
			}
		}},
		{"undecodable json is a miss", func(ctx context.Context, t *testing.T) {
			mustSet(ctx, t, c, "zone:org-1:garbage", "not json")
			if _, ok, err := cache.GetJSON[zoneView](ctx, c, "zone:org-1:garbage"); ok || err != nil {
				t.Fatalf("want miss, got ok=%v err=%v", ok, err)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) { tt.run(context.Background(), t) })
	}
}

func mustSet(ctx context.Context, t *testing.T, c cache.Cache, key, value string) {
	t.Helper()
	if err := c.Set(ctx, key, []byte(value), time.Minute); err != nil {
		t.Fatalf("set %s: %v", key, err)
	}
}

func expect(ctx context.Context, t *testing.T, c cache.Cache, key, want string) {
	t.Helper()
	got, ok, err := c.Get(ctx, key)
	if err != nil || !ok || string(got) != want {
		t.Fatalf("get %s = %q ok=%v err=%v, want %q", key, got, ok, err, want)
	}
}

func expectMiss(ctx context.Context, t *testing.T, c cache.Cache, key string) {
	t.Helper()
	if _, ok, err := c.Get(ctx, key); ok || err != nil {
		t.Fatalf("get %s: want miss, got ok=%v err=%v", key, ok, err)
	}
}
