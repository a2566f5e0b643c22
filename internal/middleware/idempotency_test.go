package middleware_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/middleware"
)

// mapCache is an in-memory cache.Cache for testing.
type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (m *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *mapCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *mapCache) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.data))
	for k := range m.data {
		out = append(out, k)
	}
	return out
}

func makeTestHandler(counter *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*counter++
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Request-ID", fmt.Sprintf("req-%d", *counter))
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"call":%d}`, *counter)
	})
}

func cosignRequest(key, actorID, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/escalations/e1/cosign", strings.NewReader(body))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	ctx := middleware.WithOrganizationID(req.Context(), "org-1")
	return req.WithContext(middleware.WithActor(ctx, middleware.Actor{ID: actorID, Type: "human"}))
}

func TestIdempotencyCallCounts(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		first     *http.Request
		second    *http.Request
		wantCalls int
	}{
		{"no key", http.StatusCreated, cosignRequest("", "u1", `{}`), cosignRequest("", "u1", `{}`), 2},
		{"same key replays", http.StatusCreated, cosignRequest("k1", "u1", `{}`), cosignRequest("k1", "u1", `{}`), 1},
		{"client error replays", http.StatusConflict, cosignRequest("k1", "u1", `{}`), cosignRequest("k1", "u1", `{}`), 1},
		{"scoped per actor", http.StatusOK, cosignRequest("k1", "u1", `{}`), cosignRequest("k1", "u2", `{}`), 2},
		{"different keys", http.StatusOK, cosignRequest("k1", "u1", `{}`), cosignRequest("k2", "u1", `{}`), 2},
		{"server error not stored", http.StatusInternalServerError, cosignRequest("k1", "u1", `{}`), cosignRequest("k1", "u1", `{}`), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := 0
			h := middleware.Idempotency(newMapCache(), time.Hour)(makeTestHandler(&counter, tt.status))
			h.ServeHTTP(httptest.NewRecorder(), tt.first)
			h.ServeHTTP(httptest.NewRecorder(), tt.second)
			if counter != tt.wantCalls {
				t.Fatalf("handler called %d times, want %d", counter, tt.wantCalls)
			}
		})
	}
}

func TestIdempotencyReplay(t *testing.T) {
	counter := 0
	c := newMapCache()
	h := middleware.Idempotency(c, time.Hour)(makeTestHandler(&counter, http.StatusCreated))

	h.ServeHTTP(httptest.NewRecorder(), cosignRequest("key with spaces/and:colons", "u1", `{"note":"ok"}`))
	keys := c.keys()
	if len(keys) != 1 || !strings.HasPrefix(keys[0], "idem:org-1:") || strings.ContainsAny(keys[0][len("idem:org-1:"):], " /:") {
		t.Fatalf("stored key not hashed into org scope: %v", keys)
	}
	if c.ttls[keys[0]] != time.Hour {
		t.Errorf("expected 1h TTL, got %v", c.ttls[keys[0]])
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, cosignRequest("key with spaces/and:colons", "u1", `{"note":"ok"}`))
	if w.Code != http.StatusCreated || w.Body.String() != `{"call":1}` {
		t.Fatalf("expected replayed 201 {\"call\":1}, got %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Idempotent-Replayed") != "true" || w.Header().Get("Content-Type") != "application/json" {
		t.Errorf("unexpected replay headers: %v", w.Header())
	}
	if w.Header().Get("X-Request-ID") != "" {
		t.Error("request ID of the first delivery was replayed")
	}
}

func TestIdempotencyKeyReusedWithDifferentBody(t *testing.T) {
	counter := 0
	h := middleware.Idempotency(newMapCache(), time.Hour)(makeTestHandler(&counter, http.StatusOK))

	h.ServeHTTP(httptest.NewRecorder(), cosignRequest("k1", "u1", `{"decision":"approve"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, cosignRequest("k1", "u1", `{"decision":"reject"}`))

	if w.Code != http.StatusUnprocessableEntity || counter != 1 {
		t.Fatalf("expected 422 without a second call, got %d after %d calls", w.Code, counter)
	}
}

func TestIdempotencyIgnoresReads(t *testing.T) {
	counter := 0
	h := middleware.Idempotency(newMapCache(), time.Hour)(makeTestHandler(&counter, http.StatusOK))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/zones", http.NoBody)
	req.Header.Set("Idempotency-Key", "key-get")
	h.ServeHTTP(httptest.NewRecorder(), req)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if counter != 2 {
		t.Fatalf("expected handler called twice, got %d", counter)
	}
}
