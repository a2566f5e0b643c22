package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/cache"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	maxIdempotencyBody   = 1 << 20
)

// Response headers that belong to one delivery and are never replayed.
var perRequestHeaders = []string{headerRequestID, "X-RateLimit-Remaining", "Retry-After"}

type storedResponse struct {
	Fingerprint string      `json:"fingerprint"`
	Status      int         `json:"status"`
	Header      http.Header `json:"header"`
	Body        []byte      `json:"body"`
}

// Idempotency replays the stored response for a repeated Idempotency-Key on
// mutating requests, so a retried cosign or decision does not act twice.
// Keys are scoped to organization, actor, method and path. Reusing a key with
// a different body is rejected with 422. Server errors are not stored.
func Idempotency(c cache.Cache, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			idemKey := r.Header.Get(headerIdempotencyKey)
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				idemKey = ""
			}
			if idemKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotencyBody+1))
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "unreadable request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			sum := sha256.Sum256(body)
			fingerprint := hex.EncodeToString(sum[:])
			key := idempotencyCacheKey(r, idemKey)

			prev, found, err := cache.GetJSON[storedResponse](r.Context(), c, key)
			if err != nil {
				slog.WarnContext(r.Context(), "idempotency.lookup_failed", "error", err)
			}
			if found {
				if prev.Fingerprint != fingerprint {
					writeJSONError(w, http.StatusUnprocessableEntity, "Idempotency-Key was already used with a different request body")
					return
				}
				for k, vals := range prev.Header {
					w.Header()[k] = vals
				}
				w.Header().Set(headerReplayed, "true")
				w.WriteHeader(prev.Status)
				_, _ = w.Write(prev.Body)
				return
			}

			rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)
			if rec.statusCode >= http.StatusInternalServerError || rec.body.Len() > maxIdempotencyBody {
				return
			}

			hdr := w.Header().Clone()
			for _, h := range perRequestHeaders {
				hdr.Del(h)
			}
			resp := storedResponse{Fingerprint: fingerprint, Status: rec.statusCode, Header: hdr, Body: rec.body.Bytes()}
			if err := cache.SetJSON(r.Context(), c, key, resp, ttl); err != nil {
				slog.WarnContext(r.Context(), "idempotency.store_failed", "error", err)
			}
		})
	}
}

// idempotencyCacheKey hashes the scope so arbitrary client keys and paths
// fit the NATS KV key alphabet.
func idempotencyCacheKey(r *http.Request, key string) string {
	actorID := ""
	if a, ok := ActorFromContext(r.Context()); ok {
		actorID = a.ID
	}
	orgID := OrganizationIDFromContext(r.Context())
	sum := sha256.Sum256([]byte(actorID + "\x00" + r.Method + "\x00" + r.URL.Path + "\x00" + key))
	return "idem:" + orgID + ":" + hex.EncodeToString(sum[:16])
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
