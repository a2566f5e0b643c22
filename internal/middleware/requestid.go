// Package middleware holds the HTTP middleware of the governance API.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/logger"
)

const headerRequestID = "X-Request-ID"

// RequestID starts the request's log scope. A caller-supplied X-Request-ID
// is kept when it is a plain token of at most 128 characters; otherwise a
// UUID is generated. The ID is echoed on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, c := range []byte(id) {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}
