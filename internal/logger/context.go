package logger

import (
	"context"
	"sync"
)

// scope holds the request-scoped log fields. Tenant middleware runs inside
// the request logger, so the scope travels by pointer and is filled in late.
type scope struct {
	requestID string

	mu      sync.RWMutex
	orgID   string
	actorID string
}

type scopeKey struct{}

func scopeFrom(ctx context.Context) *scope {
	s, _ := ctx.Value(scopeKey{}).(*scope)
	return s
}

// WithRequestID starts a new log scope in ctx for the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, scopeKey{}, &scope{requestID: id})
}

// RequestID returns the request ID of the scope in ctx, or "".
func RequestID(ctx context.Context) string {
	if s := scopeFrom(ctx); s != nil {
		return s.requestID
	}
	return ""
}

// SetTenant records the organization and actor on the scope in ctx.
// Without a scope it does nothing.
func SetTenant(ctx context.Context, orgID, actorID string) {
	s := scopeFrom(ctx)
	if s == nil {
		return
	}
	s.mu.Lock()
	s.orgID, s.actorID = orgID, actorID
	s.mu.Unlock()
}

// Tenant returns the organization and actor recorded by SetTenant.
func Tenant(ctx context.Context) (orgID, actorID string) {
	s := scopeFrom(ctx)
	if s == nil {
		return "", ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orgID, s.actorID
}
