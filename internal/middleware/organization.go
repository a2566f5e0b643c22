package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/logger"
)

const (
	headerOrganizationID = "X-Organization-ID"
	headerActorID        = "X-Actor-ID"
	headerActorType      = "X-Actor-Type"
)

// Actor identifies who performs a request.
type Actor struct {
	ID   string
	Type string // "human" or "agent"
}

type (
	orgCtxKey   struct{}
	actorCtxKey struct{}
)

// Organization is middleware that requires a UUID X-Organization-ID header
// and stores it in the request context. An optional X-Actor-ID (UUID) with
// X-Actor-Type ("human" default, or "agent") is stored as the Actor.
func Organization(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID, err := uuid.Parse(r.Header.Get(headerOrganizationID))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "X-Organization-ID header must be a UUID")
			return
		}
		ctx := WithOrganizationID(r.Context(), orgID.String())

		if raw := r.Header.Get(headerActorID); raw != "" {
			actorID, err := uuid.Parse(raw)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "X-Actor-ID header must be a UUID")
				return
			}
			actorType := r.Header.Get(headerActorType)
			switch actorType {
			case "":
				actorType = "human"
			case "human", "agent":
			default:
				writeJSONError(w, http.StatusBadRequest, "X-Actor-Type must be human or agent")
				return
			}
			ctx = WithActor(ctx, Actor{ID: actorID.String(), Type: actorType})
		}
		a, _ := ActorFromContext(ctx)
		logger.SetTenant(ctx, orgID.String(), a.ID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireActor rejects mutating requests that carry no actor.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
		default:
			if _, ok := ActorFromContext(r.Context()); !ok {
				writeJSONError(w, http.StatusUnauthorized, "X-Actor-ID header is required")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// WithOrganizationID returns ctx scoped to the given organization. Background
// jobs use it before calling tenant-scoped store methods.
func WithOrganizationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, orgCtxKey{}, id)
}

// OrganizationIDFromContext returns the organization ID stored in ctx, or "".
func OrganizationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(orgCtxKey{}).(string)
	return id
}

// WithActor returns ctx carrying the given actor.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorCtxKey{}, a)
}

// ActorFromContext returns the actor stored in ctx.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorCtxKey{}).(Actor)
	return a, ok
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
