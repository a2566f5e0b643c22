package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	cfotel "github.com/nintynick/openclaw-mission-control-sub001/internal/adapter/otel"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/middleware"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/cache"
)

// RouterOptions carries the cross-cutting pieces of the HTTP stack.
type RouterOptions struct {
	ServiceName    string
	CORSOrigin     string
	RateLimiter    *middleware.RateLimiter // nil disables rate limiting
	Idempotency    cache.Cache             // nil disables Idempotency-Key replay
	IdempotencyTTL time.Duration
	// WebSocket serves the dashboard feed at /ws when set.
	WebSocket http.HandlerFunc
}

// NewRouter builds the full handler: global middleware, /health, /ws and
// the tenant-scoped API.
func NewRouter(h *Handlers, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(Logger)
	r.Use(SecurityHeaders)
	if opts.CORSOrigin != "" {
		r.Use(CORS(opts.CORSOrigin))
	}
	if opts.ServiceName != "" {
		r.Use(cfotel.HTTPMiddleware(opts.ServiceName, r))
	}

	r.Get("/health", h.Health)
	if opts.WebSocket != nil {
		r.Get("/ws", opts.WebSocket)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Organization)
		r.Use(middleware.RequireActor)
		if opts.RateLimiter != nil {
			r.Use(opts.RateLimiter.Handler)
		}
		if opts.Idempotency != nil {
			r.Use(middleware.Idempotency(opts.Idempotency, opts.IdempotencyTTL))
		}
		MountRoutes(r, h)
	})
	return r
}

// MountRoutes registers all API routes on the given chi router. The router
// must already resolve the organization and actor of each request.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": "1"})
		})

		r.Route("/zones", h.zoneRoutes)
		r.Route("/proposals", h.proposalRoutes)
		r.Route("/escalations", h.escalationRoutes)
		r.Route("/evaluations", h.evaluationRoutes)
		r.Route("/agents", h.agentRoutes)
		r.Get("/audit", h.ListAudit)
	})
}
