package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/zone"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/messagequeue"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/resilience"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Zones       *service.ZoneService
	Proposals   *service.ProposalService
	Escalations *service.EscalationService
	Lifecycle   *service.LifecycleService
	Audit       *service.AuditService
	Evaluations *service.EvaluationService
	Permissions *service.PermissionService
	// Ping checks the backing store for /health. Nil reports healthy.
	Ping func(ctx context.Context) error
	// Breakers are listed on /health. An open breaker degrades a feature
	// but does not fail the check.
	Breakers []*resilience.Breaker
	// Events reports broker connectivity. Events queue in the task queue
	// while it is down, so a lost connection does not fail the check.
	Events messagequeue.Publisher
}

type healthResponse struct {
	Status   string            `json:"status"`
	Error    string            `json:"error,omitempty"`
	Breakers map[string]string `json:"breakers,omitempty"`
	Events   string            `json:"events,omitempty"`
}

// Health reports process and store liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if len(h.Breakers) > 0 {
		resp.Breakers = make(map[string]string, len(h.Breakers))
		for _, b := range h.Breakers {
			resp.Breakers[b.Name()] = b.State()
		}
	}
	if h.Events != nil {
		resp.Events = "connected"
		if !h.Events.IsConnected() {
			resp.Events = "disconnected"
		}
	}
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			resp.Status, resp.Error = "unavailable", err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Zones ---

// ListZones handles GET /api/v1/zones?parent_zone_id=&status=.
func (h *Handlers) ListZones(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := zone.ListFilter{Status: zone.Status(q.Get("status"))}
	if raw := q.Get("parent_zone_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "parent_zone_id must be a UUID")
			return
		}
		filter.ParentZoneID = id.String()
	}
	zones, err := h.Zones.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err, "zone not found")
		return
	}
	if zones == nil {
		zones = []zone.Zone{}
	}
	writeJSON(w, http.StatusOK, zones)
}

type transitionResponse struct {
	Zone            *zone.Zone `json:"zone"`
	CascadedZoneIDs []string   `json:"cascaded_zone_ids"`
}

// TransitionZone handles POST /api/v1/zones/{id}/transition.
func (h *Handlers) TransitionZone(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	req, ok := readJSON[zone.TransitionRequest](w, r)
	if !ok {
		return
	}
	z, cascaded, err := h.Zones.Transition(r.Context(), id, req.Status)
	if err != nil {
		writeDomainError(w, err, "zone not found")
		return
	}
	if cascaded == nil {
		cascaded = []string{}
	}
	writeJSON(w, http.StatusOK, transitionResponse{Zone: z, CascadedZoneIDs: cascaded})
}

// DeleteAssignment handles DELETE /api/v1/zones/{id}/assignments/{assignmentID}.
func (h *Handlers) DeleteAssignment(w http.ResponseWriter, r *http.Request) {
	zoneID, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	assignmentID, ok := urlID(w, r, "assignmentID")
	if !ok {
		return
	}
	if err := h.Zones.Unassign(r.Context(), zoneID, assignmentID); err != nil {
		writeDomainError(w, err, "assignment not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// zoneRoutes mounts the /zones subtree.
func (h *Handlers) zoneRoutes(r chi.Router) {
	r.Post("/", handleCreate(h.Zones.Create, "parent zone not found"))
	r.Get("/", h.ListZones)
	r.Get("/{id}", handleGet(h.Zones.Get, "zone not found"))
	r.Patch("/{id}", handleAction(http.StatusOK, requiredBody, h.Zones.Update, "zone not found"))
	r.Post("/{id}/transition", h.TransitionZone)
	r.Get("/{id}/ancestry", handleListByID(h.Zones.Ancestry, "zone not found"))
	r.Get("/{id}/children", handleListByID(h.Zones.Children, "zone not found"))
	r.Get("/{id}/assignments", handleListByID(h.Zones.Assignments, "zone not found"))
	r.Get("/{id}/permissions", h.ZonePermissions)
	r.Post("/{id}/assignments", handleAction(http.StatusCreated, requiredBody, h.Zones.Assign, "zone not found"))
	r.Delete("/{id}/assignments/{assignmentID}", h.DeleteAssignment)
	r.Post("/{id}/escalate-governance", handleAction(http.StatusCreated, optionalBody, h.Escalations.EscalateZone, "zone not found"))
}
