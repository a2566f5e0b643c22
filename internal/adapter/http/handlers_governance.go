package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/audit"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/escalation"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/evaluation"
)

// ListEscalations handles GET /api/v1/escalations?escalation_type=&status=.
func (h *Handlers) ListEscalations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := h.Escalations.List(r.Context(), escalation.ListFilter{
		EscalationType: escalation.Type(q.Get("escalation_type")),
		Status:         escalation.Status(q.Get("status")),
	})
	if err != nil {
		writeDomainError(w, err, "escalation not found")
		return
	}
	if items == nil {
		items = []escalation.Escalation{}
	}
	writeJSON(w, http.StatusOK, items)
}

// ListEvaluations handles GET /api/v1/evaluations?zone_id=&status=.
func (h *Handlers) ListEvaluations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := evaluation.ListFilter{Status: evaluation.Status(q.Get("status"))}
	if raw := q.Get("zone_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "zone_id must be a UUID")
			return
		}
		filter.ZoneID = id.String()
	}
	items, err := h.Evaluations.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err, "evaluation not found")
		return
	}
	if items == nil {
		items = []evaluation.Evaluation{}
	}
	writeJSON(w, http.StatusOK, items)
}

// ZonePermissions handles GET /api/v1/zones/{id}/permissions?member_id=.
// Without member_id it answers for the caller.
func (h *Handlers) ZonePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	member := r.URL.Query().Get("member_id")
	if member != "" {
		parsed, err := uuid.Parse(member)
		if err != nil {
			writeError(w, http.StatusBadRequest, "member_id must be a UUID")
			return
		}
		member = parsed.String()
	}
	perms, err := h.Permissions.Effective(r.Context(), id, member)
	if err != nil {
		writeDomainError(w, err, "zone not found")
		return
	}
	writeJSON(w, http.StatusOK, perms)
}

// ListAudit handles GET /api/v1/audit?zone_id=&limit=.
func (h *Handlers) ListAudit(w http.ResponseWriter, r *http.Request) {
	zoneID := r.URL.Query().Get("zone_id")
	if zoneID != "" {
		id, err := uuid.Parse(zoneID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "zone_id must be a UUID")
			return
		}
		zoneID = id.String()
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	entries, err := h.Audit.List(r.Context(), zoneID, limit)
	if err != nil {
		writeDomainError(w, err, "zone not found")
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handlers) proposalRoutes(r chi.Router) {
	r.Post("/", handleCreate(h.Proposals.Create, "zone not found"))
	r.Get("/{id}", handleGet(h.Proposals.Get, "proposal not found"))
	r.Post("/{id}/decisions", handleAction(http.StatusOK, requiredBody, h.Proposals.RecordDecision, "proposal not found"))
	r.Post("/{id}/escalate", handleAction(http.StatusCreated, optionalBody, h.Escalations.EscalateProposal, "proposal not found"))
}

func (h *Handlers) escalationRoutes(r chi.Router) {
	r.Get("/", h.ListEscalations)
	r.Get("/{id}", handleGet(h.Escalations.Get, "escalation not found"))
	r.Post("/{id}/cosign", handleCommand(h.Escalations.Cosign, "escalation not found"))
	r.Post("/{id}/resolve", handleAction(http.StatusOK, optionalBody, h.Escalations.Resolve, "escalation not found"))
	r.Post("/{id}/dismiss", handleCommand(h.Escalations.Dismiss, "escalation not found"))
}

func (h *Handlers) evaluationRoutes(r chi.Router) {
	r.Post("/", handleCreate(h.Evaluations.Create, "zone not found"))
	r.Get("/", h.ListEvaluations)
	r.Get("/{id}", handleGet(h.Evaluations.Get, "evaluation not found"))
	r.Post("/{id}/scores", handleAction(http.StatusCreated, requiredBody, h.Evaluations.SubmitScore, "evaluation not found"))
	r.Post("/{id}/finalize", handleCommand(h.Evaluations.Finalize, "evaluation not found"))
	r.Post("/{id}/apply-signals", handleCommand(h.Evaluations.ApplySignals, "evaluation not found"))
}

func (h *Handlers) agentRoutes(r chi.Router) {
	r.Post("/{id}/wake", handleCommand(h.Lifecycle.Wake, "agent not found"))
	r.Post("/{id}/checkin", handleCommand(h.Lifecycle.CheckIn, "agent not found"))
}
