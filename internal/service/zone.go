package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/audit"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/queue"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/zone"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/middleware"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/broadcast"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/cache"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/database"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/messagequeue"
)

// actorOf returns the request actor, or the system actor for background work.
func actorOf(ctx context.Context) middleware.Actor {
	if a, ok := middleware.ActorFromContext(ctx); ok {
		return a
	}
	return middleware.Actor{ID: audit.SystemActorID, Type: audit.ActorSystem}
}

// ZoneService manages trust zones and their assignments. Zone reads go
// through the cache; every write invalidates the zones it touched.
type ZoneService struct {
	store    database.Store
	cache    cache.Cache
	ttl      time.Duration
	notifier *NotificationService
	hub      broadcast.Broadcaster
}

// NewZoneService creates a ZoneService. c may be nil to disable caching.
func NewZoneService(store database.Store, c cache.Cache, ttl time.Duration) *ZoneService {
	return &ZoneService{store: store, cache: c, ttl: ttl, hub: broadcast.Nop{}}
}

// SetNotifier attaches the notification service.
func (s *ZoneService) SetNotifier(n *NotificationService) { s.notifier = n }

// SetBroadcaster attaches the dashboard hub.
func (s *ZoneService) SetBroadcaster(b broadcast.Broadcaster) { s.hub = b }

func zoneCacheKey(ctx context.Context, id string) string {
	return "zone:" + middleware.OrganizationIDFromContext(ctx) + ":" + id
}

func (s *ZoneService) invalidate(ctx context.Context, ids ...string) {
	if s.cache == nil {
		return
	}
	for _, id := range ids {
		if err := s.cache.Delete(ctx, zoneCacheKey(ctx, id)); err != nil {
			slog.WarnContext(ctx, "zone.cache_invalidate_failed", "zone_id", id, "error", err)
		}
	}
}

// Get returns a zone of the caller's organization.
func (s *ZoneService) Get(ctx context.Context, id string) (*zone.Zone, error) {
	key := zoneCacheKey(ctx, id)
	if s.cache != nil {
		if z, ok, err := cache.GetJSON[zone.Zone](ctx, s.cache, key); err == nil && ok {
			return &z, nil
		}
	}

	z, err := s.store.GetZone(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, key, z, s.ttl); err != nil {
			slog.WarnContext(ctx, "zone.cache_set_failed", "zone_id", id, "error", err)
		}
	}
	return z, nil
}

// List returns the organization's zones matching filter.
func (s *ZoneService) List(ctx context.Context, filter zone.ListFilter) ([]zone.Zone, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, domain.Validationf("unknown zone status %q", filter.Status)
	}
	return s.store.ListZones(ctx, filter)
}

func validatePolicies(p *zone.Policies) error {
	body := p.Raw()
	if body == nil {
		var err error
		if body, err = json.Marshal(p); err != nil {
			return domain.Validationf("policy blocks: %v", err)
		}
	}
	return zone.ValidatePolicyDocuments(body)
}

// parent loads the parent zone for a create or update. A parent outside the
// organization is a validation error, not a 404.
func (s *ZoneService) parent(ctx context.Context, id string) (*zone.Zone, error) {
	p, err := s.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Validationf("parent zone %s not found in organization", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get parent zone %s: %w", id, err)
	}
	return p, nil
}

// Create adds a zone. The slug defaults to the slugified name.
func (s *ZoneService) Create(ctx context.Context, req zone.CreateRequest) (*zone.Zone, error) {
	if err := zone.ValidateCreateRequest(&req); err != nil {
		return nil, err
	}
	if err := validatePolicies(&req.Policies); err != nil {
		return nil, err
	}

	slug := req.Slug
	if slug == "" {
		slug = zone.Slugify(req.Name)
	}
	if slug == "" {
		return nil, domain.Validationf("name %q does not produce a valid slug", req.Name)
	}

	if req.ParentZoneID != "" {
		parent, err := s.parent(ctx, req.ParentZoneID)
		if err != nil {
			return nil, err
		}
		// Descendants of a suspended or archived zone must already carry
		// that status; a new child would sit outside the cascade.
		if zone.CascadeApplies(parent.Status) {
			return nil, domain.Validationf("parent zone %s is %s", parent.ID, parent.Status)
		}
		if err := zone.ValidateConstraintNarrowing(parent.Constraints, req.Constraints); err != nil {
			return nil, err
		}
	}

	status := req.Status
	if status == "" {
		status = zone.StatusDraft
	}
	actor := actorOf(ctx)
	p := req.Policies
	z := &zone.Zone{
		ParentZoneID:          req.ParentZoneID,
		Name:                  req.Name,
		Slug:                  slug,
		Description:           req.Description,
		Status:                status,
		CreatedBy:             actor.ID,
		Responsibilities:      p.Responsibilities,
		ResourceScope:         p.ResourceScope,
		AgentQualifications:   p.AgentQualifications,
		AlignmentRequirements: p.AlignmentRequirements,
		IncentiveModel:        p.IncentiveModel,
		Constraints:           p.Constraints,
		DecisionModel:         p.DecisionModel,
		ApprovalPolicy:        p.ApprovalPolicy,
		EscalationPolicy:      p.EscalationPolicy,
		EvaluationCriteria:    p.EvaluationCriteria,
	}
	entry := &audit.Entry{
		ActorID:    actor.ID,
		ActorType:  actor.Type,
		Action:     audit.ActionZoneCreate,
		TargetType: audit.TargetZone,
		Payload:    map[string]any{"name": z.Name, "slug": z.Slug, "parent_zone_id": z.ParentZoneID},
	}
	if err := s.store.CreateZone(ctx, z, entry); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "zone.created", "zone_id", z.ID, "slug", z.Slug, "parent_zone_id", z.ParentZoneID)
	return z, nil
}

// Update applies a partial update. Changed constraints are checked against
// the parent again.
func (s *ZoneService) Update(ctx context.Context, id string, req zone.UpdateRequest) (*zone.Zone, error) {
	if req.Name != nil && *req.Name == "" {
		return nil, domain.Validationf("name cannot be empty")
	}
	if req.DecisionModel != nil {
		if err := req.DecisionModel.Validate(); err != nil {
			return nil, err
		}
	}
	if err := validatePolicies(&req.Policies); err != nil {
		return nil, err
	}

	z, err := s.store.GetZone(ctx, id)
	if err != nil {
		return nil, err
	}
	if z.Status == zone.StatusArchived {
		return nil, domain.Conflictf("zone %s is archived", id)
	}
	if req.Constraints != nil && z.ParentZoneID != "" {
		parent, err := s.parent(ctx, z.ParentZoneID)
		if err != nil {
			return nil, err
		}
		if err := zone.ValidateConstraintNarrowing(parent.Constraints, req.Constraints); err != nil {
			return nil, err
		}
	}

	req.Apply(z)
	actor := actorOf(ctx)
	entry := &audit.Entry{
		ZoneID:     z.ID,
		ActorID:    actor.ID,
		ActorType:  actor.Type,
		Action:     audit.ActionZoneUpdate,
		TargetType: audit.TargetZone,
		TargetID:   z.ID,
	}
	if err := s.store.UpdateZone(ctx, z, entry); err != nil {
		return nil, err
	}
	s.invalidate(ctx, z.ID)
	return z, nil
}

// Transition changes a zone's status and cascades archive and suspend to
// its descendants. It returns the zone and the ids of cascaded descendants.
func (s *ZoneService) Transition(ctx context.Context, id string, target zone.Status) (*zone.Zone, []string, error) {
	if !target.IsValid() {
		return nil, nil, domain.Validationf("unknown zone status %q", target)
	}
	actor := actorOf(ctx)
	entry := &audit.Entry{
		ZoneID:     id,
		ActorID:    actor.ID,
		ActorType:  actor.Type,
		Action:     audit.ActionZoneStatusChange,
		TargetType: audit.TargetZone,
		TargetID:   id,
	}
	z, cascaded, err := s.store.TransitionZone(ctx, id, target, entry)
	if err != nil {
		return nil, nil, err
	}
	s.invalidate(ctx, append([]string{id}, cascaded...)...)

	slog.InfoContext(ctx, "zone.status_changed", "zone_id", id, "status", target, "cascaded", len(cascaded))
	s.notifier.Notify(ctx, queue.GovernanceNotification{
		EventType:      messagequeue.EventZoneStatusChanged,
		OrganizationID: z.OrganizationID,
		ZoneID:         z.ID,
		TargetIDs:      append([]string{z.ID}, cascaded...),
		Payload:        map[string]any{"status": string(target), "cascaded_zone_ids": cascaded},
	})
	s.hub.BroadcastEvent(ctx, z.OrganizationID, broadcast.EventZoneStatus, map[string]any{
		"zone_id":           z.ID,
		"status":            z.Status,
		"cascaded_zone_ids": cascaded,
	})
	return z, cascaded, nil
}

// Ancestry returns the chain from the zone up to the root.
func (s *ZoneService) Ancestry(ctx context.Context, id string) ([]*zone.Zone, error) {
	z, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return zone.Ancestry(z, func(parentID string) (*zone.Zone, error) {
		p, err := s.Get(ctx, parentID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return p, err
	})
}

// AncestorIDs returns the ids above z, nearest first.
func (s *ZoneService) AncestorIDs(ctx context.Context, z *zone.Zone) ([]string, error) {
	if z.IsRoot() {
		return nil, nil
	}
	chain, err := s.Ancestry(ctx, z.ID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(chain)-1)
	for _, a := range chain[1:] {
		ids = append(ids, a.ID)
	}
	return ids, nil
}

// Children lists the direct children of a zone.
func (s *ZoneService) Children(ctx context.Context, id string) ([]zone.Zone, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListZones(ctx, zone.ListFilter{ParentZoneID: id})
}

// Assign adds a member to a zone role.
func (s *ZoneService) Assign(ctx context.Context, zoneID string, req zone.AssignRequest) (*zone.Assignment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	a := &zone.Assignment{
		ZoneID:     zoneID,
		MemberID:   req.MemberID,
		Role:       req.Role,
		AssignedBy: actorOf(ctx).ID,
	}
	if err := s.store.CreateAssignment(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Unassign removes an assignment from a zone.
func (s *ZoneService) Unassign(ctx context.Context, zoneID, assignmentID string) error {
	return s.store.DeleteAssignment(ctx, zoneID, assignmentID)
}

// Assignments lists the assignments of a zone.
func (s *ZoneService) Assignments(ctx context.Context, zoneID string) ([]zone.Assignment, error) {
	if _, err := s.Get(ctx, zoneID); err != nil {
		return nil, err
	}
	return s.store.ListAssignments(ctx, zoneID)
}

// MembersWithRole returns the member ids holding role in a zone, in
// assignment order and without duplicates.
func (s *ZoneService) MembersWithRole(ctx context.Context, zoneID string, role zone.Role) ([]string, error) {
	assignments, err := s.store.ListAssignments(ctx, zoneID)
	if err != nil {
		return nil, fmt.Errorf("list assignments of zone %s: %w", zoneID, err)
	}
	seen := make(map[string]struct{})
	var out []string
	for _, a := range assignments {
		if a.Role != role {
			continue
		}
		if _, dup := seen[a.MemberID]; dup {
			continue
		}
		seen[a.MemberID] = struct{}{}
		out = append(out, a.MemberID)
	}
	return out, nil
}
