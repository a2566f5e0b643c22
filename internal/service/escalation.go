package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	cfotel "github.com/nintynick/openclaw-mission-control-sub001/internal/adapter/otel"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/config"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/audit"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/escalation"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/proposal"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/queue"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/zone"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/middleware"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/broadcast"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/database"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/messagequeue"
)

// EscalationService forwards proposals and zone-level concerns to a target
// zone and tracks governance escalations through co-signing.
type EscalationService struct {
	store     database.Store
	zones     *ZoneService
	proposals *ProposalService
	notifier  *NotificationService
	hub       broadcast.Broadcaster
	metrics   *cfotel.Metrics
	cfg       config.Escalation
	now       func() time.Time
}

// NewEscalationService creates an EscalationService.
func NewEscalationService(store database.Store, zones *ZoneService, proposals *ProposalService, cfg config.Escalation) *EscalationService {
	return &EscalationService{
		store:     store,
		zones:     zones,
		proposals: proposals,
		hub:       broadcast.Nop{},
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetNotifier attaches the notification service.
func (s *EscalationService) SetNotifier(n *NotificationService) { s.notifier = n }

// SetBroadcaster attaches the dashboard hub.
func (s *EscalationService) SetBroadcaster(b broadcast.Broadcaster) { s.hub = b }

// SetMetrics attaches otel instruments.
func (s *EscalationService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// Get returns an escalation with its cosigners.
func (s *EscalationService) Get(ctx context.Context, id string) (*escalation.Escalation, error) {
	return s.store.GetEscalation(ctx, id)
}

// List returns the organization's escalations matching filter.
func (s *EscalationService) List(ctx context.Context, filter escalation.ListFilter) ([]escalation.Escalation, error) {
	switch filter.EscalationType {
	case "", escalation.TypeAction, escalation.TypeGovernance:
	default:
		return nil, domain.Validationf("unknown escalation type %q", filter.EscalationType)
	}
	switch filter.Status {
	case "", escalation.StatusPending, escalation.StatusAccepted, escalation.StatusDismissed, escalation.StatusResolved:
	default:
		return nil, domain.Validationf("unknown escalation status %q", filter.Status)
	}
	return s.store.ListEscalations(ctx, filter)
}

// threshold is the zone's cosigner_threshold, else the configured default.
func (s *EscalationService) threshold(z *zone.Zone) int {
	if z != nil && z.EscalationPolicy != nil && z.EscalationPolicy.CosignerThreshold != nil {
		return zone.CosignerThreshold(z)
	}
	if s.cfg.DefaultCosignerThreshold > 0 {
		return s.cfg.DefaultCosignerThreshold
	}
	return zone.CosignerThreshold(z)
}

// target resolves and loads the target zone of an escalation out of source.
func (s *EscalationService) target(ctx context.Context, source *zone.Zone, requested string) (*zone.Zone, error) {
	ancestors, err := s.zones.AncestorIDs(ctx, source)
	if err != nil {
		return nil, err
	}
	id, err := escalation.ResolveTarget(source, ancestors, requested)
	if err != nil {
		return nil, err
	}
	t, err := s.zones.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Validationf("target zone %s not found in organization", id)
	}
	return t, err
}

// EscalateProposal pauses a pending proposal and files an "[Escalated]" copy
// of it in the target zone.
func (s *EscalationService) EscalateProposal(ctx context.Context, proposalID string, req escalation.ActionRequest) (*escalation.Escalation, error) {
	src, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if src.Status != proposal.StatusPendingReview {
		return nil, domain.Conflictf("proposal is %s, only pending proposals can be escalated", src.Status)
	}
	source, err := s.zones.Get(ctx, src.ZoneID)
	if err != nil {
		return nil, err
	}
	target, err := s.target(ctx, source, req.TargetZoneID)
	if err != nil {
		return nil, err
	}

	actor := actorOf(ctx)
	description := "Escalated from zone " + source.Name
	if req.Reason != "" {
		description += ": " + req.Reason
	}
	resulting := &proposal.Proposal{
		OrganizationID: src.OrganizationID,
		ZoneID:         target.ID,
		ProposerID:     actor.ID,
		Title:          escalatedTitle(src.Title),
		Description:    description,
		ProposalType:   src.ProposalType,
		Payload:        src.Payload,
		Status:         proposal.StatusPendingReview,
		ExpiresAt:      src.ExpiresAt,
	}
	if resulting.ApprovalRequests, err = s.proposals.reviewRequests(ctx, resulting, target.ID); err != nil {
		return nil, err
	}

	e := &escalation.Escalation{
		EscalationType:   escalation.TypeAction,
		SourceProposalID: src.ID,
		SourceZoneID:     source.ID,
		TargetZoneID:     target.ID,
		EscalatorID:      actor.ID,
		Reason:           req.Reason,
		Status:           escalation.StatusPending,
	}
	err = s.store.CreateEscalation(ctx, database.NewEscalation{
		Escalation:        e,
		CheckRateLimit:    func(recent int) error { return escalation.CheckRateLimit(source, recent) },
		ResultingProposal: resulting,
		Now:               s.now().UTC(),
		Audit: []audit.Entry{{
			ZoneID:    source.ID,
			ActorID:   actor.ID,
			ActorType: actor.Type,
			Action:    audit.ActionEscalationCreate,
			Payload: map[string]any{
				"escalation_type":    string(e.EscalationType),
				"source_proposal_id": src.ID,
				"target_zone_id":     target.ID,
			},
		}},
	})
	if err != nil {
		return nil, err
	}
	s.created(ctx, e, resulting.ApprovalRequests)
	return e, nil
}

// EscalateZone opens a governance escalation on a zone. The escalator is
// its first cosigner.
func (s *EscalationService) EscalateZone(ctx context.Context, zoneID string, req escalation.GovernanceRequest) (*escalation.Escalation, error) {
	source, err := s.zones.Get(ctx, zoneID)
	if err != nil {
		return nil, err
	}
	target, err := s.target(ctx, source, req.TargetZoneID)
	if err != nil {
		return nil, err
	}

	actor := actorOf(ctx)
	e := &escalation.Escalation{
		EscalationType: escalation.TypeGovernance,
		SourceZoneID:   source.ID,
		TargetZoneID:   target.ID,
		EscalatorID:    actor.ID,
		Reason:         req.Reason,
		Status:         escalation.StatusPending,
	}
	err = s.store.CreateEscalation(ctx, database.NewEscalation{
		Escalation:        e,
		CheckRateLimit:    func(recent int) error { return escalation.CheckRateLimit(source, recent) },
		CosignAsEscalator: true,
		Now:               s.now().UTC(),
		Audit: []audit.Entry{{
			ZoneID:    source.ID,
			ActorID:   actor.ID,
			ActorType: actor.Type,
			Action:    audit.ActionEscalationCreate,
			Payload: map[string]any{
				"escalation_type": string(e.EscalationType),
				"target_zone_id":  target.ID,
			},
		}},
	})
	if err != nil {
		return nil, err
	}
	s.created(ctx, e, nil)

	// A threshold of one is met by the escalator alone.
	if len(e.Cosigners) >= s.threshold(source) {
		res, err := s.cosign(ctx, e, source, e.EscalatorID)
		if err != nil {
			return nil, err
		}
		return res.Escalation, nil
	}
	return e, nil
}

func (s *EscalationService) created(ctx context.Context, e *escalation.Escalation, requests []proposal.ApprovalRequest) {
	s.metrics.EscalationCreated(ctx, string(e.EscalationType))
	slog.InfoContext(ctx, "escalation.created",
		"escalation_id", e.ID, "type", e.EscalationType, "source_zone_id", e.SourceZoneID, "target_zone_id", e.TargetZoneID)

	targets := make([]string, 0, len(requests))
	for _, r := range requests {
		targets = append(targets, r.ReviewerID)
	}
	if len(targets) == 0 {
		approvers, err := s.zones.MembersWithRole(ctx, e.TargetZoneID, zone.RoleApprover)
		if err != nil {
			slog.WarnContext(ctx, "escalation.notify_targets_failed", "escalation_id", e.ID, "error", err)
		}
		targets = approvers
	}
	if len(targets) > 0 {
		payload := map[string]any{
			"escalation_id":   e.ID,
			"escalation_type": string(e.EscalationType),
			"target_zone_id":  e.TargetZoneID,
		}
		if e.SourceProposalID != "" {
			payload["source_proposal_id"] = e.SourceProposalID
		}
		s.notifier.Notify(ctx, queue.GovernanceNotification{
			EventType:      messagequeue.EventEscalationCreated,
			OrganizationID: e.OrganizationID,
			ZoneID:         e.SourceZoneID,
			TargetIDs:      targets,
			Payload:        payload,
		})
	}
	s.hub.BroadcastEvent(ctx, e.OrganizationID, broadcast.EventEscalation, e)
}

// Cosign adds the caller as a cosigner of a governance escalation. Cosigning
// twice returns the current state unchanged.
func (s *EscalationService) Cosign(ctx context.Context, id string) (*escalation.CosignResult, error) {
	e, err := s.store.GetEscalation(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := escalation.CanCosign(e); err != nil {
		return nil, err
	}
	source, err := s.zones.Get(ctx, e.SourceZoneID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return s.cosign(ctx, e, source, actorOf(ctx).ID)
}

func (s *EscalationService) cosign(ctx context.Context, e *escalation.Escalation, source *zone.Zone, userID string) (*escalation.CosignResult, error) {
	sourceName := "unknown"
	if source != nil {
		sourceName = source.Name
	}
	description := e.Reason
	if description == "" {
		description = "Governance escalation requiring review"
	}

	var requests []proposal.ApprovalRequest
	accept := func(ctx context.Context, e *escalation.Escalation) (*proposal.Proposal, error) {
		meta := &proposal.Proposal{
			OrganizationID: e.OrganizationID,
			ZoneID:         e.TargetZoneID,
			ProposerID:     e.EscalatorID,
			Title:          "[Governance Escalation] Zone policy review for " + sourceName,
			Description:    description,
			ProposalType:   proposal.TypeZoneChange,
			Payload:        map[string]any{"zone_id": e.SourceZoneID, "escalation_id": e.ID},
			Status:         proposal.StatusPendingReview,
		}
		var err error
		if requests, err = s.proposals.reviewRequests(ctx, meta, e.TargetZoneID); err != nil {
			return nil, err
		}
		meta.ApprovalRequests = requests
		return meta, nil
	}

	res, err := s.store.Cosign(ctx, database.CosignRequest{
		EscalationID: e.ID,
		UserID:       userID,
		Threshold:    s.threshold(source),
		Accept:       accept,
		Now:          s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "escalation.cosigned",
		"escalation_id", e.ID, "added", res.Added, "cosigners", res.CosignerCount, "threshold", res.Threshold)

	if res.Activated {
		targets := make([]string, 0, len(requests))
		for _, r := range requests {
			targets = append(targets, r.ReviewerID)
		}
		s.notifier.Notify(ctx, queue.GovernanceNotification{
			EventType:      messagequeue.EventEscalationAccepted,
			OrganizationID: res.Escalation.OrganizationID,
			ZoneID:         res.Escalation.SourceZoneID,
			TargetIDs:      targets,
			Payload: map[string]any{
				"escalation_id":         res.Escalation.ID,
				"resulting_proposal_id": res.Escalation.ResultingProposalID,
				"target_zone_id":        res.Escalation.TargetZoneID,
			},
		})
	}
	if res.Added || res.Activated {
		s.hub.BroadcastEvent(ctx, res.Escalation.OrganizationID, broadcast.EventEscalation, res.Escalation)
	}
	return res, nil
}

// Resolve closes an escalation as resolved, optionally linking the proposal
// that settled it.
func (s *EscalationService) Resolve(ctx context.Context, id string, req escalation.ResolveRequest) (*escalation.Escalation, error) {
	if req.ResultingProposalID != "" {
		if _, err := s.store.GetProposal(ctx, req.ResultingProposalID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, domain.Validationf("resulting proposal %s not found in organization", req.ResultingProposalID)
			}
			return nil, err
		}
	}
	return s.close(ctx, id, escalation.StatusResolved, req.ResultingProposalID, audit.ActionEscalationResolve)
}

// Dismiss closes an escalation without action.
func (s *EscalationService) Dismiss(ctx context.Context, id string) (*escalation.Escalation, error) {
	return s.close(ctx, id, escalation.StatusDismissed, "", audit.ActionEscalationDismiss)
}

func (s *EscalationService) close(ctx context.Context, id string, status escalation.Status, resultingID, action string) (*escalation.Escalation, error) {
	actor := actorOf(ctx)
	entry := &audit.Entry{
		ActorID:   actor.ID,
		ActorType: actor.Type,
		Action:    action,
		Payload:   map[string]any{"status": string(status)},
	}
	if resultingID != "" {
		entry.Payload["resulting_proposal_id"] = resultingID
	}
	e, err := s.store.CloseEscalation(ctx, id, status, resultingID, entry)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "escalation.closed", "escalation_id", id, "status", status)
	s.hub.BroadcastEvent(ctx, e.OrganizationID, broadcast.EventEscalation, e)
	return e, nil
}

// AutoEscalate escalates every pending proposal whose zone's
// auto_escalate_after_hours has elapsed. The escalation is filed accepted
// with the proposer as escalator. It returns the number escalated.
func (s *EscalationService) AutoEscalate(ctx context.Context) (int, error) {
	now := s.now().UTC()
	pending, err := s.store.ListPendingProposals(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list pending proposals: %w", err)
	}

	escalated := 0
	for i := range pending {
		if ctx.Err() != nil {
			return escalated, ctx.Err()
		}
		p := &pending[i]
		pctx := middleware.WithOrganizationID(ctx, p.OrganizationID)
		ok, err := s.autoEscalate(pctx, p, now)
		switch {
		case err != nil:
			slog.WarnContext(pctx, "escalation.auto_failed", "proposal_id", p.ID, "error", err)
		case ok:
			escalated++
		}
	}
	return escalated, nil
}

func (s *EscalationService) autoEscalate(ctx context.Context, p *proposal.Proposal, now time.Time) (bool, error) {
	z, err := s.zones.Get(ctx, p.ZoneID)
	if err != nil {
		return false, err
	}
	if !escalation.AutoEscalationDue(z, p.CreatedAt, now) {
		return false, nil
	}
	ancestors, err := s.zones.AncestorIDs(ctx, z)
	if err != nil {
		return false, err
	}
	targetID, err := escalation.ResolveTarget(z, ancestors, "")
	if err != nil {
		// Root zones without a configured target stay put.
		return false, nil
	}

	hours := strconv.FormatFloat(*z.EscalationPolicy.AutoEscalateAfterHours, 'f', -1, 64)
	e := &escalation.Escalation{
		OrganizationID:   p.OrganizationID,
		EscalationType:   escalation.TypeAction,
		SourceProposalID: p.ID,
		SourceZoneID:     z.ID,
		TargetZoneID:     targetID,
		EscalatorID:      p.ProposerID,
		Reason:           "Auto-escalated: exceeded " + hours + "h timeout",
		Status:           escalation.StatusAccepted,
	}
	err = s.store.CreateEscalation(ctx, database.NewEscalation{
		Escalation: e,
		Now:        now,
		Audit: []audit.Entry{{
			ZoneID:    z.ID,
			ActorID:   audit.SystemActorID,
			ActorType: audit.ActorSystem,
			Action:    audit.ActionEscalationCreate,
			Payload: map[string]any{
				"escalation_type":    string(e.EscalationType),
				"source_proposal_id": p.ID,
				"target_zone_id":     targetID,
				"auto":               true,
			},
		}},
	})
	if errors.Is(err, domain.ErrConflict) {
		// Decided or escalated since it was listed.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.created(ctx, e, nil)
	return true, nil
}
