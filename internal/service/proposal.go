package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cfotel "github.com/nintynick/openclaw-mission-control-sub001/internal/adapter/otel"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/audit"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/gardener"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/proposal"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/queue"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/zone"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/broadcast"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/database"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/messagequeue"
)

// ProposalService is the approval engine: it files proposals, picks their
// reviewers and resolves them as decisions come in.
type ProposalService struct {
	store    database.Store
	zones    *ZoneService
	gardener *GardenerService
	notifier *NotificationService
	hub      broadcast.Broadcaster
	metrics  *cfotel.Metrics
	now      func() time.Time
}

// NewProposalService creates a ProposalService.
func NewProposalService(store database.Store, zones *ZoneService, g *GardenerService) *ProposalService {
	return &ProposalService{store: store, zones: zones, gardener: g, hub: broadcast.Nop{}, now: time.Now}
}

// SetNotifier attaches the notification service.
func (s *ProposalService) SetNotifier(n *NotificationService) { s.notifier = n }

// SetBroadcaster attaches the dashboard hub.
func (s *ProposalService) SetBroadcaster(b broadcast.Broadcaster) { s.hub = b }

// SetMetrics attaches otel instruments.
func (s *ProposalService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// Get returns a proposal with its approval requests.
func (s *ProposalService) Get(ctx context.Context, id string) (*proposal.Proposal, error) {
	return s.store.GetProposal(ctx, id)
}

// reviewer is a chosen reviewer that passed conflict filtering.
type reviewer struct {
	id     string
	reason string
}

// selection is the outcome of reviewer selection for one proposal.
type selection struct {
	reviewers []reviewer
	// conflicts holds every conflicted reviewer met in the sources consulted.
	conflicts []proposal.Conflict
	// method is set when the gardener chose the reviewers.
	method string
}

func (sel selection) ids() []string {
	out := make([]string, len(sel.reviewers))
	for i, r := range sel.reviewers {
		out[i] = r.id
	}
	return out
}

// Create files a proposal in its zone. Proposals of an auto-approved type
// are stored approved; all others get one approval request per reviewer.
func (s *ProposalService) Create(ctx context.Context, req proposal.CreateRequest) (*proposal.Proposal, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	z, err := s.zones.Get(ctx, req.ZoneID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Validationf("zone %s not found in organization", req.ZoneID)
	}
	if err != nil {
		return nil, err
	}
	if !z.AcceptsProposals() {
		return nil, domain.Validationf("zone %s is %s and does not accept proposals", z.ID, z.Status)
	}

	actor := actorOf(ctx)
	now := s.now().UTC()
	p := &proposal.Proposal{
		OrganizationID:        z.OrganizationID,
		ZoneID:                z.ID,
		ProposerID:            actor.ID,
		Title:                 req.Title,
		Description:           req.Description,
		ProposalType:          req.ProposalType,
		Payload:               req.Payload,
		Status:                proposal.StatusPendingReview,
		DecisionModelOverride: req.DecisionModelOverride,
		ExpiresAt:             req.ExpiresAt,
	}
	if p.ProposalType == proposal.TypeResourceAllocation {
		if err := zone.CheckResourceScope(z.ResourceScope, p.ResourceRequest()); err != nil {
			return nil, err
		}
	}

	if z.ApprovalPolicy.AutoApproves(string(p.ProposalType)) {
		p.Status = proposal.StatusApproved
		p.ResolvedAt = &now
		entry := &audit.Entry{
			ZoneID:     z.ID,
			ActorID:    actor.ID,
			ActorType:  actor.Type,
			Action:     audit.ActionProposalAutoApprove,
			TargetType: audit.TargetProposal,
			Payload:    map[string]any{"proposal_type": string(p.ProposalType)},
		}
		if err := s.store.CreateProposal(ctx, p, entry); err != nil {
			return nil, err
		}
		s.metrics.ProposalResolved(ctx, string(p.Status))
		slog.InfoContext(ctx, "proposal.auto_approved", "proposal_id", p.ID, "zone_id", z.ID)
		return p, nil
	}

	sel, err := s.selectReviewers(ctx, p, z)
	if err != nil {
		return nil, err
	}
	p.ConflictsDetected = sel.conflicts
	allowed := sel.ids()

	deadline := reviewDeadline(effectiveModel(p, z), now)
	for _, r := range sel.reviewers {
		p.ApprovalRequests = append(p.ApprovalRequests, proposal.ApprovalRequest{
			ReviewerID:      r.id,
			ReviewerType:    proposal.ReviewerHuman,
			SelectionReason: r.reason,
			Deadline:        deadline,
		})
	}

	entry := &audit.Entry{
		ZoneID:     z.ID,
		ActorID:    actor.ID,
		ActorType:  actor.Type,
		Action:     audit.ActionProposalCreate,
		TargetType: audit.TargetProposal,
		Payload: map[string]any{
			"proposal_type": string(p.ProposalType),
			"reviewers":     allowed,
			"conflicts":     len(p.ConflictsDetected),
		},
	}
	if err := s.store.CreateProposal(ctx, p, entry); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "proposal.created",
		"proposal_id", p.ID, "zone_id", z.ID, "reviewers", len(p.ApprovalRequests), "conflicts", len(p.ConflictsDetected))

	if sel.method != "" {
		chosen := make([]gardener.Selection, 0, len(sel.reviewers))
		for _, r := range sel.reviewers {
			chosen = append(chosen, gardener.Selection{ReviewerID: r.id, Reason: r.reason})
		}
		if err := s.gardener.RecordSelections(ctx, p.ID, chosen, sel.method); err != nil {
			slog.WarnContext(ctx, "gardener.feedback_failed", "proposal_id", p.ID, "error", err)
		}
	}

	if len(allowed) > 0 {
		s.notifier.Notify(ctx, queue.GovernanceNotification{
			EventType:      messagequeue.EventReviewersSelected,
			OrganizationID: p.OrganizationID,
			ZoneID:         p.ZoneID,
			TargetIDs:      allowed,
			Payload: map[string]any{
				"proposal_id":   p.ID,
				"title":         p.Title,
				"proposal_type": string(p.ProposalType),
				"reviewers":     allowed,
				"selected_by":   selectedBy(sel),
			},
		})
		s.hub.BroadcastEvent(ctx, p.OrganizationID, broadcast.EventReviewersChosen, map[string]any{
			"proposal_id": p.ID,
			"reviewers":   allowed,
		})
	}
	return p, nil
}

func selectedBy(sel selection) string {
	if sel.method != "" {
		return sel.method
	}
	return "zone_policy"
}

// selectReviewers picks reviewers in order of precedence: static reviewers
// from the approval policy, the gardener when the policy asks for it, zone
// approvers, then zone gardeners. Each source is filtered for conflicts of
// interest on its own; the first source left with a reviewer wins.
func (s *ProposalService) selectReviewers(ctx context.Context, p *proposal.Proposal, z *zone.Zone) (selection, error) {
	var sel selection
	flagged := make(map[proposal.Conflict]struct{})

	take := func(candidates []reviewer) bool {
		seen := make(map[string]struct{}, len(candidates))
		var unique []reviewer
		var ids []string
		for _, r := range candidates {
			if r.id == "" {
				continue
			}
			if _, dup := seen[r.id]; dup {
				continue
			}
			seen[r.id] = struct{}{}
			unique = append(unique, r)
			ids = append(ids, r.id)
		}
		conflicts := proposal.DetectConflicts(p, ids)
		for _, c := range conflicts {
			if _, ok := flagged[c]; !ok {
				flagged[c] = struct{}{}
				sel.conflicts = append(sel.conflicts, c)
			}
		}
		allowed := make(map[string]struct{})
		for _, id := range proposal.FilterConflicted(ids, conflicts) {
			allowed[id] = struct{}{}
		}
		for _, r := range unique {
			if _, ok := allowed[r.id]; ok {
				sel.reviewers = append(sel.reviewers, r)
			}
		}
		return len(sel.reviewers) > 0
	}

	if z.ApprovalPolicy != nil {
		var static []reviewer
		for _, id := range z.ApprovalPolicy.StaticReviewers {
			static = append(static, reviewer{id: id, reason: proposal.ReasonStaticReviewer})
		}
		if take(static) {
			return sel, nil
		}
	}

	if s.gardener != nil && z.ApprovalPolicy != nil && z.ApprovalPolicy.ReviewerSelectionStrategy == zone.SelectionStrategyGardener {
		chosen, method, err := s.gardener.SelectReviewers(ctx, p, z)
		if err != nil {
			slog.WarnContext(ctx, "gardener.selection_failed", "zone_id", z.ID, "error", err)
		}
		picked := make([]reviewer, 0, len(chosen))
		for _, c := range chosen {
			picked = append(picked, reviewer{id: c.ReviewerID, reason: c.Reason})
		}
		if take(picked) {
			sel.method = method
			return sel, nil
		}
	}

	for _, fallback := range []struct {
		role   zone.Role
		reason string
	}{
		{zone.RoleApprover, proposal.ReasonZoneApprover},
		{zone.RoleGardener, proposal.ReasonZoneGardener},
	} {
		members, err := s.zones.MembersWithRole(ctx, z.ID, fallback.role)
		if err != nil {
			return selection{}, err
		}
		picked := make([]reviewer, 0, len(members))
		for _, id := range members {
			picked = append(picked, reviewer{id: id, reason: fallback.reason})
		}
		if take(picked) {
			return sel, nil
		}
	}
	if len(sel.conflicts) > 0 {
		slog.WarnContext(ctx, "proposal.no_unconflicted_reviewer", "zone_id", z.ID, "conflicts", len(sel.conflicts))
	}
	return sel, nil
}

// effectiveModel returns the proposal's decision model override, else the
// zone's model. Nil means threshold 1.
func effectiveModel(p *proposal.Proposal, z *zone.Zone) *zone.DecisionModel {
	if p.DecisionModelOverride != nil {
		return p.DecisionModelOverride
	}
	if z != nil {
		return z.DecisionModel
	}
	return nil
}

func reviewDeadline(m *zone.DecisionModel, now time.Time) *time.Time {
	if m == nil || m.TimeoutHours == nil || *m.TimeoutHours <= 0 {
		return nil
	}
	d := now.Add(time.Duration(*m.TimeoutHours) * time.Hour)
	return &d
}

// RecordDecision records the calling reviewer's decision and resolves the
// proposal when its decision model is satisfied.
func (s *ProposalService) RecordDecision(ctx context.Context, proposalID string, req proposal.DecisionRequest) (*proposal.Proposal, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	current, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	var z *zone.Zone
	if current.DecisionModelOverride == nil {
		z, err = s.zones.Get(ctx, current.ZoneID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	model := effectiveModel(current, z)

	actor := actorOf(ctx)
	p, outcome, err := s.store.DecideApproval(ctx, database.Decision{
		ProposalID: proposalID,
		ReviewerID: actor.ID,
		Request:    req,
		Resolve: func(p *proposal.Proposal) proposal.Outcome {
			return proposal.Evaluate(model, p.ApprovalRequests)
		},
		Now: s.now().UTC(),
		Audit: []audit.Entry{{
			ZoneID:     current.ZoneID,
			ActorID:    actor.ID,
			ActorType:  actor.Type,
			Action:     audit.ActionProposalDecision,
			TargetType: audit.TargetProposal,
			TargetID:   proposalID,
			Payload:    map[string]any{"decision": req.Decision},
		}},
	})
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "proposal.decision", "proposal_id", p.ID, "reviewer_id", actor.ID, "decision", req.Decision)

	if outcome.Resolved {
		s.onResolved(ctx, p)
	}
	return p, nil
}

// onResolved runs the best-effort follow-ups of a resolution. The
// resolution itself is already committed.
func (s *ProposalService) onResolved(ctx context.Context, p *proposal.Proposal) {
	s.metrics.ProposalResolved(ctx, string(p.Status))
	slog.InfoContext(ctx, "proposal.resolved", "proposal_id", p.ID, "status", p.Status)

	if s.gardener != nil {
		if err := s.gardener.RecordOutcome(ctx, p); err != nil {
			slog.WarnContext(ctx, "gardener.outcome_failed", "proposal_id", p.ID, "error", err)
		}
	}

	targets := []string{p.ProposerID}
	for _, r := range p.ApprovalRequests {
		targets = append(targets, r.ReviewerID)
	}
	s.notifier.Notify(ctx, queue.GovernanceNotification{
		EventType:      messagequeue.EventProposalResolved,
		OrganizationID: p.OrganizationID,
		ZoneID:         p.ZoneID,
		TargetIDs:      targets,
		Payload: map[string]any{
			"proposal_id": p.ID,
			"title":       p.Title,
			"status":      string(p.Status),
		},
	})
	s.hub.BroadcastEvent(ctx, p.OrganizationID, broadcast.EventProposalResolved, map[string]any{
		"proposal_id": p.ID,
		"status":      p.Status,
	})
}

// reviewRequests builds pending approval requests for the approvers of a
// zone, skipping conflicted members. It backs proposals filed by escalations.
func (s *ProposalService) reviewRequests(ctx context.Context, p *proposal.Proposal, zoneID string) ([]proposal.ApprovalRequest, error) {
	approvers, err := s.zones.MembersWithRole(ctx, zoneID, zone.RoleApprover)
	if err != nil {
		return nil, err
	}
	p.ConflictsDetected = proposal.DetectConflicts(p, approvers)
	allowed := proposal.FilterConflicted(approvers, p.ConflictsDetected)
	out := make([]proposal.ApprovalRequest, 0, len(allowed))
	for _, id := range allowed {
		out = append(out, proposal.ApprovalRequest{
			ReviewerID:      id,
			ReviewerType:    proposal.ReviewerHuman,
			SelectionReason: proposal.ReasonEscalationTarget,
		})
	}
	return out, nil
}

// escalatedTitle names the proposal an action escalation files in the target zone.
func escalatedTitle(title string) string { return fmt.Sprintf("[Escalated] %s", title) }
