package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/audit"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/evaluation"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/gardener"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/queue"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/zone"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/database"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/messagequeue"
)

// EvaluationService runs post-completion reviews: evaluators score the
// executed work, finalizing aggregates the scores and incentive signals
// move member reputation.
type EvaluationService struct {
	store    database.Store
	zones    *ZoneService
	perms    *PermissionService
	notifier *NotificationService
	now      func() time.Time
}

// NewEvaluationService creates an EvaluationService.
func NewEvaluationService(store database.Store, zones *ZoneService, perms *PermissionService) *EvaluationService {
	return &EvaluationService{store: store, zones: zones, perms: perms, now: time.Now}
}

// SetNotifier attaches the notification service.
func (s *EvaluationService) SetNotifier(n *NotificationService) { s.notifier = n }

// authorize loads the evaluation's zone and checks the caller holds action.
func (s *EvaluationService) authorize(ctx context.Context, zoneID, action string) (*zone.Zone, error) {
	z, err := s.zones.Get(ctx, zoneID)
	if err != nil {
		return nil, err
	}
	if err := s.perms.Check(ctx, z, actorOf(ctx).ID, action); err != nil {
		return nil, err
	}
	return z, nil
}

// Create opens an evaluation of an executor's work in a zone.
func (s *EvaluationService) Create(ctx context.Context, req evaluation.CreateRequest) (*evaluation.Evaluation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	z, err := s.authorize(ctx, req.ZoneID, zone.ActionEvaluationCreate)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Validationf("zone %s not found in organization", req.ZoneID)
	}
	if err != nil {
		return nil, err
	}
	if req.ProposalID != "" {
		_, err := s.store.GetProposal(ctx, req.ProposalID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Validationf("proposal %s not found in organization", req.ProposalID)
		}
		if err != nil {
			return nil, fmt.Errorf("get proposal %s: %w", req.ProposalID, err)
		}
	}

	actor := actorOf(ctx)
	e := &evaluation.Evaluation{
		ZoneID:     z.ID,
		TaskID:     req.TaskID,
		ProposalID: req.ProposalID,
		ExecutorID: req.ExecutorID,
		Status:     evaluation.StatusPending,
	}
	entry := &audit.Entry{
		ZoneID:    z.ID,
		ActorID:   actor.ID,
		ActorType: actor.Type,
		Action:    audit.ActionEvaluationCreate,
	}
	if err := s.store.CreateEvaluation(ctx, e, entry); err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, queue.GovernanceNotification{
		EventType:      messagequeue.EventEvaluationCreated,
		OrganizationID: e.OrganizationID,
		ZoneID:         e.ZoneID,
		TargetIDs:      []string{e.ExecutorID},
		Payload:        map[string]any{"evaluation_id": e.ID},
	})
	slog.InfoContext(ctx, "evaluation.created", "evaluation_id", e.ID, "zone_id", e.ZoneID)
	return e, nil
}

// Get returns an evaluation with its scores and signals.
func (s *EvaluationService) Get(ctx context.Context, id string) (*evaluation.Evaluation, error) {
	return s.store.GetEvaluation(ctx, id)
}

// List returns the organization's evaluations matching filter.
func (s *EvaluationService) List(ctx context.Context, filter evaluation.ListFilter) ([]evaluation.Evaluation, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, domain.Validationf("unknown evaluation status %q", filter.Status)
	}
	return s.store.ListEvaluations(ctx, filter)
}

// SubmitScore records the caller's score for one criterion. The first score
// moves the evaluation to in_review.
func (s *EvaluationService) SubmitScore(ctx context.Context, id string, req evaluation.ScoreRequest) (*evaluation.Score, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	e, err := s.store.GetEvaluation(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := evaluation.CanScore(e); err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, e.ZoneID, zone.ActionEvaluationSubmit); err != nil {
		return nil, err
	}

	actor := actorOf(ctx)
	sc := &evaluation.Score{
		EvaluationID:    e.ID,
		EvaluatorID:     actor.ID,
		CriterionName:   req.CriterionName,
		CriterionWeight: req.Weight(),
		Score:           req.Score,
		Rationale:       req.Rationale,
	}
	entry := &audit.Entry{
		ActorID:   actor.ID,
		ActorType: actor.Type,
		Action:    audit.ActionEvaluationScore,
		Payload:   map[string]any{"criterion_name": sc.CriterionName, "score": sc.Score},
	}
	if _, err := s.store.AddScore(ctx, sc, entry); err != nil {
		return nil, err
	}
	return sc, nil
}

// Finalize aggregates the scores, writes the incentive signals and applies
// them to reputation. A failure to apply is logged; the signals stay
// pending for ApplySignals.
func (s *EvaluationService) Finalize(ctx context.Context, id string) (*evaluation.Evaluation, error) {
	e, err := s.store.GetEvaluation(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, e.ZoneID, zone.ActionEvaluationSubmit); err != nil {
		return nil, err
	}

	var feedback []gardener.Feedback
	if e.ProposalID != "" {
		if feedback, err = s.store.ListFeedbackByProposal(ctx, e.ProposalID); err != nil {
			return nil, fmt.Errorf("list feedback of proposal %s: %w", e.ProposalID, err)
		}
	}

	actor := actorOf(ctx)
	done, err := s.store.FinalizeEvaluation(ctx, database.FinalizeEvaluation{
		EvaluationID: e.ID,
		Feedback:     feedback,
		Audit: &audit.Entry{
			ActorID:   actor.ID,
			ActorType: actor.Type,
			Action:    audit.ActionEvaluationFinalize,
		},
		Now: s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "evaluation.finalized",
		"evaluation_id", done.ID, "overall_score", done.AggregateResult.OverallScore, "signals", len(done.IncentiveSignals))

	if _, err := s.store.ApplySignals(ctx, done.ID); err != nil {
		slog.WarnContext(ctx, "evaluation.apply_signals_failed", "evaluation_id", done.ID, "error", err)
		return done, nil
	}
	return s.store.GetEvaluation(ctx, done.ID)
}

// SignalsApplied reports how many pending signals ApplySignals moved.
type SignalsApplied struct {
	EvaluationID string `json:"evaluation_id"`
	Applied      int    `json:"applied"`
}

// ApplySignals applies the pending incentive signals of a completed
// evaluation.
func (s *EvaluationService) ApplySignals(ctx context.Context, id string) (*SignalsApplied, error) {
	e, err := s.store.GetEvaluation(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status != evaluation.StatusCompleted {
		return nil, domain.Conflictf("evaluation is %s, only completed evaluations carry signals", e.Status)
	}
	if _, err := s.authorize(ctx, e.ZoneID, zone.ActionEvaluationSubmit); err != nil {
		return nil, err
	}
	n, err := s.store.ApplySignals(ctx, id)
	if err != nil {
		return nil, err
	}
	return &SignalsApplied{EvaluationID: id, Applied: n}, nil
}
