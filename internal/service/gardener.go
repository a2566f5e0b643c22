package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	cfotel "github.com/nintynick/openclaw-mission-control-sub001/internal/adapter/otel"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/config"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/gardener"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/proposal"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/zone"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/database"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/llm"
)

const gardenerSystemPrompt = `You are a Gardener, a governance facilitator that selects the best reviewers for proposals within a trust zone hierarchy.

Balance capability, alignment and availability when choosing who should review a proposal.

Selection principles:
1. Capability: match reviewer expertise to the proposal type and zone responsibilities.
2. Alignment: prefer reviewers with an established track record in the zone.
3. Availability: consider workload and response history.
4. Risk: higher-impact proposals warrant more experienced reviewers.
5. Review quality: prefer higher review_accuracy (decisions not overturned) and response_rate (reviews completed in time) when present.

Respond with a JSON object only:
{"selections": [{"reviewer_id": "<uuid>", "reason": "<why>"}], "reasoning": "<overall strategy>"}

Select at most max_reviewers reviewers, and only from the listed candidates.`

var (
	errNoJSONObject   = errors.New("gardener: response contains no JSON object")
	errEmptySelection = errors.New("gardener: no valid selections")
)

// AISelector ranks candidates with a chat model. It returns an error for
// anything short of a non-empty list of known candidates; the caller falls
// back to rule-based selection.
type AISelector struct {
	llm       llm.Completer
	model     string
	maxTokens int
	timeout   time.Duration
}

// NewAISelector creates an AISelector over c.
func NewAISelector(c llm.Completer, cfg config.Gardener) *AISelector {
	return &AISelector{llm: c, model: cfg.Model, maxTokens: cfg.MaxTokens, timeout: cfg.Timeout}
}

// Method implements gardener.Selector.
func (s *AISelector) Method() string { return gardener.SelectedByAI }

// Select implements gardener.Selector.
func (s *AISelector) Select(ctx context.Context, req gardener.Request) ([]gardener.Selection, error) {
	prompt, err := selectionContext(req)
	if err != nil {
		return nil, err
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	text, err := s.llm.Complete(ctx, llm.CompletionRequest{
		Model:     s.model,
		System:    gardenerSystemPrompt,
		Messages:  []llm.Message{{Role: "user", Content: "Select the best reviewers for this proposal:\n\n" + prompt}},
		MaxTokens: s.maxTokens,
		JSON:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("gardener completion: %w", err)
	}

	selections, err := parseSelections(text)
	if err != nil {
		return nil, err
	}
	kept := gardener.KeepCandidates(selections, req.Candidates, req.MaxReviewers)
	if len(kept) == 0 {
		return nil, errEmptySelection
	}
	return kept, nil
}

type promptCandidate struct {
	MemberID             string   `json:"member_id"`
	Role                 string   `json:"role"`
	ZoneAssignments      []string `json:"zone_assignments"`
	ReputationScore      float64  `json:"reputation_score"`
	PastReviewCount      int      `json:"past_review_count"`
	AvgResponseTimeHours *float64 `json:"avg_response_time_hours,omitempty"`
	ReviewAccuracy       *float64 `json:"review_accuracy,omitempty"`
	ResponseRate         *float64 `json:"response_rate,omitempty"`
}

func selectionContext(req gardener.Request) (string, error) {
	candidates := make([]promptCandidate, 0, len(req.Candidates))
	for _, c := range req.Candidates {
		candidates = append(candidates, promptCandidate{
			MemberID:             c.MemberID,
			Role:                 c.Role,
			ZoneAssignments:      c.ZoneAssignments,
			ReputationScore:      c.ReputationScore,
			PastReviewCount:      c.PastReviewCount,
			AvgResponseTimeHours: c.AvgResponseTimeHours,
			ReviewAccuracy:       round3(c.ReviewAccuracy),
			ResponseRate:         round3(c.ResponseRate),
		})
	}

	doc := map[string]any{
		"proposal": map[string]any{
			"id":          req.Proposal.ID,
			"title":       req.Proposal.Title,
			"description": req.Proposal.Description,
			"type":        req.Proposal.ProposalType,
			"zone_id":     req.Proposal.ZoneID,
		},
		"zone": map[string]any{
			"id":                   req.Zone.ID,
			"name":                 req.Zone.Name,
			"responsibilities":     req.Zone.Responsibilities,
			"agent_qualifications": req.Zone.AgentQualifications,
			"decision_model":       req.Zone.DecisionModel,
		},
		"candidates":    candidates,
		"max_reviewers": req.MaxReviewers,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("gardener context: %w", err)
	}
	return string(data), nil
}

func round3(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := math.Round(*v*1000) / 1000
	return &r
}

// parseSelections extracts the outermost JSON object of a model response.
func parseSelections(text string) ([]gardener.Selection, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, errNoJSONObject
	}
	var resp struct {
		Selections []gardener.Selection `json:"selections"`
		Reasoning  string               `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &resp); err != nil {
		return nil, fmt.Errorf("gardener response: %w", err)
	}
	return resp.Selections, nil
}

// GardenerService builds reviewer candidates, ranks them and records the
// feedback rows that close the selection loop.
type GardenerService struct {
	store   database.Store
	ai      gardener.Selector
	cfg     config.Gardener
	metrics *cfotel.Metrics
	now     func() time.Time
}

// NewGardenerService creates a GardenerService. ai may be nil, in which case
// every selection is rule-based.
func NewGardenerService(store database.Store, ai gardener.Selector, cfg config.Gardener) *GardenerService {
	return &GardenerService{store: store, ai: ai, cfg: cfg, now: time.Now}
}

// SetMetrics attaches otel instruments.
func (s *GardenerService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// Candidates lists the members of z eligible to review: one entry per member
// holding an approver, gardener or evaluator assignment, excluding the ids in
// exclude.
func (s *GardenerService) Candidates(ctx context.Context, z *zone.Zone, exclude ...string) ([]gardener.Candidate, error) {
	assignments, err := s.store.ListAssignments(ctx, z.ID)
	if err != nil {
		return nil, fmt.Errorf("list assignments of zone %s: %w", z.ID, err)
	}

	index := make(map[string]int)
	var candidates []gardener.Candidate
	for _, a := range assignments {
		switch a.Role {
		case zone.RoleApprover, zone.RoleGardener, zone.RoleEvaluator:
		default:
			continue
		}
		if slices.Contains(exclude, a.MemberID) {
			continue
		}
		if i, ok := index[a.MemberID]; ok {
			candidates[i].ZoneAssignments = append(candidates[i].ZoneAssignments, string(a.Role))
			continue
		}
		index[a.MemberID] = len(candidates)
		candidates = append(candidates, gardener.Candidate{
			MemberID:        a.MemberID,
			Role:            string(a.Role),
			ZoneAssignments: []string{string(a.Role)},
		})
	}
	if len(candidates) == 0 {
		return []gardener.Candidate{}, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.MemberID
	}
	reputations, err := s.store.ListMemberReputations(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("member reputations: %w", err)
	}
	feedback, err := s.store.ListFeedbackByReviewers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("reviewer feedback: %w", err)
	}
	histories := make(map[string]*gardener.History, len(ids))
	counts := make(map[string]int, len(ids))
	for _, f := range feedback {
		h, ok := histories[f.ReviewerID]
		if !ok {
			h = &gardener.History{}
			histories[f.ReviewerID] = h
		}
		h.Add(f)
		counts[f.ReviewerID]++
	}

	for i := range candidates {
		c := &candidates[i]
		c.ReputationScore = reputations[c.MemberID]
		c.PastReviewCount = counts[c.MemberID]
		if h, ok := histories[c.MemberID]; ok {
			c.ReviewAccuracy, c.ResponseRate = h.Rates()
		}
	}
	return candidates, nil
}

// MaxReviewers returns the selection cap for z.
func (s *GardenerService) MaxReviewers(z *zone.Zone) int {
	if z.ApprovalPolicy != nil && z.ApprovalPolicy.MaxReviewers != nil && *z.ApprovalPolicy.MaxReviewers > 0 {
		return *z.ApprovalPolicy.MaxReviewers
	}
	if s.cfg.MaxReviewers > 0 {
		return s.cfg.MaxReviewers
	}
	return gardener.DefaultMaxReviewers
}

// SelectReviewers ranks the zone's candidates for p. The AI selector is
// tried first; any failure, timeout or empty answer falls back to the
// rule-based order. The returned method is recorded on feedback rows.
func (s *GardenerService) SelectReviewers(ctx context.Context, p *proposal.Proposal, z *zone.Zone) ([]gardener.Selection, string, error) {
	exclude := []string{p.ProposerID}
	if subject := p.SubjectMemberID(); subject != "" {
		exclude = append(exclude, subject)
	}
	candidates, err := s.Candidates(ctx, z, exclude...)
	if err != nil {
		return nil, "", err
	}
	if len(candidates) == 0 {
		return []gardener.Selection{}, gardener.SelectedByRuleBased, nil
	}
	req := gardener.Request{Proposal: p, Zone: z, Candidates: candidates, MaxReviewers: s.MaxReviewers(z)}

	if s.ai != nil && s.cfg.Provider != "none" {
		spanCtx, span := cfotel.StartReviewerSelectionSpan(ctx, p.ID, z.ID)
		selections, aiErr := s.ai.Select(spanCtx, req)
		cfotel.EndSpan(span, aiErr)
		if aiErr == nil {
			return selections, s.ai.Method(), nil
		}
		reason := "error"
		switch {
		case errors.Is(aiErr, context.DeadlineExceeded):
			reason = "timeout"
		case errors.Is(aiErr, errEmptySelection):
			reason = "empty"
		}
		slog.WarnContext(ctx, "gardener.fallback", "zone_id", z.ID, "reason", reason, "error", aiErr)
		s.metrics.GardenerFellBack(ctx, reason)
	}

	return gardener.RuleBased(candidates, req.MaxReviewers), gardener.SelectedByRuleBased, nil
}

// RecordSelections writes one feedback row per selected reviewer.
func (s *GardenerService) RecordSelections(ctx context.Context, proposalID string, selections []gardener.Selection, method string) error {
	if len(selections) == 0 {
		return nil
	}
	now := s.now().UTC()
	rows := make([]gardener.Feedback, 0, len(selections))
	for _, sel := range selections {
		rows = append(rows, gardener.Feedback{
			ProposalID: proposalID,
			ReviewerID: sel.ReviewerID,
			SelectedBy: method,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	if err := s.store.CreateFeedback(ctx, rows); err != nil {
		return fmt.Errorf("record gardener feedback: %w", err)
	}
	return nil
}

// RecordOutcome fills the outcome flags of every feedback row of a resolved
// proposal.
func (s *GardenerService) RecordOutcome(ctx context.Context, p *proposal.Proposal) error {
	rows, err := s.store.ListFeedbackByProposal(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("list gardener feedback: %w", err)
	}
	now := s.now().UTC()
	for i := range rows {
		f := &rows[i]
		var req *proposal.ApprovalRequest
		for j := range p.ApprovalRequests {
			if p.ApprovalRequests[j].ReviewerID == f.ReviewerID {
				req = &p.ApprovalRequests[j]
				break
			}
		}
		f.Outcome(req, p.Status, now)
		if err := s.store.UpdateFeedbackOutcome(ctx, f); err != nil {
			return fmt.Errorf("update gardener feedback %s: %w", f.ID, err)
		}
	}
	return nil
}
