// Package gardener ranks candidate reviewers for a proposal.
package gardener

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/proposal"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/zone"
)

// Selection methods recorded on feedback rows.
const (
	SelectedByRuleBased = "rule_based"
	SelectedByAI        = "gardener_ai"
)

// DefaultMaxReviewers caps a selection when the zone does not configure one.
const DefaultMaxReviewers = 3

// Candidate is a member eligible to review a proposal.
type Candidate struct {
	MemberID             string   `json:"member_id"`
	Role                 string   `json:"role"`
	ReputationScore      float64  `json:"reputation_score"`
	PastReviewCount      int      `json:"past_review_count"`
	ZoneAssignments      []string `json:"zone_assignments"`
	AvgResponseTimeHours *float64 `json:"avg_response_time_hours,omitempty"`
	ReviewAccuracy       *float64 `json:"review_accuracy,omitempty"`
	ResponseRate         *float64 `json:"response_rate,omitempty"`
}

// Selection is a chosen reviewer and the reason it was chosen.
type Selection struct {
	ReviewerID string `json:"reviewer_id"`
	Reason     string `json:"reason"`
}

// Request carries everything a selector needs to rank candidates.
type Request struct {
	Proposal     *proposal.Proposal
	Zone         *zone.Zone
	Candidates   []Candidate
	MaxReviewers int
}

// Selector ranks candidates. Implementations may call out to a model; the
// rule-based selector never fails.
type Selector interface {
	Select(ctx context.Context, req Request) ([]Selection, error)
	Method() string
}

// rolePrecedence orders roles for rule-based selection; lower ranks first.
var rolePrecedence = map[string]int{
	string(zone.RoleApprover):  0,
	string(zone.RoleGardener):  1,
	string(zone.RoleEvaluator): 2,
}

func roleRank(role string) int {
	if r, ok := rolePrecedence[role]; ok {
		return r
	}
	return len(rolePrecedence)
}

// RuleBased orders candidates by role (approver, gardener, evaluator, then
// any other role), then reputation descending, then past review count
// descending, and returns at most maxReviewers selections. The sort is
// stable, so equal candidates keep their input order.
func RuleBased(candidates []Candidate, maxReviewers int) []Selection {
	if len(candidates) == 0 || maxReviewers <= 0 {
		return []Selection{}
	}

	sorted := append([]Candidate(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if ra, rb := roleRank(a.Role), roleRank(b.Role); ra != rb {
			return ra < rb
		}
		if a.ReputationScore != b.ReputationScore {
			return a.ReputationScore > b.ReputationScore
		}
		return a.PastReviewCount > b.PastReviewCount
	})

	n := min(maxReviewers, len(sorted))
	out := make([]Selection, 0, n)
	for _, c := range sorted[:n] {
		out = append(out, Selection{
			ReviewerID: c.MemberID,
			Reason:     fmt.Sprintf("Rule-based selection: %s with reputation %.1f", c.Role, c.ReputationScore),
		})
	}
	return out
}

// RuleBasedSelector adapts RuleBased to the Selector interface.
type RuleBasedSelector struct{}

// Select implements Selector.
func (RuleBasedSelector) Select(_ context.Context, req Request) ([]Selection, error) {
	return RuleBased(req.Candidates, req.MaxReviewers), nil
}

// Method implements Selector.
func (RuleBasedSelector) Method() string { return SelectedByRuleBased }

// Feedback closes the selection loop once a proposal resolves.
type Feedback struct {
	ID                 string    `json:"id"`
	ProposalID         string    `json:"proposal_id"`
	ReviewerID         string    `json:"reviewer_id"`
	SelectedBy         string    `json:"selected_by"`
	ReviewedInTime     *bool     `json:"reviewed_in_time,omitempty"`
	DecisionOverturned *bool     `json:"decision_overturned,omitempty"`
	WorkOutcome        string    `json:"work_outcome,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Outcome fills the outcome flags of f from the reviewer's request and the
// resolved proposal status. req is nil when the reviewer has no request.
func (f *Feedback) Outcome(req *proposal.ApprovalRequest, status proposal.Status, now time.Time) {
	inTime := req != nil && req.DecidedAt != nil
	f.ReviewedInTime = &inTime
	if req != nil && req.Decided() && req.Decision != proposal.DecisionAbstain {
		overturned := (req.Decision == proposal.DecisionApprove) != (status == proposal.StatusApproved)
		f.DecisionOverturned = &overturned
	}
	f.WorkOutcome = string(status)
	f.UpdatedAt = now
}

// History summarizes a reviewer's completed feedback rows.
type History struct {
	Completed      int
	NotOverturned  int
	ReviewedInTime int
}

// Add folds one feedback row into the history. Rows without an outcome
// are ignored.
func (h *History) Add(f Feedback) {
	if f.WorkOutcome == "" {
		return
	}
	h.Completed++
	if f.DecisionOverturned != nil && !*f.DecisionOverturned {
		h.NotOverturned++
	}
	if f.ReviewedInTime != nil && *f.ReviewedInTime {
		h.ReviewedInTime++
	}
}

// Rates returns review accuracy and response rate, or nils without history.
func (h History) Rates() (accuracy, responseRate *float64) {
	if h.Completed == 0 {
		return nil, nil
	}
	a := float64(h.NotOverturned) / float64(h.Completed)
	r := float64(h.ReviewedInTime) / float64(h.Completed)
	return &a, &r
}

// KeepCandidates drops selections whose reviewer is not among candidates or
// was already selected, fills missing reasons and truncates to maxReviewers.
// A non-positive maxReviewers means DefaultMaxReviewers.
func KeepCandidates(selections []Selection, candidates []Candidate, maxReviewers int) []Selection {
	if maxReviewers <= 0 {
		maxReviewers = DefaultMaxReviewers
	}
	known := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		known[c.MemberID] = struct{}{}
	}
	seen := make(map[string]struct{}, len(selections))
	out := make([]Selection, 0, len(selections))
	for _, s := range selections {
		if len(out) >= maxReviewers {
			break
		}
		if _, ok := known[s.ReviewerID]; !ok {
			continue
		}
		if _, dup := seen[s.ReviewerID]; dup {
			continue
		}
		seen[s.ReviewerID] = struct{}{}
		if s.Reason == "" {
			s.Reason = "Selected by Gardener AI"
		}
		out = append(out, s)
	}
	return out
}
