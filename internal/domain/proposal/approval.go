package proposal

import (
	"sort"
	"time"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/zone"
)

// Decisions a reviewer can record.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
	DecisionAbstain = "abstain"
)

// Reviewer types.
const (
	ReviewerHuman = "human"
	ReviewerAI    = "ai"
)

// Selection reasons written by the approval engine.
const (
	ReasonStaticReviewer   = "static_reviewer_from_zone_policy"
	ReasonZoneApprover     = "zone_approver_assignment"
	ReasonZoneGardener     = "zone_gardener_fallback"
	ReasonEscalationTarget = "escalation_target_approver"
)

// ApprovalRequest asks one reviewer for a decision on one proposal.
type ApprovalRequest struct {
	ID              string     `json:"id"`
	ProposalID      string     `json:"proposal_id"`
	ReviewerID      string     `json:"reviewer_id"`
	ReviewerType    string     `json:"reviewer_type"`
	SelectionReason string     `json:"selection_reason"`
	Decision        string     `json:"decision,omitempty"`
	Rationale       string     `json:"rationale"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
	Deadline        *time.Time `json:"deadline,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Decided reports whether the reviewer has recorded a decision.
func (r *ApprovalRequest) Decided() bool { return r.Decision != "" }

// DecisionRequest is the payload a reviewer submits.
type DecisionRequest struct {
	Decision  string `json:"decision"`
	Rationale string `json:"rationale"`
}

// Validate checks the decision value.
func (d DecisionRequest) Validate() error {
	switch d.Decision {
	case DecisionApprove, DecisionReject, DecisionAbstain:
		return nil
	}
	return domain.Validationf("decision must be approve, reject or abstain, got %q", d.Decision)
}

// Outcome is the result of evaluating a decision model.
type Outcome struct {
	Resolved bool
	Status   Status
}

var pending = Outcome{}

func resolved(s Status) Outcome { return Outcome{Resolved: true, Status: s} }

// Evaluate applies the decision model to the current approval requests.
// A nil model means threshold with a threshold of 1.
func Evaluate(model *zone.DecisionModel, requests []ApprovalRequest) Outcome {
	decided := decidedInOrder(requests)
	if len(decided) == 0 {
		return pending
	}

	total := len(requests)
	approvals, rejections := tally(decided)
	allDecided := len(decided) == total

	switch model.Type() {
	case zone.ModelUnilateral:
		for _, r := range decided {
			switch r.Decision {
			case DecisionApprove:
				return resolved(StatusApproved)
			case DecisionReject:
				return resolved(StatusRejected)
			}
		}
		return pending

	case zone.ModelMajority:
		if !allDecided {
			return pending
		}
		if float64(approvals) > float64(total)/2 {
			return resolved(StatusApproved)
		}
		return resolved(StatusRejected)

	case zone.ModelWeighted:
		if !allDecided {
			return pending
		}
		var score float64
		for _, r := range decided {
			switch r.Decision {
			case DecisionApprove:
				score += weight(r)
			case DecisionReject:
				score -= weight(r)
			}
		}
		if score > 0 {
			return resolved(StatusApproved)
		}
		return resolved(StatusRejected)

	case zone.ModelConsensus:
		if approvals == total {
			return resolved(StatusApproved)
		}
		if rejections > 0 {
			if approvals >= model.ThresholdOrDefault() {
				return resolved(StatusApproved)
			}
			return resolved(StatusRejected)
		}
		return pending

	default:
		threshold := model.ThresholdOrDefault()
		if approvals >= threshold {
			return resolved(StatusApproved)
		}
		if rejections >= threshold {
			return resolved(StatusRejected)
		}
		return pending
	}
}

// weight gives zone approvers a double vote under the weighted model.
func weight(r ApprovalRequest) float64 {
	if r.SelectionReason == ReasonZoneApprover {
		return 2
	}
	return 1
}

func decidedInOrder(requests []ApprovalRequest) []ApprovalRequest {
	var out []ApprovalRequest
	for _, r := range requests {
		if r.Decided() {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].DecidedAt, out[j].DecidedAt
		if a == nil || b == nil {
			return false
		}
		return a.Before(*b)
	})
	return out
}

func tally(decided []ApprovalRequest) (approvals, rejections int) {
	for _, r := range decided {
		switch r.Decision {
		case DecisionApprove:
			approvals++
		case DecisionReject:
			rejections++
		}
	}
	return approvals, rejections
}
