// Package evaluation defines post-completion reviews of executed work, the
// scores evaluators give them and the incentive signals that feed member
// reputation.
package evaluation

import (
	"fmt"
	"math"
	"time"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/gardener"
)

// Status is the lifecycle state of an evaluation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusInReview  Status = "in_review"
	StatusCompleted Status = "completed"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInReview, StatusCompleted:
		return true
	}
	return false
}

// Evaluation reviews the work an executor did for a task or proposal.
type Evaluation struct {
	ID              string     `json:"id"`
	OrganizationID  string     `json:"organization_id"`
	ZoneID          string     `json:"zone_id"`
	TaskID          string     `json:"task_id,omitempty"`
	ProposalID      string     `json:"proposal_id,omitempty"`
	ExecutorID      string     `json:"executor_id"`
	Status          Status     `json:"status"`
	AggregateResult *Aggregate `json:"aggregate_result,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	Scores           []Score  `json:"scores,omitempty"`
	IncentiveSignals []Signal `json:"incentive_signals,omitempty"`
}

// Score is one evaluator's score on one criterion. (EvaluationID,
// EvaluatorID, CriterionName) is unique.
type Score struct {
	ID              string    `json:"id"`
	EvaluationID    string    `json:"evaluation_id"`
	EvaluatorID     string    `json:"evaluator_id"`
	CriterionName   string    `json:"criterion_name"`
	CriterionWeight float64   `json:"criterion_weight"`
	Score           float64   `json:"score"`
	Rationale       string    `json:"rationale"`
	CreatedAt       time.Time `json:"created_at"`
}

// Signal types.
const (
	SignalPositive = "positive"
	SignalNeutral  = "neutral"
	SignalNegative = "negative"
)

// Signal nudges the reputation of its target when applied. Each signal is
// applied at most once.
type Signal struct {
	ID           string    `json:"id"`
	EvaluationID string    `json:"evaluation_id"`
	TargetID     string    `json:"target_id"`
	SignalType   string    `json:"signal_type"`
	Magnitude    float64   `json:"magnitude"`
	Reason       string    `json:"reason"`
	Applied      bool      `json:"applied"`
	CreatedAt    time.Time `json:"created_at"`
}

// Delta is the reputation change the signal applies.
func (s Signal) Delta() float64 {
	switch s.SignalType {
	case SignalPositive:
		return s.Magnitude
	case SignalNegative:
		return -s.Magnitude
	default:
		return 0
	}
}

// ApplyReputation returns reputation after s, floored at zero.
func ApplyReputation(reputation float64, s Signal) float64 {
	return math.Max(0, reputation+s.Delta())
}

// CreateRequest opens an evaluation.
type CreateRequest struct {
	ZoneID     string `json:"zone_id"`
	TaskID     string `json:"task_id,omitempty"`
	ProposalID string `json:"proposal_id,omitempty"`
	ExecutorID string `json:"executor_id"`
}

// Validate checks the required ids.
func (r CreateRequest) Validate() error {
	if r.ZoneID == "" {
		return domain.Validationf("zone_id is required")
	}
	if r.ExecutorID == "" {
		return domain.Validationf("executor_id is required")
	}
	return nil
}

// ScoreRequest submits a score. A missing weight counts as 1.
type ScoreRequest struct {
	CriterionName   string   `json:"criterion_name"`
	CriterionWeight *float64 `json:"criterion_weight,omitempty"`
	Score           float64  `json:"score"`
	Rationale       string   `json:"rationale,omitempty"`
}

// Weight returns the criterion weight with the default applied.
func (r ScoreRequest) Weight() float64 {
	if r.CriterionWeight == nil {
		return 1
	}
	return *r.CriterionWeight
}

// Validate checks the criterion, the [0, 1] score range and a positive weight.
func (r ScoreRequest) Validate() error {
	if r.CriterionName == "" {
		return domain.Validationf("criterion_name is required")
	}
	if r.Score < 0 || r.Score > 1 || math.IsNaN(r.Score) {
		return domain.Validationf("score must be between 0 and 1, got %g", r.Score)
	}
	if w := r.Weight(); w <= 0 || math.IsInf(w, 0) || math.IsNaN(w) {
		return domain.Validationf("criterion_weight must be positive, got %g", w)
	}
	return nil
}

// ListFilter narrows evaluation listings. Empty fields match everything.
type ListFilter struct {
	ZoneID string
	Status Status
}

// Aggregate summarizes the scores of a finalized evaluation.
type Aggregate struct {
	OverallScore      float64            `json:"overall_score"`
	TotalScores       int                `json:"total_scores"`
	CriterionAverages map[string]float64 `json:"criterion_averages"`
}

// Payload renders the aggregate for audit entries.
func (a Aggregate) Payload() map[string]any {
	averages := make(map[string]any, len(a.CriterionAverages))
	for k, v := range a.CriterionAverages {
		averages[k] = v
	}
	return map[string]any{
		"overall_score":      a.OverallScore,
		"total_scores":       a.TotalScores,
		"criterion_averages": averages,
	}
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }

// AggregateScores computes the weight-averaged overall score, rounded to
// three decimals, and the plain average of each criterion.
func AggregateScores(scores []Score) Aggregate {
	var totalWeight, weighted float64
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, s := range scores {
		totalWeight += s.CriterionWeight
		weighted += s.Score * s.CriterionWeight
		sums[s.CriterionName] += s.Score
		counts[s.CriterionName]++
	}

	var overall float64
	if totalWeight > 0 {
		overall = weighted / totalWeight
	}
	averages := make(map[string]float64, len(sums))
	for name, sum := range sums {
		averages[name] = sum / float64(counts[name])
	}
	return Aggregate{OverallScore: round3(overall), TotalScores: len(scores), CriterionAverages: averages}
}

// Score thresholds for the executor signal.
const (
	PositiveThreshold = 0.8
	NeutralThreshold  = 0.4

	maxPositiveMagnitude = 2.0
	neutralMagnitude     = 0.5
	minNegativeMagnitude = 0.5

	// ReviewerMagnitude rewards a timely reviewer whose decision stood.
	ReviewerMagnitude = 0.3
)

// ExecutorSignal grades the executor of e from the aggregate overall score.
func ExecutorSignal(e *Evaluation, agg Aggregate) Signal {
	overall := agg.OverallScore
	s := Signal{EvaluationID: e.ID, TargetID: e.ExecutorID}
	switch {
	case overall >= PositiveThreshold:
		s.SignalType = SignalPositive
		s.Magnitude = math.Min(overall*1.5, maxPositiveMagnitude)
		s.Reason = fmt.Sprintf("High evaluation score: %.2f", overall)
	case overall >= NeutralThreshold:
		s.SignalType = SignalNeutral
		s.Magnitude = neutralMagnitude
		s.Reason = fmt.Sprintf("Average evaluation score: %.2f", overall)
	default:
		s.SignalType = SignalNegative
		s.Magnitude = math.Max(1-overall, minNegativeMagnitude)
		s.Reason = fmt.Sprintf("Low evaluation score: %.2f", overall)
	}
	s.Magnitude = round3(s.Magnitude)
	return s
}

// ReviewerSignals rewards every reviewer of the evaluated proposal who
// reviewed in time and was not overturned. Rows with unknown outcomes earn
// nothing.
func ReviewerSignals(e *Evaluation, feedback []gardener.Feedback) []Signal {
	var out []Signal
	for _, f := range feedback {
		if f.ReviewedInTime == nil || !*f.ReviewedInTime {
			continue
		}
		if f.DecisionOverturned == nil || *f.DecisionOverturned {
			continue
		}
		out = append(out, Signal{
			EvaluationID: e.ID,
			TargetID:     f.ReviewerID,
			SignalType:   SignalPositive,
			Magnitude:    ReviewerMagnitude,
			Reason:       "Good reviewer: timely review with non-overturned decision",
		})
	}
	return out
}

// Finalize completes e with the aggregate of scores and returns the
// incentive signals it generates. It fails with domain.ErrConflict when e
// is already completed and domain.ErrValidation when there are no scores.
func Finalize(e *Evaluation, scores []Score, feedback []gardener.Feedback, now time.Time) ([]Signal, error) {
	if e.Status == StatusCompleted {
		return nil, domain.Conflictf("evaluation has already been finalized")
	}
	if len(scores) == 0 {
		return nil, domain.Validationf("cannot finalize evaluation with no scores")
	}
	agg := AggregateScores(scores)
	e.Status = StatusCompleted
	e.AggregateResult = &agg
	e.UpdatedAt = now

	signals := []Signal{ExecutorSignal(e, agg)}
	if e.ProposalID != "" {
		signals = append(signals, ReviewerSignals(e, feedback)...)
	}
	for i := range signals {
		signals[i].CreatedAt = now
	}
	return signals, nil
}

// CanScore reports whether e still accepts scores.
func CanScore(e *Evaluation) error {
	if e.Status == StatusCompleted {
		return domain.Conflictf("evaluation has already been finalized")
	}
	return nil
}
