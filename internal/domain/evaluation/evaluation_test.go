package evaluation

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/gardener"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func boolPtr(b bool) *bool { return &b }

func TestAggregateScores(t *testing.T) {
	scores := []Score{
		{EvaluatorID: "a", CriterionName: "quality", CriterionWeight: 2, Score: 0.9},
		{EvaluatorID: "b", CriterionName: "quality", CriterionWeight: 2, Score: 0.7},
		{EvaluatorID: "a", CriterionName: "speed", CriterionWeight: 1, Score: 0.4},
	}
	agg := AggregateScores(scores)
	if !near(agg.OverallScore, 0.72) {
		t.Fatalf("overall = %v, want 0.72", agg.OverallScore)
	}
	if agg.TotalScores != 3 {
		t.Fatalf("total = %d", agg.TotalScores)
	}
	if !near(agg.CriterionAverages["quality"], 0.8) || !near(agg.CriterionAverages["speed"], 0.4) {
		t.Fatalf("unexpected averages %v", agg.CriterionAverages)
	}
}

func TestAggregateScoresRounds(t *testing.T) {
	agg := AggregateScores([]Score{
		{CriterionName: "a", CriterionWeight: 1, Score: 1},
		{CriterionName: "b", CriterionWeight: 1, Score: 0},
		{CriterionName: "c", CriterionWeight: 1, Score: 0},
	})
	if agg.OverallScore != 0.333 {
		t.Fatalf("overall = %v, want 0.333", agg.OverallScore)
	}
}

func TestExecutorSignal(t *testing.T) {
	tests := []struct {
		overall   float64
		wantType  string
		magnitude float64
	}{
		{1.0, SignalPositive, 1.5},
		{0.9, SignalPositive, 1.35},
		{0.8, SignalPositive, 1.2},
		{0.79, SignalNeutral, 0.5},
		{0.4, SignalNeutral, 0.5},
		{0.39, SignalNegative, 0.61},
		{0.6, SignalNeutral, 0.5},
		{0.0, SignalNegative, 1.0},
		{0.3, SignalNegative, 0.7},
	}
	e := &Evaluation{ID: "ev-1", ExecutorID: "exec"}
	for _, tt := range tests {
		s := ExecutorSignal(e, Aggregate{OverallScore: tt.overall})
		if s.SignalType != tt.wantType || !near(s.Magnitude, tt.magnitude) {
			t.Errorf("overall %v: got %s %v, want %s %v", tt.overall, s.SignalType, s.Magnitude, tt.wantType, tt.magnitude)
		}
		if s.TargetID != "exec" || s.EvaluationID != "ev-1" || s.Reason == "" {
			t.Errorf("overall %v: unexpected signal %+v", tt.overall, s)
		}
	}
}

func TestReviewerSignals(t *testing.T) {
	e := &Evaluation{ID: "ev-1", ProposalID: "p-1"}
	feedback := []gardener.Feedback{
		{ReviewerID: "good", ReviewedInTime: boolPtr(true), DecisionOverturned: boolPtr(false)},
		{ReviewerID: "late", ReviewedInTime: boolPtr(false), DecisionOverturned: boolPtr(false)},
		{ReviewerID: "overturned", ReviewedInTime: boolPtr(true), DecisionOverturned: boolPtr(true)},
		{ReviewerID: "unknown"},
	}
	got := ReviewerSignals(e, feedback)
	if len(got) != 1 || got[0].TargetID != "good" || got[0].Magnitude != ReviewerMagnitude || got[0].SignalType != SignalPositive {
		t.Fatalf("unexpected reviewer signals %+v", got)
	}
}

func TestApplyReputation(t *testing.T) {
	tests := []struct {
		name string
		rep  float64
		s    Signal
		want float64
	}{
		{"positive", 1, Signal{SignalType: SignalPositive, Magnitude: 0.3}, 1.3},
		{"neutral", 1, Signal{SignalType: SignalNeutral, Magnitude: 0.5}, 1},
		{"negative", 1, Signal{SignalType: SignalNegative, Magnitude: 0.4}, 0.6},
		{"floored", 0.2, Signal{SignalType: SignalNegative, Magnitude: 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ApplyReputation(tt.rep, tt.s); !near(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFinalize(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	feedback := []gardener.Feedback{{ReviewerID: "rev", ReviewedInTime: boolPtr(true), DecisionOverturned: boolPtr(false)}}
	scores := []Score{{CriterionName: "quality", CriterionWeight: 1, Score: 0.9}}

	t.Run("with proposal", func(t *testing.T) {
		e := &Evaluation{ID: "ev", ExecutorID: "exec", ProposalID: "p", Status: StatusInReview}
		signals, err := Finalize(e, scores, feedback, now)
		if err != nil {
			t.Fatal(err)
		}
		if e.Status != StatusCompleted || e.AggregateResult == nil || e.AggregateResult.OverallScore != 0.9 {
			t.Fatalf("unexpected evaluation %+v", e)
		}
		if len(signals) != 2 || signals[0].TargetID != "exec" || signals[1].TargetID != "rev" {
			t.Fatalf("unexpected signals %+v", signals)
		}
		if !signals[1].CreatedAt.Equal(now) {
			t.Fatal("signals must carry the finalize time")
		}
	})

	t.Run("task only skips reviewers", func(t *testing.T) {
		e := &Evaluation{ID: "ev", ExecutorID: "exec", TaskID: "t", Status: StatusInReview}
		signals, err := Finalize(e, scores, feedback, now)
		if err != nil {
			t.Fatal(err)
		}
		if len(signals) != 1 {
			t.Fatalf("expected executor signal only, got %+v", signals)
		}
	})

	t.Run("completed", func(t *testing.T) {
		e := &Evaluation{Status: StatusCompleted}
		if _, err := Finalize(e, scores, nil, now); !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("no scores", func(t *testing.T) {
		e := &Evaluation{Status: StatusPending}
		if _, err := Finalize(e, nil, nil, now); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
		if e.Status != StatusPending {
			t.Fatal("a failed finalize must not change the status")
		}
	})
}

func TestScoreRequestValidate(t *testing.T) {
	zero, neg, two := 0.0, -1.0, 2.0
	tests := []struct {
		name    string
		req     ScoreRequest
		wantErr bool
	}{
		{"ok default weight", ScoreRequest{CriterionName: "q", Score: 0.5}, false},
		{"ok weight", ScoreRequest{CriterionName: "q", Score: 1, CriterionWeight: &two}, false},
		{"missing criterion", ScoreRequest{Score: 0.5}, true},
		{"score above one", ScoreRequest{CriterionName: "q", Score: 1.5}, true},
		{"negative score", ScoreRequest{CriterionName: "q", Score: -0.1}, true},
		{"zero weight", ScoreRequest{CriterionName: "q", Score: 0.5, CriterionWeight: &zero}, true},
		{"negative weight", ScoreRequest{CriterionName: "q", Score: 0.5, CriterionWeight: &neg}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr != (err != nil) {
				t.Fatalf("wantErr %v, got %v", tt.wantErr, err)
			}
			if err != nil && !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}
