package postgres

import (
	"context"
	"fmt"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/gardener"
)

const feedbackColumns = `f.id, f.proposal_id, f.reviewer_id, f.selected_by, f.reviewed_in_time,
	f.decision_overturned, f.work_outcome, f.created_at, f.updated_at`

func scanFeedback(row scannable) (gardener.Feedback, error) {
	var f gardener.Feedback
	err := row.Scan(&f.ID, &f.ProposalID, &f.ReviewerID, &f.SelectedBy, &f.ReviewedInTime,
		&f.DecisionOverturned, &f.WorkOutcome, &f.CreatedAt, &f.UpdatedAt)
	return f, err
}

// CreateFeedback records one row per selected reviewer. Rows for a
// (proposal, reviewer) pair that already exists are skipped.
func (s *Store) CreateFeedback(ctx context.Context, rows []gardener.Feedback) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	const q = `
		INSERT INTO gardener_feedback (proposal_id, reviewer_id, selected_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (proposal_id, reviewer_id) DO NOTHING`
	for _, f := range rows {
		if _, err := tx.Exec(ctx, q, f.ProposalID, f.ReviewerID, f.SelectedBy); err != nil {
			return fmt.Errorf("insert feedback for reviewer %s: %w", f.ReviewerID, err)
		}
	}
	return tx.Commit(ctx)
}

// ListFeedbackByProposal returns the feedback rows of one proposal.
func (s *Store) ListFeedbackByProposal(ctx context.Context, proposalID string) ([]gardener.Feedback, error) {
	return s.queryFeedback(ctx, `
		SELECT `+feedbackColumns+`
		FROM gardener_feedback f JOIN proposals p ON p.id = f.proposal_id
		WHERE f.proposal_id = $1 AND p.organization_id = $2
		ORDER BY f.created_at ASC`, proposalID, orgFromCtx(ctx))
}

// ListFeedbackByReviewers returns every feedback row of the given reviewers
// within the context organization.
func (s *Store) ListFeedbackByReviewers(ctx context.Context, reviewerIDs []string) ([]gardener.Feedback, error) {
	if len(reviewerIDs) == 0 {
		return []gardener.Feedback{}, nil
	}
	return s.queryFeedback(ctx, `
		SELECT `+feedbackColumns+`
		FROM gardener_feedback f JOIN proposals p ON p.id = f.proposal_id
		WHERE f.reviewer_id = ANY($1) AND p.organization_id = $2
		ORDER BY f.created_at ASC`, pgTextArray(reviewerIDs), orgFromCtx(ctx))
}

func (s *Store) queryFeedback(ctx context.Context, sql string, args ...any) ([]gardener.Feedback, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	var out []gardener.Feedback
	for rows.Next() {
		f, err := scanFeedback(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		out = append(out, f)
	}
	return orEmpty(out), rows.Err()
}

// UpdateFeedbackOutcome writes the outcome flags of f.
func (s *Store) UpdateFeedbackOutcome(ctx context.Context, f *gardener.Feedback) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE gardener_feedback SET reviewed_in_time = $2, decision_overturned = $3,
			work_outcome = $4, updated_at = now()
		WHERE id = $1`,
		f.ID, f.ReviewedInTime, f.DecisionOverturned, f.WorkOutcome)
	return execExpectOne(tag, err, "update feedback %s", f.ID)
}
