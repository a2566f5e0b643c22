package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/audit"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/evaluation"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/database"
)

const evaluationColumns = `id, organization_id, zone_id, task_id, proposal_id, executor_id, status,
	aggregate_result, created_at, updated_at`

func scanEvaluation(row scannable) (evaluation.Evaluation, error) {
	var (
		e              evaluation.Evaluation
		task, proposal *string
		status         string
		aggregate      []byte
	)
	if err := row.Scan(&e.ID, &e.OrganizationID, &e.ZoneID, &task, &proposal, &e.ExecutorID, &status,
		&aggregate, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return evaluation.Evaluation{}, err
	}
	e.TaskID = deref(task)
	e.ProposalID = deref(proposal)
	e.Status = evaluation.Status(status)
	if err := decodeJSONB(aggregate, &e.AggregateResult); err != nil {
		return evaluation.Evaluation{}, fmt.Errorf("decode evaluation %s aggregate: %w", e.ID, err)
	}
	return e, nil
}

func getEvaluation(ctx context.Context, q querier, id string, forUpdate bool) (*evaluation.Evaluation, error) {
	sql := `SELECT ` + evaluationColumns + ` FROM evaluations WHERE id = $1 AND organization_id = $2`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	e, err := scanEvaluation(q.QueryRow(ctx, sql, id, orgFromCtx(ctx)))
	if err != nil {
		return nil, notFoundWrap(err, "get evaluation %s", id)
	}
	return &e, nil
}

func listScores(ctx context.Context, q querier, evaluationID string) ([]evaluation.Score, error) {
	rows, err := q.Query(ctx, `
		SELECT id, evaluation_id, evaluator_id, criterion_name, criterion_weight, score, rationale, created_at
		FROM evaluation_scores WHERE evaluation_id = $1 ORDER BY created_at ASC, id`, evaluationID)
	if err != nil {
		return nil, fmt.Errorf("list scores: %w", err)
	}
	defer rows.Close()

	var out []evaluation.Score
	for rows.Next() {
		var sc evaluation.Score
		if err := rows.Scan(&sc.ID, &sc.EvaluationID, &sc.EvaluatorID, &sc.CriterionName,
			&sc.CriterionWeight, &sc.Score, &sc.Rationale, &sc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		out = append(out, sc)
	}
	return orEmpty(out), rows.Err()
}

func listSignals(ctx context.Context, q querier, evaluationID string, unappliedOnly bool) ([]evaluation.Signal, error) {
	sql := `SELECT id, evaluation_id, target_id, signal_type, magnitude, reason, applied, created_at
		FROM incentive_signals WHERE evaluation_id = $1`
	if unappliedOnly {
		sql += ` AND NOT applied ORDER BY created_at ASC, id FOR UPDATE`
	} else {
		sql += ` ORDER BY created_at ASC, id`
	}
	rows, err := q.Query(ctx, sql, evaluationID)
	if err != nil {
		return nil, fmt.Errorf("list incentive signals: %w", err)
	}
	defer rows.Close()

	var out []evaluation.Signal
	for rows.Next() {
		var sig evaluation.Signal
		if err := rows.Scan(&sig.ID, &sig.EvaluationID, &sig.TargetID, &sig.SignalType,
			&sig.Magnitude, &sig.Reason, &sig.Applied, &sig.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan incentive signal: %w", err)
		}
		out = append(out, sig)
	}
	return orEmpty(out), rows.Err()
}

// CreateEvaluation inserts e and its audit entry in one transaction.
func (s *Store) CreateEvaluation(ctx context.Context, e *evaluation.Evaluation, entry *audit.Entry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	err = tx.QueryRow(ctx, `
		INSERT INTO evaluations (organization_id, zone_id, task_id, proposal_id, executor_id, status)
		SELECT organization_id, id, $3, $4, $5, $6 FROM trust_zones WHERE id = $2 AND organization_id = $1
		RETURNING id, organization_id, created_at, updated_at`,
		orgFromCtx(ctx), e.ZoneID, nullIfEmpty(e.TaskID), nullIfEmpty(e.ProposalID), e.ExecutorID, string(e.Status),
	).Scan(&e.ID, &e.OrganizationID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.Validationf("proposal %s not found in organization", e.ProposalID)
		}
		return notFoundWrap(err, "create evaluation in zone %s", e.ZoneID)
	}

	if entry != nil {
		entry.TargetType = audit.TargetEvaluation
		entry.TargetID = e.ID
		if err := insertAudit(ctx, tx, entry); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// GetEvaluation returns an evaluation with its scores and signals.
func (s *Store) GetEvaluation(ctx context.Context, id string) (*evaluation.Evaluation, error) {
	e, err := getEvaluation(ctx, s.pool, id, false)
	if err != nil {
		return nil, err
	}
	if e.Scores, err = listScores(ctx, s.pool, id); err != nil {
		return nil, err
	}
	if e.IncentiveSignals, err = listSignals(ctx, s.pool, id, false); err != nil {
		return nil, err
	}
	return e, nil
}

// ListEvaluations returns the organization's evaluations, newest first.
func (s *Store) ListEvaluations(ctx context.Context, filter evaluation.ListFilter) ([]evaluation.Evaluation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+evaluationColumns+` FROM evaluations
		WHERE organization_id = $1
		  AND ($2 = '' OR zone_id::text = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC`,
		orgFromCtx(ctx), filter.ZoneID, string(filter.Status))
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	defer rows.Close()

	var out []evaluation.Evaluation
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		out = append(out, e)
	}
	return orEmpty(out), rows.Err()
}

// AddScore writes a score under a row lock on its evaluation so a
// concurrent finalize either sees it or rejects it.
func (s *Store) AddScore(ctx context.Context, sc *evaluation.Score, entry *audit.Entry) (*evaluation.Evaluation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	e, err := getEvaluation(ctx, tx, sc.EvaluationID, true)
	if err != nil {
		return nil, err
	}
	if err := evaluation.CanScore(e); err != nil {
		return nil, err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO evaluation_scores (evaluation_id, evaluator_id, criterion_name, criterion_weight, score, rationale)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		sc.EvaluationID, sc.EvaluatorID, sc.CriterionName, sc.CriterionWeight, sc.Score, sc.Rationale,
	).Scan(&sc.ID, &sc.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.Conflictf("already scored criterion %q", sc.CriterionName)
		}
		return nil, fmt.Errorf("insert score: %w", err)
	}

	if e.Status == evaluation.StatusPending {
		if err := tx.QueryRow(ctx, `
			UPDATE evaluations SET status = $2, updated_at = now() WHERE id = $1
			RETURNING updated_at`, e.ID, string(evaluation.StatusInReview),
		).Scan(&e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("mark evaluation %s in review: %w", e.ID, err)
		}
		e.Status = evaluation.StatusInReview
	}

	if entry != nil {
		entry.ZoneID = e.ZoneID
		entry.TargetType = audit.TargetEvaluation
		entry.TargetID = e.ID
		if err := insertAudit(ctx, tx, entry); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// FinalizeEvaluation aggregates the scores of a locked evaluation and writes
// the result, its incentive signals and the audit entry together.
func (s *Store) FinalizeEvaluation(ctx context.Context, f database.FinalizeEvaluation) (*evaluation.Evaluation, error) {
	now := f.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	e, err := getEvaluation(ctx, tx, f.EvaluationID, true)
	if err != nil {
		return nil, err
	}
	scores, err := listScores(ctx, tx, e.ID)
	if err != nil {
		return nil, err
	}
	signals, err := evaluation.Finalize(e, scores, f.Feedback, now)
	if err != nil {
		return nil, err
	}

	aggregate, err := jsonbParam(e.AggregateResult)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE evaluations SET status = $2, aggregate_result = $3, updated_at = $4 WHERE id = $1`,
		e.ID, string(e.Status), aggregate, now); err != nil {
		return nil, fmt.Errorf("finalize evaluation %s: %w", e.ID, err)
	}

	for i := range signals {
		sig := &signals[i]
		if err := tx.QueryRow(ctx, `
			INSERT INTO incentive_signals (evaluation_id, target_id, signal_type, magnitude, reason, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			e.ID, sig.TargetID, sig.SignalType, sig.Magnitude, sig.Reason, now,
		).Scan(&sig.ID); err != nil {
			return nil, fmt.Errorf("insert incentive signal for %s: %w", sig.TargetID, err)
		}
	}

	if f.Audit != nil {
		f.Audit.ZoneID = e.ZoneID
		f.Audit.TargetType = audit.TargetEvaluation
		f.Audit.TargetID = e.ID
		f.Audit.Payload = e.AggregateResult.Payload()
		if err := insertAudit(ctx, tx, f.Audit); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	e.Scores = scores
	e.IncentiveSignals = signals
	return e, nil
}

// ApplySignals moves unapplied signals into member reputation. The signal
// rows are locked so a signal is applied once even under concurrent calls.
func (s *Store) ApplySignals(ctx context.Context, evaluationID string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := getEvaluation(ctx, tx, evaluationID, false); err != nil {
		return 0, err
	}
	signals, err := listSignals(ctx, tx, evaluationID, true)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, sig := range signals {
		tag, err := tx.Exec(ctx, `
			UPDATE organization_members SET reputation_score = GREATEST(0, reputation_score + $3)
			WHERE organization_id = $1 AND user_id = $2`,
			orgFromCtx(ctx), sig.TargetID, sig.Delta())
		if err != nil {
			return 0, fmt.Errorf("apply signal %s: %w", sig.ID, err)
		}
		if tag.RowsAffected() == 0 {
			continue
		}
		if _, err := tx.Exec(ctx, `UPDATE incentive_signals SET applied = true WHERE id = $1`, sig.ID); err != nil {
			return 0, fmt.Errorf("mark signal %s applied: %w", sig.ID, err)
		}
		applied++
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return applied, nil
}
