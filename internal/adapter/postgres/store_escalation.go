package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/audit"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/escalation"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/proposal"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/database"
)

const escalationColumns = `id, organization_id, escalation_type, source_proposal_id, source_zone_id,
	target_zone_id, escalator_id, reason, status, resulting_proposal_id, created_at, updated_at`

func scanEscalation(row scannable) (escalation.Escalation, error) {
	var (
		e                 escalation.Escalation
		etype, status     string
		source, resulting *string
	)
	if err := row.Scan(&e.ID, &e.OrganizationID, &etype, &source, &e.SourceZoneID,
		&e.TargetZoneID, &e.EscalatorID, &e.Reason, &status, &resulting, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return escalation.Escalation{}, err
	}
	e.EscalationType = escalation.Type(etype)
	e.Status = escalation.Status(status)
	e.SourceProposalID = deref(source)
	e.ResultingProposalID = deref(resulting)
	return e, nil
}

func getEscalation(ctx context.Context, q querier, id string, forUpdate bool) (*escalation.Escalation, error) {
	sql := `SELECT ` + escalationColumns + ` FROM escalations WHERE id = $1 AND organization_id = $2`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	e, err := scanEscalation(q.QueryRow(ctx, sql, id, orgFromCtx(ctx)))
	if err != nil {
		return nil, notFoundWrap(err, "get escalation %s", id)
	}
	return &e, nil
}

func listCosigners(ctx context.Context, q querier, escalationID string) ([]escalation.Cosigner, error) {
	rows, err := q.Query(ctx, `
		SELECT id, escalation_id, user_id, created_at FROM escalation_cosigners
		WHERE escalation_id = $1 ORDER BY created_at ASC, id`, escalationID)
	if err != nil {
		return nil, fmt.Errorf("list cosigners: %w", err)
	}
	defer rows.Close()

	var out []escalation.Cosigner
	for rows.Next() {
		var c escalation.Cosigner
		if err := rows.Scan(&c.ID, &c.EscalationID, &c.UserID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cosigner: %w", err)
		}
		out = append(out, c)
	}
	return orEmpty(out), rows.Err()
}

// insertCosigner adds userID as a cosigner and reports whether a row was added.
func insertCosigner(ctx context.Context, q querier, escalationID, userID string) (bool, error) {
	tag, err := q.Exec(ctx, `
		INSERT INTO escalation_cosigners (escalation_id, user_id) VALUES ($1, $2)
		ON CONFLICT (escalation_id, user_id) DO NOTHING`, escalationID, userID)
	if err != nil {
		return false, fmt.Errorf("insert cosigner: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CreateEscalation writes a new escalation and everything it implies in one
// transaction. The rate limit is checked against rows visible inside it.
func (s *Store) CreateEscalation(ctx context.Context, n database.NewEscalation) error {
	e := n.Escalation
	now := n.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if e.OrganizationID == "" {
		e.OrganizationID = orgFromCtx(ctx)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if n.CheckRateLimit != nil {
		var recent int
		if err := tx.QueryRow(ctx, `
			SELECT count(*) FROM escalations
			WHERE organization_id = $1 AND escalator_id = $2 AND source_zone_id = $3 AND created_at > $4`,
			e.OrganizationID, e.EscalatorID, e.SourceZoneID, now.Add(-escalation.RateLimitWindow),
		).Scan(&recent); err != nil {
			return fmt.Errorf("count recent escalations: %w", err)
		}
		if err := n.CheckRateLimit(recent); err != nil {
			return err
		}
	}

	if e.SourceProposalID != "" {
		src, err := getProposal(ctx, tx, e.SourceProposalID, true)
		if err != nil {
			return err
		}
		if src.Status != proposal.StatusPendingReview {
			return domain.Conflictf("proposal is %s, only pending proposals can be escalated", src.Status)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE proposals SET status = $2, updated_at = $3 WHERE id = $1`,
			src.ID, string(proposal.StatusEscalated), now); err != nil {
			return fmt.Errorf("mark proposal %s escalated: %w", src.ID, err)
		}
	}

	if n.ResultingProposal != nil {
		if err := insertProposal(ctx, tx, n.ResultingProposal); err != nil {
			return err
		}
		e.ResultingProposalID = n.ResultingProposal.ID
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO escalations (organization_id, escalation_type, source_proposal_id, source_zone_id,
			target_zone_id, escalator_id, reason, status, resulting_proposal_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING id, created_at, updated_at`,
		e.OrganizationID, string(e.EscalationType), nullIfEmpty(e.SourceProposalID), e.SourceZoneID,
		e.TargetZoneID, e.EscalatorID, e.Reason, string(e.Status), nullIfEmpty(e.ResultingProposalID), now,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert escalation: %w", err)
	}

	if n.CosignAsEscalator {
		if _, err := insertCosigner(ctx, tx, e.ID, e.EscalatorID); err != nil {
			return err
		}
	}
	if e.Cosigners, err = listCosigners(ctx, tx, e.ID); err != nil {
		return err
	}

	entries := append([]audit.Entry(nil), n.Audit...)
	for i := range entries {
		if entries[i].TargetID == "" {
			entries[i].TargetType = audit.TargetEscalation
			entries[i].TargetID = e.ID
		}
	}
	if err := insertAudits(ctx, tx, entries); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetEscalation returns an escalation with its cosigners.
func (s *Store) GetEscalation(ctx context.Context, id string) (*escalation.Escalation, error) {
	e, err := getEscalation(ctx, s.pool, id, false)
	if err != nil {
		return nil, err
	}
	if e.Cosigners, err = listCosigners(ctx, s.pool, id); err != nil {
		return nil, err
	}
	return e, nil
}

// ListEscalations returns the organization's escalations, newest first.
func (s *Store) ListEscalations(ctx context.Context, filter escalation.ListFilter) ([]escalation.Escalation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+escalationColumns+` FROM escalations
		WHERE organization_id = $1
		  AND ($2 = '' OR escalation_type = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC`,
		orgFromCtx(ctx), string(filter.EscalationType), string(filter.Status))
	if err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	defer rows.Close()

	var out []escalation.Escalation
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		out = append(out, e)
	}
	return orEmpty(out), rows.Err()
}

// Cosign adds a cosigner to a pending governance escalation. Reaching the
// threshold accepts the escalation and files the meta-proposal built by
// c.Accept in the same transaction. Cosigning twice is not an error.
func (s *Store) Cosign(ctx context.Context, c database.CosignRequest) (*escalation.CosignResult, error) {
	now := c.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	e, err := getEscalation(ctx, tx, c.EscalationID, true)
	if err != nil {
		return nil, err
	}
	if err := escalation.CanCosign(e); err != nil {
		return nil, err
	}

	added, err := insertCosigner(ctx, tx, e.ID, c.UserID)
	if err != nil {
		return nil, err
	}
	var count int
	if err := tx.QueryRow(ctx,
		`SELECT count(*) FROM escalation_cosigners WHERE escalation_id = $1`, e.ID,
	).Scan(&count); err != nil {
		return nil, fmt.Errorf("count cosigners: %w", err)
	}

	if added {
		if err := insertAudit(ctx, tx, &audit.Entry{
			ZoneID:     e.SourceZoneID,
			ActorID:    c.UserID,
			ActorType:  audit.ActorHuman,
			Action:     audit.ActionEscalationCosign,
			TargetType: audit.TargetEscalation,
			TargetID:   e.ID,
			Payload:    map[string]any{"cosigner_count": count, "threshold": c.Threshold},
		}); err != nil {
			return nil, err
		}
	}

	result := &escalation.CosignResult{Escalation: e, CosignerCount: count, Threshold: c.Threshold, Added: added}

	if count >= c.Threshold {
		e.Status = escalation.StatusAccepted
		if c.Accept != nil {
			meta, err := c.Accept(ctx, e)
			if err != nil {
				return nil, fmt.Errorf("build meta-proposal for escalation %s: %w", e.ID, err)
			}
			if meta != nil {
				if err := insertProposal(ctx, tx, meta); err != nil {
					return nil, err
				}
				e.ResultingProposalID = meta.ID
			}
		}
		if err := tx.QueryRow(ctx, `
			UPDATE escalations SET status = $2, resulting_proposal_id = $3, updated_at = $4
			WHERE id = $1 RETURNING updated_at`,
			e.ID, string(e.Status), nullIfEmpty(e.ResultingProposalID), now,
		).Scan(&e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("accept escalation %s: %w", e.ID, err)
		}
		if err := insertAudit(ctx, tx, &audit.Entry{
			ZoneID:     e.TargetZoneID,
			ActorID:    c.UserID,
			ActorType:  audit.ActorHuman,
			Action:     audit.ActionEscalationAccept,
			TargetType: audit.TargetEscalation,
			TargetID:   e.ID,
			Payload:    map[string]any{"resulting_proposal_id": e.ResultingProposalID},
		}); err != nil {
			return nil, err
		}
		result.Activated = true
	}

	if e.Cosigners, err = listCosigners(ctx, tx, e.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit cosign: %w", err)
	}
	return result, nil
}

// CloseEscalation resolves or dismisses an escalation. An existing resulting
// proposal link is kept when resultingProposalID is empty.
func (s *Store) CloseEscalation(ctx context.Context, id string, status escalation.Status, resultingProposalID string, entry *audit.Entry) (*escalation.Escalation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	e, err := getEscalation(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if err := escalation.CanClose(e); err != nil {
		return nil, err
	}

	var resulting *string
	if err := tx.QueryRow(ctx, `
		UPDATE escalations SET status = $2, resulting_proposal_id = COALESCE($3, resulting_proposal_id), updated_at = now()
		WHERE id = $1 RETURNING resulting_proposal_id, updated_at`,
		id, string(status), nullIfEmpty(resultingProposalID),
	).Scan(&resulting, &e.UpdatedAt); err != nil {
		return nil, fmt.Errorf("close escalation %s: %w", id, err)
	}
	e.Status = status
	e.ResultingProposalID = deref(resulting)

	if entry != nil {
		entry.TargetType = audit.TargetEscalation
		entry.TargetID = id
		if err := insertAudit(ctx, tx, entry); err != nil {
			return nil, err
		}
	}
	if e.Cosigners, err = listCosigners(ctx, tx, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit close escalation: %w", err)
	}
	return e, nil
}
