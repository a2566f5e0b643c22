package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/audit"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/proposal"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/database"
)

const proposalColumns = `id, organization_id, zone_id, proposer_id, title, description, proposal_type,
	payload, status, risk_level, conflicts_detected, decision_model_override,
	expires_at, resolved_at, created_at, updated_at`

func scanProposal(row scannable) (proposal.Proposal, error) {
	var (
		p                            proposal.Proposal
		ptype, status                string
		payload, conflicts, override []byte
	)
	if err := row.Scan(&p.ID, &p.OrganizationID, &p.ZoneID, &p.ProposerID, &p.Title, &p.Description, &ptype,
		&payload, &status, &p.RiskLevel, &conflicts, &override,
		&p.ExpiresAt, &p.ResolvedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return proposal.Proposal{}, err
	}
	p.ProposalType = proposal.Type(ptype)
	p.Status = proposal.Status(status)
	if err := decodeJSONB(payload, &p.Payload); err != nil {
		return proposal.Proposal{}, fmt.Errorf("decode payload of proposal %s: %w", p.ID, err)
	}
	if err := decodeJSONB(conflicts, &p.ConflictsDetected); err != nil {
		return proposal.Proposal{}, fmt.Errorf("decode conflicts of proposal %s: %w", p.ID, err)
	}
	if err := decodeJSONB(override, &p.DecisionModelOverride); err != nil {
		return proposal.Proposal{}, fmt.Errorf("decode decision model of proposal %s: %w", p.ID, err)
	}
	return p, nil
}

func insertProposal(ctx context.Context, q querier, p *proposal.Proposal) error {
	payload, err := jsonbParam(p.Payload)
	if err != nil {
		return fmt.Errorf("encode proposal payload: %w", err)
	}
	conflicts, err := jsonbParam(p.ConflictsDetected)
	if err != nil {
		return fmt.Errorf("encode proposal conflicts: %w", err)
	}
	override, err := jsonbParam(p.DecisionModelOverride)
	if err != nil {
		return fmt.Errorf("encode decision model override: %w", err)
	}
	if p.OrganizationID == "" {
		p.OrganizationID = orgFromCtx(ctx)
	}

	err = q.QueryRow(ctx, `
		INSERT INTO proposals (organization_id, zone_id, proposer_id, title, description, proposal_type,
			payload, status, risk_level, conflicts_detected, decision_model_override, expires_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at`,
		p.OrganizationID, p.ZoneID, p.ProposerID, p.Title, p.Description, string(p.ProposalType),
		payload, string(p.Status), p.RiskLevel, conflicts, override, p.ExpiresAt, p.ResolvedAt,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}

	for i := range p.ApprovalRequests {
		r := &p.ApprovalRequests[i]
		r.ProposalID = p.ID
		if err := insertApprovalRequest(ctx, q, r); err != nil {
			return err
		}
	}
	return nil
}

func insertApprovalRequest(ctx context.Context, q querier, r *proposal.ApprovalRequest) error {
	err := q.QueryRow(ctx, `
		INSERT INTO approval_requests (proposal_id, reviewer_id, reviewer_type, selection_reason, deadline)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		r.ProposalID, r.ReviewerID, r.ReviewerType, r.SelectionReason, r.Deadline,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflictf("reviewer %s already has a request on proposal %s", r.ReviewerID, r.ProposalID)
		}
		return fmt.Errorf("insert approval request: %w", err)
	}
	return nil
}

const approvalColumns = `id, proposal_id, reviewer_id, reviewer_type, selection_reason,
	decision, rationale, decided_at, deadline, created_at`

func scanApprovalRequest(row scannable) (proposal.ApprovalRequest, error) {
	var (
		r        proposal.ApprovalRequest
		decision *string
	)
	if err := row.Scan(&r.ID, &r.ProposalID, &r.ReviewerID, &r.ReviewerType, &r.SelectionReason,
		&decision, &r.Rationale, &r.DecidedAt, &r.Deadline, &r.CreatedAt); err != nil {
		return proposal.ApprovalRequest{}, err
	}
	r.Decision = deref(decision)
	return r, nil
}

func listApprovalRequests(ctx context.Context, q querier, proposalID string) ([]proposal.ApprovalRequest, error) {
	rows, err := q.Query(ctx,
		`SELECT `+approvalColumns+` FROM approval_requests WHERE proposal_id = $1 ORDER BY created_at ASC, id`,
		proposalID)
	if err != nil {
		return nil, fmt.Errorf("list approval requests: %w", err)
	}
	defer rows.Close()

	var out []proposal.ApprovalRequest
	for rows.Next() {
		r, err := scanApprovalRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func getProposal(ctx context.Context, q querier, id string, forUpdate bool) (*proposal.Proposal, error) {
	sql := `SELECT ` + proposalColumns + ` FROM proposals WHERE id = $1 AND organization_id = $2`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	p, err := scanProposal(q.QueryRow(ctx, sql, id, orgFromCtx(ctx)))
	if err != nil {
		return nil, notFoundWrap(err, "get proposal %s", id)
	}
	return &p, nil
}

// CreateProposal inserts p, its approval requests and entry atomically.
func (s *Store) CreateProposal(ctx context.Context, p *proposal.Proposal, entry *audit.Entry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := insertProposal(ctx, tx, p); err != nil {
		return err
	}
	if entry != nil {
		entry.TargetID = p.ID
		if err := insertAudit(ctx, tx, entry); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// GetProposal returns a proposal with its approval requests.
func (s *Store) GetProposal(ctx context.Context, id string) (*proposal.Proposal, error) {
	p, err := getProposal(ctx, s.pool, id, false)
	if err != nil {
		return nil, err
	}
	reqs, err := listApprovalRequests(ctx, s.pool, id)
	if err != nil {
		return nil, err
	}
	p.ApprovalRequests = orEmpty(reqs)
	return p, nil
}

// DecideApproval records one reviewer decision and, when the decision model
// resolves, the final proposal status. The proposal row is locked for the
// whole transaction so concurrent decisions resolve exactly once.
func (s *Store) DecideApproval(ctx context.Context, d database.Decision) (*proposal.Proposal, proposal.Outcome, error) {
	var none proposal.Outcome

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, none, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	p, err := getProposal(ctx, tx, d.ProposalID, true)
	if err != nil {
		return nil, none, err
	}
	if p.Status != proposal.StatusPendingReview {
		return nil, none, domain.Conflictf("proposal is %s, not pending review", p.Status)
	}

	req, err := scanApprovalRequest(tx.QueryRow(ctx,
		`SELECT `+approvalColumns+` FROM approval_requests WHERE proposal_id = $1 AND reviewer_id = $2 FOR UPDATE`,
		d.ProposalID, d.ReviewerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, none, fmt.Errorf("%w: reviewer is not assigned to proposal %s", domain.ErrForbidden, d.ProposalID)
		}
		return nil, none, fmt.Errorf("load approval request: %w", err)
	}
	if req.Decided() {
		return nil, none, domain.Conflictf("reviewer already decided %s", req.Decision)
	}

	now := d.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if _, err := tx.Exec(ctx,
		`UPDATE approval_requests SET decision = $2, rationale = $3, decided_at = $4 WHERE id = $1`,
		req.ID, d.Request.Decision, d.Request.Rationale, now); err != nil {
		return nil, none, fmt.Errorf("record decision: %w", err)
	}

	reqs, err := listApprovalRequests(ctx, tx, p.ID)
	if err != nil {
		return nil, none, err
	}
	p.ApprovalRequests = reqs

	outcome := none
	if d.Resolve != nil {
		outcome = d.Resolve(p)
	}
	entries := append([]audit.Entry(nil), d.Audit...)
	if outcome.Resolved {
		if err := tx.QueryRow(ctx,
			`UPDATE proposals SET status = $2, resolved_at = $3, updated_at = $3 WHERE id = $1 RETURNING updated_at`,
			p.ID, string(outcome.Status), now,
		).Scan(&p.UpdatedAt); err != nil {
			return nil, none, fmt.Errorf("resolve proposal %s: %w", p.ID, err)
		}
		p.Status = outcome.Status
		p.ResolvedAt = &now
		entries = append(entries, audit.Entry{
			ZoneID:     p.ZoneID,
			ActorID:    d.ReviewerID,
			ActorType:  audit.ActorHuman,
			Action:     audit.ActionProposalResolve,
			TargetType: audit.TargetProposal,
			TargetID:   p.ID,
			Payload:    map[string]any{"status": string(outcome.Status)},
		})
	}
	if err := insertAudits(ctx, tx, entries); err != nil {
		return nil, none, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, none, fmt.Errorf("commit decision: %w", err)
	}
	return p, outcome, nil
}

// ListPendingProposals returns proposals of every organization still pending
// review that were created at or before createdBefore. It backs the
// auto-escalation sweep and carries no approval requests.
func (s *Store) ListPendingProposals(ctx context.Context, createdBefore time.Time) ([]proposal.Proposal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+proposalColumns+` FROM proposals
		WHERE status = 'pending_review' AND created_at <= $1
		ORDER BY created_at ASC`, createdBefore)
	if err != nil {
		return nil, fmt.Errorf("list pending proposals: %w", err)
	}
	defer rows.Close()

	var out []proposal.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		out = append(out, p)
	}
	return orEmpty(out), rows.Err()
}
