package postgres

import (
	"context"
	"fmt"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/audit"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/zone"
)

const zoneColumns = `id, organization_id, parent_zone_id, name, slug, description, status, created_by,
	responsibilities, resource_scope, agent_qualifications, alignment_requirements, incentive_model,
	constraints, decision_model, approval_policy, escalation_policy, evaluation_criteria,
	created_at, updated_at`

func scanZone(row scannable) (zone.Zone, error) {
	var (
		z      zone.Zone
		parent *string
		status string

		responsibilities, resourceScope, qualifications, alignment, incentive  []byte
		constraints, decisionModel, approvalPolicy, escalationPolicy, criteria []byte
	)
	if err := row.Scan(
		&z.ID, &z.OrganizationID, &parent, &z.Name, &z.Slug, &z.Description, &status, &z.CreatedBy,
		&responsibilities, &resourceScope, &qualifications, &alignment, &incentive,
		&constraints, &decisionModel, &approvalPolicy, &escalationPolicy, &criteria,
		&z.CreatedAt, &z.UpdatedAt,
	); err != nil {
		return zone.Zone{}, err
	}
	z.ParentZoneID = deref(parent)
	z.Status = zone.Status(status)
	z.Responsibilities = rawJSONB(responsibilities)
	z.AgentQualifications = rawJSONB(qualifications)
	z.AlignmentRequirements = rawJSONB(alignment)
	z.IncentiveModel = rawJSONB(incentive)
	z.EvaluationCriteria = rawJSONB(criteria)

	typed := []struct {
		raw []byte
		dst any
	}{
		{resourceScope, &z.ResourceScope},
		{constraints, &z.Constraints},
		{decisionModel, &z.DecisionModel},
		{approvalPolicy, &z.ApprovalPolicy},
		{escalationPolicy, &z.EscalationPolicy},
	}
	for _, t := range typed {
		if err := decodeJSONB(t.raw, t.dst); err != nil {
			return zone.Zone{}, fmt.Errorf("decode zone %s policy: %w", z.ID, err)
		}
	}
	return z, nil
}

// zonePolicyArgs returns the ten JSONB policy parameters in column order.
func zonePolicyArgs(z *zone.Zone) ([]any, error) {
	vals := []any{
		z.Responsibilities, z.ResourceScope, z.AgentQualifications, z.AlignmentRequirements, z.IncentiveModel,
		z.Constraints, z.DecisionModel, z.ApprovalPolicy, z.EscalationPolicy, z.EvaluationCriteria,
	}
	out := make([]any, len(vals))
	for i, v := range vals {
		p, err := jsonbParam(v)
		if err != nil {
			return nil, fmt.Errorf("encode zone policy: %w", err)
		}
		out[i] = p
	}
	return out, nil
}

// CreateZone inserts z and its audit entry in one transaction. A duplicate
// slug within the organization is a conflict.
func (s *Store) CreateZone(ctx context.Context, z *zone.Zone, entry *audit.Entry) error {
	policies, err := zonePolicyArgs(z)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	args := append([]any{orgFromCtx(ctx), nullIfEmpty(z.ParentZoneID), z.Name, z.Slug, z.Description, string(z.Status), z.CreatedBy}, policies...)
	err = tx.QueryRow(ctx, `
		INSERT INTO trust_zones (organization_id, parent_zone_id, name, slug, description, status, created_by,
			responsibilities, resource_scope, agent_qualifications, alignment_requirements, incentive_model,
			constraints, decision_model, approval_policy, escalation_policy, evaluation_criteria)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, organization_id, created_at, updated_at`, args...,
	).Scan(&z.ID, &z.OrganizationID, &z.CreatedAt, &z.UpdatedAt)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return domain.Conflictf("zone slug %q already exists in this organization", z.Slug)
		case isForeignKeyViolation(err):
			return domain.Validationf("parent zone %s not found in organization", z.ParentZoneID)
		}
		return fmt.Errorf("create zone: %w", err)
	}

	if entry != nil {
		entry.ZoneID = z.ID
		entry.TargetID = z.ID
		if err := insertAudit(ctx, tx, entry); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// GetZone returns a zone of the context organization.
func (s *Store) GetZone(ctx context.Context, id string) (*zone.Zone, error) {
	return getZone(ctx, s.pool, id, false)
}

func getZone(ctx context.Context, q querier, id string, forUpdate bool) (*zone.Zone, error) {
	sql := `SELECT ` + zoneColumns + ` FROM trust_zones WHERE id = $1 AND organization_id = $2`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	z, err := scanZone(q.QueryRow(ctx, sql, id, orgFromCtx(ctx)))
	if err != nil {
		return nil, notFoundWrap(err, "get zone %s", id)
	}
	return &z, nil
}

// ListZones returns the organization's zones ordered by creation time.
func (s *Store) ListZones(ctx context.Context, filter zone.ListFilter) ([]zone.Zone, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+zoneColumns+` FROM trust_zones
		WHERE organization_id = $1
		  AND ($2::uuid IS NULL OR parent_zone_id = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY created_at ASC`,
		orgFromCtx(ctx), nullIfEmpty(filter.ParentZoneID), string(filter.Status))
	if err != nil {
		return nil, fmt.Errorf("list zones: %w", err)
	}
	defer rows.Close()

	var out []zone.Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, fmt.Errorf("scan zone: %w", err)
		}
		out = append(out, z)
	}
	return orEmpty(out), rows.Err()
}

// ListChildZoneIDs returns the direct children of parentID.
func (s *Store) ListChildZoneIDs(ctx context.Context, parentID string) ([]string, error) {
	return childZoneIDs(ctx, s.pool, parentID)
}

func childZoneIDs(ctx context.Context, q querier, parentID string) ([]string, error) {
	rows, err := q.Query(ctx,
		`SELECT id FROM trust_zones WHERE parent_zone_id = $1 AND organization_id = $2 ORDER BY created_at ASC`,
		parentID, orgFromCtx(ctx))
	if err != nil {
		return nil, fmt.Errorf("list child zones: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan child zone: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateZone writes the mutable fields of z. Status is changed only by TransitionZone.
func (s *Store) UpdateZone(ctx context.Context, z *zone.Zone, entry *audit.Entry) error {
	policies, err := zonePolicyArgs(z)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	args := append([]any{z.ID, orgFromCtx(ctx), z.Name, z.Description}, policies...)
	err = tx.QueryRow(ctx, `
		UPDATE trust_zones SET name = $3, description = $4,
			responsibilities = $5, resource_scope = $6, agent_qualifications = $7, alignment_requirements = $8,
			incentive_model = $9, constraints = $10, decision_model = $11, approval_policy = $12,
			escalation_policy = $13, evaluation_criteria = $14, updated_at = now()
		WHERE id = $1 AND organization_id = $2
		RETURNING updated_at`, args...,
	).Scan(&z.UpdatedAt)
	if err != nil {
		return notFoundWrap(err, "update zone %s", z.ID)
	}

	if entry != nil {
		if err := insertAudit(ctx, tx, entry); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// TransitionZone locks the zone, validates the transition and, for suspend
// and archive, applies the same status to every descendant. Descendants
// already archived or already at target are left alone, so re-running a
// cascade changes nothing.
func (s *Store) TransitionZone(ctx context.Context, id string, target zone.Status, entry *audit.Entry) (*zone.Zone, []string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	z, err := getZone(ctx, tx, id, true)
	if err != nil {
		return nil, nil, err
	}
	if err := zone.ValidateStatusTransition(z.Status, target); err != nil {
		return nil, nil, err
	}
	previous := z.Status

	if err := tx.QueryRow(ctx,
		`UPDATE trust_zones SET status = $3, updated_at = now() WHERE id = $1 AND organization_id = $2 RETURNING updated_at`,
		id, orgFromCtx(ctx), string(target),
	).Scan(&z.UpdatedAt); err != nil {
		return nil, nil, fmt.Errorf("transition zone %s: %w", id, err)
	}
	z.Status = target

	var cascaded []string
	if zone.CascadeApplies(target) {
		descendants, err := zone.CollectDescendants(id, func(parentID string) ([]string, error) {
			return childZoneIDs(ctx, tx, parentID)
		})
		if err != nil {
			return nil, nil, err
		}
		if len(descendants) > 0 {
			rows, err := tx.Query(ctx, `
				UPDATE trust_zones SET status = $2, updated_at = now()
				WHERE id = ANY($1) AND status <> 'archived' AND status <> $2
				RETURNING id`, descendants, string(target))
			if err != nil {
				return nil, nil, fmt.Errorf("cascade zone %s: %w", id, err)
			}
			for rows.Next() {
				var cid string
				if err := rows.Scan(&cid); err != nil {
					rows.Close()
					return nil, nil, fmt.Errorf("scan cascaded zone: %w", err)
				}
				cascaded = append(cascaded, cid)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return nil, nil, fmt.Errorf("cascade zone %s: %w", id, err)
			}
		}
	}

	if entry != nil {
		if entry.Payload == nil {
			entry.Payload = map[string]any{}
		}
		entry.Payload["from"] = string(previous)
		entry.Payload["to"] = string(target)
		entry.Payload["cascaded_zone_ids"] = orEmpty(cascaded)
		if err := insertAudit(ctx, tx, entry); err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit transition: %w", err)
	}
	return z, cascaded, nil
}

// --- Assignments ---

// CreateAssignment adds (zone, member, role). The triple is unique.
func (s *Store) CreateAssignment(ctx context.Context, a *zone.Assignment) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO zone_assignments (zone_id, member_id, role, assigned_by)
		SELECT id, $3, $4, $5 FROM trust_zones WHERE id = $1 AND organization_id = $2
		RETURNING id, created_at`,
		a.ZoneID, orgFromCtx(ctx), a.MemberID, string(a.Role), a.AssignedBy,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflictf("member %s already holds role %s in zone %s", a.MemberID, a.Role, a.ZoneID)
		}
		return notFoundWrap(err, "create assignment in zone %s", a.ZoneID)
	}
	return nil
}

// DeleteAssignment removes an assignment of a zone in the context organization.
func (s *Store) DeleteAssignment(ctx context.Context, zoneID, id string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM zone_assignments a USING trust_zones z
		WHERE a.id = $1 AND a.zone_id = $2 AND z.id = a.zone_id AND z.organization_id = $3`,
		id, zoneID, orgFromCtx(ctx))
	return execExpectOne(tag, err, "delete assignment %s", id)
}

// ListAssignments returns the assignments of a zone.
func (s *Store) ListAssignments(ctx context.Context, zoneID string) ([]zone.Assignment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.zone_id, a.member_id, a.role, a.assigned_by, a.created_at
		FROM zone_assignments a JOIN trust_zones z ON z.id = a.zone_id
		WHERE a.zone_id = $1 AND z.organization_id = $2
		ORDER BY a.created_at ASC`, zoneID, orgFromCtx(ctx))
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var out []zone.Assignment
	for rows.Next() {
		var (
			a    zone.Assignment
			role string
		)
		if err := rows.Scan(&a.ID, &a.ZoneID, &a.MemberID, &role, &a.AssignedBy, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		a.Role = zone.Role(role)
		out = append(out, a)
	}
	return orEmpty(out), rows.Err()
}

// ListMemberReputations maps member ids of the context organization to their
// reputation score. Unknown members are absent from the map.
func (s *Store) ListMemberReputations(ctx context.Context, memberIDs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(memberIDs))
	if len(memberIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, reputation_score FROM organization_members
		WHERE organization_id = $1 AND user_id = ANY($2)`,
		orgFromCtx(ctx), pgTextArray(memberIDs))
	if err != nil {
		return nil, fmt.Errorf("list member reputations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    string
			score float64
		)
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("scan member reputation: %w", err)
		}
		out[id] = score
	}
	return out, rows.Err()
}

// GetMemberRole returns the organization role of a member.
func (s *Store) GetMemberRole(ctx context.Context, memberID string) (string, error) {
	var role string
	err := s.pool.QueryRow(ctx, `
		SELECT role FROM organization_members WHERE organization_id = $1 AND user_id = $2`,
		orgFromCtx(ctx), memberID).Scan(&role)
	if err != nil {
		return "", notFoundWrap(err, "get member %s", memberID)
	}
	return role, nil
}
