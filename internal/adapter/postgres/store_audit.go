package postgres

import (
	"context"
	"fmt"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/audit"
)

// defaultAuditLimit bounds ListAuditEntries when the caller passes no limit.
const defaultAuditLimit = 100

func insertAudit(ctx context.Context, q querier, e *audit.Entry) error {
	if e.OrganizationID == "" {
		e.OrganizationID = orgFromCtx(ctx)
	}
	payload, err := jsonbParam(e.Payload)
	if err != nil {
		return fmt.Errorf("encode audit payload: %w", err)
	}
	err = q.QueryRow(ctx, `
		INSERT INTO audit_entries (organization_id, zone_id, actor_id, actor_type, action, target_type, target_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		e.OrganizationID, nullIfEmpty(e.ZoneID), e.ActorID, e.ActorType, e.Action,
		e.TargetType, nullIfEmpty(e.TargetID), payload,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry %s: %w", e.Action, err)
	}
	return nil
}

func insertAudits(ctx context.Context, q querier, entries []audit.Entry) error {
	for i := range entries {
		if err := insertAudit(ctx, q, &entries[i]); err != nil {
			return err
		}
	}
	return nil
}

// CreateAuditEntry appends a single entry outside any other write.
func (s *Store) CreateAuditEntry(ctx context.Context, e *audit.Entry) error {
	return insertAudit(ctx, s.pool, e)
}

// ListAuditEntries returns the newest entries of the context organization,
// optionally restricted to one zone.
func (s *Store) ListAuditEntries(ctx context.Context, zoneID string, limit int) ([]audit.Entry, error) {
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, organization_id, zone_id, actor_id, actor_type, action, target_type, target_id, payload, created_at
		FROM audit_entries
		WHERE organization_id = $1 AND ($2::uuid IS NULL OR zone_id = $2)
		ORDER BY created_at DESC, id
		LIMIT $3`, orgFromCtx(ctx), nullIfEmpty(zoneID), limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e              audit.Entry
			zone, targetID *string
			payload        []byte
		)
		if err := rows.Scan(&e.ID, &e.OrganizationID, &zone, &e.ActorID, &e.ActorType, &e.Action,
			&e.TargetType, &targetID, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.ZoneID = deref(zone)
		e.TargetID = deref(targetID)
		if err := decodeJSONB(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("decode audit payload %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return orEmpty(out), rows.Err()
}
