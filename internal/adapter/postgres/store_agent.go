package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/agent"
)

// Agent and gateway lookups are system-scoped: the lifecycle worker runs
// without a request organization and callers check ownership themselves.

// GetAgent loads an agent by id.
func (s *Store) GetAgent(ctx context.Context, id string) (*agent.Agent, error) {
	var (
		a     agent.Agent
		board *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, organization_id, board_id, gateway_id, name, status, last_seen_at, last_wake_sent_at,
			checkin_deadline_at, lifecycle_generation, wake_attempts, last_provision_error, updated_at
		FROM agents WHERE id = $1`, id,
	).Scan(&a.ID, &a.OrganizationID, &board, &a.GatewayID, &a.Name, &a.Status, &a.LastSeenAt, &a.LastWakeSentAt,
		&a.CheckinDeadlineAt, &a.LifecycleGeneration, &a.WakeAttempts, &a.LastProvisionError, &a.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get agent %s", id)
	}
	a.BoardID = deref(board)
	return &a, nil
}

// UpdateAgentLifecycle writes the lifecycle fields only when the stored
// generation equals expectedGeneration. A lost race is a conflict.
func (s *Store) UpdateAgentLifecycle(ctx context.Context, a *agent.Agent, expectedGeneration int64) error {
	err := s.pool.QueryRow(ctx, `
		UPDATE agents SET status = $3, last_seen_at = $4, last_wake_sent_at = $5, checkin_deadline_at = $6,
			lifecycle_generation = $7, wake_attempts = $8, last_provision_error = $9, updated_at = now()
		WHERE id = $1 AND lifecycle_generation = $2
		RETURNING updated_at`,
		a.ID, expectedGeneration, a.Status, a.LastSeenAt, a.LastWakeSentAt, a.CheckinDeadlineAt,
		a.LifecycleGeneration, a.WakeAttempts, a.LastProvisionError,
	).Scan(&a.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("update agent %s lifecycle: %w", a.ID, err)
	}

	var exists bool
	if qerr := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM agents WHERE id = $1)`, a.ID).Scan(&exists); qerr != nil {
		return fmt.Errorf("update agent %s lifecycle: %w", a.ID, err)
	}
	if !exists {
		return fmt.Errorf("update agent %s lifecycle: %w", a.ID, domain.ErrNotFound)
	}
	return domain.Conflictf("agent %s lifecycle generation changed from %d", a.ID, expectedGeneration)
}

// GetGateway loads the gateway an agent is attached to.
func (s *Store) GetGateway(ctx context.Context, id string) (*agent.Gateway, error) {
	var g agent.Gateway
	err := s.pool.QueryRow(ctx,
		`SELECT id, organization_id, name, url, token FROM gateways WHERE id = $1`, id,
	).Scan(&g.ID, &g.OrganizationID, &g.Name, &g.URL, &g.Token)
	if err != nil {
		return nil, notFoundWrap(err, "get gateway %s", id)
	}
	return &g, nil
}
