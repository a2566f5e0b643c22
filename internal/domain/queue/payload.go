package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the closed set of typed task payloads. Decode is the only place
// untyped queue bytes become one of these variants.
type Payload interface {
	TaskType() string
}

// LifecycleReconcile asks the worker to check whether an agent checked in
// after the wake cycle identified by Generation.
type LifecycleReconcile struct {
	AgentID           string    `json:"agent_id"`
	GatewayID         string    `json:"gateway_id"`
	BoardID           string    `json:"board_id,omitempty"`
	Generation        int64     `json:"generation"`
	CheckinDeadlineAt time.Time `json:"checkin_deadline_at"`
}

// TaskType implements Payload.
func (LifecycleReconcile) TaskType() string { return TypeLifecycleReconcile }

// GovernanceNotification is a governance event fanned out to subscribers.
type GovernanceNotification struct {
	EventType      string         `json:"event_type"`
	OrganizationID string         `json:"organization_id"`
	ZoneID         string         `json:"zone_id"`
	TargetIDs      []string       `json:"target_ids"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// TaskType implements Payload.
func (GovernanceNotification) TaskType() string { return TypeGovernanceNotification }

// Legacy is a raw payload that predates the envelope format.
type Legacy struct {
	Raw map[string]any
}

// TaskType implements Payload.
func (Legacy) TaskType() string { return TypeLegacy }

// NewTask wraps a typed payload in a fresh envelope.
func NewTask(p Payload, now time.Time) (Task, error) {
	var (
		data []byte
		err  error
	)
	if l, ok := p.(Legacy); ok {
		data, err = json.Marshal(l.Raw)
	} else {
		data, err = json.Marshal(p)
	}
	if err != nil {
		return Task{}, fmt.Errorf("marshal %s payload: %w", p.TaskType(), err)
	}
	return Task{TaskType: p.TaskType(), Payload: data, CreatedAt: now.UTC()}, nil
}

// Decode translates the envelope payload into its typed variant.
func Decode(t Task) (Payload, error) {
	switch t.TaskType {
	case TypeLifecycleReconcile:
		return decodeLifecycle(t.Payload)
	case TypeGovernanceNotification:
		var n GovernanceNotification
		if err := json.Unmarshal(t.Payload, &n); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedTask, t.TaskType, err)
		}
		if n.EventType == "" || n.OrganizationID == "" {
			return nil, fmt.Errorf("%w: %s: event_type and organization_id are required", ErrMalformedTask, t.TaskType)
		}
		return n, nil
	case TypeLegacy:
		var raw map[string]any
		if err := json.Unmarshal(t.Payload, &raw); err != nil {
			return nil, fmt.Errorf("%w: legacy payload: %v", ErrMalformedTask, err)
		}
		return Legacy{Raw: raw}, nil
	default:
		return nil, fmt.Errorf("%w: unknown task_type %q", ErrMalformedTask, t.TaskType)
	}
}

// AsLifecycleReconcile accepts both the typed variant and a legacy payload
// carrying the same keys.
func AsLifecycleReconcile(p Payload) (LifecycleReconcile, error) {
	switch v := p.(type) {
	case LifecycleReconcile:
		return v, nil
	case Legacy:
		data, err := json.Marshal(v.Raw)
		if err != nil {
			return LifecycleReconcile{}, fmt.Errorf("%w: legacy lifecycle payload: %v", ErrMalformedTask, err)
		}
		return decodeLifecycle(data)
	default:
		return LifecycleReconcile{}, fmt.Errorf("%w: expected %s, got %s", ErrMalformedTask, TypeLifecycleReconcile, p.TaskType())
	}
}

func decodeLifecycle(data []byte) (LifecycleReconcile, error) {
	var wire struct {
		AgentID           string     `json:"agent_id"`
		GatewayID         string     `json:"gateway_id"`
		BoardID           *string    `json:"board_id"`
		Generation        *int64     `json:"generation"`
		CheckinDeadlineAt *time.Time `json:"checkin_deadline_at"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return LifecycleReconcile{}, fmt.Errorf("%w: %s: %v", ErrMalformedTask, TypeLifecycleReconcile, err)
	}
	if wire.AgentID == "" || wire.GatewayID == "" || wire.Generation == nil || wire.CheckinDeadlineAt == nil {
		return LifecycleReconcile{}, fmt.Errorf("%w: %s: agent_id, gateway_id, generation and checkin_deadline_at are required",
			ErrMalformedTask, TypeLifecycleReconcile)
	}
	p := LifecycleReconcile{
		AgentID:           wire.AgentID,
		GatewayID:         wire.GatewayID,
		Generation:        *wire.Generation,
		CheckinDeadlineAt: wire.CheckinDeadlineAt.UTC(),
	}
	if wire.BoardID != nil {
		p.BoardID = *wire.BoardID
	}
	return p, nil
}
