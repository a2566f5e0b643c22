package messagequeue

import "time"

// GovernanceEventPayload is the envelope of every governance.* message.
type GovernanceEventPayload struct {
	EventType      string         `json:"event_type"`
	OrganizationID string         `json:"organization_id"`
	ZoneID         string         `json:"zone_id,omitempty"`
	TargetIDs      []string       `json:"target_ids"`
	Payload        map[string]any `json:"payload,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}
