// Package broadcast defines the port for broadcasting real-time events to connected clients.
package broadcast

import "context"

// Event types pushed to dashboard clients.
const (
	EventZoneStatus       = "zone.status"
	EventProposalResolved = "proposal.resolved"
	EventReviewersChosen  = "proposal.reviewers"
	EventEscalation       = "escalation.updated"
	EventAgentLifecycle   = "agent.lifecycle"
)

// Broadcaster sends real-time events to the connected clients of one organization.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to every client of organizationID.
	BroadcastEvent(ctx context.Context, organizationID, eventType string, payload any)
}

// Nop drops every event. It is used when no dashboard hub is attached.
type Nop struct{}

// BroadcastEvent implements Broadcaster.
func (Nop) BroadcastEvent(context.Context, string, string, any) {}
