// Package proposal defines zone-scoped proposals, reviewer approval requests
// and the rules that resolve them.
package proposal

import (
	"strings"
	"time"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/zone"
)

// Type classifies what a proposal asks for.
type Type string

const (
	TypeTaskExecution      Type = "task_execution"
	TypeResourceAllocation Type = "resource_allocation"
	TypeZoneChange         Type = "zone_change"
	TypeMembershipChange   Type = "membership_change"
)

// IsValid reports whether t is a known proposal type.
func (t Type) IsValid() bool {
	switch t {
	case TypeTaskExecution, TypeResourceAllocation, TypeZoneChange, TypeMembershipChange:
		return true
	}
	return false
}

// Status is the lifecycle state of a proposal.
type Status string

const (
	StatusPendingReview Status = "pending_review"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
	StatusExpired       Status = "expired"
	StatusEscalated     Status = "escalated"
)

// IsResolved reports whether the proposal reached a terminal decision.
func (s Status) IsResolved() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

// Proposal is a unit of work or policy change awaiting review in a zone.
type Proposal struct {
	ID                    string              `json:"id"`
	OrganizationID        string              `json:"organization_id"`
	ZoneID                string              `json:"zone_id"`
	ProposerID            string              `json:"proposer_id"`
	Title                 string              `json:"title"`
	Description           string              `json:"description"`
	ProposalType          Type                `json:"proposal_type"`
	Payload               map[string]any      `json:"payload,omitempty"`
	Status                Status              `json:"status"`
	RiskLevel             string              `json:"risk_level,omitempty"`
	ConflictsDetected     []Conflict          `json:"conflicts_detected,omitempty"`
	DecisionModelOverride *zone.DecisionModel `json:"decision_model_override,omitempty"`
	CreatedAt             time.Time           `json:"created_at"`
	UpdatedAt             time.Time           `json:"updated_at"`
	ExpiresAt             *time.Time          `json:"expires_at,omitempty"`
	ResolvedAt            *time.Time          `json:"resolved_at,omitempty"`
	ApprovalRequests      []ApprovalRequest   `json:"approval_requests,omitempty"`
}

// PayloadString returns payload[key] when it is a non-empty string.
func (p *Proposal) PayloadString(key string) string {
	if v, ok := p.Payload[key].(string); ok {
		return v
	}
	return ""
}

// PayloadNumber returns payload[key] when it is a JSON number.
func (p *Proposal) PayloadNumber(key string) *float64 {
	if v, ok := p.Payload[key].(float64); ok {
		return &v
	}
	return nil
}

// ResourceRequest extracts the resource fields of a resource_allocation payload.
func (p *Proposal) ResourceRequest() zone.ResourceRequest {
	return zone.ResourceRequest{
		BoardID:      p.PayloadString("board_id"),
		AgentType:    p.PayloadString("agent_type"),
		BudgetAmount: p.PayloadNumber("budget_amount"),
	}
}

// CreateRequest holds the fields needed to file a proposal.
type CreateRequest struct {
	ZoneID                string              `json:"zone_id"`
	Title                 string              `json:"title"`
	Description           string              `json:"description"`
	ProposalType          Type                `json:"proposal_type"`
	Payload               map[string]any      `json:"payload,omitempty"`
	DecisionModelOverride *zone.DecisionModel `json:"decision_model_override,omitempty"`
	ExpiresAt             *time.Time          `json:"expires_at,omitempty"`
}

// Validate checks the request fields that need no store access.
func (r *CreateRequest) Validate() error {
	if r.ZoneID == "" {
		return domain.Validationf("zone_id is required")
	}
	if strings.TrimSpace(r.Title) == "" {
		return domain.Validationf("title is required")
	}
	if !r.ProposalType.IsValid() {
		return domain.Validationf("invalid proposal_type %q: must be one of membership_change, resource_allocation, task_execution, zone_change", r.ProposalType)
	}
	if r.DecisionModelOverride != nil {
		if err := r.DecisionModelOverride.Validate(); err != nil {
			return err
		}
	}
	return nil
}
