// Package audit defines the append-only governance audit record.
package audit

import "time"

// Actor types.
const (
	ActorHuman  = "human"
	ActorAgent  = "agent"
	ActorSystem = "system"
)

// Entry is written once and never updated.
type Entry struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	ZoneID         string         `json:"zone_id,omitempty"`
	ActorID        string         `json:"actor_id"`
	ActorType      string         `json:"actor_type"`
	Action         string         `json:"action"`
	TargetType     string         `json:"target_type,omitempty"`
	TargetID       string         `json:"target_id,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// SystemActorID is recorded for actions taken by background workers.
const SystemActorID = "00000000-0000-0000-0000-000000000000"

// Actions recorded by the governance services.
const (
	ActionZoneCreate          = "zone.create"
	ActionZoneUpdate          = "zone.update"
	ActionZoneStatusChange    = "zone.status_change"
	ActionProposalCreate      = "proposal.create"
	ActionProposalAutoApprove = "proposal.auto_approve"
	ActionProposalDecision    = "proposal.decision"
	ActionProposalResolve     = "proposal.resolve"
	ActionEscalationCreate    = "escalation.create"
	ActionEscalationCosign    = "escalation.cosign"
	ActionEscalationAccept    = "escalation.accept"
	ActionEscalationResolve   = "escalation.resolve"
	ActionEscalationDismiss   = "escalation.dismiss"
	ActionAgentCheckinFailed  = "agent.lifecycle.checkin_failed"
	ActionEvaluationCreate    = "evaluation.create"
	ActionEvaluationScore     = "evaluation.score"
	ActionEvaluationFinalize  = "evaluation.finalize"
)

// Target types.
const (
	TargetZone       = "trust_zone"
	TargetProposal   = "proposal"
	TargetEscalation = "escalation"
	TargetAgent      = "agent"
	TargetEvaluation = "evaluation"
)
