// Package database defines the database store port (interface).
//
// Tenant-scoped methods read the organization ID from the context (see
// middleware.WithOrganizationID). Agent lifecycle and sweep methods are
// system-scoped and work across organizations.
package database

import (
	"context"
	"time"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/agent"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/audit"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/escalation"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/evaluation"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/gardener"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/proposal"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/zone"
)

// Store is the port interface for database operations.
type Store interface {
	// Trust zones
	CreateZone(ctx context.Context, z *zone.Zone, entry *audit.Entry) error
	GetZone(ctx context.Context, id string) (*zone.Zone, error)
	ListZones(ctx context.Context, filter zone.ListFilter) ([]zone.Zone, error)
	ListChildZoneIDs(ctx context.Context, parentID string) ([]string, error)
	UpdateZone(ctx context.Context, z *zone.Zone, entry *audit.Entry) error
	// TransitionZone validates and applies a status change and cascades it to
	// every descendant in one transaction. It returns the updated zone and
	// the ids of the descendants whose status changed.
	TransitionZone(ctx context.Context, id string, target zone.Status, entry *audit.Entry) (*zone.Zone, []string, error)

	// Zone assignments
	CreateAssignment(ctx context.Context, a *zone.Assignment) error
	DeleteAssignment(ctx context.Context, zoneID, id string) error
	ListAssignments(ctx context.Context, zoneID string) ([]zone.Assignment, error)

	// Organization members
	ListMemberReputations(ctx context.Context, memberIDs []string) (map[string]float64, error)
	// GetMemberRole returns the organization role of a member, or
	// domain.ErrNotFound when they are not a member.
	GetMemberRole(ctx context.Context, memberID string) (string, error)

	// Proposals
	CreateProposal(ctx context.Context, p *proposal.Proposal, entry *audit.Entry) error
	GetProposal(ctx context.Context, id string) (*proposal.Proposal, error)
	DecideApproval(ctx context.Context, d Decision) (*proposal.Proposal, proposal.Outcome, error)
	ListPendingProposals(ctx context.Context, createdBefore time.Time) ([]proposal.Proposal, error)

	// Escalations
	CreateEscalation(ctx context.Context, n NewEscalation) error
	GetEscalation(ctx context.Context, id string) (*escalation.Escalation, error)
	ListEscalations(ctx context.Context, filter escalation.ListFilter) ([]escalation.Escalation, error)
	Cosign(ctx context.Context, c CosignRequest) (*escalation.CosignResult, error)
	CloseEscalation(ctx context.Context, id string, status escalation.Status, resultingProposalID string, entry *audit.Entry) (*escalation.Escalation, error)

	// Gardener feedback
	CreateFeedback(ctx context.Context, rows []gardener.Feedback) error
	ListFeedbackByProposal(ctx context.Context, proposalID string) ([]gardener.Feedback, error)
	ListFeedbackByReviewers(ctx context.Context, reviewerIDs []string) ([]gardener.Feedback, error)
	UpdateFeedbackOutcome(ctx context.Context, f *gardener.Feedback) error

	// Evaluations
	CreateEvaluation(ctx context.Context, e *evaluation.Evaluation, entry *audit.Entry) error
	// GetEvaluation returns an evaluation with its scores and signals.
	GetEvaluation(ctx context.Context, id string) (*evaluation.Evaluation, error)
	ListEvaluations(ctx context.Context, filter evaluation.ListFilter) ([]evaluation.Evaluation, error)
	// AddScore inserts a score and moves a pending evaluation to in_review.
	// A finalized evaluation or an already scored criterion is
	// domain.ErrConflict.
	AddScore(ctx context.Context, sc *evaluation.Score, entry *audit.Entry) (*evaluation.Evaluation, error)
	FinalizeEvaluation(ctx context.Context, f FinalizeEvaluation) (*evaluation.Evaluation, error)
	// ApplySignals applies the evaluation's unapplied signals to member
	// reputation and marks them applied. Signals whose target is not a
	// member stay unapplied. It returns the number applied.
	ApplySignals(ctx context.Context, evaluationID string) (int, error)

	// Agents
	GetAgent(ctx context.Context, id string) (*agent.Agent, error)
	// UpdateAgentLifecycle writes the lifecycle fields of a when the stored
	// generation still equals expectedGeneration, else domain.ErrConflict.
	UpdateAgentLifecycle(ctx context.Context, a *agent.Agent, expectedGeneration int64) error
	GetGateway(ctx context.Context, id string) (*agent.Gateway, error)

	// Audit
	CreateAuditEntry(ctx context.Context, e *audit.Entry) error
	ListAuditEntries(ctx context.Context, zoneID string, limit int) ([]audit.Entry, error)
}

// Decision records one reviewer's decision. Resolve is called inside the
// transaction with the proposal and all its approval requests after the
// decision is written; a resolved outcome is persisted with the decision.
type Decision struct {
	ProposalID string
	ReviewerID string
	Request    proposal.DecisionRequest
	Resolve    func(p *proposal.Proposal) proposal.Outcome
	Now        time.Time
	Audit      []audit.Entry
}

// NewEscalation creates an escalation in one transaction: rate limit count,
// source proposal transition, optional resulting proposal, optional first
// cosigner and audit entries.
type NewEscalation struct {
	Escalation *escalation.Escalation
	// CheckRateLimit receives the number of escalations the escalator created
	// from the source zone within escalation.RateLimitWindow.
	CheckRateLimit func(recent int) error
	// ResultingProposal is inserted and linked when non-nil.
	ResultingProposal *proposal.Proposal
	// CosignAsEscalator adds the escalator as the first cosigner.
	CosignAsEscalator bool
	Audit             []audit.Entry
	Now               time.Time
}

// CosignRequest adds a cosigner. Accept is called only when the cosigner
// count reaches Threshold and builds the meta-proposal filed with the
// acceptance; an Accept error aborts the cosign.
type CosignRequest struct {
	EscalationID string
	UserID       string
	Threshold    int
	Accept       func(ctx context.Context, e *escalation.Escalation) (*proposal.Proposal, error)
	Now          time.Time
}

// FinalizeEvaluation completes an evaluation in one transaction: the row is
// locked, evaluation.Finalize aggregates its scores with Feedback, and the
// generated signals and Audit are written. The audit payload is the
// aggregate.
type FinalizeEvaluation struct {
	EvaluationID string
	Feedback     []gardener.Feedback
	Audit        *audit.Entry
	Now          time.Time
}
