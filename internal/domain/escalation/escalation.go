// Package escalation defines disputes forwarded from one trust zone to
// another and the rules gating their creation and activation.
package escalation

import (
	"fmt"
	"time"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/zone"
)

// Type distinguishes escalations of a single proposal from zone-level ones.
type Type string

const (
	TypeAction     Type = "action"
	TypeGovernance Type = "governance"
)

// Status is the lifecycle state of an escalation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusDismissed Status = "dismissed"
	StatusResolved  Status = "resolved"
)

// IsTerminal reports whether no further changes are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusDismissed || s == StatusResolved
}

// RateLimitWindow is the trailing window counted against max_escalations_per_day.
const RateLimitWindow = 24 * time.Hour

// Escalation forwards a proposal or zone concern to a target zone.
type Escalation struct {
	ID                  string     `json:"id"`
	OrganizationID      string     `json:"organization_id"`
	EscalationType      Type       `json:"escalation_type"`
	SourceProposalID    string     `json:"source_proposal_id,omitempty"`
	SourceZoneID        string     `json:"source_zone_id"`
	TargetZoneID        string     `json:"target_zone_id"`
	EscalatorID         string     `json:"escalator_id"`
	Reason              string     `json:"reason"`
	Status              Status     `json:"status"`
	ResultingProposalID string     `json:"resulting_proposal_id,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	Cosigners           []Cosigner `json:"cosigners,omitempty"`
}

// Cosigner endorses a governance escalation. (EscalationID, UserID) is unique.
type Cosigner struct {
	ID           string    `json:"id"`
	EscalationID string    `json:"escalation_id"`
	UserID       string    `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// ActionRequest escalates a pending proposal.
type ActionRequest struct {
	Reason       string `json:"reason"`
	TargetZoneID string `json:"target_zone_id,omitempty"`
}

// GovernanceRequest escalates a zone-level concern.
type GovernanceRequest struct {
	Reason       string `json:"reason"`
	TargetZoneID string `json:"target_zone_id,omitempty"`
}

// ResolveRequest closes an escalation, optionally linking a proposal.
type ResolveRequest struct {
	ResultingProposalID string `json:"resulting_proposal_id,omitempty"`
}

// ListFilter narrows an escalation listing.
type ListFilter struct {
	EscalationType Type
	Status         Status
}

// CosignResult reports the state after a cosign attempt.
type CosignResult struct {
	Escalation    *Escalation `json:"escalation"`
	CosignerCount int         `json:"cosigner_count"`
	Threshold     int         `json:"threshold"`
	Added         bool        `json:"added"`
	Activated     bool        `json:"activated"`
}

// CheckRateLimit fails with domain.ErrRateLimited when recentCount, the
// escalator's escalations from z in the trailing window, is at or above the
// zone's configured daily maximum. Zones without a valid maximum never limit.
func CheckRateLimit(z *zone.Zone, recentCount int) error {
	limit, ok := zone.MaxEscalationsPerDay(z)
	if !ok {
		return nil
	}
	if recentCount >= limit {
		return fmt.Errorf("%w: maximum %d escalations per day in this zone", domain.ErrRateLimited, limit)
	}
	return nil
}

// ResolveTarget picks the target zone for an escalation out of source.
// requested is the target named by the caller (may be empty); ancestors are
// the ids above source, nearest first. Without a request the configured
// escalation_policy.target_zone_id wins, then the parent. A requested
// target must be an ancestor or the configured target.
func ResolveTarget(source *zone.Zone, ancestors []string, requested string) (string, error) {
	configured := ""
	if source.EscalationPolicy != nil {
		configured = source.EscalationPolicy.TargetZoneID
	}

	if requested == "" {
		switch {
		case configured != "" && configured != source.ID:
			return configured, nil
		case len(ancestors) > 0:
			return ancestors[0], nil
		default:
			return "", domain.Validationf("cannot escalate from root zone without a configured escalation target")
		}
	}

	if requested == source.ID {
		return "", domain.Validationf("zone cannot escalate to itself")
	}
	if requested == configured {
		return requested, nil
	}
	for _, id := range ancestors {
		if id == requested {
			return requested, nil
		}
	}
	return "", domain.Validationf("target zone %s is not an ancestor or the configured escalation target of zone %s", requested, source.ID)
}

// AutoEscalationDue reports whether a proposal created at createdAt in z has
// waited past the zone's auto_escalate_after_hours.
func AutoEscalationDue(z *zone.Zone, createdAt, now time.Time) bool {
	if z == nil || z.EscalationPolicy == nil || z.EscalationPolicy.AutoEscalateAfterHours == nil {
		return false
	}
	hours := *z.EscalationPolicy.AutoEscalateAfterHours
	if hours <= 0 {
		return false
	}
	return now.Sub(createdAt) >= time.Duration(hours*float64(time.Hour))
}

// CanCosign checks that e accepts cosigners.
func CanCosign(e *Escalation) error {
	if e.EscalationType != TypeGovernance {
		return domain.Validationf("co-signing is only supported for governance escalations")
	}
	if e.Status != StatusPending {
		return domain.Conflictf("escalation is %s, not pending", e.Status)
	}
	return nil
}

// CanClose checks that e may be resolved or dismissed.
func CanClose(e *Escalation) error {
	if e.Status != StatusPending && e.Status != StatusAccepted {
		return domain.Conflictf("escalation is already %s", e.Status)
	}
	return nil
}
