package zone

import (
	"time"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
)

// Role is a member's function inside a zone.
type Role string

const (
	RoleApprover  Role = "approver"
	RoleGardener  Role = "gardener"
	RoleEvaluator Role = "evaluator"
	RoleExecutor  Role = "executor"
	RoleObserver  Role = "observer"
)

// Assignment links an organization member to a role in a zone. The
// (zone, member, role) triple is unique.
type Assignment struct {
	ID         string    `json:"id"`
	ZoneID     string    `json:"zone_id"`
	MemberID   string    `json:"member_id"`
	Role       Role      `json:"role"`
	AssignedBy string    `json:"assigned_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// AssignRequest is the payload for adding an assignment.
type AssignRequest struct {
	MemberID string `json:"member_id"`
	Role     Role   `json:"role"`
}

// Validate checks the member id and role.
func (r AssignRequest) Validate() error {
	if r.MemberID == "" {
		return domain.Validationf("member_id is required")
	}
	switch r.Role {
	case RoleApprover, RoleGardener, RoleEvaluator, RoleExecutor, RoleObserver:
		return nil
	}
	return domain.Validationf("invalid role %q", r.Role)
}
