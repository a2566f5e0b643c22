package zone

import (
	"slices"
	"sort"
)

// Wildcard grants every action.
const Wildcard = "*"

// Actions checked by the permission resolver.
const (
	ActionZoneRead          = "zone.read"
	ActionZoneWrite         = "zone.write"
	ActionZoneCreate        = "zone.create"
	ActionZoneDelete        = "zone.delete"
	ActionZoneExecute       = "zone.execute"
	ActionTaskCreate        = "task.create"
	ActionTaskUpdate        = "task.update"
	ActionProposalCreate    = "proposal.create"
	ActionProposalReview    = "proposal.review"
	ActionProposalApprove   = "proposal.approve"
	ActionProposalReject    = "proposal.reject"
	ActionEvaluationCreate  = "evaluation.create"
	ActionEvaluationSubmit  = "evaluation.submit"
	ActionEscalationTrigger = "escalation.trigger"
	ActionReviewerSelect    = "reviewer.select"
)

// Organization roles.
const (
	OrgRoleOwner  = "owner"
	OrgRoleAdmin  = "admin"
	OrgRoleMember = "member"
)

// RolePermissions maps zone roles to the actions they grant. Observers get
// nothing beyond their organization role.
var RolePermissions = map[Role][]string{
	RoleExecutor:  {ActionZoneRead, ActionZoneExecute, ActionTaskCreate, ActionTaskUpdate},
	RoleApprover:  {ActionZoneRead, ActionProposalReview, ActionProposalApprove, ActionProposalReject},
	RoleEvaluator: {ActionZoneRead, ActionEvaluationCreate, ActionEvaluationSubmit},
	RoleGardener:  {ActionZoneRead, ActionZoneWrite, ActionProposalReview, ActionReviewerSelect},
}

// OrgRolePermissions is the fallback when no zone role in the ancestry
// grants an action.
var OrgRolePermissions = map[string][]string{
	OrgRoleOwner: {Wildcard},
	OrgRoleAdmin: {
		ActionZoneRead, ActionZoneWrite, ActionZoneCreate, ActionZoneDelete,
		ActionProposalCreate, ActionProposalApprove, ActionProposalReject, ActionProposalReview,
		ActionEvaluationCreate, ActionEvaluationSubmit, ActionEscalationTrigger,
		ActionReviewerSelect, ActionTaskCreate, ActionTaskUpdate, ActionZoneExecute,
	},
	OrgRoleMember: {ActionZoneRead, ActionProposalCreate, ActionEscalationTrigger},
}

// ActionAllowedByConstraints applies the zone's hard rules: a blocked
// action is refused, and a non-empty allow list admits only its actions.
func ActionAllowedByConstraints(c *Constraints, action string) bool {
	if c == nil {
		return true
	}
	if slices.Contains(c.BlockedActions, action) {
		return false
	}
	if len(c.AllowedActions) > 0 {
		return slices.Contains(c.AllowedActions, action)
	}
	return true
}

// Grants collects the permission inputs of one member: their zone roles
// along the ancestry, nearest zone first, and their organization role.
type Grants struct {
	ZoneRoles [][]Role
	OrgRole   string
}

func grants(perms []string, action string) bool {
	return slices.Contains(perms, action) || slices.Contains(perms, Wildcard)
}

// Allows resolves whether g permits action in z. The zone's constraints are
// checked first, then zone roles from z up to the root, then the
// organization role.
func (g Grants) Allows(z *Zone, action string) bool {
	if !ActionAllowedByConstraints(z.Constraints, action) {
		return false
	}
	for _, roles := range g.ZoneRoles {
		for _, r := range roles {
			if grants(RolePermissions[r], action) {
				return true
			}
		}
	}
	return grants(OrgRolePermissions[g.OrgRole], action)
}

// Effective returns the sorted set of actions g holds in z after the zone's
// constraints are applied. An allow list keeps zone.read visible, and a
// wildcard holder is not narrowed by it.
func (g Grants) Effective(z *Zone) []string {
	set := make(map[string]struct{})
	for _, roles := range g.ZoneRoles {
		for _, r := range roles {
			for _, p := range RolePermissions[r] {
				set[p] = struct{}{}
			}
		}
	}
	for _, p := range OrgRolePermissions[g.OrgRole] {
		set[p] = struct{}{}
	}

	if c := z.Constraints; c != nil {
		for _, b := range c.BlockedActions {
			delete(set, b)
		}
		if _, wild := set[Wildcard]; len(c.AllowedActions) > 0 && !wild {
			for p := range set {
				if p != ActionZoneRead && !slices.Contains(c.AllowedActions, p) {
					delete(set, p)
				}
			}
		}
	}

	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
