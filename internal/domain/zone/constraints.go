package zone

import (
	"slices"
	"strings"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
)

// ValidateConstraintNarrowing checks that child only narrows parent: every
// action blocked by the parent stays blocked, and when the parent defines a
// non-empty allow list the child's allow list is a subset of it.
func ValidateConstraintNarrowing(parent, child *Constraints) error {
	if parent == nil {
		return nil
	}
	if child == nil {
		child = &Constraints{}
	}

	if missing := difference(parent.BlockedActions, child.BlockedActions); len(missing) > 0 {
		return domain.Validationf("child zone cannot unblock parent-blocked actions: %s", strings.Join(missing, ", "))
	}

	if len(parent.AllowedActions) > 0 {
		if extra := difference(child.AllowedActions, parent.AllowedActions); len(extra) > 0 {
			return domain.Validationf("child zone cannot allow actions not allowed by parent: %s", strings.Join(extra, ", "))
		}
	}
	return nil
}

// difference returns the sorted, deduplicated members of a absent from b.
func difference(a, b []string) []string {
	in := make(map[string]struct{}, len(b))
	for _, v := range b {
		in[v] = struct{}{}
	}
	var out []string
	for _, v := range a {
		if _, ok := in[v]; !ok {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// ResourceRequest is the subset of a resource_allocation payload checked
// against a zone's resource scope.
type ResourceRequest struct {
	BoardID      string
	AgentType    string
	BudgetAmount *float64
}

// CheckResourceScope returns an error wrapping domain.ErrValidation when req
// falls outside scope. A nil scope allows everything.
func CheckResourceScope(scope *ResourceScope, req ResourceRequest) error {
	if scope == nil {
		return nil
	}
	if len(scope.AllowedBoards) > 0 && req.BoardID != "" && !slices.Contains(scope.AllowedBoards, req.BoardID) {
		return domain.Validationf("resource scope violation: board %s is not in zone's allowed_boards", req.BoardID)
	}
	if len(scope.AllowedAgentTypes) > 0 && req.AgentType != "" && !slices.Contains(scope.AllowedAgentTypes, req.AgentType) {
		return domain.Validationf("resource scope violation: agent type %q is not in zone's allowed_agent_types", req.AgentType)
	}
	if scope.BudgetLimit != nil && req.BudgetAmount != nil && *req.BudgetAmount > *scope.BudgetLimit {
		return domain.Validationf("resource scope violation: budget amount %g exceeds zone limit of %g", *req.BudgetAmount, *scope.BudgetLimit)
	}
	return nil
}
