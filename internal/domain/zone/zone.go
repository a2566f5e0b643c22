// Package zone defines trust zones: the hierarchical governance scopes under
// which proposals, constraints and escalations are evaluated.
package zone

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
)

// Status is the lifecycle state of a trust zone.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusArchived  Status = "archived"
)

// transitions is the exhaustive table of allowed status changes.
// Archived is terminal.
var transitions = map[Status][]Status{
	StatusDraft:     {StatusActive, StatusArchived},
	StatusActive:    {StatusSuspended, StatusArchived},
	StatusSuspended: {StatusActive, StatusArchived},
	StatusArchived:  {},
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// AllowedTransitions returns the statuses reachable from s.
func AllowedTransitions(s Status) []Status {
	return append([]Status(nil), transitions[s]...)
}

// ValidateStatusTransition returns an error wrapping domain.ErrValidation
// when target is not reachable from current, including unknown statuses.
func ValidateStatusTransition(current, target Status) error {
	allowed, ok := transitions[current]
	if !ok {
		return domain.Validationf("unknown zone status %q", current)
	}
	for _, s := range allowed {
		if s == target {
			return nil
		}
	}
	return domain.Validationf("invalid zone status transition %s -> %s", current, target)
}

// Zone is a node in an organization's trust zone tree.
type Zone struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	ParentZoneID   string `json:"parent_zone_id,omitempty"`
	Name           string `json:"name"`
	Slug           string `json:"slug"`
	Description    string `json:"description"`
	Status         Status `json:"status"`
	CreatedBy      string `json:"created_by"`

	Responsibilities      json.RawMessage `json:"responsibilities,omitempty"`
	ResourceScope         *ResourceScope  `json:"resource_scope,omitempty"`
	AgentQualifications   json.RawMessage `json:"agent_qualifications,omitempty"`
	AlignmentRequirements json.RawMessage `json:"alignment_requirements,omitempty"`
	IncentiveModel        json.RawMessage `json:"incentive_model,omitempty"`
	Constraints           *Constraints    `json:"constraints,omitempty"`
	DecisionModel         *DecisionModel  `json:"decision_model,omitempty"`

	ApprovalPolicy     *ApprovalPolicy   `json:"approval_policy,omitempty"`
	EscalationPolicy   *EscalationPolicy `json:"escalation_policy,omitempty"`
	EvaluationCriteria json.RawMessage   `json:"evaluation_criteria,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsRoot reports whether the zone has no parent.
func (z *Zone) IsRoot() bool { return z.ParentZoneID == "" }

// AcceptsProposals reports whether new proposals may be filed in the zone.
func (z *Zone) AcceptsProposals() bool {
	return z.Status != StatusSuspended && z.Status != StatusArchived
}

// Policies bundles the JSON policy blocks shared by create and update requests.
type Policies struct {
	Responsibilities      json.RawMessage   `json:"responsibilities,omitempty"`
	ResourceScope         *ResourceScope    `json:"resource_scope,omitempty"`
	AgentQualifications   json.RawMessage   `json:"agent_qualifications,omitempty"`
	AlignmentRequirements json.RawMessage   `json:"alignment_requirements,omitempty"`
	IncentiveModel        json.RawMessage   `json:"incentive_model,omitempty"`
	Constraints           *Constraints      `json:"constraints,omitempty"`
	DecisionModel         *DecisionModel    `json:"decision_model,omitempty"`
	ApprovalPolicy        *ApprovalPolicy   `json:"approval_policy,omitempty"`
	EscalationPolicy      *EscalationPolicy `json:"escalation_policy,omitempty"`
	EvaluationCriteria    json.RawMessage   `json:"evaluation_criteria,omitempty"`

	// raw is the request body the blocks were decoded from.
	raw json.RawMessage
}

// Raw returns the JSON the policies were decoded from, or nil when they were
// built in code. Schema checks run on it because the typed blocks coerce
// loosely typed values away.
func (p *Policies) Raw() json.RawMessage { return p.raw }

// UnmarshalJSON keeps the body for schema validation.
func (r *CreateRequest) UnmarshalJSON(data []byte) error {
	type plain CreateRequest
	if err := json.Unmarshal(data, (*plain)(r)); err != nil {
		return err
	}
	r.raw = append(json.RawMessage(nil), data...)
	return nil
}

// UnmarshalJSON keeps the body for schema validation.
func (r *UpdateRequest) UnmarshalJSON(data []byte) error {
	type plain UpdateRequest
	if err := json.Unmarshal(data, (*plain)(r)); err != nil {
		return err
	}
	r.raw = append(json.RawMessage(nil), data...)
	return nil
}

// CreateRequest holds the fields needed to create a zone.
type CreateRequest struct {
	Name         string `json:"name"`
	Slug         string `json:"slug,omitempty"`
	Description  string `json:"description"`
	ParentZoneID string `json:"parent_zone_id,omitempty"`
	Status       Status `json:"status,omitempty"`
	Policies
}

// UpdateRequest holds a partial zone update. Nil fields are left unchanged.
type UpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Policies
}

// Apply copies the set fields of req onto z.
func (req UpdateRequest) Apply(z *Zone) {
	if req.Name != nil {
		z.Name = *req.Name
	}
	if req.Description != nil {
		z.Description = *req.Description
	}
	p := req.Policies
	if p.Responsibilities != nil {
		z.Responsibilities = p.Responsibilities
	}
	if p.ResourceScope != nil {
		z.ResourceScope = p.ResourceScope
	}
	if p.AgentQualifications != nil {
		z.AgentQualifications = p.AgentQualifications
	}
	if p.AlignmentRequirements != nil {
		z.AlignmentRequirements = p.AlignmentRequirements
	}
	if p.IncentiveModel != nil {
		z.IncentiveModel = p.IncentiveModel
	}
	if p.Constraints != nil {
		z.Constraints = p.Constraints
	}
	if p.DecisionModel != nil {
		z.DecisionModel = p.DecisionModel
	}
	if p.ApprovalPolicy != nil {
		z.ApprovalPolicy = p.ApprovalPolicy
	}
	if p.EscalationPolicy != nil {
		z.EscalationPolicy = p.EscalationPolicy
	}
	if p.EvaluationCriteria != nil {
		z.EvaluationCriteria = p.EvaluationCriteria
	}
}

// TransitionRequest asks for a status change on a zone.
type TransitionRequest struct {
	Status Status `json:"status"`
}

// ListFilter narrows a zone listing.
type ListFilter struct {
	ParentZoneID string
	Status       Status
}

var (
	slugStrip    = regexp.MustCompile(`[^a-z0-9\s_-]`)
	slugSpaces   = regexp.MustCompile(`[\s_]+`)
	slugHyphens  = regexp.MustCompile(`-+`)
	slugAccepted = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
)

// Slugify derives a URL-safe slug from a zone name.
// "AI & Robotics (v2)" becomes "ai-robotics-v2".
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugStrip.ReplaceAllString(s, "")
	s = slugSpaces.ReplaceAllString(s, "-")
	s = slugHyphens.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// ValidateCreateRequest checks the request fields that need no store access.
func ValidateCreateRequest(req *CreateRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return domain.Validationf("name is required")
	}
	if len(req.Name) > 255 {
		return domain.Validationf("name exceeds 255 characters")
	}
	if req.Slug != "" && !slugAccepted.MatchString(req.Slug) {
		return domain.Validationf("slug %q must be lowercase alphanumerics separated by single hyphens", req.Slug)
	}
	if req.Status != "" && !req.Status.IsValid() {
		return domain.Validationf("unknown zone status %q", req.Status)
	}
	if req.Status == StatusArchived {
		return domain.Validationf("zone cannot be created archived")
	}
	if req.DecisionModel != nil {
		if err := req.DecisionModel.Validate(); err != nil {
			return err
		}
	}
	return nil
}
