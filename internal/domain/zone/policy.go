package zone

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
)

// Reviewer selection strategies for ApprovalPolicy.
const (
	SelectionStrategyDefault  = ""
	SelectionStrategyGardener = "gardener"
)

// Decision model types.
const (
	ModelUnilateral = "unilateral"
	ModelThreshold  = "threshold"
	ModelMajority   = "majority"
	ModelWeighted   = "weighted"
	ModelConsensus  = "consensus"
)

// DefaultCosignerThreshold applies when a zone does not configure one.
const DefaultCosignerThreshold = 2

// Constraints is the constraints policy block.
type Constraints struct {
	BlockedActions     []string `json:"blocked_actions,omitempty"`
	AllowedActions     []string `json:"allowed_actions,omitempty"`
	MaxConcurrentTasks *int     `json:"max_concurrent_tasks,omitempty"`
	RequireHumanReview bool     `json:"require_human_review,omitempty"`
}

// ResourceScope limits what resource_allocation proposals may request.
type ResourceScope struct {
	AllowedBoards     []string `json:"allowed_boards,omitempty"`
	AllowedAgentTypes []string `json:"allowed_agent_types,omitempty"`
	BudgetLimit       *float64 `json:"budget_limit,omitempty"`
}

// DecisionModel configures how reviewer decisions resolve a proposal.
type DecisionModel struct {
	ModelType       string   `json:"model_type,omitempty"`
	Threshold       *int     `json:"threshold,omitempty"`
	TimeoutHours    *int     `json:"timeout_hours,omitempty"`
	FallbackModel   string   `json:"fallback_model,omitempty"`
	StaticReviewers []string `json:"static_reviewers,omitempty"`
}

// Type returns the model type, defaulting to threshold.
func (m *DecisionModel) Type() string {
	if m == nil || m.ModelType == "" {
		return ModelThreshold
	}
	return m.ModelType
}

// ThresholdOrDefault returns the configured threshold or 1.
func (m *DecisionModel) ThresholdOrDefault() int {
	if m == nil || m.Threshold == nil {
		return 1
	}
	return *m.Threshold
}

// Validate rejects unknown model types and non-positive thresholds.
func (m *DecisionModel) Validate() error {
	switch m.Type() {
	case ModelUnilateral, ModelThreshold, ModelMajority, ModelWeighted, ModelConsensus:
	default:
		return domain.Validationf("unknown decision model %q", m.ModelType)
	}
	if m.Threshold != nil && *m.Threshold < 1 {
		return domain.Validationf("decision model threshold must be >= 1")
	}
	return nil
}

// ApprovalPolicy configures reviewer selection and auto-approval.
type ApprovalPolicy struct {
	StaticReviewers           []string `json:"static_reviewers,omitempty"`
	ReviewerSelectionStrategy string   `json:"reviewer_selection_strategy,omitempty"`
	AutoApproveTypes          []string `json:"auto_approve_types,omitempty"`
	MaxReviewers              *int     `json:"max_reviewers,omitempty"`
}

// AutoApproves reports whether proposals of the given type skip review.
func (p *ApprovalPolicy) AutoApproves(proposalType string) bool {
	if p == nil {
		return false
	}
	for _, t := range p.AutoApproveTypes {
		if t == proposalType {
			return true
		}
	}
	return false
}

// EscalationPolicy configures escalation gating for a zone. Integer keys
// holding a value of another JSON type decode as absent.
type EscalationPolicy struct {
	CosignerThreshold      *int     `json:"cosigner_threshold,omitempty"`
	MaxEscalationsPerDay   *int     `json:"max_escalations_per_day,omitempty"`
	AutoEscalateAfterHours *float64 `json:"auto_escalate_after_hours,omitempty"`
	TargetZoneID           string   `json:"target_zone_id,omitempty"`
}

// UnmarshalJSON decodes the known keys leniently.
func (p *EscalationPolicy) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = EscalationPolicy{
		CosignerThreshold:      intValue(raw["cosigner_threshold"]),
		MaxEscalationsPerDay:   intValue(raw["max_escalations_per_day"]),
		AutoEscalateAfterHours: numberValue(raw["auto_escalate_after_hours"]),
	}
	var target string
	if v, ok := raw["target_zone_id"]; ok && json.Unmarshal(v, &target) == nil {
		p.TargetZoneID = target
	}
	return nil
}

// CosignerThreshold returns the number of cosigners a governance escalation
// in z needs. A nil zone or policy, or a missing key, yields the default.
// Configured values below 1 are raised to 1.
func CosignerThreshold(z *Zone) int {
	if z == nil || z.EscalationPolicy == nil || z.EscalationPolicy.CosignerThreshold == nil {
		return DefaultCosignerThreshold
	}
	return max(1, *z.EscalationPolicy.CosignerThreshold)
}

// MaxEscalationsPerDay returns the per-escalator daily cap and whether one
// is configured.
func MaxEscalationsPerDay(z *Zone) (int, bool) {
	if z == nil || z.EscalationPolicy == nil || z.EscalationPolicy.MaxEscalationsPerDay == nil {
		return 0, false
	}
	return *z.EscalationPolicy.MaxEscalationsPerDay, true
}

// intValue returns a pointer to v when v is a JSON integer literal.
func intValue(v json.RawMessage) *int {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || v[0] == '"' {
		return nil
	}
	n, err := strconv.Atoi(string(v))
	if err != nil {
		return nil
	}
	return &n
}

func numberValue(v json.RawMessage) *float64 {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || v[0] == '"' {
		return nil
	}
	f, err := strconv.ParseFloat(string(v), 64)
	if err != nil {
		return nil
	}
	return &f
}
