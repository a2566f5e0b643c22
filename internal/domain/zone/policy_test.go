package zone

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
)

func zoneWithEscalationPolicy(t *testing.T, policy string) *Zone {
	t.Helper()
	z := &Zone{}
	if policy == "" {
		return z
	}
	var p EscalationPolicy
	if err := json.Unmarshal([]byte(policy), &p); err != nil {
		t.Fatalf("unmarshal policy: %v", err)
	}
	z.EscalationPolicy = &p
	return z
}

func TestCosignerThreshold(t *testing.T) {
	tests := []struct {
		name   string
		policy string
		want   int
	}{
		{name: "no policy", policy: "", want: 2},
		{name: "key absent", policy: `{"max_escalations_per_day":3}`, want: 2},
		{name: "configured", policy: `{"cosigner_threshold":4}`, want: 4},
		{name: "zero clamps to one", policy: `{"cosigner_threshold":0}`, want: 1},
		{name: "negative clamps to one", policy: `{"cosigner_threshold":-5}`, want: 1},
		{name: "string falls back to default", policy: `{"cosigner_threshold":"three"}`, want: 2},
		{name: "float falls back to default", policy: `{"cosigner_threshold":2.5}`, want: 2},
		{name: "null falls back to default", policy: `{"cosigner_threshold":null}`, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CosignerThreshold(zoneWithEscalationPolicy(t, tt.policy)); got != tt.want {
				t.Errorf("CosignerThreshold() = %d, want %d", got, tt.want)
			}
		})
	}

	if got := CosignerThreshold(nil); got != 2 {
		t.Errorf("nil zone: got %d, want 2", got)
	}
}

func TestMaxEscalationsPerDay(t *testing.T) {
	tests := []struct {
		name    string
		policy  string
		want    int
		limited bool
	}{
		{name: "no policy", policy: ""},
		{name: "absent", policy: `{"cosigner_threshold":2}`},
		{name: "non-integer", policy: `{"max_escalations_per_day":"lots"}`},
		{name: "configured", policy: `{"max_escalations_per_day":2}`, want: 2, limited: true},
		{name: "zero", policy: `{"max_escalations_per_day":0}`, want: 0, limited: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, limited := MaxEscalationsPerDay(zoneWithEscalationPolicy(t, tt.policy))
			if got != tt.want || limited != tt.limited {
				t.Errorf("got (%d, %v), want (%d, %v)", got, limited, tt.want, tt.limited)
			}
		})
	}
}

func TestEscalationPolicy_AutoEscalateHours(t *testing.T) {
	z := zoneWithEscalationPolicy(t, `{"auto_escalate_after_hours":1.5}`)
	if z.EscalationPolicy.AutoEscalateAfterHours == nil || *z.EscalationPolicy.AutoEscalateAfterHours != 1.5 {
		t.Fatalf("unexpected hours: %v", z.EscalationPolicy.AutoEscalateAfterHours)
	}
	z = zoneWithEscalationPolicy(t, `{"auto_escalate_after_hours":"soon"}`)
	if z.EscalationPolicy.AutoEscalateAfterHours != nil {
		t.Fatalf("expected nil for non-numeric hours")
	}
}

func TestDecisionModelDefaults(t *testing.T) {
	var m *DecisionModel
	if m.Type() != ModelThreshold || m.ThresholdOrDefault() != 1 {
		t.Errorf("nil model: got %s/%d", m.Type(), m.ThresholdOrDefault())
	}
	three := 3
	m = &DecisionModel{ModelType: ModelConsensus, Threshold: &three}
	if m.Type() != ModelConsensus || m.ThresholdOrDefault() != 3 {
		t.Errorf("configured model: got %s/%d", m.Type(), m.ThresholdOrDefault())
	}
}

func TestApprovalPolicyAutoApproves(t *testing.T) {
	var nilPolicy *ApprovalPolicy
	if nilPolicy.AutoApproves("task_execution") {
		t.Error("nil policy should not auto-approve")
	}
	p := &ApprovalPolicy{AutoApproveTypes: []string{"task_execution"}}
	if !p.AutoApproves("task_execution") || p.AutoApproves("zone_change") {
		t.Error("auto-approve lookup mismatch")
	}
}

func TestValidateConstraintNarrowing(t *testing.T) {
	tests := []struct {
		name     string
		parent   *Constraints
		child    *Constraints
		wantErr  bool
		mentions string
	}{
		{name: "no parent constraints", parent: nil, child: &Constraints{}},
		{
			name:   "child adds blocks",
			parent: &Constraints{BlockedActions: []string{"deploy"}},
			child:  &Constraints{BlockedActions: []string{"deploy", "delete"}},
		},
		{
			name:     "child removes parent block",
			parent:   &Constraints{BlockedActions: []string{"deploy", "delete"}},
			child:    &Constraints{BlockedActions: []string{"deploy"}},
			wantErr:  true,
			mentions: "delete",
		},
		{
			name:     "child with no constraints drops parent block",
			parent:   &Constraints{BlockedActions: []string{"deploy"}},
			child:    nil,
			wantErr:  true,
			mentions: "deploy",
		},
		{
			name:   "child narrows allow list",
			parent: &Constraints{AllowedActions: []string{"read", "write"}},
			child:  &Constraints{AllowedActions: []string{"read"}},
		},
		{
			name:     "child widens allow list",
			parent:   &Constraints{AllowedActions: []string{"read"}},
			child:    &Constraints{AllowedActions: []string{"read", "admin"}},
			wantErr:  true,
			mentions: "admin",
		},
		{
			name:   "parent without allow list leaves child unconstrained",
			parent: &Constraints{BlockedActions: []string{"deploy"}},
			child:  &Constraints{BlockedActions: []string{"deploy"}, AllowedActions: []string{"anything"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConstraintNarrowing(tt.parent, tt.child)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.mentions) {
				t.Errorf("error %q should name %q", err, tt.mentions)
			}
		})
	}
}

func TestCheckResourceScope(t *testing.T) {
	limit := 100.0
	over := 150.0
	under := 50.0
	scope := &ResourceScope{
		AllowedBoards:     []string{"b1"},
		AllowedAgentTypes: []string{"coder"},
		BudgetLimit:       &limit,
	}

	tests := []struct {
		name    string
		scope   *ResourceScope
		req     ResourceRequest
		wantErr bool
	}{
		{name: "nil scope", scope: nil, req: ResourceRequest{BoardID: "anything"}},
		{name: "within scope", scope: scope, req: ResourceRequest{BoardID: "b1", AgentType: "coder", BudgetAmount: &under}},
		{name: "board outside", scope: scope, req: ResourceRequest{BoardID: "b2"}, wantErr: true},
		{name: "agent type outside", scope: scope, req: ResourceRequest{AgentType: "ops"}, wantErr: true},
		{name: "over budget", scope: scope, req: ResourceRequest{BudgetAmount: &over}, wantErr: true},
		{name: "empty request", scope: scope, req: ResourceRequest{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckResourceScope(tt.scope, tt.req)
			if tt.wantErr != (err != nil) {
				t.Fatalf("wantErr=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidatePolicyDocuments(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "no policy blocks", body: `{"name":"x"}`},
		{name: "valid constraints", body: `{"constraints":{"blocked_actions":["deploy"],"require_human_review":true}}`},
		{name: "null block", body: `{"constraints":null}`},
		{name: "extra keys allowed", body: `{"escalation_policy":{"cosigner_threshold":2,"note":"x"}}`},
		{name: "blocked actions not strings", body: `{"constraints":{"blocked_actions":[1,2]}}`, wantErr: true},
		{name: "threshold string", body: `{"escalation_policy":{"cosigner_threshold":"three"}}`, wantErr: true},
		{name: "unknown decision model", body: `{"decision_model":{"model_type":"coin_flip"}}`, wantErr: true},
		{name: "negative budget", body: `{"resource_scope":{"budget_limit":-1}}`, wantErr: true},
		{name: "responsibilities not object", body: `{"responsibilities":["a"]}`, wantErr: true},
		{name: "not an object", body: `[1]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePolicyDocuments([]byte(tt.body))
			if tt.wantErr != (err != nil) {
				t.Fatalf("wantErr=%v, got %v", tt.wantErr, err)
			}
			if err != nil && !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}
