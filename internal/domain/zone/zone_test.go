package zone

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
)

var allStatuses = []Status{StatusDraft, StatusActive, StatusSuspended, StatusArchived}

func TestValidateStatusTransition_Table(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusDraft, StatusActive}:       true,
		{StatusDraft, StatusArchived}:     true,
		{StatusActive, StatusSuspended}:   true,
		{StatusActive, StatusArchived}:    true,
		{StatusSuspended, StatusActive}:   true,
		{StatusSuspended, StatusArchived}: true,
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			t.Run(fmt.Sprintf("%s->%s", from, to), func(t *testing.T) {
				err := ValidateStatusTransition(from, to)
				if allowed[[2]Status{from, to}] {
					if err != nil {
						t.Fatalf("expected transition allowed, got %v", err)
					}
					return
				}
				if !errors.Is(err, domain.ErrValidation) {
					t.Fatalf("expected ErrValidation, got %v", err)
				}
			})
		}
	}
}

func TestValidateStatusTransition_Unknown(t *testing.T) {
	tests := []struct {
		from, to Status
	}{
		{"deleted", StatusActive},
		{StatusDraft, "published"},
		{"", ""},
	}
	for _, tt := range tests {
		if err := ValidateStatusTransition(tt.from, tt.to); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("%q -> %q: expected ErrValidation, got %v", tt.from, tt.to, err)
		}
	}
}

func TestArchivedIsTerminal(t *testing.T) {
	if got := AllowedTransitions(StatusArchived); len(got) != 0 {
		t.Fatalf("archived should have no transitions, got %v", got)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"AI & Robotics (v2)", "ai-robotics-v2"},
		{"  hello   world  ", "hello-world"},
		{"clean-slug", "clean-slug"},
		{"snake_case_name", "snake-case-name"},
		{"--Leading and trailing--", "leading-and-trailing"},
		{"multi---hyphen", "multi-hyphen"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Slugify(tt.in); got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if again := Slugify(Slugify(tt.in)); again != tt.want {
				t.Errorf("Slugify not idempotent: %q", again)
			}
		})
	}
}

func TestValidateCreateRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateRequest
		wantErr bool
	}{
		{name: "minimal", req: CreateRequest{Name: "Platform"}},
		{name: "explicit slug", req: CreateRequest{Name: "Platform", Slug: "platform-team"}},
		{name: "missing name", req: CreateRequest{Name: "  "}, wantErr: true},
		{name: "bad slug", req: CreateRequest{Name: "x", Slug: "Not A Slug"}, wantErr: true},
		{name: "unknown status", req: CreateRequest{Name: "x", Status: "live"}, wantErr: true},
		{name: "archived on create", req: CreateRequest{Name: "x", Status: StatusArchived}, wantErr: true},
		{
			name:    "bad decision model",
			req:     CreateRequest{Name: "x", Policies: Policies{DecisionModel: &DecisionModel{ModelType: "coin_flip"}}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCreateRequest(&tt.req)
			if tt.wantErr != (err != nil) {
				t.Fatalf("wantErr=%v, got %v", tt.wantErr, err)
			}
			if err != nil && !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestUpdateRequestApply(t *testing.T) {
	z := &Zone{Name: "old", Description: "keep", Constraints: &Constraints{BlockedActions: []string{"deploy"}}}
	name := "new"
	req := UpdateRequest{Name: &name, Policies: Policies{EscalationPolicy: &EscalationPolicy{TargetZoneID: "t"}}}

	req.Apply(z)

	if z.Name != "new" || z.Description != "keep" {
		t.Errorf("unexpected scalar fields: %+v", z)
	}
	if z.Constraints == nil || z.Constraints.BlockedActions[0] != "deploy" {
		t.Errorf("constraints should be untouched: %+v", z.Constraints)
	}
	if z.EscalationPolicy == nil || z.EscalationPolicy.TargetZoneID != "t" {
		t.Errorf("escalation policy not applied: %+v", z.EscalationPolicy)
	}
}

func TestAcceptsProposals(t *testing.T) {
	for _, s := range allStatuses {
		z := &Zone{Status: s}
		want := s == StatusDraft || s == StatusActive
		if got := z.AcceptsProposals(); got != want {
			t.Errorf("%s: AcceptsProposals() = %v, want %v", s, got, want)
		}
	}
}

func TestCollectDescendants(t *testing.T) {
	tree := map[string][]string{
		"root": {"a", "b"},
		"a":    {"a1", "a2"},
		"a2":   {"a2x"},
		"b":    {},
	}
	childrenOf := func(id string) ([]string, error) { return tree[id], nil }

	got, err := CollectDescendants("root", childrenOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"a", "b", "a1", "a2", "a2x"}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCollectDescendants_CycleGuard(t *testing.T) {
	tree := map[string][]string{
		"root": {"a"},
		"a":    {"b"},
		"b":    {"root", "a"},
	}
	got, err := CollectDescendants("root", func(id string) ([]string, error) { return tree[id], nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("got %v", got)
	}
}

func TestCollectDescendants_Error(t *testing.T) {
	boom := errors.New("db down")
	_, err := CollectDescendants("root", func(string) ([]string, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestCascadeRules(t *testing.T) {
	if !CascadeApplies(StatusArchived) || !CascadeApplies(StatusSuspended) {
		t.Error("archive and suspend should cascade")
	}
	if CascadeApplies(StatusActive) || CascadeApplies(StatusDraft) {
		t.Error("activate and draft should not cascade")
	}

	tests := []struct {
		current, target Status
		want            bool
	}{
		{StatusActive, StatusArchived, true},
		{StatusSuspended, StatusArchived, true},
		{StatusArchived, StatusArchived, false},
		{StatusArchived, StatusSuspended, false},
		{StatusSuspended, StatusSuspended, false},
		{StatusDraft, StatusSuspended, true},
	}
	for _, tt := range tests {
		if got := NeedsCascade(tt.current, tt.target); got != tt.want {
			t.Errorf("NeedsCascade(%s, %s) = %v, want %v", tt.current, tt.target, got, tt.want)
		}
	}
}

// Simulates a cascade over an in-memory tree and checks that a second run
// changes nothing.
func TestCascadeIdempotent(t *testing.T) {
	status := map[string]Status{"root": StatusActive, "a": StatusActive, "b": StatusSuspended, "c": StatusArchived}
	tree := map[string][]string{"root": {"a", "c"}, "a": {"b"}}
	childrenOf := func(id string) ([]string, error) { return tree[id], nil }

	apply := func() int {
		ids, err := CollectDescendants("root", childrenOf)
		if err != nil {
			t.Fatalf("collect: %v", err)
		}
		changed := 0
		for _, id := range ids {
			if NeedsCascade(status[id], StatusArchived) {
				status[id] = StatusArchived
				changed++
			}
		}
		return changed
	}

	if n := apply(); n != 2 {
		t.Errorf("first cascade changed %d zones, want 2", n)
	}
	for id, s := range status {
		if id != "root" && s != StatusArchived {
			t.Errorf("zone %s not archived: %s", id, s)
		}
	}
	if n := apply(); n != 0 {
		t.Errorf("second cascade changed %d zones, want 0", n)
	}
}

func TestAncestry(t *testing.T) {
	zones := map[string]*Zone{
		"root":  {ID: "root"},
		"mid":   {ID: "mid", ParentZoneID: "root"},
		"leaf":  {ID: "leaf", ParentZoneID: "mid"},
		"loopA": {ID: "loopA", ParentZoneID: "loopB"},
		"loopB": {ID: "loopB", ParentZoneID: "loopA"},
	}
	parentOf := func(id string) (*Zone, error) { return zones[id], nil }

	chain, err := Ancestry(zones["leaf"], parentOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var ids []string
	for _, z := range chain {
		ids = append(ids, z.ID)
	}
	if !slices.Equal(ids, []string{"leaf", "mid", "root"}) {
		t.Errorf("got %v", ids)
	}

	chain, err = Ancestry(zones["loopA"], parentOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chain) != 2 {
		t.Errorf("cycle guard: got %d zones", len(chain))
	}
}

func TestAssignRequestValidate(t *testing.T) {
	if err := (AssignRequest{MemberID: "m", Role: RoleGardener}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := (AssignRequest{MemberID: "m", Role: "owner"}).Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if err := (AssignRequest{Role: RoleApprover}).Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for missing member, got %v", err)
	}
}

func TestZoneJSONRoundTrip(t *testing.T) {
	raw := `{"id":"z1","name":"Ops","status":"active","escalation_policy":{"cosigner_threshold":3,"target_zone_id":"t1"},"constraints":{"blocked_actions":["deploy"]}}`
	var z Zone
	if err := json.Unmarshal([]byte(raw), &z); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if CosignerThreshold(&z) != 3 {
		t.Errorf("threshold: got %d", CosignerThreshold(&z))
	}
	if z.EscalationPolicy.TargetZoneID != "t1" {
		t.Errorf("target: got %q", z.EscalationPolicy.TargetZoneID)
	}
	if z.Constraints == nil || len(z.Constraints.BlockedActions) != 1 {
		t.Errorf("constraints: %+v", z.Constraints)
	}
}
