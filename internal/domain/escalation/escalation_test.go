package escalation

import (
	"errors"
	"testing"
	"time"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/zone"
)

func intPtr(n int) *int { return &n }
func floatPtr(f float64) *float64 { return &f }

func TestCheckRateLimit(t *testing.T) {
	limited := &zone.Zone{EscalationPolicy: &zone.EscalationPolicy{MaxEscalationsPerDay: intPtr(2)}}
	zero := &zone.Zone{EscalationPolicy: &zone.EscalationPolicy{MaxEscalationsPerDay: intPtr(0)}}

	tests := []struct {
		name    string
		zone    *zone.Zone
		count   int
		wantErr bool
	}{
		{name: "nil zone", zone: nil, count: 100},
		{name: "no policy", zone: &zone.Zone{}, count: 100},
		{name: "no max", zone: &zone.Zone{EscalationPolicy: &zone.EscalationPolicy{CosignerThreshold: intPtr(3)}}, count: 100},
		{name: "below limit", zone: limited, count: 1},
		{name: "at limit", zone: limited, count: 2, wantErr: true},
		{name: "above limit", zone: limited, count: 5, wantErr: true},
		{name: "zero blocks all", zone: zero, count: 0, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckRateLimit(tt.zone, tt.count)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, domain.ErrRateLimited) {
				t.Fatalf("expected ErrRateLimited, got %v", err)
			}
		})
	}
}

func TestResolveTarget(t *testing.T) {
	child := &zone.Zone{ID: "child", ParentZoneID: "parent"}
	configured := &zone.Zone{ID: "child", ParentZoneID: "parent", EscalationPolicy: &zone.EscalationPolicy{TargetZoneID: "council"}}
	root := &zone.Zone{ID: "root"}
	rootConfigured := &zone.Zone{ID: "root", EscalationPolicy: &zone.EscalationPolicy{TargetZoneID: "council"}}

	tests := []struct {
		name      string
		source    *zone.Zone
		ancestors []string
		requested string
		want      string
		wantErr   bool
	}{
		{name: "defaults to parent", source: child, ancestors: []string{"parent", "root"}, want: "parent"},
		{name: "any ancestor", source: child, ancestors: []string{"parent", "root"}, requested: "root", want: "root"},
		{name: "configured target by default", source: configured, ancestors: []string{"parent"}, want: "council"},
		{name: "configured target requested", source: configured, ancestors: []string{"parent"}, requested: "council", want: "council"},
		{name: "parent still allowed with configured target", source: configured, ancestors: []string{"parent"}, requested: "parent", want: "parent"},
		{name: "sibling rejected", source: child, ancestors: []string{"parent"}, requested: "sibling", wantErr: true},
		{name: "self rejected", source: child, ancestors: []string{"parent"}, requested: "child", wantErr: true},
		{name: "root without target", source: root, wantErr: true},
		{name: "root with configured target", source: rootConfigured, want: "council"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveTarget(tt.source, tt.ancestors, tt.requested)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrValidation) {
					t.Fatalf("expected ErrValidation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAutoEscalationDue(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	z := &zone.Zone{EscalationPolicy: &zone.EscalationPolicy{AutoEscalateAfterHours: floatPtr(1.5)}}

	if AutoEscalationDue(z, now.Add(-time.Hour), now) {
		t.Error("1h old proposal should not be due")
	}
	if !AutoEscalationDue(z, now.Add(-90*time.Minute), now) {
		t.Error("90m old proposal should be due")
	}
	if AutoEscalationDue(&zone.Zone{}, now.Add(-1000*time.Hour), now) {
		t.Error("zone without policy should never be due")
	}
	if AutoEscalationDue(&zone.Zone{EscalationPolicy: &zone.EscalationPolicy{AutoEscalateAfterHours: floatPtr(0)}}, now.Add(-time.Hour), now) {
		t.Error("zero hours disables auto-escalation")
	}
}

func TestCanCosign(t *testing.T) {
	tests := []struct {
		name    string
		e       Escalation
		wantErr error
	}{
		{name: "pending governance", e: Escalation{EscalationType: TypeGovernance, Status: StatusPending}},
		{name: "action", e: Escalation{EscalationType: TypeAction, Status: StatusPending}, wantErr: domain.ErrValidation},
		{name: "accepted", e: Escalation{EscalationType: TypeGovernance, Status: StatusAccepted}, wantErr: domain.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CanCosign(&tt.e)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCanClose(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusAccepted} {
		if err := CanClose(&Escalation{Status: s}); err != nil {
			t.Errorf("%s: unexpected error %v", s, err)
		}
	}
	for _, s := range []Status{StatusResolved, StatusDismissed} {
		if err := CanClose(&Escalation{Status: s}); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("%s: expected ErrConflict, got %v", s, err)
		}
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}
