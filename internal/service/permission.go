package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/zone"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/database"
)

// PermissionService resolves what a member may do in a zone from their
// zone roles along the ancestry and their organization role.
type PermissionService struct {
	store database.Store
	zones *ZoneService
}

// NewPermissionService creates a PermissionService.
func NewPermissionService(store database.Store, zones *ZoneService) *PermissionService {
	return &PermissionService{store: store, zones: zones}
}

// grants loads the inputs of the resolver for memberID in z. A member
// without an organization row only gets what zone roles grant.
func (s *PermissionService) grants(ctx context.Context, z *zone.Zone, memberID string) (zone.Grants, error) {
	chain, err := s.zones.Ancestry(ctx, z.ID)
	if err != nil {
		return zone.Grants{}, err
	}
	g := zone.Grants{ZoneRoles: make([][]zone.Role, 0, len(chain))}
	for _, anc := range chain {
		assignments, err := s.store.ListAssignments(ctx, anc.ID)
		if err != nil {
			return zone.Grants{}, fmt.Errorf("list assignments of zone %s: %w", anc.ID, err)
		}
		var roles []zone.Role
		for _, a := range assignments {
			if a.MemberID == memberID {
				roles = append(roles, a.Role)
			}
		}
		g.ZoneRoles = append(g.ZoneRoles, roles)
	}

	role, err := s.store.GetMemberRole(ctx, memberID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// not an organization member
	case err != nil:
		return zone.Grants{}, fmt.Errorf("member role: %w", err)
	default:
		g.OrgRole = role
	}
	return g, nil
}

// Check returns domain.ErrForbidden unless memberID may perform action in z.
func (s *PermissionService) Check(ctx context.Context, z *zone.Zone, memberID, action string) error {
	g, err := s.grants(ctx, z, memberID)
	if err != nil {
		return err
	}
	if !g.Allows(z, action) {
		return fmt.Errorf("%w: missing permission %s", domain.ErrForbidden, action)
	}
	return nil
}

// EffectivePermissions is the response of the zone permissions endpoint.
type EffectivePermissions struct {
	ZoneID      string   `json:"zone_id"`
	MemberID    string   `json:"member_id"`
	Permissions []string `json:"permissions"`
}

// Effective lists the actions memberID holds in a zone. An empty memberID
// means the caller.
func (s *PermissionService) Effective(ctx context.Context, zoneID, memberID string) (*EffectivePermissions, error) {
	if memberID == "" {
		memberID = actorOf(ctx).ID
	}
	z, err := s.zones.Get(ctx, zoneID)
	if err != nil {
		return nil, err
	}
	g, err := s.grants(ctx, z, memberID)
	if err != nil {
		return nil, err
	}
	return &EffectivePermissions{ZoneID: z.ID, MemberID: memberID, Permissions: g.Effective(z)}, nil
}
