package service

import (
	"context"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/audit"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/database"
)

const (
	defaultAuditPage = 100
	maxAuditPage     = 500
)

// AuditService reads the governance audit trail.
type AuditService struct {
	store database.Store
}

// NewAuditService creates an AuditService.
func NewAuditService(store database.Store) *AuditService {
	return &AuditService{store: store}
}

// List returns the newest audit entries of the organization, optionally
// restricted to one zone. limit <= 0 selects the default page size.
func (s *AuditService) List(ctx context.Context, zoneID string, limit int) ([]audit.Entry, error) {
	switch {
	case limit <= 0:
		limit = defaultAuditPage
	case limit > maxAuditPage:
		return nil, domain.Validationf("limit must be at most %d", maxAuditPage)
	}
	return s.store.ListAuditEntries(ctx, zoneID, limit)
}
