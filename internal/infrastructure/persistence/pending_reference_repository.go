package persistence

import (
	"context"
	"time"

	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormPendingReferenceRepository implements integration.PendingReferenceRepository
type GormPendingReferenceRepository struct {
	db *gorm.DB
}

// NewGormPendingReferenceRepository creates a new GormPendingReferenceRepository
func NewGormPendingReferenceRepository(db *gorm.DB) *GormPendingReferenceRepository {
	return &GormPendingReferenceRepository{db: db}
}

// Defer inserts a pending reference or bumps its attempt counter, returning the new count
func (r *GormPendingReferenceRepository) Defer(ctx context.Context, ref *integration.PendingReference) (int, error) {
	db := r.db.WithContext(ctx)
	now := time.Now().UTC()

	model := &models.PendingReferenceModel{
		IntegrationID:   ref.IntegrationID,
		Component:       string(ref.Component),
		VendorID:        ref.VendorID,
		RefComponent:    string(ref.RefComponent),
		RefVendorID:     ref.RefVendorID,
		Attempts:        1,
		LastError:       ref.LastError,
		FirstDeferredAt: now,
		LastDeferredAt:  now,
	}
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "integration_id"}, {Name: "component"}, {Name: "vendor_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"attempts":         gorm.Expr("pending_references.attempts + 1"),
			"ref_component":    model.RefComponent,
			"ref_vendor_id":    model.RefVendorID,
			"last_error":       model.LastError,
			"last_deferred_at": now,
		}),
	}).Create(model).Error
	if err != nil {
		return 0, err
	}

	var stored models.PendingReferenceModel
	if err := db.Where("integration_id = ? AND component = ? AND vendor_id = ?",
		ref.IntegrationID, string(ref.Component), ref.VendorID).
		Take(&stored).Error; err != nil {
		return 0, err
	}
	return stored.Attempts, nil
}

// ListByComponent returns every pending reference of a component ordered by vendor id
func (r *GormPendingReferenceRepository) ListByComponent(ctx context.Context, integrationID uuid.UUID, component integration.Component) ([]integration.PendingReference, error) {
	var rows []models.PendingReferenceModel
	if err := r.db.WithContext(ctx).
		Where("integration_id = ? AND component = ?", integrationID, string(component)).
		Order("vendor_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]integration.PendingReference, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out, nil
}

// Resolve drops a pending reference once its record transformed or was given up on
func (r *GormPendingReferenceRepository) Resolve(ctx context.Context, integrationID uuid.UUID, component integration.Component, vendorID string) error {
	return r.db.WithContext(ctx).
		Where("integration_id = ? AND component = ? AND vendor_id = ?", integrationID, string(component), vendorID).
		Delete(&models.PendingReferenceModel{}).Error
}
