package persistence

import (
	"context"
	"errors"

	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormNormalizedRepository implements integration.NormalizedRepository over normalized_records
type GormNormalizedRepository struct {
	db *gorm.DB
}

// NewGormNormalizedRepository creates a new GormNormalizedRepository
func NewGormNormalizedRepository(db *gorm.DB) *GormNormalizedRepository {
	return &GormNormalizedRepository{db: db}
}

// Upsert writes the record unless the stored row already carries the same source hash
func (r *GormNormalizedRepository) Upsert(ctx context.Context, record *integration.NormalizedRecord) (bool, error) {
	db := r.db.WithContext(ctx)

	var existing models.NormalizedRecordModel
	err := db.Select("source_hash").
		Where("integration_id = ? AND component = ? AND vendor_id = ?",
			record.IntegrationID, string(record.Component), record.VendorID).
		Take(&existing).Error
	switch {
	case err == nil && existing.SourceHash == record.SourceHash:
		return false, nil
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		return false, err
	}

	model, err := models.NormalizedRecordModelFromDomain(record)
	if err != nil {
		return false, err
	}
	err = db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "integration_id"}, {Name: "component"}, {Name: "vendor_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"entity_type", "display_name", "amount", "currency", "occurred_at",
			"attributes", "resolved_refs", "source_hash", "transformed_at",
		}),
	}).Create(model).Error
	if err != nil {
		return false, err
	}
	return true, nil
}

// Exists reports whether a normalized row exists for the key
func (r *GormNormalizedRepository) Exists(ctx context.Context, integrationID uuid.UUID, component integration.Component, vendorID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.NormalizedRecordModel{}).
		Where("integration_id = ? AND component = ? AND vendor_id = ?", integrationID, string(component), vendorID).
		Limit(1).
		Count(&count).Error
	return count > 0, err
}

// Find returns one normalized row by key, or nil when there is none
func (r *GormNormalizedRepository) Find(ctx context.Context, integrationID uuid.UUID, component integration.Component, vendorID string) (*integration.NormalizedRecord, error) {
	var model models.NormalizedRecordModel
	err := r.db.WithContext(ctx).
		Where("integration_id = ? AND component = ? AND vendor_id = ?", integrationID, string(component), vendorID).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindInWindow returns the rows of a component transformed inside the window, ordered by vendor id
func (r *GormNormalizedRepository) FindInWindow(ctx context.Context, integrationID uuid.UUID, component integration.Component, window integration.Window) ([]integration.NormalizedRecord, error) {
	var rows []models.NormalizedRecordModel
	if err := r.db.WithContext(ctx).
		Where("integration_id = ? AND component = ?", integrationID, string(component)).
		Where("transformed_at >= ? AND transformed_at <= ?", window.Since.UTC(), window.Until.UTC()).
		Order("vendor_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]integration.NormalizedRecord, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].ToDomain())
	}
	return out, nil
}

// Count returns the number of normalized rows of a component
func (r *GormNormalizedRepository) Count(ctx context.Context, integrationID uuid.UUID, component integration.Component) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.NormalizedRecordModel{}).
		Where("integration_id = ? AND component = ?", integrationID, string(component)).
		Count(&count).Error
	return count, err
}
