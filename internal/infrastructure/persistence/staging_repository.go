package persistence

import (
	"context"

	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const stagingBatchSize = 200

// GormStagingRepository implements integration.StagingRepository over raw_records
type GormStagingRepository struct {
	db *gorm.DB
}

// NewGormStagingRepository creates a new GormStagingRepository
func NewGormStagingRepository(db *gorm.DB) *GormStagingRepository {
	return &GormStagingRepository{db: db}
}

// UpsertBatch writes records keyed on (integration, component, vendor id); a
// re-fetched record overwrites its previous payload
func (r *GormStagingRepository) UpsertBatch(ctx context.Context, records []*integration.RawRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	// collapse duplicates inside the batch, last write wins
	index := make(map[string]int, len(records))
	rows := make([]*models.RawRecordModel, 0, len(records))
	for _, rec := range records {
		key := rec.IntegrationID.String() + "\x00" + string(rec.Component) + "\x00" + rec.VendorID
		if i, ok := index[key]; ok {
			rows[i] = models.RawRecordModelFromDomain(rec)
			continue
		}
		index[key] = len(rows)
		rows = append(rows, models.RawRecordModelFromDomain(rec))
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "integration_id"}, {Name: "component"}, {Name: "vendor_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"payload", "payload_hash", "modified_at", "fetched_at",
		}),
	}).CreateInBatches(rows, stagingBatchSize).Error
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// FindInWindow returns staged records modified or fetched inside the window, ordered by vendor id
func (r *GormStagingRepository) FindInWindow(ctx context.Context, integrationID uuid.UUID, component integration.Component, window integration.Window) ([]integration.RawRecord, error) {
	since, until := window.Since.UTC(), window.Until.UTC()
	var rows []models.RawRecordModel
	if err := r.db.WithContext(ctx).
		Where("integration_id = ? AND component = ?", integrationID, string(component)).
		Where("(modified_at >= ? AND modified_at <= ?) OR (fetched_at >= ? AND fetched_at <= ?)",
			since, until, since, until).
		Order("vendor_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toRawRecords(rows), nil
}

// FindByVendorIDs returns staged records of a component by vendor id
func (r *GormStagingRepository) FindByVendorIDs(ctx context.Context, integrationID uuid.UUID, component integration.Component, vendorIDs []string) ([]integration.RawRecord, error) {
	if len(vendorIDs) == 0 {
		return nil, nil
	}
	var rows []models.RawRecordModel
	if err := r.db.WithContext(ctx).
		Where("integration_id = ? AND component = ? AND vendor_id IN ?", integrationID, string(component), vendorIDs).
		Order("vendor_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toRawRecords(rows), nil
}

// Count returns the number of staged records of a component
func (r *GormStagingRepository) Count(ctx context.Context, integrationID uuid.UUID, component integration.Component) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.RawRecordModel{}).
		Where("integration_id = ? AND component = ?", integrationID, string(component)).
		Count(&count).Error
	return count, err
}

func toRawRecords(rows []models.RawRecordModel) []integration.RawRecord {
	out := make([]integration.RawRecord, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out
}
