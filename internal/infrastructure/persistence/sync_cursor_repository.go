package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxCursorCASAttempts bounds the reload-and-retry loop of a contended advance
const maxCursorCASAttempts = 5

// ErrCursorContention is returned when a cursor advance keeps losing the version race
var ErrCursorContention = errors.New("persistence: cursor advance lost too many version races")

// GormCursorRepository implements integration.CursorStore with a versioned row per
// (integration, component) and compare-and-swap updates
type GormCursorRepository struct {
	db *gorm.DB
}

// NewGormCursorRepository creates a new GormCursorRepository
func NewGormCursorRepository(db *gorm.DB) *GormCursorRepository {
	return &GormCursorRepository{db: db}
}

// Get returns the cursor of a pair, or nil when it has never advanced
func (r *GormCursorRepository) Get(ctx context.Context, integrationID uuid.UUID, component integration.Component) (*integration.SyncCursor, error) {
	var model models.SyncCursorModel
	err := r.db.WithContext(ctx).
		Where("integration_id = ? AND component = ?", integrationID, string(component)).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if model.Watermark == nil {
		// seeded by a concurrent first advance that has not landed yet
		return nil, nil
	}
	return model.ToDomain(), nil
}

// Advance moves the watermark of a pair forward.
// A watermark earlier than the stored one is refused with *integration.StaleAdvanceError.
func (r *GormCursorRepository) Advance(ctx context.Context, integrationID uuid.UUID, component integration.Component, watermark time.Time, pageToken string) (*integration.SyncCursor, error) {
	db := r.db.WithContext(ctx)
	watermark = watermark.UTC()

	seed := models.SyncCursorModel{
		IntegrationID: integrationID,
		Component:     string(component),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxCursorCASAttempts; attempt++ {
		var current models.SyncCursorModel
		if err := db.Where("integration_id = ? AND component = ?", integrationID, string(component)).
			First(&current).Error; err != nil {
			return nil, err
		}

		if current.Watermark != nil && watermark.Before(*current.Watermark) {
			return current.ToDomain(), &integration.StaleAdvanceError{
				IntegrationID: integrationID,
				Component:     component,
				Current:       *current.Watermark,
				Proposed:      watermark,
			}
		}

		now := time.Now().UTC()
		res := db.Model(&models.SyncCursorModel{}).
			Where("integration_id = ? AND component = ? AND version = ?", integrationID, string(component), current.Version).
			Updates(map[string]any{
				"watermark":  watermark,
				"page_token": pageToken,
				"version":    current.Version + 1,
				"updated_at": now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			return &integration.SyncCursor{
				IntegrationID: integrationID,
				Component:     component,
				Watermark:     &watermark,
				PageToken:     pageToken,
				Version:       current.Version + 1,
				UpdatedAt:     now,
			}, nil
		}
	}
	return nil, ErrCursorContention
}
