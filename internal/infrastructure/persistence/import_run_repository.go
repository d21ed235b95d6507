package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var terminalRunStatuses = []string{
	string(integration.RunStatusSucceeded),
	string(integration.RunStatusPartiallyFailed),
	string(integration.RunStatusFailed),
	string(integration.RunStatusCancelled),
}

// GormImportRunRepository implements integration.RunLedger over import_runs
type GormImportRunRepository struct {
	db *gorm.DB
}

// NewGormImportRunRepository creates a new GormImportRunRepository
func NewGormImportRunRepository(db *gorm.DB) *GormImportRunRepository {
	return &GormImportRunRepository{db: db}
}

// Create inserts a new ledger entry
func (r *GormImportRunRepository) Create(ctx context.Context, run *integration.ImportRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(models.ImportRunModelFromDomain(run)).Error
}

// Update persists a run. The write is conditional on the stored row not being
// terminal yet, so a finished run can never be overwritten.
func (r *GormImportRunRepository) Update(ctx context.Context, run *integration.ImportRun) error {
	run.UpdatedAt = time.Now()
	model := models.ImportRunModelFromDomain(run)

	res := r.db.WithContext(ctx).Model(&models.ImportRunModel{}).
		Where("id = ? AND status NOT IN ?", run.ID, terminalRunStatuses).
		Updates(map[string]any{
			"attempt":       model.Attempt,
			"components":    model.Components,
			"since":         model.Since,
			"until":         model.Until,
			"status":        model.Status,
			"outcomes":      model.Outcomes,
			"error_summary": model.ErrorSummary,
			"retryable":     model.Retryable,
			"started_at":    model.StartedAt,
			"finished_at":   model.FinishedAt,
			"updated_at":    model.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&models.ImportRunModel{}).Where("id = ?", run.ID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return integration.ErrRunNotFound
	}
	return integration.ErrRunTerminal
}

// FindByID returns one ledger entry
func (r *GormImportRunRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.ImportRun, error) {
	var model models.ImportRunModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrRunNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// List returns ledger entries matching the filter with the total count.
// Entries are ordered by the filter's sort field, newest first by default.
func (r *GormImportRunRepository) List(ctx context.Context, filter integration.RunFilter) ([]integration.ImportRun, int64, error) {
	filter.Normalize()

	query := r.db.WithContext(ctx).Model(&models.ImportRunModel{})
	if filter.IntegrationID != nil {
		query = query.Where("integration_id = ?", *filter.IntegrationID)
	}
	if filter.JobID != nil {
		query = query.Where("job_id = ?", *filter.JobID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("created_at <= ?", *filter.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.ImportRunModel
	if err := query.
		Order(ValidateSortField(filter.OrderBy, RunSortFields, "created_at") + " " + ValidateSortOrder(filter.OrderDir)).
		Offset(filter.Offset()).
		Limit(filter.PageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	runs := make([]integration.ImportRun, len(rows))
	for i := range rows {
		runs[i] = *rows[i].ToDomain()
	}
	return runs, total, nil
}
