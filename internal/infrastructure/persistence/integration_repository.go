package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormIntegrationRepository implements integration.IntegrationRepository using GORM
type GormIntegrationRepository struct {
	db *gorm.DB
}

// NewGormIntegrationRepository creates a new GormIntegrationRepository
func NewGormIntegrationRepository(db *gorm.DB) *GormIntegrationRepository {
	return &GormIntegrationRepository{db: db}
}

// FindByID finds an integration by its ID
func (r *GormIntegrationRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.Integration, error) {
	var model models.IntegrationModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrIntegrationNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindActive returns every active integration ordered by creation
func (r *GormIntegrationRepository) FindActive(ctx context.Context) ([]integration.Integration, error) {
	var rows []models.IntegrationModel
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]integration.Integration, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out, nil
}

// Save creates or updates an integration
func (r *GormIntegrationRepository) Save(ctx context.Context, i *integration.Integration) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	now := time.Now()
	if i.CreatedAt.IsZero() {
		i.CreatedAt = now
	}
	i.UpdatedAt = now
	return r.db.WithContext(ctx).Save(models.IntegrationModelFromDomain(i)).Error
}

// ---------------------------------------------------------------------------
// Credentials
// ---------------------------------------------------------------------------

// GormCredentialRepository implements integration.CredentialProvider over integration_credentials
type GormCredentialRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormCredentialRepository creates a new GormCredentialRepository
func NewGormCredentialRepository(db *gorm.DB) *GormCredentialRepository {
	return &GormCredentialRepository{db: db, now: time.Now}
}

// GetCredential returns a usable credential or a *integration.CredentialError
func (r *GormCredentialRepository) GetCredential(ctx context.Context, integrationID uuid.UUID) (*integration.Credential, error) {
	var model models.CredentialModel
	if err := r.db.WithContext(ctx).First(&model, "integration_id = ?", integrationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &integration.CredentialError{IntegrationID: integrationID, Reason: "no credential on file"}
		}
		return nil, fmt.Errorf("load credential: %w", err)
	}

	cred := model.ToDomain()
	if cred.AccessToken == "" {
		return nil, &integration.CredentialError{IntegrationID: integrationID, Reason: "empty access token"}
	}
	if cred.IsExpired(r.now()) {
		return nil, &integration.CredentialError{IntegrationID: integrationID, Reason: "access token expired"}
	}
	return cred, nil
}

// SaveCredential upserts the credential of an integration
func (r *GormCredentialRepository) SaveCredential(ctx context.Context, cred *integration.Credential) error {
	model := &models.CredentialModel{}
	model.FromDomain(cred)
	now := r.now()
	model.CreatedAt = now
	model.UpdatedAt = now
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "integration_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"vendor_kind", "access_token", "tenant_header", "base_url", "expires_at", "updated_at"}),
	}).Create(model).Error
}
