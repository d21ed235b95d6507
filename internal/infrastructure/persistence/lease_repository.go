package persistence

import (
	"context"
	"time"

	"github.com/ShenlongDev/afp-integration/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormLeaseRepository stores exclusive leases in import_leases.
// A row is held by its owner until released or until it expires, after which
// any caller may take it over.
type GormLeaseRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormLeaseRepository creates a new GormLeaseRepository
func NewGormLeaseRepository(db *gorm.DB) *GormLeaseRepository {
	return &GormLeaseRepository{db: db, now: time.Now}
}

// TryAcquire attempts to take the lease on key for owner without blocking
func (r *GormLeaseRepository) TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	db := r.db.WithContext(ctx)
	now := r.now().UTC()

	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.LeaseModel{
		Key:        key,
		Owner:      owner,
		ExpiresAt:  now.Add(ttl),
		AcquiredAt: now,
	})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	// steal an expired lease
	res = db.Model(&models.LeaseModel{}).
		Where("lease_key = ? AND expires_at < ?", key, now).
		Updates(map[string]any{
			"owner":       owner,
			"expires_at":  now.Add(ttl),
			"acquired_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Extend pushes the expiry of a lease owner still holds
func (r *GormLeaseRepository) Extend(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.LeaseModel{}).
		Where("lease_key = ? AND owner = ?", key, owner).
		Update("expires_at", r.now().UTC().Add(ttl))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Release drops the lease if owner still holds it
func (r *GormLeaseRepository) Release(ctx context.Context, key, owner string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("lease_key = ? AND owner = ?", key, owner).
		Delete(&models.LeaseModel{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
