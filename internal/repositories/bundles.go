package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rohits-web03/clientvault/internal/apperr"
	"github.com/rohits-web03/clientvault/internal/models"
)

type BundleRepository struct {
	db *gorm.DB
}

func NewBundleRepository(db *gorm.DB) *BundleRepository {
	return &BundleRepository{db: db}
}

// Get returns the owner's current bundle record regardless of expiry.
func (r *BundleRepository) Get(ctx context.Context, ownerID uuid.UUID) (*models.Bundle, error) {
	var b models.Bundle
	err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "bundles.get", "No bundle has been built")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "bundles.get", err)
	}
	return &b, nil
}

// Upsert replaces the owner's bundle record wholesale.
func (r *BundleRepository) Upsert(ctx context.Context, b *models.Bundle) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}},
			UpdateAll: true,
		}).
		Create(b).Error
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "bundles.upsert", err)
	}
	return nil
}
