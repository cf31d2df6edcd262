package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rohits-web03/clientvault/internal/apperr"
	"github.com/rohits-web03/clientvault/internal/models"
)

// BlobRepository is the read side of the media catalog.
type BlobRepository struct {
	db *gorm.DB
}

func NewBlobRepository(db *gorm.DB) *BlobRepository {
	return &BlobRepository{db: db}
}

// ListEligible returns an owner's blobs that are neither deleted nor
// trashed, ordered by folder, display name and id. An empty folder means
// every folder.
func (r *BlobRepository) ListEligible(ctx context.Context, ownerID uuid.UUID, folder string) ([]models.Blob, error) {
	q := r.db.WithContext(ctx).
		Where("owner_id = ? AND deleted = ? AND trashed = ?", ownerID, false, false)
	if folder != "" {
		q = q.Where("folder_path = ?", folder)
	}

	var blobs []models.Blob
	if err := q.Order("folder_path, display_name, id").Find(&blobs).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "catalog.list", err)
	}
	return blobs, nil
}

// GetByIDs returns the blobs with the given ids, including deleted ones, so
// callers can tell a missing file from a removed one.
func (r *BlobRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Blob, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var blobs []models.Blob
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&blobs).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "catalog.get", err)
	}
	return blobs, nil
}

func (r *BlobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Blob, error) {
	var blob models.Blob
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&blob).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "catalog.get", "File not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "catalog.get", err)
	}
	return &blob, nil
}
