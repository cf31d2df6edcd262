package delivery

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/rohits-web03/clientvault/internal/apperr"
	"github.com/rohits-web03/clientvault/internal/models"
)

// CatalogReader answers which of an owner's files may be delivered.
type CatalogReader struct {
	blobs BlobSource
}

func NewCatalogReader(blobs BlobSource) *CatalogReader {
	return &CatalogReader{blobs: blobs}
}

// Eligible returns the owner's deliverable files in folder ("" for all),
// sorted by folder, display name and id. No files is EmptyResult.
func (c *CatalogReader) Eligible(ctx context.Context, ownerID uuid.UUID, folder string) ([]models.Blob, error) {
	blobs, err := c.blobs.ListEligible(ctx, ownerID, folder)
	if err != nil {
		return nil, err
	}
	out := blobs[:0]
	for _, b := range blobs {
		if b.Eligible() {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return nil, apperr.New(apperr.KindEmptyResult, "catalog.eligible", "No files available for download")
	}
	sortBlobs(out)
	return out, nil
}

// Lookup resolves a selection in request order, dropping duplicate ids.
// Another owner's file is AccessDenied; a missing, deleted or trashed file
// is NotFound.
func (c *CatalogReader) Lookup(ctx context.Context, ownerID uuid.UUID, ids []uuid.UUID) ([]models.Blob, error) {
	seen := make(map[uuid.UUID]bool, len(ids))
	unique := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	found, err := c.blobs.GetByIDs(ctx, unique)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]models.Blob, len(found))
	for _, b := range found {
		byID[b.ID] = b
	}

	out := make([]models.Blob, 0, len(unique))
	for _, id := range unique {
		b, ok := byID[id]
		if err := checkBlob(ownerID, id, &b, ok); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// File resolves one file for ownerID.
func (c *CatalogReader) File(ctx context.Context, ownerID, id uuid.UUID) (*models.Blob, error) {
	b, err := c.blobs.GetByID(ctx, id)
	if err != nil && !errors.Is(err, apperr.NotFound) {
		return nil, err
	}
	if err := checkBlob(ownerID, id, b, b != nil); err != nil {
		return nil, err
	}
	return b, nil
}

func checkBlob(ownerID, id uuid.UUID, b *models.Blob, found bool) error {
	if !found {
		return apperr.New(apperr.KindNotFound, "catalog.lookup", fmt.Sprintf("File %s not found", id))
	}
	if b.OwnerID != ownerID {
		return apperr.New(apperr.KindAccessDenied, "catalog.lookup", fmt.Sprintf("File %s belongs to another account", id))
	}
	if !b.Eligible() {
		return apperr.New(apperr.KindNotFound, "catalog.lookup", fmt.Sprintf("File %s has been removed", id))
	}
	return nil
}

func sortBlobs(blobs []models.Blob) {
	sort.SliceStable(blobs, func(i, j int) bool {
		a, b := blobs[i], blobs[j]
		if a.FolderPath != b.FolderPath {
			return a.FolderPath < b.FolderPath
		}
		if a.DisplayName != b.DisplayName {
			return a.DisplayName < b.DisplayName
		}
		return a.ID.String() < b.ID.String()
	})
}
