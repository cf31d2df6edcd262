package delivery

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohits-web03/clientvault/internal/apperr"
	"github.com/rohits-web03/clientvault/internal/models"
)

func TestCatalogReader_EligibleIsSortedAndFiltered(t *testing.T) {
	h := newHarness(t)
	h.file("trip", "b.jpg", 1)
	h.file("", "z.jpg", 1)
	h.file("trip", "a.jpg", 1)
	h.blobs.add(models.Blob{OwnerID: h.owner, DisplayName: "old.jpg", Deleted: true})
	h.blobs.add(models.Blob{OwnerID: h.owner, DisplayName: "bin.jpg", Trashed: true})
	h.blobs.add(models.Blob{OwnerID: uuid.New(), DisplayName: "theirs.jpg"})

	got, err := h.catalog.Eligible(context.Background(), h.owner, "")
	require.NoError(t, err)
	var names []string
	for _, b := range got {
		names = append(names, b.FolderPath+"|"+b.DisplayName)
	}
	assert.Equal(t, []string{"|z.jpg", "trip|a.jpg", "trip|b.jpg"}, names)

	trip, err := h.catalog.Eligible(context.Background(), h.owner, "trip")
	require.NoError(t, err)
	assert.Len(t, trip, 2)
}

func TestCatalogReader_EmptyResult(t *testing.T) {
	h := newHarness(t)
	h.blobs.add(models.Blob{OwnerID: h.owner, DisplayName: "old.jpg", Deleted: true})

	_, err := h.catalog.Eligible(context.Background(), h.owner, "")
	assert.ErrorIs(t, err, apperr.EmptyResult)
}

func TestCatalogReader_Lookup(t *testing.T) {
	h := newHarness(t)
	a := h.file("", "a.jpg", 1)
	b := h.file("", "b.jpg", 1)

	got, err := h.catalog.Lookup(context.Background(), h.owner, []uuid.UUID{b.ID, a.ID, b.ID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, b.ID, got[0].ID)
	assert.Equal(t, a.ID, got[1].ID)

	_, err = h.catalog.Lookup(context.Background(), h.owner, []uuid.UUID{a.ID, uuid.New()})
	assert.ErrorIs(t, err, apperr.NotFound)

	removed := h.blobs.add(models.Blob{OwnerID: h.owner, DisplayName: "r.jpg", Deleted: true})
	_, err = h.catalog.Lookup(context.Background(), h.owner, []uuid.UUID{removed.ID})
	assert.ErrorIs(t, err, apperr.NotFound)

	theirs := h.blobs.add(models.Blob{OwnerID: uuid.New(), DisplayName: "t.jpg", Deleted: true})
	_, err = h.catalog.Lookup(context.Background(), h.owner, []uuid.UUID{theirs.ID})
	assert.ErrorIs(t, err, apperr.AccessDenied)
}
