// Package delivery decides how files reach a customer: a single signed
// URL, a streamed file, an inline archive, a cached whole-owner bundle, a
// numbered batch, an async job, or a manifest for sequential download.
package delivery

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/rohits-web03/clientvault/internal/apperr"
	"github.com/rohits-web03/clientvault/internal/models"
	"github.com/rohits-web03/clientvault/internal/repositories"
)

// BlobSource is the catalog the delivery layer reads from.
type BlobSource interface {
	ListEligible(ctx context.Context, ownerID uuid.UUID, folder string) ([]models.Blob, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Blob, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Blob, error)
}

type BundleStore interface {
	Get(ctx context.Context, ownerID uuid.UUID) (*models.Bundle, error)
	Upsert(ctx context.Context, b *models.Bundle) error
}

type JobStore interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ClaimNext(ctx context.Context, now time.Time) (*models.Job, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, processed int, now time.Time) error
	Complete(ctx context.Context, job *models.Job) error
	Fail(ctx context.Context, id uuid.UUID, kind apperr.Kind, message string, now, expires time.Time) error
	FailStalled(ctx context.Context, cutoff, now, expires time.Time) (int64, error)
}

type LeaseStore interface {
	TryAcquire(ctx context.Context, ownerID uuid.UUID, holder string, now time.Time, ttl time.Duration) (bool, error)
	Extend(ctx context.Context, ownerID uuid.UUID, holder string, until time.Time) (bool, error)
	Release(ctx context.Context, ownerID uuid.UUID, holder string) error
}

// ObjectStore is the blob storage surface, implemented by
// repositories.ObjectStore.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Put(ctx context.Context, body io.ReadSeeker, size int64, key, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]repositories.ObjectInfo, error)
	PresignGet(ctx context.Context, key, filename string, ttl time.Duration) (string, error)
}
