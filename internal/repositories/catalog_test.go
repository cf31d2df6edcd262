package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rohits-web03/clientvault/internal/apperr"
	"github.com/rohits-web03/clientvault/internal/models"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Discard,
	})
	require.NoError(t, err)
	return db, mock
}

func TestBlobRepository_ListEligible(t *testing.T) {
	db, mock := newMockDB(t)
	owner := uuid.New()
	a, b := uuid.New(), uuid.New()

	rows := sqlmock.NewRows([]string{"id", "owner_id", "storage_key", "display_name", "size", "folder_path"}).
		AddRow(a.String(), owner.String(), "k/a", "a.jpg", int64(10), "").
		AddRow(b.String(), owner.String(), "k/b", "b.jpg", int64(20), "trip")
	mock.ExpectQuery(`SELECT \* FROM "blobs" WHERE \(?owner_id = \$1 AND deleted = \$2 AND trashed = \$3\)? ORDER BY folder_path, display_name, id`).
		WithArgs(owner, false, false).
		WillReturnRows(rows)

	blobs, err := NewBlobRepository(db).ListEligible(context.Background(), owner, "")
	require.NoError(t, err)
	require.Len(t, blobs, 2)
	assert.Equal(t, "a.jpg", blobs[0].DisplayName)
	assert.Equal(t, "trip", blobs[1].FolderPath)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBlobRepository_ListEligible_DBError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT \* FROM "blobs"`).WillReturnError(errors.New("db down"))

	_, err := NewBlobRepository(db).ListEligible(context.Background(), uuid.New(), "trip")
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

func TestBlobRepository_GetByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT \* FROM "blobs" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := NewBlobRepository(db).GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperr.NotFound)
}

func TestBundleRepository_Get(t *testing.T) {
	db, mock := newMockDB(t)
	owner := uuid.New()
	built := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT \* FROM "bundles" WHERE owner_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id", "archive_key", "file_count", "built_at", "expires_at"}).
			AddRow(owner.String(), "bundles/x.zip", 4, built, built.Add(7*24*time.Hour)))

	b, err := NewBundleRepository(db).Get(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, "bundles/x.zip", b.ArchiveKey)
	assert.Equal(t, 4, b.FileCount)
	assert.Equal(t, built, b.BuiltAt.UTC())
}

func TestBundleRepository_Get_Missing(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT \* FROM "bundles"`).WillReturnRows(sqlmock.NewRows([]string{"owner_id"}))

	_, err := NewBundleRepository(db).Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperr.NotFound)
}

func TestBundleRepository_Upsert(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`(?s)INSERT INTO "bundles" .* ON CONFLICT \("owner_id"\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := NewBundleRepository(db).Upsert(context.Background(), &models.Bundle{
		OwnerID:    uuid.New(),
		ArchiveKey: "bundles/o/new.zip",
		FileCount:  2,
		BuiltAt:    time.Now(),
		ExpiresAt:  time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaseRepository_TryAcquire(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewLeaseRepository(db)
	owner := uuid.New()
	now := time.Now()

	mock.ExpectExec(`(?s)INSERT INTO build_leases .*ON CONFLICT \(owner_id\) DO UPDATE\s.*WHERE build_leases.expires_at <=`).
		WithArgs(owner, "h1", now.Add(time.Minute), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := repo.TryAcquire(context.Background(), owner, "h1", now, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec(`INSERT INTO build_leases`).WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = repo.TryAcquire(context.Background(), owner, "h2", now, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectExec(`UPDATE build_leases SET expires_at = \$1 WHERE owner_id = \$2 AND holder = \$3`).
		WithArgs(now.Add(2*time.Minute), owner, "h1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err = repo.Extend(context.Background(), owner, "h1", now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec(`DELETE FROM build_leases WHERE owner_id = \$1 AND holder = \$2`).
		WithArgs(owner, "h1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Release(context.Background(), owner, "h1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_ClaimNext_Empty(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`(?s)UPDATE jobs\s+SET status = 'processing'.*FOR UPDATE SKIP LOCKED`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	job, err := NewJobRepository(db).ClaimNext(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestJobRepository_UpdateProgressIsMonotonic(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`UPDATE "jobs" SET .*"processed_files"=GREATEST\(processed_files, \$\d\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := NewJobRepository(db).UpdateProgress(context.Background(), uuid.New(), 20, time.Now())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_FailStalled(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`UPDATE "jobs" SET .* WHERE status = \$\d+ AND heartbeat_at < \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := NewJobRepository(db).FailStalled(context.Background(), time.Now(), time.Now(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestJobRepository_CompleteRequiresProcessing(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`UPDATE "jobs" SET`).WillReturnResult(sqlmock.NewResult(0, 0))

	now := time.Now()
	err := NewJobRepository(db).Complete(context.Background(), &models.Job{ID: uuid.New(), CompletedAt: &now, ExpiresAt: &now})
	assert.ErrorIs(t, err, apperr.Invalid)
}
