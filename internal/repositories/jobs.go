package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rohits-web03/clientvault/internal/apperr"
	"github.com/rohits-web03/clientvault/internal/models"
)

// StalledMessage is recorded on jobs reclaimed by the stall reaper.
const StalledMessage = "worker stalled"

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return apperr.Wrap(apperr.KindInternal, "jobs.create", err)
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "jobs.get", "Job not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "jobs.get", err)
	}
	return &job, nil
}

const claimJobSQL = `
UPDATE jobs
SET status = 'processing', started_at = ?, heartbeat_at = ?
WHERE id = (
	SELECT id FROM jobs
	WHERE status = 'queued'
	ORDER BY created_at
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING *`

// ClaimNext moves the oldest queued job to processing and returns it. It
// returns nil when the queue is empty. Concurrent claimers never receive
// the same job.
func (r *JobRepository) ClaimNext(ctx context.Context, now time.Time) (*models.Job, error) {
	var jobs []models.Job
	res := r.db.WithContext(ctx).Raw(claimJobSQL, now, now).Scan(&jobs)
	if res.Error != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "jobs.claim", res.Error)
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}

// UpdateProgress records progress and a heartbeat. The processed count
// never decreases.
func (r *JobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, processed int, now time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", id, models.JobProcessing).
		Updates(map[string]any{
			"processed_files": gorm.Expr("GREATEST(processed_files, ?)", processed),
			"heartbeat_at":    now,
		}).Error
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "jobs.progress", err)
	}
	return nil
}

// Complete finishes a processing job.
func (r *JobRepository) Complete(ctx context.Context, job *models.Job) error {
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", job.ID, models.JobProcessing).
		Updates(map[string]any{
			"status":          models.JobCompleted,
			"processed_files": gorm.Expr("GREATEST(processed_files, ?)", job.ProcessedFiles),
			"skipped_files":   job.SkippedFiles,
			"output_key":      job.OutputKey,
			"output_size":     job.OutputSize,
			"completed_at":    job.CompletedAt,
			"heartbeat_at":    job.CompletedAt,
			"expires_at":      job.ExpiresAt,
		})
	if res.Error != nil {
		return apperr.Wrap(apperr.KindInternal, "jobs.complete", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.KindInvalid, "jobs.complete", "job is no longer processing")
	}
	return nil
}

// Fail moves a non-terminal job to failed.
func (r *JobRepository) Fail(ctx context.Context, id uuid.UUID, kind apperr.Kind, message string, now, expires time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status IN ?", id, []models.JobStatus{models.JobQueued, models.JobProcessing}).
		Updates(map[string]any{
			"status":       models.JobFailed,
			"error_kind":   string(kind),
			"error":        message,
			"completed_at": now,
			"expires_at":   expires,
		}).Error
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "jobs.fail", err)
	}
	return nil
}

// FailStalled fails processing jobs whose last heartbeat is before cutoff
// and returns how many were reclassified.
func (r *JobRepository) FailStalled(ctx context.Context, cutoff, now, expires time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("status = ? AND heartbeat_at < ?", models.JobProcessing, cutoff).
		Updates(map[string]any{
			"status":       models.JobFailed,
			"error_kind":   string(apperr.KindTimeout),
			"error":        StalledMessage,
			"completed_at": now,
			"expires_at":   expires,
		})
	if res.Error != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "jobs.reap", res.Error)
	}
	return res.RowsAffected, nil
}
