package delivery

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/rohits-web03/clientvault/internal/apperr"
	"github.com/rohits-web03/clientvault/internal/archive"
	"github.com/rohits-web03/clientvault/internal/config"
	"github.com/rohits-web03/clientvault/internal/logging"
	"github.com/rohits-web03/clientvault/internal/models"
)

// JobView is a job as reported to callers.
type JobView struct {
	*models.Job
	Progress         int    `json:"progress"`
	Grant            *Grant `json:"grant,omitempty"`
	PollAfterSeconds int    `json:"pollAfterSeconds,omitempty"`
}

// JobTracker queues builds too large to run inside a request and runs them
// on a pool of workers.
type JobTracker struct {
	jobs    JobStore
	catalog *CatalogReader
	bundles *BundleCache
	store   ObjectStore
	builder *archive.Builder
	cfg     config.DeliveryConfig
	log     logging.Logger
	now     func() time.Time
	wake    chan struct{}
	tempDir string
}

func NewJobTracker(jobs JobStore, catalog *CatalogReader, bundles *BundleCache, store ObjectStore, cfg config.DeliveryConfig, log logging.Logger) *JobTracker {
	return &JobTracker{
		jobs:    jobs,
		catalog: catalog,
		bundles: bundles,
		store:   store,
		builder: archive.NewBuilder(store),
		cfg:     cfg,
		log:     log,
		now:     time.Now,
		wake:    make(chan struct{}, 1),
	}
}

// Create queues a job. Selection jobs are validated against the catalog
// up front so ownership errors surface immediately. Bundle jobs queued
// here use default build options.
func (t *JobTracker) Create(ctx context.Context, ownerID uuid.UUID, kind models.JobKind, fileIDs []uuid.UUID) (*JobView, error) {
	switch kind {
	case models.JobSelection:
		if len(fileIDs) == 0 {
			return nil, apperr.New(apperr.KindInvalid, "jobs.create", "No files selected")
		}
		blobs, err := t.catalog.Lookup(ctx, ownerID, fileIDs)
		if err != nil {
			return nil, err
		}
		job := t.newJob(ownerID, kind)
		job.FileIDs = blobIDs(blobs)
		job.TotalFiles = len(blobs)
		return t.enqueue(ctx, job)
	case models.JobBundle:
		return t.CreateBundle(ctx, ownerID, BuildOptions{})
	}
	return nil, apperr.New(apperr.KindInvalid, "jobs.create", fmt.Sprintf("unknown job kind %q", kind))
}

// CreateBundle queues a bundle build. The options are stored on the job so
// the worker builds exactly what the caller asked for.
func (t *JobTracker) CreateBundle(ctx context.Context, ownerID uuid.UUID, opts BuildOptions) (*JobView, error) {
	blobs, err := t.catalog.Eligible(ctx, ownerID, "")
	if err != nil {
		return nil, err
	}
	plan, _ := t.bundles.plan(blobs, opts)
	job := t.newJob(ownerID, models.JobBundle)
	job.Options = jobOptions(opts)
	job.TotalFiles = len(plan.Included)
	return t.enqueue(ctx, job)
}

func (t *JobTracker) newJob(ownerID uuid.UUID, kind models.JobKind) *models.Job {
	return &models.Job{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Kind:      kind,
		Status:    models.JobQueued,
		CreatedAt: t.now(),
	}
}

func (t *JobTracker) enqueue(ctx context.Context, job *models.Job) (*JobView, error) {
	if err := t.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	select {
	case t.wake <- struct{}{}:
	default:
	}
	t.log.Info(ctx, "job queued", "job", job.ID, "owner", job.OwnerID, "kind", job.Kind, "files", job.TotalFiles)
	return t.view(ctx, job)
}

// Status reports a job. A completed job carries a fresh signed URL for its
// output; a job past its retention is Expired.
func (t *JobTracker) Status(ctx context.Context, jobID uuid.UUID) (*JobView, error) {
	job, err := t.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Expired(t.now()) {
		return nil, apperr.New(apperr.KindExpired, "jobs.status", "This job's output has expired")
	}
	return t.view(ctx, job)
}

// Owner returns the owner of a job without signing anything, so callers
// can check access before reading its status.
func (t *JobTracker) Owner(ctx context.Context, jobID uuid.UUID) (uuid.UUID, error) {
	job, err := t.jobs.Get(ctx, jobID)
	if err != nil {
		return uuid.Nil, err
	}
	return job.OwnerID, nil
}

func (t *JobTracker) view(ctx context.Context, job *models.Job) (*JobView, error) {
	v := &JobView{Job: job, Progress: job.Progress()}
	if !job.Status.Terminal() {
		v.PollAfterSeconds = t.PollAfterSeconds()
	}
	if job.Status == models.JobCompleted && job.OutputKey != "" {
		ttl := t.cfg.DefaultURLTTL
		filename := fmt.Sprintf("download-%s.zip", job.ID.String()[:8])
		url, err := t.store.PresignGet(ctx, job.OutputKey, filename, ttl)
		if err != nil {
			return nil, err
		}
		v.Grant = &Grant{Key: job.OutputKey, URL: url, ExpiresAt: t.now().Add(ttl)}
	}
	return v, nil
}

// PollAfterSeconds is the minimum interval clients should wait between
// status polls.
func (t *JobTracker) PollAfterSeconds() int {
	return int(math.Ceil(t.cfg.PollInterval.Seconds()))
}

func jobOptions(o BuildOptions) models.JobOptions {
	return models.JobOptions{Force: o.Force, Fast: o.Fast, MaxFileBytes: o.MaxFileBytes}
}

func buildOptions(o models.JobOptions) BuildOptions {
	return BuildOptions{Force: o.Force, Fast: o.Fast, MaxFileBytes: o.MaxFileBytes}
}

func blobIDs(blobs []models.Blob) []uuid.UUID {
	ids := make([]uuid.UUID, len(blobs))
	for i, b := range blobs {
		ids[i] = b.ID
	}
	return ids
}
