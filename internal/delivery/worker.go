package delivery

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rohits-web03/clientvault/internal/apperr"
	"github.com/rohits-web03/clientvault/internal/archive"
	"github.com/rohits-web03/clientvault/internal/logging"
	"github.com/rohits-web03/clientvault/internal/models"
)

// Run starts the workers and the stall reaper and blocks until ctx is done.
func (t *JobTracker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := range max(t.cfg.JobWorkers, 1) {
		log := t.log.With("worker", i)
		g.Go(func() error { return t.work(ctx, log) })
	}
	g.Go(func() error { return t.reap(ctx) })
	return g.Wait()
}

func (t *JobTracker) work(ctx context.Context, log logging.Logger) error {
	idle := time.NewTicker(t.pollEvery())
	defer idle.Stop()
	for {
		job, err := t.jobs.ClaimNext(ctx, t.now())
		if err != nil && ctx.Err() == nil {
			log.Error(ctx, "failed to claim job", "error", err)
		}
		if job != nil {
			t.process(ctx, log, job)
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.wake:
		case <-idle.C:
		}
	}
}

func (t *JobTracker) pollEvery() time.Duration {
	if t.cfg.PollInterval > 0 {
		return t.cfg.PollInterval
	}
	return 2 * time.Second
}

// process runs one claimed job to a terminal state.
func (t *JobTracker) process(ctx context.Context, log logging.Logger, job *models.Job) {
	log = log.With("job", job.ID, "owner", job.OwnerID, "kind", job.Kind)
	log.Info(ctx, "job started", "files", job.TotalFiles)

	var processed atomic.Int64
	stopBeat := t.heartbeat(ctx, job.ID, &processed)
	defer stopBeat()

	every := max(t.cfg.JobProgressEvery, 1)
	onProgress := func(n, total int) {
		processed.Store(int64(n))
		if n%every == 0 || n == total {
			if err := t.jobs.UpdateProgress(ctx, job.ID, n, t.now()); err != nil {
				log.Warn(ctx, "failed to record progress", "error", err)
			}
		}
	}

	var err error
	switch job.Kind {
	case models.JobSelection:
		err = t.runSelection(ctx, job, onProgress)
	case models.JobBundle:
		err = t.runBundle(ctx, job, onProgress)
	default:
		err = apperr.New(apperr.KindInvalid, "jobs.process", fmt.Sprintf("unknown job kind %q", job.Kind))
	}

	now := t.now()
	expires := now.Add(t.cfg.JobRetention)
	if err == nil {
		job.Status = models.JobCompleted
		job.CompletedAt = &now
		job.ExpiresAt = &expires
		err = t.jobs.Complete(ctx, job)
		if err == nil {
			log.Info(ctx, "job completed", "processed", job.ProcessedFiles, "skipped", job.SkippedFiles)
			return
		}
	}

	// record the failure even when shutdown cancelled the build
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if ferr := t.jobs.Fail(fctx, job.ID, apperr.KindOf(err), apperr.MessageOf(err), now, expires); ferr != nil {
		log.Error(ctx, "failed to record job failure", "error", ferr)
	}
	log.Warn(ctx, "job failed", "error", err)
}

func (t *JobTracker) runSelection(ctx context.Context, job *models.Job, onProgress func(int, int)) error {
	blobs, err := t.catalog.Lookup(ctx, job.OwnerID, job.FileIDs)
	if err != nil {
		return err
	}
	sp, res, err := buildSpool(ctx, t.builder, t.tempDir, archiveEntries(blobs), archive.Options{
		Level:       t.cfg.BatchCompression,
		Concurrency: t.cfg.FetchConcurrency,
		OnProgress:  onProgress,
	})
	if err != nil {
		return err
	}
	defer sp.Close()

	key := fmt.Sprintf("jobs/%s/%s.zip", job.OwnerID, job.ID)
	if _, err := t.store.Put(ctx, sp.f, sp.size, key, "application/zip"); err != nil {
		return err
	}
	job.OutputKey = key
	job.OutputSize = sp.size
	job.ProcessedFiles = res.Processed()
	job.SkippedFiles = len(res.Skipped)
	return nil
}

func (t *JobTracker) runBundle(ctx context.Context, job *models.Job, onProgress func(int, int)) error {
	// without Force, a bundle finished by an earlier job for the same owner
	// is found under the lease and reused
	opts := buildOptions(job.Options)
	opts.OnProgress = onProgress
	res, err := t.bundles.GetOrBuild(ctx, job.OwnerID, opts)
	if err != nil {
		return err
	}
	if res.Reference != nil {
		return apperr.New(apperr.KindInvalid, "jobs.bundle", res.Reference.Hint)
	}
	job.OutputKey = res.Bundle.ArchiveKey
	job.OutputSize = res.Bundle.ByteSize
	job.ProcessedFiles = res.Bundle.FileCount
	job.SkippedFiles = res.Bundle.SkippedCount
	return nil
}

// heartbeat refreshes the job's liveness while a single long fetch or
// upload produces no progress callbacks.
func (t *JobTracker) heartbeat(ctx context.Context, id uuid.UUID, processed *atomic.Int64) func() {
	every := t.cfg.JobStallTimeout / 3
	if every <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		tick := time.NewTicker(every)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				if err := t.jobs.UpdateProgress(ctx, id, int(processed.Load()), t.now()); err != nil && ctx.Err() == nil {
					t.log.Warn(ctx, "job heartbeat failed", "job", id, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Reap fails processing jobs whose heartbeat is older than the stall
// timeout.
func (t *JobTracker) Reap(ctx context.Context) (int64, error) {
	now := t.now()
	n, err := t.jobs.FailStalled(ctx, now.Add(-t.cfg.JobStallTimeout), now, now.Add(t.cfg.JobRetention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		t.log.Warn(ctx, "reaped stalled jobs", "count", n)
	}
	return n, nil
}

func (t *JobTracker) reap(ctx context.Context) error {
	if t.cfg.JobStallTimeout <= 0 {
		return nil
	}
	tick := time.NewTicker(max(t.cfg.JobStallTimeout/5, time.Second))
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			if _, err := t.Reap(ctx); err != nil && ctx.Err() == nil {
				t.log.Error(ctx, "stall reaper failed", "error", err)
			}
		}
	}
}
