package delivery

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/rohits-web03/clientvault/internal/apperr"
	"github.com/rohits-web03/clientvault/internal/archive"
	"github.com/rohits-web03/clientvault/internal/config"
	"github.com/rohits-web03/clientvault/internal/logging"
	"github.com/rohits-web03/clientvault/internal/models"
)

// FileDownload is a single file on its way to the caller: either a signed
// URL to redirect to, or an open stream.
type FileDownload struct {
	Blob  *models.Blob
	Grant *Grant
	Body  io.ReadCloser
	Size  int64
}

type BatchRequest struct {
	Number       int
	Size         int   // files per batch, 0 for the default
	MaxFileBytes int64 // per-file ceiling, 0 for the default
}

// Gateway chooses a delivery strategy for each request.
type Gateway struct {
	catalog *CatalogReader
	bundles *BundleCache
	jobs    *JobTracker
	store   ObjectStore
	builder *archive.Builder
	cfg     config.DeliveryConfig
	log     logging.Logger
	now     func() time.Time
	tempDir string
}

func NewGateway(catalog *CatalogReader, bundles *BundleCache, jobs *JobTracker, store ObjectStore, cfg config.DeliveryConfig, log logging.Logger) *Gateway {
	return &Gateway{
		catalog: catalog,
		bundles: bundles,
		jobs:    jobs,
		store:   store,
		builder: archive.NewBuilder(store),
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

func (g *Gateway) grant(ctx context.Context, key, filename string, ttl time.Duration) (*Grant, error) {
	url, err := g.store.PresignGet(ctx, key, filename, ttl)
	if err != nil {
		return nil, err
	}
	return &Grant{Key: key, URL: url, ExpiresAt: g.now().Add(ttl)}, nil
}

// DownloadFile serves one file. Files at or above the large-file threshold
// are handed off as a signed URL; smaller ones are streamed.
func (g *Gateway) DownloadFile(ctx context.Context, ownerID, fileID uuid.UUID) (*FileDownload, error) {
	blob, err := g.catalog.File(ctx, ownerID, fileID)
	if err != nil {
		return nil, err
	}
	if blob.Size >= g.cfg.LargeFileThreshold {
		gr, err := g.grant(ctx, blob.StorageKey, blob.DisplayName, g.cfg.LargeFileURLTTL)
		if err != nil {
			return nil, err
		}
		return &FileDownload{Blob: blob, Grant: gr}, nil
	}

	body, size, err := g.store.Open(ctx, blob.StorageKey)
	if err != nil {
		return nil, err
	}
	if size != blob.Size {
		g.log.Warn(ctx, "stored size differs from catalog",
			"file", blob.ID, "catalog", blob.Size, "stored", size)
	}
	return &FileDownload{Blob: blob, Body: body, Size: size}, nil
}

// BuildSelected delivers an explicit selection. One file is a signed URL,
// a small selection an ephemeral archive, anything above the inline
// ceilings an async job.
func (g *Gateway) BuildSelected(ctx context.Context, ownerID uuid.UUID, ids []uuid.UUID) (*Delivery, error) {
	if len(ids) == 0 {
		return nil, apperr.New(apperr.KindInvalid, "gateway.selection", "No files selected")
	}
	blobs, err := g.catalog.Lookup(ctx, ownerID, ids)
	if err != nil {
		return nil, err
	}

	if len(blobs) == 1 {
		b := blobs[0]
		gr, err := g.grant(ctx, b.StorageKey, b.DisplayName, g.cfg.DefaultURLTTL)
		if err != nil {
			return nil, err
		}
		return &Delivery{Mode: ModeRedirect, Grant: gr, FileCount: 1, ByteSize: b.Size}, nil
	}

	size := totalBytes(blobs)
	if !g.inline(len(blobs), size) {
		return g.queue(ctx, ownerID, models.JobSelection, blobIDs(blobs))
	}

	sp, res, err := buildSpool(ctx, g.builder, g.tempDir, archiveEntries(blobs), archive.Options{
		Level:       archive.Store,
		Concurrency: g.cfg.FetchConcurrency,
	})
	if err != nil {
		return nil, err
	}
	defer sp.Close()

	key := fmt.Sprintf("ephemeral/%s/%s.zip", ownerID, uuid.New())
	if _, err := g.store.Put(ctx, sp.f, sp.size, key, "application/zip"); err != nil {
		return nil, err
	}
	gr, err := g.grant(ctx, key, "selection.zip", g.cfg.EphemeralRetention)
	if err != nil {
		return nil, err
	}
	return &Delivery{
		Mode:      ModeArchive,
		Grant:     gr,
		FileCount: res.Processed(),
		ByteSize:  sp.size,
		Skipped:   res.Skipped,
	}, nil
}

// BuildBundle returns the owner's whole-account archive, building it inline
// when small enough and queuing a bundle job otherwise.
func (g *Gateway) BuildBundle(ctx context.Context, ownerID uuid.UUID, opts BuildOptions) (*Delivery, error) {
	if !opts.Force {
		if b, err := g.bundles.current(ctx, ownerID); err != nil {
			return nil, err
		} else if b != nil && b.Fresh(g.now(), g.cfg.FreshnessWindow) {
			return g.bundleDelivery(ctx, &BundleResult{Bundle: b, Cached: true})
		}
	}

	files, err := g.catalog.Eligible(ctx, ownerID, "")
	if err != nil {
		return nil, err
	}
	plan, _ := g.bundles.plan(files, opts)
	if plan.ExceedsReferenceThreshold(g.cfg.ReferenceThreshold) {
		return g.bundleDelivery(ctx, &BundleResult{
			Reference: newReference(ownerID, plan.Included),
			Excluded:  plan.Excluded,
		})
	}
	if len(plan.Included) > 0 && !g.inline(len(plan.Included), plan.IncludedBytes()) {
		v, err := g.jobs.CreateBundle(ctx, ownerID, opts)
		if err != nil {
			return nil, err
		}
		return &Delivery{Mode: ModeJob, FileCount: v.TotalFiles, Excluded: manifestEntries(plan.Excluded), Job: v}, nil
	}

	res, err := g.bundles.GetOrBuild(ctx, ownerID, opts)
	if err != nil {
		return nil, err
	}
	return g.bundleDelivery(ctx, res)
}

// DownloadAll is BuildBundle with default options.
func (g *Gateway) DownloadAll(ctx context.Context, ownerID uuid.UUID) (*Delivery, error) {
	return g.BuildBundle(ctx, ownerID, BuildOptions{})
}

func (g *Gateway) bundleDelivery(ctx context.Context, res *BundleResult) (*Delivery, error) {
	if res.Reference != nil {
		return &Delivery{
			Mode:      ModeManifest,
			FileCount: res.Reference.Manifest.TotalFiles,
			ByteSize:  res.Reference.Manifest.TotalBytes,
			Excluded:  manifestEntries(res.Excluded),
			Reference: res.Reference,
		}, nil
	}
	gr, err := g.bundleGrant(ctx, res.Bundle)
	if err != nil {
		return nil, err
	}
	return &Delivery{
		Mode:      ModeArchive,
		Grant:     gr,
		FileCount: res.Bundle.FileCount,
		ByteSize:  res.Bundle.ByteSize,
		Cached:    res.Cached,
		Skipped:   res.Skipped,
		Excluded:  manifestEntries(res.Excluded),
	}, nil
}

func (g *Gateway) bundleGrant(ctx context.Context, b *models.Bundle) (*Grant, error) {
	filename := fmt.Sprintf("files-%s.zip", b.BuiltAt.UTC().Format("2006-01-02"))
	return g.grant(ctx, b.ArchiveKey, filename, g.cfg.DefaultURLTTL)
}

// BundleURL signs the current bundle without building. A missing bundle is
// NotFound and one past retention is Expired.
func (g *Gateway) BundleURL(ctx context.Context, ownerID uuid.UUID) (*Grant, error) {
	b, err := g.bundles.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return g.bundleGrant(ctx, b)
}

func (g *Gateway) BundleStatus(ctx context.Context, ownerID uuid.UUID) (BundleStatus, error) {
	return g.bundles.Status(ctx, ownerID)
}

// BuildBatch builds batch number req.Number of the owner's files. Batch
// objects are keyed by the plan fingerprint, so retrying a batch over an
// unchanged catalog reuses the stored archive. A batch above the inline
// ceilings is queued as a selection job instead.
func (g *Gateway) BuildBatch(ctx context.Context, ownerID uuid.UUID, req BatchRequest) (*Delivery, error) {
	size := req.Size
	if size <= 0 {
		size = g.cfg.BatchSize
	}
	ceiling := req.MaxFileBytes
	if ceiling <= 0 {
		ceiling = g.cfg.BatchMaxFileBytes
	}

	files, err := g.catalog.Eligible(ctx, ownerID, "")
	if err != nil {
		return nil, err
	}
	plan := archive.Partition(files, size, ceiling)
	total := plan.TotalBatches()
	if total == 0 {
		return nil, apperr.New(apperr.KindEmptyResult, "gateway.batch",
			fmt.Sprintf("Every file is larger than %s", humanize.Bytes(uint64(ceiling))))
	}
	if req.Number < 1 || req.Number > total {
		return nil, apperr.New(apperr.KindInvalid, "gateway.batch",
			fmt.Sprintf("Batch %d is out of range (1-%d)", req.Number, total))
	}

	batch := plan.Batch(req.Number)
	key := fmt.Sprintf("batches/%s/%s/batch-%d.zip", ownerID, plan.Fingerprint(), req.Number)
	filename := fmt.Sprintf("batch-%d-of-%d.zip", req.Number, total)
	d := &Delivery{
		Mode:     ModeArchive,
		Excluded: manifestEntries(plan.Excluded),
		Batch:    &BatchInfo{Number: req.Number, Total: total, Size: size},
	}

	exists, err := g.store.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if !exists && !g.inline(len(batch), totalBytes(batch)) {
		v, err := g.jobs.Create(ctx, ownerID, models.JobSelection, blobIDs(batch))
		if err != nil {
			return nil, err
		}
		d.Mode, d.Job, d.FileCount = ModeJob, v, v.TotalFiles
		return d, nil
	}
	if exists {
		d.Batch.Reused = true
		d.FileCount = len(batch)
		d.ByteSize = totalBytes(batch)
	} else {
		sp, res, err := buildSpool(ctx, g.builder, g.tempDir, archiveEntries(batch), archive.Options{
			Level:       g.cfg.BatchCompression,
			Concurrency: g.cfg.FetchConcurrency,
		})
		if err != nil {
			return nil, err
		}
		defer sp.Close()
		if _, err := g.store.Put(ctx, sp.f, sp.size, key, "application/zip"); err != nil {
			return nil, err
		}
		d.FileCount = res.Processed()
		d.ByteSize = sp.size
		d.Skipped = res.Skipped
	}

	d.Grant, err = g.grant(ctx, key, filename, g.cfg.DefaultURLTTL)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Manifest lists every deliverable file, for clients that download one
// file at a time.
func (g *Gateway) Manifest(ctx context.Context, ownerID uuid.UUID) (*Manifest, error) {
	files, err := g.catalog.Eligible(ctx, ownerID, "")
	if err != nil {
		return nil, err
	}
	return &Manifest{
		OwnerID:    ownerID,
		Files:      manifestEntries(files),
		TotalFiles: len(files),
		TotalBytes: totalBytes(files),
	}, nil
}

// CreateJob queues a selection build regardless of size.
func (g *Gateway) CreateJob(ctx context.Context, ownerID uuid.UUID, ids []uuid.UUID) (*JobView, error) {
	return g.jobs.Create(ctx, ownerID, models.JobSelection, ids)
}

func (g *Gateway) JobOwner(ctx context.Context, jobID uuid.UUID) (uuid.UUID, error) {
	return g.jobs.Owner(ctx, jobID)
}

func (g *Gateway) JobStatus(ctx context.Context, jobID uuid.UUID) (*JobView, error) {
	return g.jobs.Status(ctx, jobID)
}

// inline reports whether a build of n files and size bytes fits within a
// request.
func (g *Gateway) inline(n int, size int64) bool {
	return n <= g.cfg.InlineMaxFiles && size <= g.cfg.InlineMaxBytes
}

func (g *Gateway) queue(ctx context.Context, ownerID uuid.UUID, kind models.JobKind, ids []uuid.UUID) (*Delivery, error) {
	v, err := g.jobs.Create(ctx, ownerID, kind, ids)
	if err != nil {
		return nil, err
	}
	return &Delivery{Mode: ModeJob, FileCount: v.TotalFiles, Job: v}, nil
}
