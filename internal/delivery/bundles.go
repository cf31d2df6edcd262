package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/rohits-web03/clientvault/internal/apperr"
	"github.com/rohits-web03/clientvault/internal/archive"
	"github.com/rohits-web03/clientvault/internal/config"
	"github.com/rohits-web03/clientvault/internal/logging"
	"github.com/rohits-web03/clientvault/internal/models"
)

type BuildOptions struct {
	Force bool
	// Fast stores entries uncompressed and, unless MaxFileBytes is set,
	// leaves out files above the fast ceiling.
	Fast         bool
	MaxFileBytes int64
	OnProgress   func(processed, total int)
}

type BundleResult struct {
	Bundle    *models.Bundle
	Cached    bool
	Skipped   []archive.Skipped
	Excluded  []models.Blob
	Reference *Reference // set instead of Bundle for oversized data sets
}

type BundleStatus struct {
	Exists  bool           `json:"exists"`
	Fresh   bool           `json:"fresh"`
	Expired bool           `json:"expired"`
	Bundle  *models.Bundle `json:"bundle,omitempty"`
}

// bundleMetadata is stored next to each bundle archive.
type bundleMetadata struct {
	OwnerID     uuid.UUID         `json:"ownerId"`
	BuiltAt     time.Time         `json:"builtAt"`
	Compression int               `json:"compression"`
	Checksum    string            `json:"checksum"`
	Files       []ManifestEntry   `json:"files"`
	Skipped     []archive.Skipped `json:"skipped,omitempty"`
	Excluded    []ManifestEntry   `json:"excluded,omitempty"`
}

// BundleCache keeps one current whole-owner archive per owner and rebuilds
// it when it is missing, stale or a rebuild is forced.
type BundleCache struct {
	catalog *CatalogReader
	bundles BundleStore
	store   ObjectStore
	builder *archive.Builder
	locker  Locker
	cfg     config.DeliveryConfig
	log     logging.Logger
	now     func() time.Time
	tempDir string
}

func NewBundleCache(catalog *CatalogReader, bundles BundleStore, store ObjectStore, locker Locker, cfg config.DeliveryConfig, log logging.Logger) *BundleCache {
	return &BundleCache{
		catalog: catalog,
		bundles: bundles,
		store:   store,
		builder: archive.NewBuilder(store),
		locker:  locker,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// GetOrBuild returns the cached bundle while it is fresh, otherwise builds
// a new one under the owner's build lease.
func (c *BundleCache) GetOrBuild(ctx context.Context, ownerID uuid.UUID, opts BuildOptions) (*BundleResult, error) {
	if !opts.Force {
		b, err := c.current(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		if b != nil && b.Fresh(c.now(), c.cfg.FreshnessWindow) {
			return &BundleResult{Bundle: b, Cached: true}, nil
		}
	}

	release, err := c.locker.Acquire(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer release()

	// another holder may have finished a build while we waited
	prev, err := c.current(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if !opts.Force && prev != nil && prev.Fresh(c.now(), c.cfg.FreshnessWindow) {
		return &BundleResult{Bundle: prev, Cached: true}, nil
	}
	return c.build(ctx, ownerID, prev, opts)
}

func (c *BundleCache) current(ctx context.Context, ownerID uuid.UUID) (*models.Bundle, error) {
	b, err := c.bundles.Get(ctx, ownerID)
	if errors.Is(err, apperr.NotFound) {
		return nil, nil
	}
	return b, err
}

func (c *BundleCache) build(ctx context.Context, ownerID uuid.UUID, prev *models.Bundle, opts BuildOptions) (*BundleResult, error) {
	files, err := c.catalog.Eligible(ctx, ownerID, "")
	if err != nil {
		return nil, err
	}

	plan, level := c.plan(files, opts)
	if len(plan.Included) == 0 {
		return nil, apperr.New(apperr.KindEmptyResult, "bundles.build",
			fmt.Sprintf("Every file is larger than %s", humanize.Bytes(uint64(plan.Ceiling))))
	}
	if plan.ExceedsReferenceThreshold(c.cfg.ReferenceThreshold) {
		return &BundleResult{Reference: newReference(ownerID, plan.Included), Excluded: plan.Excluded}, nil
	}

	builtAt := c.now()
	sp, res, err := buildSpool(ctx, c.builder, c.tempDir, archiveEntries(plan.Included), archive.Options{
		Level:       level,
		Concurrency: c.cfg.FetchConcurrency,
		Modified:    builtAt,
		OnProgress:  opts.OnProgress,
	})
	if err != nil {
		if archive.IsEmpty(err) {
			c.log.Warn(ctx, "bundle build produced no entries", "owner", ownerID, "skipped", len(res.Skipped))
		}
		return nil, err
	}
	defer sp.Close()

	buildID := uuid.New()
	archiveKey := fmt.Sprintf("bundles/%s/%s.zip", ownerID, buildID)
	metaKey := fmt.Sprintf("bundles/%s/%s.json", ownerID, buildID)

	if _, err := c.store.Put(ctx, sp.f, sp.size, archiveKey, "application/zip"); err != nil {
		return nil, err
	}

	meta, err := json.Marshal(bundleMetadata{
		OwnerID:     ownerID,
		BuiltAt:     builtAt,
		Compression: level,
		Checksum:    sp.checksum,
		Files:       writtenEntries(plan.Included, res.Written),
		Skipped:     res.Skipped,
		Excluded:    manifestEntries(plan.Excluded),
	})
	if err != nil {
		c.discard(ctx, archiveKey)
		return nil, apperr.Wrap(apperr.KindInternal, "bundles.metadata", err)
	}
	if _, err := c.store.Put(ctx, bytes.NewReader(meta), int64(len(meta)), metaKey, "application/json"); err != nil {
		c.discard(ctx, archiveKey)
		return nil, err
	}

	record := &models.Bundle{
		OwnerID:       ownerID,
		ArchiveKey:    archiveKey,
		MetadataKey:   metaKey,
		FileCount:     res.Processed(),
		ByteSize:      sp.size,
		OriginalBytes: res.OriginalBytes,
		SkippedCount:  len(res.Skipped),
		Checksum:      sp.checksum,
		Compression:   level,
		BuiltAt:       builtAt,
		ExpiresAt:     builtAt.Add(c.cfg.BundleRetention),
	}
	if err := c.bundles.Upsert(ctx, record); err != nil {
		c.discard(ctx, archiveKey, metaKey)
		return nil, err
	}
	if prev != nil {
		c.discard(ctx, prev.ArchiveKey, prev.MetadataKey)
	}

	c.log.Info(ctx, "bundle built",
		"owner", ownerID,
		"files", record.FileCount,
		"skipped", record.SkippedCount,
		"excluded", len(plan.Excluded),
		"size", humanize.Bytes(uint64(record.ByteSize)),
	)
	return &BundleResult{Bundle: record, Skipped: res.Skipped, Excluded: plan.Excluded}, nil
}

// plan applies the build options to the owner's files and returns the
// partition together with the compression level to use.
func (c *BundleCache) plan(files []models.Blob, opts BuildOptions) (archive.Plan, int) {
	level := c.cfg.BundleCompression
	ceiling := opts.MaxFileBytes
	if opts.Fast {
		level = archive.Store
		if ceiling == 0 {
			ceiling = c.cfg.FastMaxFileBytes
		}
	}
	return archive.Partition(files, max(len(files), 1), ceiling), level
}

// discard deletes objects that are no longer referenced. Failures only
// leave garbage behind, so they are logged.
func (c *BundleCache) discard(ctx context.Context, keys ...string) {
	for _, k := range keys {
		if k == "" {
			continue
		}
		if err := c.store.Delete(context.WithoutCancel(ctx), k); err != nil {
			c.log.Warn(ctx, "failed to delete superseded object", "key", k, "error", err)
		}
	}
}

// Get returns the owner's current bundle. A bundle past its retention is
// Expired even if the archive object still exists.
func (c *BundleCache) Get(ctx context.Context, ownerID uuid.UUID) (*models.Bundle, error) {
	b, err := c.bundles.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if b.Expired(c.now()) {
		return nil, apperr.New(apperr.KindExpired, "bundles.get", "The bundle has expired, request a rebuild")
	}
	return b, nil
}

func (c *BundleCache) Status(ctx context.Context, ownerID uuid.UUID) (BundleStatus, error) {
	b, err := c.current(ctx, ownerID)
	if err != nil || b == nil {
		return BundleStatus{}, err
	}
	now := c.now()
	return BundleStatus{
		Exists:  true,
		Fresh:   b.Fresh(now, c.cfg.FreshnessWindow),
		Expired: b.Expired(now),
		Bundle:  b,
	}, nil
}

func newReference(ownerID uuid.UUID, files []models.Blob) *Reference {
	total := totalBytes(files)
	return &Reference{
		Strategy: StrategySequential,
		Hint: fmt.Sprintf("%s across %d files is too large for a single archive, download the files one at a time",
			humanize.Bytes(uint64(total)), len(files)),
		Manifest: Manifest{
			OwnerID:    ownerID,
			Files:      manifestEntries(files),
			TotalFiles: len(files),
			TotalBytes: total,
		},
	}
}

// writtenEntries maps the archived entries back to their catalog rows.
func writtenEntries(included []models.Blob, written []archive.Entry) []ManifestEntry {
	byKey := make(map[string]models.Blob, len(included))
	for _, b := range included {
		byKey[b.StorageKey] = b
	}
	out := make([]ManifestEntry, 0, len(written))
	for _, e := range written {
		if b, ok := byKey[e.Key]; ok {
			out = append(out, manifestEntry(b))
		}
	}
	return out
}
