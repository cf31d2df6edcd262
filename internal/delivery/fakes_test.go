package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/rohits-web03/clientvault/internal/apperr"
	"github.com/rohits-web03/clientvault/internal/config"
	"github.com/rohits-web03/clientvault/internal/logging"
	"github.com/rohits-web03/clientvault/internal/models"
	"github.com/rohits-web03/clientvault/internal/repositories"
)

type fakeBlobs struct {
	mu    sync.Mutex
	blobs []models.Blob
}

func (f *fakeBlobs) add(b models.Blob) models.Blob {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.StorageKey == "" {
		b.StorageKey = "owners/" + b.OwnerID.String() + "/" + b.ID.String()
	}
	f.blobs = append(f.blobs, b)
	return b
}

func (f *fakeBlobs) ListEligible(_ context.Context, ownerID uuid.UUID, folder string) ([]models.Blob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Blob
	for _, b := range f.blobs {
		if b.OwnerID == ownerID && b.Eligible() && (folder == "" || b.FolderPath == folder) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeBlobs) GetByIDs(_ context.Context, ids []uuid.UUID) ([]models.Blob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := map[uuid.UUID]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []models.Blob
	for _, b := range f.blobs {
		if want[b.ID] {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeBlobs) GetByID(_ context.Context, id uuid.UUID) (*models.Blob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.blobs {
		if b.ID == id {
			return &b, nil
		}
	}
	return nil, apperr.New(apperr.KindNotFound, "fake.get", "File not found")
}

type fakeBundles struct {
	mu      sync.Mutex
	records map[uuid.UUID]models.Bundle
	upserts int
}

func newFakeBundles() *fakeBundles {
	return &fakeBundles{records: map[uuid.UUID]models.Bundle{}}
}

func (f *fakeBundles) Get(_ context.Context, ownerID uuid.UUID) (*models.Bundle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.records[ownerID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "fake.bundles", "No bundle has been built")
	}
	return &b, nil
}

func (f *fakeBundles) Upsert(_ context.Context, b *models.Bundle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[b.OwnerID] = *b
	f.upserts++
	return nil
}

type progressCall struct {
	id        uuid.UUID
	processed int
}

type fakeJobs struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*models.Job
	progress []progressCall
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: map[uuid.UUID]*models.Job{}}
}

func (f *fakeJobs) Create(_ context.Context, job *models.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *job
	f.jobs[job.ID] = &cp
	return nil
}

func (f *fakeJobs) Get(_ context.Context, id uuid.UUID) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "fake.jobs", "Job not found")
	}
	cp := *j
	return &cp, nil
}

func (f *fakeJobs) ClaimNext(_ context.Context, now time.Time) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var queued []*models.Job
	for _, j := range f.jobs {
		if j.Status == models.JobQueued {
			queued = append(queued, j)
		}
	}
	if len(queued) == 0 {
		return nil, nil
	}
	sort.Slice(queued, func(a, b int) bool { return queued[a].CreatedAt.Before(queued[b].CreatedAt) })
	j := queued[0]
	j.Status = models.JobProcessing
	j.StartedAt = &now
	j.HeartbeatAt = &now
	cp := *j
	return &cp, nil
}

func (f *fakeJobs) UpdateProgress(_ context.Context, id uuid.UUID, processed int, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	if j == nil || j.Status != models.JobProcessing {
		return nil
	}
	j.ProcessedFiles = max(j.ProcessedFiles, processed)
	j.HeartbeatAt = &now
	f.progress = append(f.progress, progressCall{id: id, processed: processed})
	return nil
}

func (f *fakeJobs) Complete(_ context.Context, job *models.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[job.ID]
	if j == nil || j.Status != models.JobProcessing {
		return apperr.New(apperr.KindInvalid, "fake.jobs", "job is no longer processing")
	}
	j.Status = models.JobCompleted
	j.ProcessedFiles = max(j.ProcessedFiles, job.ProcessedFiles)
	j.SkippedFiles = job.SkippedFiles
	j.OutputKey = job.OutputKey
	j.OutputSize = job.OutputSize
	j.CompletedAt = job.CompletedAt
	j.ExpiresAt = job.ExpiresAt
	return nil
}

func (f *fakeJobs) Fail(_ context.Context, id uuid.UUID, kind apperr.Kind, message string, now, expires time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	if j == nil || j.Status.Terminal() {
		return nil
	}
	j.Status = models.JobFailed
	j.ErrorKind = string(kind)
	j.Error = message
	j.CompletedAt = &now
	j.ExpiresAt = &expires
	return nil
}

func (f *fakeJobs) FailStalled(_ context.Context, cutoff, now, expires time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, j := range f.jobs {
		if j.Status == models.JobProcessing && j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			j.Status = models.JobFailed
			j.ErrorKind = string(apperr.KindTimeout)
			j.Error = repositories.StalledMessage
			j.CompletedAt = &now
			j.ExpiresAt = &expires
			n++
		}
	}
	return n, nil
}

func (f *fakeJobs) status(id uuid.UUID) models.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.jobs[id]
}

type fakeObject struct {
	data     []byte
	modified time.Time
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	errs    map[string]error
	block   chan struct{} // when set, every Get waits on it
	delay   time.Duration
	puts    []string
	deleted []string
	now     func() time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string]fakeObject{}, errs: map[string]error{}, now: time.Now}
}

func (f *fakeStore) seed(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = fakeObject{data: data, modified: f.now()}
}

func (f *fakeStore) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	block, delay := f.block, f.delay
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	obj, ok := f.objects[key]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "fake.get", "object "+key+" not found")
	}
	return obj.data, nil
}

func (f *fakeStore) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	data, err := f.Get(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (f *fakeStore) Put(_ context.Context, body io.ReadSeeker, _ int64, key, _ string) (string, error) {
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = fakeObject{data: data, modified: f.now()}
	f.puts = append(f.puts, key)
	return "https://r2.example.com/media/" + key, nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeStore) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeStore) List(_ context.Context, prefix string) ([]repositories.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repositories.ObjectInfo
	for k, o := range f.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, repositories.ObjectInfo{Key: k, Size: int64(len(o.data)), LastModified: o.modified})
		}
	}
	return out, nil
}

func (f *fakeStore) PresignGet(_ context.Context, key, filename string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://signed.example/%s?name=%s&ttl=%d", key, filename, int(ttl.Seconds())), nil
}

func (f *fakeStore) putsWithPrefix(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, k := range f.puts {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

func testConfig() config.DeliveryConfig {
	return config.DeliveryConfig{
		FreshnessWindow:    24 * time.Hour,
		BundleRetention:    7 * 24 * time.Hour,
		EphemeralRetention: 10 * time.Minute,
		JobRetention:       24 * time.Hour,
		DefaultURLTTL:      time.Hour,
		LargeFileURLTTL:    time.Hour,
		FetchTimeout:       time.Second,
		FetchConcurrency:   4,
		LargeFileThreshold: 100 * humanize.MByte,
		ReferenceThreshold: 10 * humanize.GByte,
		InlineMaxFiles:     200,
		InlineMaxBytes:     2 * humanize.GByte,
		BatchSize:          50,
		BatchMaxFileBytes:  500 * humanize.MByte,
		FastMaxFileBytes:   20 * humanize.MByte,
		BundleCompression:  6,
		BatchCompression:   1,
		JobWorkers:         1,
		JobProgressEvery:   10,
		JobStallTimeout:    15 * time.Minute,
		PollInterval:       2 * time.Second,
		LeaseBackend:       "memory",
		LeaseTTL:           2 * time.Minute,
		JanitorInterval:    time.Minute,
	}
}

// harness wires the delivery services over fakes with a settable clock.
type harness struct {
	owner   uuid.UUID
	blobs   *fakeBlobs
	bundles *fakeBundles
	jobs    *fakeJobs
	store   *fakeStore
	catalog *CatalogReader
	cache   *BundleCache
	tracker *JobTracker
	gateway *Gateway

	mu    sync.Mutex
	clock time.Time
}

func newHarness(t *testing.T, mutate ...func(*config.DeliveryConfig)) *harness {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	h := &harness{
		owner:   uuid.New(),
		blobs:   &fakeBlobs{},
		bundles: newFakeBundles(),
		jobs:    newFakeJobs(),
		store:   newFakeStore(),
		clock:   time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	h.store.now = h.now
	log := logging.Nop()
	dir := t.TempDir()

	h.catalog = NewCatalogReader(h.blobs)
	h.cache = NewBundleCache(h.catalog, h.bundles, h.store, NewMemoryLocker(cfg.LeaseWait), cfg, log)
	h.cache.now, h.cache.tempDir = h.now, dir
	h.tracker = NewJobTracker(h.jobs, h.catalog, h.cache, h.store, cfg, log)
	h.tracker.now, h.tracker.tempDir = h.now, dir
	h.gateway = NewGateway(h.catalog, h.cache, h.tracker, h.store, cfg, log)
	h.gateway.now, h.gateway.tempDir = h.now, dir
	return h
}

func (h *harness) now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clock
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clock = h.clock.Add(d)
}

// file adds a blob to the catalog and, unless missing, its bytes to the
// store. size is the catalog size; the stored body is small.
func (h *harness) file(folder, name string, size int64) models.Blob {
	b := h.blobs.add(models.Blob{OwnerID: h.owner, FolderPath: folder, DisplayName: name, Size: size})
	h.store.seed(b.StorageKey, []byte("body of "+name))
	return b
}

func (h *harness) missingFile(name string) models.Blob {
	return h.blobs.add(models.Blob{OwnerID: h.owner, DisplayName: name, Size: 10})
}

func (h *harness) files(n int) []models.Blob {
	out := make([]models.Blob, n)
	for i := range out {
		out[i] = h.file("", fmt.Sprintf("f%03d.jpg", i), 1024)
	}
	return out
}
