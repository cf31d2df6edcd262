package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/rohits-web03/clientvault/internal/apperr"
	"github.com/rohits-web03/clientvault/internal/archive"
)

// ErrInsufficientMemory is returned by Create when the manifest would not
// fit in the memory limit.
var ErrInsufficientMemory = errors.New("client: not enough memory to build the archive locally")

// ErrAborted is returned by Create when Abort stopped the download. No
// archive is written.
var ErrAborted = errors.New("client: archive aborted")

type Phase string

const (
	PhaseDownloading Phase = "downloading"
	PhaseCreating    Phase = "creating"
	PhaseSaving      Phase = "saving"
	PhaseDone        Phase = "done"
)

// Every file is held in memory next to the archive being built from it.
const defaultOverhead = 2.0

type ArchiveResult struct {
	Path       string
	Files      int
	Size       int64
	Failed     []Failure
	NotStarted int
}

// Archiver downloads a manifest into memory and writes one zip to disk.
type Archiver struct {
	fetch       Fetcher
	MemoryLimit int64
	Overhead    float64
	Concurrency int
	OnPhase     func(Phase)
	OnProgress  func(Progress)

	aborted atomic.Bool
	now     func() time.Time
}

func NewArchiver(f Fetcher, memoryLimit int64) *Archiver {
	return &Archiver{
		fetch:       f,
		MemoryLimit: memoryLimit,
		Overhead:    defaultOverhead,
		Concurrency: 1,
		now:         time.Now,
	}
}

func (a *Archiver) Abort() {
	a.aborted.Store(true)
}

// CanHold reports whether the manifest fits in the memory limit once the
// overhead factor is applied.
func (a *Archiver) CanHold(m *Manifest) bool {
	return a.footprint(m) <= a.MemoryLimit
}

func (a *Archiver) footprint(m *Manifest) int64 {
	return int64(float64(m.Bytes()) * max(a.Overhead, 1))
}

func (a *Archiver) phase(p Phase) {
	if a.OnPhase != nil {
		a.OnPhase(p)
	}
}

// Create downloads every file, builds the archive, and saves it to
// destPath. Files that failed are listed in the result; they only fail the
// call when nothing downloaded.
func (a *Archiver) Create(ctx context.Context, m *Manifest, destPath string) (*ArchiveResult, error) {
	if !a.CanHold(m) {
		return nil, fmt.Errorf("%w: need about %s, limit %s", ErrInsufficientMemory,
			humanize.Bytes(uint64(a.footprint(m))), humanize.Bytes(uint64(a.MemoryLimit)))
	}

	a.phase(PhaseDownloading)
	blobs, failed, err := a.download(ctx, m)
	if err != nil {
		return nil, err
	}
	if a.aborted.Load() {
		return &ArchiveResult{
			Files:      len(blobs),
			Failed:     failed,
			NotStarted: len(m.Files) - len(blobs) - len(failed),
		}, ErrAborted
	}
	if len(blobs) == 0 {
		return &ArchiveResult{Failed: failed}, apperr.New(apperr.KindEmptyResult, "client.archive", "None of the files could be downloaded")
	}

	a.phase(PhaseCreating)
	entries := make([]archive.Entry, 0, len(blobs))
	for _, f := range m.Files {
		if _, ok := blobs[f.ID.String()]; ok {
			entries = append(entries, archive.Entry{Name: f.Name, Key: f.ID.String(), Size: f.Size})
		}
	}
	var buf bytes.Buffer
	res, err := archive.NewBuilder(memoryFetcher(blobs)).Build(ctx, &buf, entries, archive.Options{
		Level:    archive.Store,
		Modified: a.now(),
	})
	if err != nil {
		return nil, err
	}

	size := int64(buf.Len())
	a.phase(PhaseSaving)
	if err := saveFile(destPath, &buf); err != nil {
		return nil, fmt.Errorf("save archive: %w", err)
	}
	a.phase(PhaseDone)

	return &ArchiveResult{
		Path:   destPath,
		Files:  res.Processed(),
		Size:   size,
		Failed: failed,
	}, nil
}

func (a *Archiver) download(ctx context.Context, m *Manifest) (map[string][]byte, []Failure, error) {
	tr := newTracker(m, a.OnProgress, a.now)
	blobs := make(map[string][]byte, len(m.Files))
	var failed []Failure
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(max(a.Concurrency, 1))
	for _, f := range m.Files {
		if a.aborted.Load() || ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if a.aborted.Load() || ctx.Err() != nil {
				return nil
			}
			data, err := a.fetchOne(ctx, tr, f)
			tr.done(f, int64(len(data)), err)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, Failure{File: f, Err: err})
				return nil
			}
			blobs[f.ID.String()] = data
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].File.Name < failed[j].File.Name })
	return blobs, failed, nil
}

func (a *Archiver) fetchOne(ctx context.Context, tr *tracker, f File) ([]byte, error) {
	body, _, err := a.fetch.OpenFile(ctx, f.ID)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var buf bytes.Buffer
	if f.Size > 0 {
		buf.Grow(int(f.Size))
	}
	if _, err := io.Copy(io.MultiWriter(&buf, &countingWriter{t: tr, f: f}), body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// memoryFetcher serves downloaded files to the archive builder.
type memoryFetcher map[string][]byte

func (m memoryFetcher) Get(_ context.Context, key string) ([]byte, error) {
	b, ok := m[key]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "client.memory", key)
	}
	return b, nil
}

func saveFile(path string, r io.Reader) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".archive-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
