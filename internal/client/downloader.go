package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/rohits-web03/clientvault/internal/apperr"
)

// Failure is a file that could not be downloaded.
type Failure struct {
	File File
	Err  error
}

type Summary struct {
	Total      int
	Downloaded []File
	Failed     []Failure
	Bytes      int64
	Elapsed    time.Duration
	Aborted    bool
}

// NotStarted is the number of files never attempted because of an abort.
func (s Summary) NotStarted() int {
	return s.Total - len(s.Downloaded) - len(s.Failed)
}

func (s Summary) String() string {
	out := fmt.Sprintf("%d/%d downloaded, %d failed", len(s.Downloaded), s.Total, len(s.Failed))
	if n := s.NotStarted(); n > 0 {
		out += fmt.Sprintf(", %d not started", n)
	}
	return out + fmt.Sprintf(" (%s in %s)", humanize.Bytes(uint64(s.Bytes)), s.Elapsed.Round(time.Second))
}

// Downloader writes each manifest file to disk under Dest. One failed file
// is recorded and the rest continue.
type Downloader struct {
	fetch       Fetcher
	Dest        string
	Concurrency int
	OnProgress  func(Progress)

	aborted atomic.Bool
	now     func() time.Time
}

func NewDownloader(f Fetcher, dest string) *Downloader {
	return &Downloader{fetch: f, Dest: dest, Concurrency: 1, now: time.Now}
}

// Abort stops the download before the next file starts. Files already in
// flight finish.
func (d *Downloader) Abort() {
	d.aborted.Store(true)
}

func (d *Downloader) stopped(ctx context.Context) bool {
	return d.aborted.Load() || ctx.Err() != nil
}

func (d *Downloader) Download(ctx context.Context, m *Manifest) (*Summary, error) {
	if err := os.MkdirAll(d.Dest, 0o755); err != nil {
		return nil, fmt.Errorf("create destination: %w", err)
	}

	start := d.now()
	tr := newTracker(m, d.OnProgress, d.now)
	sum := &Summary{Total: len(m.Files)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(max(d.Concurrency, 1))
	for _, f := range m.Files {
		if d.stopped(ctx) {
			break
		}
		g.Go(func() error {
			// a slot may have opened after an abort
			if d.stopped(ctx) {
				return nil
			}
			n, err := d.one(ctx, tr, f)
			tr.done(f, n, err)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sum.Failed = append(sum.Failed, Failure{File: f, Err: err})
				return nil
			}
			sum.Downloaded = append(sum.Downloaded, f)
			sum.Bytes += n
			return nil
		})
	}
	_ = g.Wait()

	sum.Elapsed = d.now().Sub(start)
	sum.Aborted = sum.NotStarted() > 0
	if sum.Aborted && ctx.Err() != nil {
		return sum, ctx.Err()
	}
	return sum, nil
}

// one downloads f to a .part file and renames it into place.
func (d *Downloader) one(ctx context.Context, tr *tracker, f File) (int64, error) {
	if !filepath.IsLocal(filepath.FromSlash(f.Name)) {
		return 0, apperr.New(apperr.KindInvalid, "client.download", "unsafe file name "+f.Name)
	}
	path := filepath.Join(d.Dest, filepath.FromSlash(f.Name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}

	body, _, err := d.fetch.OpenFile(ctx, f.ID)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	part := path + ".part"
	out, err := os.Create(part)
	if err != nil {
		return 0, err
	}
	cw := &countingWriter{t: tr, f: f}
	n, err := io.Copy(io.MultiWriter(out, cw), body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(part)
		return n, err
	}
	if f.Size > 0 && n != f.Size {
		os.Remove(part)
		return n, apperr.New(apperr.KindInternal, "client.download",
			fmt.Sprintf("%s: got %d bytes, expected %d", f.Name, n, f.Size))
	}
	return n, os.Rename(part, path)
}
