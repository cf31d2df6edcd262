// Package archive assembles zip archives from stored blobs and splits large
// file sets into reproducible batches.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"golang.org/x/sync/errgroup"

	"github.com/rohits-web03/clientvault/internal/apperr"
)

// Compression presets. Store trades size for speed on interactive builds.
const (
	Store  = 0
	Batch  = 1
	Bundle = 6
)

const defaultConcurrency = 4

// ErrEmptyArchive is returned when every entry failed and nothing was
// written.
var ErrEmptyArchive = apperr.New(apperr.KindEmptyResult, "archive.build", "No files could be added to the archive")

// Fetcher loads one object's bytes.
type Fetcher interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Entry is one file to place in an archive.
type Entry struct {
	Name string // path inside the archive, see EntryName
	Key  string // object key
	Size int64
}

// Skipped records an entry that could not be fetched.
type Skipped struct {
	Name   string      `json:"name"`
	Key    string      `json:"-"`
	Kind   apperr.Kind `json:"kind"`
	Reason string      `json:"reason"`
}

type Options struct {
	// Level is Store (0) or a deflate level 1-9.
	Level int
	// Concurrency bounds parallel fetches. Zero means 4.
	Concurrency int
	// Modified stamps every entry. Zero means the build time.
	Modified time.Time
	// OnProgress is called after each entry is written or skipped.
	OnProgress func(processed, total int)
}

type Result struct {
	Written       []Entry
	Skipped       []Skipped
	OriginalBytes int64
}

// Processed is the number of entries written to the archive.
func (r Result) Processed() int { return len(r.Written) }

type Builder struct {
	fetch Fetcher
}

func NewBuilder(f Fetcher) *Builder {
	return &Builder{fetch: f}
}

// Build writes a zip of entries to w. Entries are written sorted by name
// regardless of the order fetches complete in. A failed fetch is recorded
// in Result.Skipped and the build continues; only an archive with no
// entries at all is an error.
func (b *Builder) Build(ctx context.Context, w io.Writer, entries []Entry, opts Options) (Result, error) {
	if opts.Level < Store || opts.Level > flate.BestCompression {
		return Result{}, apperr.New(apperr.KindInvalid, "archive.build", fmt.Sprintf("compression level %d out of range", opts.Level))
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = defaultConcurrency
	}
	modified := opts.Modified
	if modified.IsZero() {
		modified = time.Now()
	}

	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].Key < sorted[j].Key
	})

	zw := zip.NewWriter(w)
	method := zip.Store
	if opts.Level > Store {
		method = zip.Deflate
		level := opts.Level
		zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(out, level)
		})
	}

	var res Result
	total := len(sorted)
	processed := 0
	window := workers * 2

	for start := 0; start < total; start += window {
		if err := ctx.Err(); err != nil {
			return res, apperr.Wrap(apperr.KindOf(err), "archive.build", err)
		}
		batch := sorted[start:min(total, start+window)]
		bodies := make([][]byte, len(batch))
		errs := make([]error, len(batch))

		var g errgroup.Group
		g.SetLimit(workers)
		for i, e := range batch {
			g.Go(func() error {
				bodies[i], errs[i] = b.fetch.Get(ctx, e.Key)
				return nil
			})
		}
		_ = g.Wait()

		for i, e := range batch {
			processed++
			if errs[i] != nil {
				res.Skipped = append(res.Skipped, Skipped{
					Name:   e.Name,
					Key:    e.Key,
					Kind:   apperr.KindOf(errs[i]),
					Reason: apperr.MessageOf(errs[i]),
				})
			} else {
				if err := writeEntry(zw, e.Name, method, modified, bodies[i]); err != nil {
					return res, apperr.Wrap(apperr.KindInternal, "archive.write", err)
				}
				res.Written = append(res.Written, e)
				res.OriginalBytes += int64(len(bodies[i]))
			}
			bodies[i] = nil
			if opts.OnProgress != nil {
				opts.OnProgress(processed, total)
			}
		}
	}

	if len(res.Written) == 0 {
		return res, ErrEmptyArchive
	}
	if err := zw.Close(); err != nil {
		return res, apperr.Wrap(apperr.KindInternal, "archive.close", err)
	}
	return res, nil
}

func writeEntry(zw *zip.Writer, name string, method uint16, modified time.Time, body []byte) error {
	fw, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   method,
		Modified: modified,
	})
	if err != nil {
		return err
	}
	_, err = fw.Write(body)
	return err
}

// IsEmpty reports whether err means no entry could be archived.
func IsEmpty(err error) bool {
	return errors.Is(err, apperr.EmptyResult)
}
