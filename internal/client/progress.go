package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Progress is reported while files download. File fields describe the file
// that moved; the rest are totals across the manifest.
type Progress struct {
	File      File
	FileBytes int64
	FileDone  bool
	FileErr   error

	Completed  int // files finished, failed ones included
	Total      int
	Bytes      int64
	TotalBytes int64
	Speed      float64 // bytes per second
	ETA        time.Duration
}

func (p Progress) String() string {
	return fmt.Sprintf("%d/%d files, %s of %s, %s/s, eta %s",
		p.Completed, p.Total,
		humanize.Bytes(uint64(p.Bytes)), humanize.Bytes(uint64(p.TotalBytes)),
		humanize.Bytes(uint64(p.Speed)), p.ETA.Round(time.Second))
}

// tracker aggregates progress across concurrent downloads and serializes
// the callback.
type tracker struct {
	mu         sync.Mutex
	fn         func(Progress)
	now        func() time.Time
	start      time.Time
	total      int
	totalBytes int64
	completed  int
	bytes      int64
}

func newTracker(m *Manifest, fn func(Progress), now func() time.Time) *tracker {
	return &tracker{fn: fn, now: now, start: now(), total: len(m.Files), totalBytes: m.Bytes()}
}

func (t *tracker) add(f File, n, fileBytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bytes += n
	t.emit(Progress{File: f, FileBytes: fileBytes})
}

func (t *tracker) done(f File, fileBytes int64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed++
	t.emit(Progress{File: f, FileBytes: fileBytes, FileDone: true, FileErr: err})
}

// emit fills the totals and calls fn. t.mu must be held.
func (t *tracker) emit(p Progress) {
	if t.fn == nil {
		return
	}
	p.Completed = t.completed
	p.Total = t.total
	p.Bytes = t.bytes
	p.TotalBytes = t.totalBytes
	if elapsed := t.now().Sub(t.start).Seconds(); elapsed > 0 {
		p.Speed = float64(t.bytes) / elapsed
	}
	if p.Speed > 0 && t.totalBytes > t.bytes {
		p.ETA = time.Duration(float64(t.totalBytes-t.bytes) / p.Speed * float64(time.Second))
	}
	t.fn(p)
}

// countingWriter reports every write to the tracker.
type countingWriter struct {
	t *tracker
	f File
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	w.t.add(w.f, int64(len(p)), w.n)
	return len(p), nil
}
