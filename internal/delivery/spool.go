package delivery

import (
	"context"
	"encoding/hex"
	"io"
	"os"

	"github.com/zeebo/blake3"

	"github.com/rohits-web03/clientvault/internal/apperr"
	"github.com/rohits-web03/clientvault/internal/archive"
)

// spool is an archive built into a temp file, ready to upload.
type spool struct {
	f        *os.File
	size     int64
	checksum string // BLAKE3, hex
}

func (s *spool) Close() error {
	name := s.f.Name()
	err := s.f.Close()
	os.Remove(name)
	return err
}

// buildSpool runs the builder into a temp file under dir, hashing the
// archive bytes as they are written.
func buildSpool(ctx context.Context, b *archive.Builder, dir string, entries []archive.Entry, opts archive.Options) (*spool, archive.Result, error) {
	f, err := os.CreateTemp(dir, "clientvault-*.zip")
	if err != nil {
		return nil, archive.Result{}, apperr.Wrap(apperr.KindInternal, "spool.create", err)
	}
	s := &spool{f: f}

	h := blake3.New()
	res, err := b.Build(ctx, io.MultiWriter(f, h), entries, opts)
	if err != nil {
		s.Close()
		return nil, res, err
	}
	size, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		s.Close()
		return nil, res, apperr.Wrap(apperr.KindInternal, "spool.size", err)
	}
	s.size = size
	s.checksum = hex.EncodeToString(h.Sum(nil))
	return s, res, nil
}
