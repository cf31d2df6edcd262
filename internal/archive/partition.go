package archive

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/rohits-web03/clientvault/internal/models"
)

// Plan is a deterministic split of an owner's eligible files into
// fixed-size batches.
type Plan struct {
	Included []models.Blob
	Excluded []models.Blob // above the per-file ceiling
	Size     int
	Ceiling  int64 // per-file byte ceiling, 0 for none
}

// Partition keeps the input order, drops files larger than maxFileBytes
// (0 means no ceiling) and groups the rest into batches of maxPerBatch.
func Partition(files []models.Blob, maxPerBatch int, maxFileBytes int64) Plan {
	if maxPerBatch <= 0 {
		maxPerBatch = 1
	}
	p := Plan{Size: maxPerBatch, Ceiling: maxFileBytes}
	for _, f := range files {
		if maxFileBytes > 0 && f.Size > maxFileBytes {
			p.Excluded = append(p.Excluded, f)
			continue
		}
		p.Included = append(p.Included, f)
	}
	return p
}

// TotalBatches is ceil(len(Included) / Size).
func (p Plan) TotalBatches() int {
	if len(p.Included) == 0 {
		return 0
	}
	return (len(p.Included) + p.Size - 1) / p.Size
}

// Batch returns the k-th batch, 1-based. Out of range yields nil.
func (p Plan) Batch(k int) []models.Blob {
	if k < 1 || k > p.TotalBatches() {
		return nil
	}
	start := (k - 1) * p.Size
	end := min(len(p.Included), k*p.Size)
	return p.Included[start:end]
}

func (p Plan) IncludedBytes() int64 {
	var n int64
	for _, f := range p.Included {
		n += f.Size
	}
	return n
}

// ExceedsReferenceThreshold reports whether the included data is too large
// to archive at all.
func (p Plan) ExceedsReferenceThreshold(threshold int64) bool {
	return threshold > 0 && p.IncludedBytes() > threshold
}

// Fingerprint digests the included files and the batch size. Two plans
// over the same catalog state share a fingerprint.
func (p Plan) Fingerprint() string {
	h := blake3.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(p.Size))
	h.Write(buf[:])
	for _, f := range p.Included {
		h.Write(f.ID[:])
		binary.BigEndian.PutUint64(buf[:], uint64(f.Size))
		h.Write(buf[:])
		h.Write([]byte(EntryName(f.FolderPath, f.DisplayName)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// IDs returns the ids of the included files.
func (p Plan) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(p.Included))
	for i, f := range p.Included {
		ids[i] = f.ID
	}
	return ids
}
