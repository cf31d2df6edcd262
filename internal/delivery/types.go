package delivery

import (
	"time"

	"github.com/google/uuid"

	"github.com/rohits-web03/clientvault/internal/archive"
	"github.com/rohits-web03/clientvault/internal/models"
)

// Grant is a time-limited signed URL for one object. It is never stored.
type Grant struct {
	Key       string    `json:"-"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Mode names the strategy a delivery ended up using.
type Mode string

const (
	ModeRedirect Mode = "redirect" // single signed URL
	ModeArchive  Mode = "archive"
	ModeJob      Mode = "job"
	ModeManifest Mode = "manifest" // too large to archive
)

// StrategySequential tells clients to fetch files one by one.
const StrategySequential = "sequential"

type ManifestEntry struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"` // path inside an archive
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType,omitempty"`
	Key         string    `json:"key"`
}

type Manifest struct {
	OwnerID    uuid.UUID       `json:"ownerId"`
	Files      []ManifestEntry `json:"files"`
	TotalFiles int             `json:"totalFiles"`
	TotalBytes int64           `json:"totalBytes"`
}

// Reference is returned instead of an archive when the data set exceeds
// the reference threshold. No archive is written and no bundle record is
// stored.
type Reference struct {
	Strategy string   `json:"strategy"`
	Hint     string   `json:"hint"`
	Manifest Manifest `json:"manifest"`
}

type BatchInfo struct {
	Number int  `json:"number"`
	Total  int  `json:"total"`
	Size   int  `json:"size"`
	Reused bool `json:"reused"`
}

// Delivery is the outcome of an archive request. Which fields are set
// depends on Mode.
type Delivery struct {
	Mode      Mode              `json:"mode"`
	Grant     *Grant            `json:"grant,omitempty"`
	FileCount int               `json:"fileCount"`
	ByteSize  int64             `json:"byteSize"`
	Cached    bool              `json:"cached"`
	Skipped   []archive.Skipped `json:"skipped,omitempty"`
	Excluded  []ManifestEntry   `json:"excluded,omitempty"`
	Batch     *BatchInfo        `json:"batch,omitempty"`
	Job       *JobView          `json:"job,omitempty"`
	Reference *Reference        `json:"reference,omitempty"`
}

// Partial reports whether some requested files were left out.
func (d *Delivery) Partial() bool {
	return len(d.Skipped) > 0
}

func manifestEntry(b models.Blob) ManifestEntry {
	return ManifestEntry{
		ID:          b.ID,
		Name:        archive.EntryName(b.FolderPath, b.DisplayName),
		Size:        b.Size,
		ContentType: b.ContentType,
		Key:         b.StorageKey,
	}
}

func manifestEntries(blobs []models.Blob) []ManifestEntry {
	if len(blobs) == 0 {
		return nil
	}
	out := make([]ManifestEntry, len(blobs))
	for i, b := range blobs {
		out[i] = manifestEntry(b)
	}
	return out
}

func archiveEntries(blobs []models.Blob) []archive.Entry {
	out := make([]archive.Entry, len(blobs))
	for i, b := range blobs {
		out[i] = archive.Entry{
			Name: archive.EntryName(b.FolderPath, b.DisplayName),
			Key:  b.StorageKey,
			Size: b.Size,
		}
	}
	return out
}

func totalBytes(blobs []models.Blob) int64 {
	var n int64
	for _, b := range blobs {
		n += b.Size
	}
	return n
}
