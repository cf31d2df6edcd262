package models

import (
	"time"

	"github.com/google/uuid"
)

// Bundle is the single current whole-owner archive. A rebuild replaces the
// row wholesale.
type Bundle struct {
	OwnerID       uuid.UUID `json:"ownerId" gorm:"type:uuid;primaryKey"`
	ArchiveKey    string    `json:"archiveKey" gorm:"not null"`
	MetadataKey   string    `json:"metadataKey" gorm:"not null"`
	FileCount     int       `json:"fileCount" gorm:"not null"` // files actually written
	ByteSize      int64     `json:"byteSize" gorm:"not null"`  // archive size
	OriginalBytes int64     `json:"originalBytes" gorm:"not null"`
	SkippedCount  int       `json:"skippedCount" gorm:"not null;default:0"`
	Checksum      string    `json:"checksum"` // BLAKE3 of the archive, hex
	Compression   int       `json:"compression" gorm:"not null;default:0"`
	BuiltAt       time.Time `json:"builtAt" gorm:"not null"`
	ExpiresAt     time.Time `json:"expiresAt" gorm:"not null"`
}

func (Bundle) TableName() string { return "bundles" }

// Fresh reports whether the bundle may be served from cache at now.
func (b *Bundle) Fresh(now time.Time, window time.Duration) bool {
	return b.FileCount > 0 && now.Sub(b.BuiltAt) < window && !b.Expired(now)
}

func (b *Bundle) Expired(now time.Time) bool {
	return !now.Before(b.ExpiresAt)
}
