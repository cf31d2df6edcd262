package models

import (
	"time"

	"github.com/google/uuid"
)

// RootFolder is the folder path sentinel for files stored at the top level
// of an owner's space.
const RootFolder = "/"

// Blob is one uploaded file in an owner's catalog. Only the Deleted and
// Trashed flags change after upload.
type Blob struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;default:uuid_generate_v4();primaryKey"`
	OwnerID     uuid.UUID `json:"ownerId" gorm:"type:uuid;not null;index"`
	StorageKey  string    `json:"storageKey" gorm:"not null;uniqueIndex"`
	DisplayName string    `json:"displayName" gorm:"not null"`
	Size        int64     `json:"size" gorm:"not null"` // bytes
	ContentType string    `json:"contentType"`
	FolderPath  string    `json:"folderPath" gorm:"not null;default:''"`
	Deleted     bool      `json:"deleted" gorm:"default:false"`
	Trashed     bool      `json:"trashed" gorm:"default:false"`
	UploadedAt  time.Time `json:"uploadedAt" gorm:"autoCreateTime"`
}

func (Blob) TableName() string { return "blobs" }

// Eligible reports whether the blob may be delivered.
func (b *Blob) Eligible() bool {
	return !b.Deleted && !b.Trashed
}
