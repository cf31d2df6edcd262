package models

import (
	"time"

	"github.com/google/uuid"
)

// BuildLease serializes bundle rebuilds for one owner across processes.
type BuildLease struct {
	OwnerID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Holder    string    `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null"`
}

func (BuildLease) TableName() string { return "build_leases" }
