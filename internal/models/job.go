package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of an async build:
//
//	queued -> processing -> completed | failed
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobQueued, JobProcessing, JobCompleted, JobFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransition reports whether moving from s to next is allowed.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobQueued:
		return next == JobProcessing || next == JobFailed
	case JobProcessing:
		return next == JobCompleted || next == JobFailed
	}
	return false
}

func ParseJobStatus(s string) (JobStatus, error) {
	st := JobStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown job status: %q", s)
	}
	return st, nil
}

// JobKind selects what a job builds.
type JobKind string

const (
	// JobSelection archives an explicit set of file ids into a one-off output.
	JobSelection JobKind = "selection"
	// JobBundle rebuilds the owner's current bundle.
	JobBundle JobKind = "bundle"
)

func (k JobKind) Valid() bool {
	return k == JobSelection || k == JobBundle
}

// JobOptions are the build options a bundle job was queued with.
type JobOptions struct {
	Force        bool  `json:"force,omitempty"`
	Fast         bool  `json:"fast,omitempty"`
	MaxFileBytes int64 `json:"maxFileBytes,omitempty"`
}

type Job struct {
	ID             uuid.UUID   `json:"id" gorm:"type:uuid;default:uuid_generate_v4();primaryKey"`
	OwnerID        uuid.UUID   `json:"ownerId" gorm:"type:uuid;not null;index"`
	Kind           JobKind     `json:"kind" gorm:"type:text;not null"`
	FileIDs        []uuid.UUID `json:"fileIds" gorm:"type:jsonb;serializer:json"`
	Options        JobOptions  `json:"options" gorm:"type:jsonb;serializer:json"`
	Status         JobStatus   `json:"status" gorm:"type:text;not null;index"`
	TotalFiles     int         `json:"totalFiles" gorm:"not null;default:0"`
	ProcessedFiles int         `json:"processedFiles" gorm:"not null;default:0"`
	SkippedFiles   int         `json:"skippedFiles" gorm:"not null;default:0"`
	OutputKey      string      `json:"-"`
	OutputSize     int64       `json:"outputSize"`
	ErrorKind      string      `json:"errorKind,omitempty"`
	Error          string      `json:"error,omitempty"`
	CreatedAt      time.Time   `json:"createdAt" gorm:"autoCreateTime"`
	StartedAt      *time.Time  `json:"startedAt,omitempty"`
	CompletedAt    *time.Time  `json:"completedAt,omitempty"`
	HeartbeatAt    *time.Time  `json:"-"`
	ExpiresAt      *time.Time  `json:"expiresAt,omitempty"`
}

func (Job) TableName() string { return "jobs" }

// Progress returns completion as a percentage in [0, 100].
func (j *Job) Progress() int {
	if j.Status == JobCompleted {
		return 100
	}
	if j.TotalFiles <= 0 {
		return 0
	}
	p := j.ProcessedFiles * 100 / j.TotalFiles
	if p > 100 {
		p = 100
	}
	return p
}

func (j *Job) Expired(now time.Time) bool {
	return j.ExpiresAt != nil && !now.Before(*j.ExpiresAt)
}
