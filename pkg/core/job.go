// Package core provides the domain models and interfaces for the sync engine.
package core

import (
	"time"
)

// JobStatus represents the current state of a sync job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusSuccess    JobStatus = "success"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s JobStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// DefaultMaxRetries is the retry ceiling applied when a job is enqueued
// without an explicit limit.
const DefaultMaxRetries = 5

// Job represents one unit of asynchronous reconciliation work against an
// external system. At most one active (queued or processing) job may exist
// per (tenant, kind, target key).
type Job struct {
	ID        string `gorm:"primaryKey;size:36"`
	TenantID  string `gorm:"index:idx_jobs_resource;size:64;not null"`
	Kind      string `gorm:"index:idx_jobs_resource;size:64;not null"`
	TargetKey string `gorm:"index:idx_jobs_resource;size:255"` // empty means whole resource

	Status     JobStatus `gorm:"index;size:20;default:'queued'"`
	RetryCount int       `gorm:"default:0"`
	MaxRetries int       `gorm:"default:5"`

	LastAttemptAt *time.Time
	NextRetryAt   *time.Time `gorm:"index"`

	Payload []byte `gorm:"type:bytes"` // immutable input captured at enqueue time
	Result  []byte `gorm:"type:bytes"` // serialized SyncResult on success

	ErrorMessage string `gorm:"type:text"`
	ErrorCode    string `gorm:"size:64"`

	// Claim ownership. Set while a worker holds the job in processing.
	LockedBy    string     `gorm:"size:255"`
	LockedUntil *time.Time `gorm:"index"`

	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
	CompletedAt *time.Time
}

// Active reports whether the job still occupies its resource slot.
func (j *Job) Active() bool {
	return j.Status == StatusQueued || j.Status == StatusProcessing
}

// ResourceKey identifies the external resource this job synchronizes.
func (j *Job) ResourceKey() string {
	if j.TargetKey == "" {
		return j.TenantID + "/" + j.Kind
	}
	return j.TenantID + "/" + j.Kind + "/" + j.TargetKey
}

// RunMarker records when a (tenant, kind) pair last completed a real sync.
// It backs the cooldown window and lives in the store so the window holds
// across worker processes.
type RunMarker struct {
	TenantID  string    `gorm:"primaryKey;size:64"`
	Kind      string    `gorm:"primaryKey;size:64"`
	LastRunAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// AuditRecord is one append-only entry in the job transition log.
type AuditRecord struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	JobID      string    `gorm:"index;size:36;not null"`
	FromStatus JobStatus `gorm:"size:20"`
	ToStatus   JobStatus `gorm:"size:20;not null"`
	Detail     string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

// SyncResult summarizes what a completed executor run did.
type SyncResult struct {
	Created int    `json:"created"`
	Updated int    `json:"updated"`
	Deleted int    `json:"deleted"`
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// JobStats summarizes queue health for the inspection surface.
type JobStats struct {
	Queued             int64   `json:"queued"`
	Processing         int64   `json:"processing"`
	Success            int64   `json:"success"`
	Failed             int64   `json:"failed"`
	SuccessRatePct     float64 `json:"success_rate_pct"`
	AvgDurationSeconds float64 `json:"avg_duration_seconds"`
}
