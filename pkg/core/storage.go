package core

import (
	"context"
	"time"
)

// Failure describes an attempt that did not complete.
type Failure struct {
	// Message is stored on the job (sanitized and truncated).
	Message string

	// Code preserves the provider's signal for observability
	// (e.g. "rate_limited", "auth", "remote_fetch").
	Code string

	// RetryAfter overrides the backoff policy delay when set, e.g. when the
	// provider returned an explicit rate-limit window.
	RetryAfter *time.Duration

	// NoRetry fails the job terminally regardless of remaining retries.
	NoRetry bool
}

// Store defines the durable persistence layer for sync jobs. It is the single
// shared mutable resource: all coordination between concurrent workers flows
// through its atomic transitions.
type Store interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Enqueue inserts a queued job. Returns ErrDuplicateActiveJob when an
	// active job already exists for the same (tenant, kind, target key).
	Enqueue(ctx context.Context, job *Job) error

	// ClaimReady atomically claims up to limit ready jobs for workerID,
	// transitioning them to processing. Jobs are claimed oldest first. A row
	// contended by another claimer is skipped, never waited on, and no job
	// is ever handed to two claimers.
	ClaimReady(ctx context.Context, limit int, workerID string) ([]*Job, error)

	// MarkSuccess transitions processing -> success and stores the result.
	// Returns ErrStaleTransition if workerID no longer owns the job.
	MarkSuccess(ctx context.Context, jobID, workerID string, result []byte) error

	// MarkFailure transitions processing -> queued with an incremented retry
	// count and a backoff-scheduled NextRetryAt, or -> failed once retries
	// are exhausted (or f.NoRetry is set). Returns ErrStaleTransition if
	// workerID no longer owns the job.
	MarkFailure(ctx context.Context, jobID, workerID string, f Failure) error

	// ReclaimStale feeds processing jobs whose last attempt started more than
	// olderThan ago back through the failure path. Returns how many jobs were
	// reclaimed.
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)

	// Queries
	GetJob(ctx context.Context, jobID string) (*Job, error)
	GetJobsByStatus(ctx context.Context, status JobStatus, limit int) ([]*Job, error)
	Stats(ctx context.Context, tenantID string) (*JobStats, error)

	// Cooldown markers, keyed by (tenant, kind).
	LastRun(ctx context.Context, tenantID, kind string) (*time.Time, error)
	RecordRun(ctx context.Context, tenantID, kind string, at time.Time) error

	// AuditTrail returns the transition log for a job, oldest first.
	AuditTrail(ctx context.Context, jobID string) ([]AuditRecord, error)
}
