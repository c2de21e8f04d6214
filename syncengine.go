// Package syncengine provides a durable sync job engine for pushing local
// catalog state to external retail surfaces.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	// Create storage and engine
//	db, _ := gorm.Open(sqlite.Open("sync.db"), &gorm.Config{})
//	store := syncengine.NewGormStore(db, syncengine.DefaultBackoff())
//	store.Migrate(context.Background())
//	eng := syncengine.New(store, creds)
//
//	// Register a sync spec per job kind
//	eng.Register("feed-push", &syncengine.SyncSpec{
//	    Provider: "google-merchant",
//	    Local:    catalog,
//	    Client:   merchantClient,
//	})
//
//	// Enqueue a sync for a tenant
//	eng.Enqueue(ctx, "tenant-42", "feed-push")
//
//	// Start the dispatcher
//	d := syncengine.NewDispatcher(eng, nil)
//	d.Start(ctx)
package syncengine

import (
	"time"

	"gorm.io/gorm"

	"github.com/shopglance/syncengine/pkg/backoff"
	"github.com/shopglance/syncengine/pkg/core"
	"github.com/shopglance/syncengine/pkg/engine"
	"github.com/shopglance/syncengine/pkg/executor"
	"github.com/shopglance/syncengine/pkg/schedule"
	"github.com/shopglance/syncengine/pkg/scheduler"
	"github.com/shopglance/syncengine/pkg/security"
	"github.com/shopglance/syncengine/pkg/storage"
)

// Type aliases so callers only import this package.
type (
	// Job is one sync attempt for a (tenant, kind, target key) resource.
	Job = core.Job

	// JobStatus represents the current state of a job.
	JobStatus = core.JobStatus

	// JobStats holds aggregate job counts for a tenant.
	JobStats = core.JobStats

	// SyncResult is the per-operation accounting of one completed sync.
	SyncResult = core.SyncResult

	// AuditRecord is one recorded job state transition.
	AuditRecord = core.AuditRecord

	// Store defines the persistence layer for jobs.
	Store = core.Store

	// Failure describes one failed job attempt.
	Failure = core.Failure

	// Event is the interface for all engine events.
	Event = core.Event

	// JobEnqueued is emitted when a job is accepted.
	JobEnqueued = core.JobEnqueued

	// JobClaimed is emitted when a dispatcher claims a job.
	JobClaimed = core.JobClaimed

	// JobSucceeded is emitted when a sync completes, including skips.
	JobSucceeded = core.JobSucceeded

	// JobRetrying is emitted when a failed attempt will run again.
	JobRetrying = core.JobRetrying

	// JobFailed is emitted when a job fails terminally.
	JobFailed = core.JobFailed

	// JobSkipped is emitted when a run is coalesced by the cooldown.
	JobSkipped = core.JobSkipped

	// NoRetryError indicates an error that should not be retried.
	NoRetryError = core.NoRetryError

	// Engine manages sync spec registration, enqueueing, and events.
	Engine = engine.Engine

	// ScheduledSync is a recurring sync registration.
	ScheduledSync = engine.ScheduledSync

	// Option configures a single enqueue.
	Option = engine.Option

	// SyncSpec binds a job kind to its provider collaborators.
	SyncSpec = executor.SyncSpec

	// Item is one record in local or remote state.
	Item = executor.Item

	// Diff is the reconciliation plan between local and remote state.
	Diff = executor.Diff

	// Token is a short-lived provider credential.
	Token = executor.Token

	// CredentialStore resolves provider tokens per tenant.
	CredentialStore = executor.CredentialStore

	// LocalSource reads the tenant's local catalog state.
	LocalSource = executor.LocalSource

	// Client talks to the external provider.
	Client = executor.Client

	// RateLimitError signals provider throttling.
	RateLimitError = executor.RateLimitError

	// Executor runs one claimed job to completion.
	Executor = executor.Executor

	// Dispatcher polls for ready jobs and executes them.
	Dispatcher = scheduler.Dispatcher

	// DispatcherOption configures a Dispatcher.
	DispatcherOption = scheduler.Option

	// Schedule defines when a recurring sync runs next.
	Schedule = schedule.Schedule

	// Policy is a capped backoff schedule for retry delays.
	Policy = backoff.Policy

	// GormStore implements Store using GORM.
	GormStore = storage.GormStore
)

// Status constants
const (
	StatusQueued     = core.StatusQueued
	StatusProcessing = core.StatusProcessing
	StatusSuccess    = core.StatusSuccess
	StatusFailed     = core.StatusFailed
)

// Security limits
const (
	MaxKindNameLength  = security.MaxKindNameLength
	MaxTenantIDLength  = security.MaxTenantIDLength
	MaxTargetKeyLength = security.MaxTargetKeyLength
	MaxPayloadSize     = security.MaxPayloadSize
	MaxRetriesLimit    = security.MaxRetriesLimit
)

// Error variables
var (
	ErrDuplicateActiveJob = core.ErrDuplicateActiveJob
	ErrUnknownKind        = core.ErrUnknownKind
	ErrInvalidKindName    = core.ErrInvalidKindName
	ErrInvalidTenantID    = core.ErrInvalidTenantID
	ErrTargetKeyTooLong   = core.ErrTargetKeyTooLong
	ErrPayloadTooLarge    = core.ErrPayloadTooLarge
)

// New creates an Engine on the given store and credential source.
func New(store Store, creds CredentialStore) *Engine {
	return engine.New(store, creds)
}

// NewGormStore creates a GORM-backed store with the given retry policy.
func NewGormStore(db *gorm.DB, policy Policy) *GormStore {
	return storage.NewGormStore(db, policy)
}

// NewDispatcher creates a dispatcher for the engine.
func NewDispatcher(eng *Engine, opts []DispatcherOption, execOpts ...executor.Option) *Dispatcher {
	return scheduler.New(eng, opts, execOpts...)
}

// DefaultBackoff returns the standard retry schedule: 1m, 5m, 15m, then 1h.
func DefaultBackoff() Policy {
	return backoff.Default()
}

// NewBackoff builds a retry schedule from explicit delays and a ceiling.
func NewBackoff(steps []time.Duration, ceiling time.Duration) Policy {
	return backoff.New(steps, ceiling)
}

// ComputeDiff reconciles local state against remote state.
func ComputeDiff(local, remote []Item) Diff {
	return executor.ComputeDiff(local, remote)
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return core.NoRetry(err)
}

// Enqueue option functions

// TargetKey narrows a sync job to one record instead of the full catalog.
func TargetKey(key string) Option {
	return engine.TargetKey(key)
}

// Payload attaches caller data to the job, serialized as JSON.
func Payload(v any) Option {
	return engine.Payload(v)
}

// MaxRetries overrides the default retry budget for the job.
func MaxRetries(n int) Option {
	return engine.MaxRetries(n)
}

// Dispatcher option functions

// WithWorkerID sets a stable worker identity.
func WithWorkerID(id string) DispatcherOption {
	return scheduler.WithWorkerID(id)
}

// WithPollInterval sets how often the dispatcher polls for ready jobs.
func WithPollInterval(d time.Duration) DispatcherOption {
	return scheduler.WithPollInterval(d)
}

// WithConcurrency sets how many jobs execute at once.
func WithConcurrency(n int) DispatcherOption {
	return scheduler.WithConcurrency(n)
}

// WithStaleAfter sets the abandonment threshold for the reaper.
func WithStaleAfter(d time.Duration) DispatcherOption {
	return scheduler.WithStaleAfter(d)
}

// Schedule functions

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return schedule.Every(d)
}

// Daily creates a schedule that runs at a specific time each day.
func Daily(hour, minute int) Schedule {
	return schedule.Daily(hour, minute)
}

// Weekly creates a schedule that runs at a specific day and time each week.
func Weekly(day time.Weekday, hour, minute int) Schedule {
	return schedule.Weekly(day, hour, minute)
}

// Cron creates a schedule from a cron expression.
func Cron(expr string) Schedule {
	return schedule.Cron(expr)
}

// ValidateKindName validates a job kind name.
func ValidateKindName(name string) error {
	return security.ValidateKindName(name)
}

// ValidateTenantID validates a tenant identifier.
func ValidateTenantID(id string) error {
	return security.ValidateTenantID(id)
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage.
func SanitizeErrorMessage(msg string) string {
	return security.SanitizeErrorMessage(msg)
}

// ClampRetries ensures a retry budget is within limits.
func ClampRetries(n int) int {
	return security.ClampRetries(n)
}
