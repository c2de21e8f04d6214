// Package engine is the registration and enqueue surface of the sync engine.
// Callers register a sync spec per job kind, enqueue sync jobs for tenants,
// and subscribe to lifecycle events. Claiming and executing jobs is the
// scheduler's responsibility.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shopglance/syncengine/pkg/core"
	"github.com/shopglance/syncengine/pkg/executor"
	"github.com/shopglance/syncengine/pkg/schedule"
	"github.com/shopglance/syncengine/pkg/security"
)

// Engine manages sync spec registration, enqueueing, and the event stream.
type Engine struct {
	store core.Store
	creds executor.CredentialStore

	mu             sync.RWMutex
	specs          map[string]*executor.SyncSpec
	scheduledSyncs map[string]*ScheduledSync

	// Hooks
	onSuccess []func(*core.Job, core.SyncResult)
	onFail    []func(*core.Job, error)
	onRetry   []func(*core.Job, int, error)

	eventSubs []chan core.Event

	logger *slog.Logger
}

// ScheduledSync is a recurring sync registered with ScheduleSync.
type ScheduledSync struct {
	Name     string
	Schedule schedule.Schedule
	TenantID string
	Kind     string
	Options  []Option
}

// New creates an Engine on the given store and credential source.
func New(store core.Store, creds executor.CredentialStore) *Engine {
	return &Engine{
		store:          store,
		creds:          creds,
		specs:          make(map[string]*executor.SyncSpec),
		scheduledSyncs: make(map[string]*ScheduledSync),
		logger:         slog.Default(),
	}
}

// SetLogger replaces the engine logger.
func (e *Engine) SetLogger(l *slog.Logger) {
	e.logger = l
}

// Register binds a sync spec to a job kind. Kind names must be alphanumeric
// (starting with a letter), max 64 chars.
func (e *Engine) Register(kind string, spec *executor.SyncSpec) {
	if err := security.ValidateKindName(kind); err != nil {
		panic(fmt.Sprintf("syncengine: invalid kind %q: %v", kind, err))
	}
	if spec == nil || spec.Local == nil || spec.Client == nil {
		panic(fmt.Sprintf("syncengine: spec for %q must carry a local source and a provider client", kind))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.specs[kind] = spec
}

// Spec returns the sync spec registered for a kind.
func (e *Engine) Spec(kind string) (*executor.SyncSpec, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.specs[kind]
	return s, ok
}

// HasKind checks if a kind is registered.
func (e *Engine) HasKind(kind string) bool {
	_, ok := e.Spec(kind)
	return ok
}

// jobOptions collects the per-enqueue knobs.
type jobOptions struct {
	targetKey  string
	payload    any
	hasPayload bool
	maxRetries int
}

// Option configures a single enqueue.
type Option func(*jobOptions)

// TargetKey narrows a sync job to one record instead of the full catalog.
func TargetKey(key string) Option {
	return func(o *jobOptions) { o.targetKey = key }
}

// Payload attaches caller data to the job, serialized as JSON.
func Payload(v any) Option {
	return func(o *jobOptions) { o.payload = v; o.hasPayload = true }
}

// MaxRetries overrides the default retry budget for the job.
func MaxRetries(n int) Option {
	return func(o *jobOptions) { o.maxRetries = n }
}

// Enqueue adds a sync job for a tenant. At most one active job may exist per
// (tenant, kind, target key); a second enqueue while one is queued or
// processing returns core.ErrDuplicateActiveJob.
func (e *Engine) Enqueue(ctx context.Context, tenantID, kind string, opts ...Option) (string, error) {
	if !e.HasKind(kind) {
		return "", fmt.Errorf("%w: %q", core.ErrUnknownKind, kind)
	}
	if err := security.ValidateTenantID(tenantID); err != nil {
		return "", err
	}

	var o jobOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := security.ValidateTargetKey(o.targetKey); err != nil {
		return "", err
	}

	var payload []byte
	if o.hasPayload {
		b, err := json.Marshal(o.payload)
		if err != nil {
			return "", fmt.Errorf("syncengine: failed to marshal payload: %w", err)
		}
		if len(b) > security.MaxPayloadSize {
			return "", core.ErrPayloadTooLarge
		}
		payload = b
	}

	maxRetries := core.DefaultMaxRetries
	if o.maxRetries > 0 {
		maxRetries = security.ClampRetries(o.maxRetries)
	}

	job := &core.Job{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		Kind:       kind,
		TargetKey:  o.targetKey,
		Payload:    payload,
		MaxRetries: maxRetries,
		Status:     core.StatusQueued,
	}

	if err := e.store.Enqueue(ctx, job); err != nil {
		return "", err
	}

	e.logger.Debug("job enqueued", "job_id", job.ID, "tenant", tenantID, "kind", kind, "target_key", o.targetKey)
	e.Emit(&core.JobEnqueued{Job: job, Timestamp: time.Now()})
	return job.ID, nil
}

// ScheduleSync registers a recurring sync for a tenant. The scheduler
// enqueues it on each tick of the schedule; runs that would overlap an
// active job are absorbed by the duplicate guard.
func (e *Engine) ScheduleSync(name string, sched schedule.Schedule, tenantID, kind string, opts ...Option) {
	if !e.HasKind(kind) {
		panic(fmt.Sprintf("syncengine: cannot schedule unregistered kind %q", kind))
	}
	if err := security.ValidateTenantID(tenantID); err != nil {
		panic(fmt.Sprintf("syncengine: cannot schedule sync %q: %v", name, err))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.scheduledSyncs[name] = &ScheduledSync{
		Name:     name,
		Schedule: sched,
		TenantID: tenantID,
		Kind:     kind,
		Options:  opts,
	}
}

// ScheduledSyncs returns a snapshot of the registered recurring syncs.
func (e *Engine) ScheduledSyncs() map[string]*ScheduledSync {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]*ScheduledSync, len(e.scheduledSyncs))
	for k, v := range e.scheduledSyncs {
		out[k] = v
	}
	return out
}

// Store returns the underlying store.
func (e *Engine) Store() core.Store {
	return e.store
}

// Job fetches a job by ID, nil when it does not exist.
func (e *Engine) Job(ctx context.Context, id string) (*core.Job, error) {
	return e.store.GetJob(ctx, id)
}

// Stats returns aggregate job counts for a tenant, or for every tenant
// when tenantID is empty.
func (e *Engine) Stats(ctx context.Context, tenantID string) (*core.JobStats, error) {
	return e.store.Stats(ctx, tenantID)
}

// AuditTrail returns the recorded state transitions for a job, oldest first.
func (e *Engine) AuditTrail(ctx context.Context, jobID string) ([]core.AuditRecord, error) {
	return e.store.AuditTrail(ctx, jobID)
}

// NewExecutor builds an executor bound to this engine's spec registry and
// event stream.
func (e *Engine) NewExecutor(opts ...executor.Option) *executor.Executor {
	return executor.New(e.store, e.creds, e.Spec, e.Emit, opts...)
}

// OnSyncSuccess registers a callback for completed syncs, including
// cooldown skips.
func (e *Engine) OnSyncSuccess(fn func(*core.Job, core.SyncResult)) {
	e.mu.Lock()
	e.onSuccess = append(e.onSuccess, fn)
	e.mu.Unlock()
}

// OnSyncFail registers a callback for terminally failed syncs.
func (e *Engine) OnSyncFail(fn func(*core.Job, error)) {
	e.mu.Lock()
	e.onFail = append(e.onFail, fn)
	e.mu.Unlock()
}

// OnRetry registers a callback for each failed attempt that will run again.
func (e *Engine) OnRetry(fn func(*core.Job, int, error)) {
	e.mu.Lock()
	e.onRetry = append(e.onRetry, fn)
	e.mu.Unlock()
}

// Events returns a channel for receiving engine events.
// The caller must call Unsubscribe when done to prevent resource leaks.
func (e *Engine) Events() <-chan core.Event {
	ch := make(chan core.Event, 100)
	e.mu.Lock()
	e.eventSubs = append(e.eventSubs, ch)
	e.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Events().
// The channel is not closed. After Unsubscribe returns, no further events
// will be sent to it.
func (e *Engine) Unsubscribe(ch <-chan core.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, sub := range e.eventSubs {
		if sub == ch {
			e.eventSubs = append(e.eventSubs[:i], e.eventSubs[i+1:]...)
			return
		}
	}
}

// Emit broadcasts an event to all subscribers and fires the matching hooks.
// Slow subscribers drop events rather than blocking the emitter.
func (e *Engine) Emit(ev core.Event) {
	e.mu.RLock()
	subs := make([]chan core.Event, len(e.eventSubs))
	copy(subs, e.eventSubs)
	onSuccess := e.onSuccess
	onFail := e.onFail
	onRetry := e.onRetry
	e.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}

	switch ev := ev.(type) {
	case *core.JobSucceeded:
		for _, fn := range onSuccess {
			fn(ev.Job, ev.Result)
		}
	case *core.JobSkipped:
		for _, fn := range onSuccess {
			fn(ev.Job, core.SyncResult{Skipped: true, Reason: ev.Reason})
		}
	case *core.JobFailed:
		for _, fn := range onFail {
			fn(ev.Job, ev.Error)
		}
	case *core.JobRetrying:
		for _, fn := range onRetry {
			fn(ev.Job, ev.RetryCount, ev.Error)
		}
	}
}
