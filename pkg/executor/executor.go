// Package executor turns one processing job into a terminal outcome by
// reconciling local state against an external system.
//
// The central design property is convergence: every attempt recomputes the
// diff from current state, never replaying a stale one. A job retried after a
// partial external failure therefore applies only what is still missing,
// which makes retries naturally idempotent without an idempotency-key
// mechanism, as long as the provider's read-after-write is consistent.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/shopglance/syncengine/pkg/core"
)

// DefaultJobTimeout is the wall-clock budget for one attempt. A run that
// exceeds it fails and retries through the normal backoff path; claimed jobs
// are never un-claimed mid flight.
const DefaultJobTimeout = 5 * time.Minute

// Executor runs claimed jobs to completion or failure. It never propagates
// errors past its boundary: every failure becomes a job state transition
// plus an emitted event.
type Executor struct {
	store core.Store
	creds CredentialStore
	specs func(kind string) (*SyncSpec, bool)
	emit  func(core.Event)

	timeout time.Duration
	logger  *slog.Logger

	// Inner pacing for individual provider calls when the provider signals
	// rate limiting. Distinct from the job-level backoff policy.
	opMaxTries        uint
	opInitialInterval time.Duration
	opMaxInterval     time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithTimeout sets the per-job wall-clock budget.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithOpRetries sets how many times a single rate-limited provider call is
// retried in place before the whole job fails over to the backoff path.
func WithOpRetries(n uint) Option {
	return func(e *Executor) { e.opMaxTries = n }
}

// New creates an Executor. specs resolves a job kind to its collaborators;
// emit receives lifecycle events and may be nil.
func New(store core.Store, creds CredentialStore, specs func(kind string) (*SyncSpec, bool), emit func(core.Event), opts ...Option) *Executor {
	e := &Executor{
		store:             store,
		creds:             creds,
		specs:             specs,
		emit:              emit,
		timeout:           DefaultJobTimeout,
		logger:            slog.Default(),
		opMaxTries:        3,
		opInitialInterval: 500 * time.Millisecond,
		opMaxInterval:     10 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.emit == nil {
		e.emit = func(core.Event) {}
	}
	return e
}

// Execute runs one claimed job. The job must be in processing state with
// LockedBy set to the claiming worker.
func (e *Executor) Execute(ctx context.Context, job *core.Job) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("job handler panicked", "job_id", job.ID, "kind", job.Kind, "panic", r)
			e.fail(ctx, job, core.Failure{
				Message: fmt.Sprintf("panic: %v", r),
				Code:    "panic",
			})
		}
	}()

	spec, ok := e.specs(job.Kind)
	if !ok {
		e.fail(ctx, job, core.Failure{
			Message: fmt.Sprintf("no sync spec registered for kind %q", job.Kind),
			Code:    "unknown_kind",
		})
		return
	}

	if skipped := e.coalesce(ctx, job, spec); skipped {
		return
	}

	token, err := e.creds.GetValidToken(ctx, job.TenantID, spec.Provider)
	if err != nil {
		e.fail(ctx, job, core.Failure{
			Message: "credential refresh: " + err.Error(),
			Code:    "auth",
		})
		return
	}

	local, err := spec.Local.FetchLocal(ctx, job.TenantID, job.TargetKey)
	if err != nil {
		e.fail(ctx, job, core.Failure{
			Message: "fetch local state: " + err.Error(),
			Code:    "local_fetch",
		})
		return
	}

	var remote []Item
	err = e.pacedCall(ctx, func() error {
		var fetchErr error
		remote, fetchErr = spec.Client.FetchRemote(ctx, token, job.TenantID, job.TargetKey)
		return fetchErr
	})
	if err != nil {
		e.fail(ctx, job, failureFor("fetch remote state", err, 0, 0))
		return
	}

	diff := ComputeDiff(local, remote)
	result, err := e.applyDiff(ctx, spec, token, job, diff)
	if err != nil {
		return // applyDiff already recorded the failure
	}

	if err := e.store.RecordRun(ctx, job.TenantID, job.Kind, time.Now()); err != nil {
		// The sync itself succeeded; a missed marker only widens the
		// coalescing window.
		e.logger.Warn("failed to record run marker", "job_id", job.ID, "error", err)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		payload = nil
	}
	if err := e.store.MarkSuccess(ctx, job.ID, job.LockedBy, payload); err != nil {
		e.logger.Error("failed to mark job success", "job_id", job.ID, "error", err)
		return
	}

	e.logger.Info("sync completed",
		"job_id", job.ID, "tenant", job.TenantID, "kind", job.Kind,
		"created", result.Created, "updated", result.Updated, "deleted", result.Deleted,
		"duration", time.Since(start))
	e.emit(&core.JobSucceeded{Job: job, Result: result, Duration: time.Since(start), Timestamp: time.Now()})
}

// coalesce marks the job success with a skipped result when the cooldown
// window has not elapsed. The skip is observable, never a silent drop.
func (e *Executor) coalesce(ctx context.Context, job *core.Job, spec *SyncSpec) bool {
	cooldown := spec.Cooldown
	if cooldown == 0 {
		cooldown = DefaultCooldown
	}
	if cooldown < 0 {
		return false
	}

	last, err := e.store.LastRun(ctx, job.TenantID, job.Kind)
	if err != nil {
		e.logger.Warn("cooldown lookup failed, proceeding with sync", "job_id", job.ID, "error", err)
		return false
	}
	if last == nil || time.Since(*last) >= cooldown {
		return false
	}

	result := core.SyncResult{Skipped: true, Reason: "cooldown"}
	payload, _ := json.Marshal(result)
	if err := e.store.MarkSuccess(ctx, job.ID, job.LockedBy, payload); err != nil {
		e.logger.Error("failed to mark coalesced job", "job_id", job.ID, "error", err)
		return true
	}

	e.logger.Info("sync coalesced by cooldown",
		"job_id", job.ID, "tenant", job.TenantID, "kind", job.Kind, "last_run", *last)
	e.emit(&core.JobSkipped{Job: job, Reason: "cooldown", Timestamp: time.Now()})
	return true
}

// applyDiff applies operations one at a time, accumulating per-operation
// progress. On the first operation error it records a job failure carrying
// the applied/total counts and returns that error.
func (e *Executor) applyDiff(ctx context.Context, spec *SyncSpec, token Token, job *core.Job, diff Diff) (core.SyncResult, error) {
	var result core.SyncResult
	applied := 0
	total := diff.Ops()

	step := func(op string, key string, call func() error) error {
		if err := e.pacedCall(ctx, call); err != nil {
			wrapped := fmt.Errorf("%s %q: %w", op, key, err)
			e.fail(ctx, job, failureFor("apply diff", wrapped, applied, total))
			return wrapped
		}
		applied++
		return nil
	}

	for _, item := range diff.ToCreate {
		item := item
		if err := step("create", item.Key, func() error {
			return spec.Client.Create(ctx, token, job.TenantID, item)
		}); err != nil {
			return result, err
		}
		result.Created++
	}
	for _, item := range diff.ToUpdate {
		item := item
		if err := step("update", item.Key, func() error {
			return spec.Client.Update(ctx, token, job.TenantID, item)
		}); err != nil {
			return result, err
		}
		result.Updated++
	}
	for _, key := range diff.ToDelete {
		key := key
		if err := step("delete", key, func() error {
			return spec.Client.Delete(ctx, token, job.TenantID, key)
		}); err != nil {
			return result, err
		}
		result.Deleted++
	}

	return result, nil
}

// pacedCall runs one provider call, retrying in place only when the provider
// signals rate limiting. Any other error surfaces immediately to the
// job-level failure path.
func (e *Executor) pacedCall(ctx context.Context, call func() error) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = e.opInitialInterval
	expo.MaxInterval = e.opMaxInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := call()
		if err == nil {
			return struct{}{}, nil
		}
		var rl *RateLimitError
		if errors.As(err, &rl) {
			if rl.RetryAfter > 0 {
				return struct{}{}, backoff.RetryAfter(int(math.Ceil(rl.RetryAfter.Seconds())))
			}
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(e.opMaxTries))
	return err
}

// fail records a failed attempt and emits the matching event. Stale
// transitions (e.g. the reaper already reclaimed the job) are absorbed.
func (e *Executor) fail(ctx context.Context, job *core.Job, f core.Failure) {
	err := e.store.MarkFailure(ctx, job.ID, job.LockedBy, f)
	if errors.Is(err, core.ErrStaleTransition) {
		e.logger.Warn("stale failure transition absorbed", "job_id", job.ID, "error_code", f.Code)
		return
	}
	if err != nil {
		e.logger.Error("failed to mark job failure", "job_id", job.ID, "error", err)
		return
	}

	newCount := job.RetryCount + 1
	terminal := f.NoRetry || newCount >= job.MaxRetries
	if terminal {
		e.logger.Error("job failed terminally",
			"job_id", job.ID, "tenant", job.TenantID, "kind", job.Kind,
			"retry_count", newCount, "error_code", f.Code, "error", f.Message)
		e.emit(&core.JobFailed{Job: job, Error: errors.New(f.Message), Timestamp: time.Now()})
		return
	}

	e.logger.Warn("job attempt failed, will retry",
		"job_id", job.ID, "tenant", job.TenantID, "kind", job.Kind,
		"retry_count", newCount, "error_code", f.Code, "error", f.Message)
	e.emit(&core.JobRetrying{
		Job:        job,
		RetryCount: newCount,
		Error:      errors.New(f.Message),
		Timestamp:  time.Now(),
	})
}

// failureFor classifies a provider error into a Failure, preserving the
// rate-limit window when present and the applied/total progress of a
// partial apply.
func failureFor(stage string, err error, applied, total int) core.Failure {
	f := core.Failure{Message: stage + ": " + err.Error(), Code: "provider"}
	if total > 0 {
		f.Message = fmt.Sprintf("applied %d of %d operations; %s: %v", applied, total, stage, err)
	}

	var rl *RateLimitError
	var noRetry *core.NoRetryError
	switch {
	case errors.As(err, &rl):
		f.Code = "rate_limited"
		if rl.RetryAfter > 0 {
			wait := rl.RetryAfter
			f.RetryAfter = &wait
		}
	case errors.As(err, &noRetry):
		f.NoRetry = true
		f.Code = "permanent"
	case errors.Is(err, context.DeadlineExceeded):
		f.Code = "timeout"
	}
	return f
}
