// Package storage provides GORM-backed persistence for sync jobs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shopglance/syncengine/pkg/backoff"
	"github.com/shopglance/syncengine/pkg/core"
	"github.com/shopglance/syncengine/pkg/security"
)

// DefaultLockTTL bounds how long a claim is considered live without the
// executor finishing. The stale reaper uses LastAttemptAt, not this value;
// the TTL only fences claim reuse inside ClaimReady.
const DefaultLockTTL = 5 * time.Minute

// GormStore implements core.Store using GORM.
//
// Claim exclusivity relies on single-row compare-and-swap updates guarded by
// a status precondition: a claimer that loses the race sees zero rows
// affected and skips the row rather than waiting, which gives skip-locked
// behavior on every engine GORM supports.
type GormStore struct {
	db      *gorm.DB
	policy  backoff.Policy
	lockTTL time.Duration
}

// NewGormStore creates a GORM-backed store. The policy decides retry delays
// inside MarkFailure; a zero-value policy falls back to backoff.Default().
func NewGormStore(db *gorm.DB, policy backoff.Policy) *GormStore {
	if policy.Ceiling() == 0 {
		policy = backoff.Default()
	}
	return &GormStore{db: db, policy: policy, lockTTL: DefaultLockTTL}
}

// Migrate creates the necessary tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&core.Job{},
		&core.RunMarker{},
		&core.AuditRecord{},
	)
}

// Enqueue inserts a queued job, rejecting it when an active job already
// exists for the same (tenant, kind, target key).
func (s *GormStore) Enqueue(ctx context.Context, job *core.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = core.StatusQueued
	}
	if job.MaxRetries <= 0 {
		job.MaxRetries = core.DefaultMaxRetries
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&core.Job{}).
			Where("tenant_id = ? AND kind = ? AND target_key = ?", job.TenantID, job.Kind, job.TargetKey).
			Where("status IN ?", []core.JobStatus{core.StatusQueued, core.StatusProcessing}).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return core.ErrDuplicateActiveJob
		}

		if err := tx.Create(job).Error; err != nil {
			return err
		}
		return appendAudit(tx, job.ID, "", core.StatusQueued, "enqueued for "+job.ResourceKey())
	})
}

// ClaimReady claims up to limit ready jobs for workerID, oldest first.
// Ready means queued with no future NextRetryAt and no live lock.
func (s *GormStore) ClaimReady(ctx context.Context, limit int, workerID string) ([]*core.Job, error) {
	limit = security.ClampBatchSize(limit)
	now := time.Now()
	lockUntil := now.Add(s.lockTTL)

	var claimed []*core.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ready []core.Job
		err := tx.
			Where("status = ?", core.StatusQueued).
			Where("(next_retry_at IS NULL OR next_retry_at <= ?)", now).
			Where("(locked_until IS NULL OR locked_until < ?)", now).
			Order("created_at ASC").
			Limit(limit).
			Find(&ready).Error
		if err != nil {
			return err
		}

		for i := range ready {
			job := ready[i]
			result := tx.Model(&core.Job{}).
				Where("id = ? AND status = ?", job.ID, core.StatusQueued).
				Updates(map[string]any{
					"status":          core.StatusProcessing,
					"locked_by":       workerID,
					"locked_until":    lockUntil,
					"last_attempt_at": now,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				// Lost the row to a concurrent claimer; skip it.
				continue
			}

			job.Status = core.StatusProcessing
			job.LockedBy = workerID
			job.LockedUntil = &lockUntil
			job.LastAttemptAt = &now

			if err := appendAudit(tx, job.ID, core.StatusQueued, core.StatusProcessing, "claimed by "+workerID); err != nil {
				return err
			}
			claimed = append(claimed, &job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkSuccess transitions processing -> success for a job owned by workerID.
func (s *GormStore) MarkSuccess(ctx context.Context, jobID, workerID string, result []byte) error {
	now := time.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&core.Job{}).
			Where("id = ? AND status = ? AND locked_by = ?", jobID, core.StatusProcessing, workerID).
			Updates(map[string]any{
				"status":        core.StatusSuccess,
				"result":        result,
				"error_message": "",
				"error_code":    "",
				"completed_at":  now,
				"locked_by":     "",
				"locked_until":  nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return core.ErrStaleTransition
		}
		return appendAudit(tx, jobID, core.StatusProcessing, core.StatusSuccess, "completed")
	})
}

// MarkFailure records a failed attempt for a job owned by workerID. The job
// is requeued with backoff while retries remain, and fails terminally once
// they are exhausted or the failure is marked NoRetry.
func (s *GormStore) MarkFailure(ctx context.Context, jobID, workerID string, f core.Failure) error {
	now := time.Now()
	sanitized := security.SanitizeErrorMessage(f.Message)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job core.Job
		err := tx.
			Where("id = ? AND status = ? AND locked_by = ?", jobID, core.StatusProcessing, workerID).
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return core.ErrStaleTransition
		}
		if err != nil {
			return err
		}

		newCount := job.RetryCount + 1
		updates := map[string]any{
			"retry_count":   newCount,
			"error_message": sanitized,
			"error_code":    f.Code,
			"locked_by":     "",
			"locked_until":  nil,
		}

		var toStatus core.JobStatus
		var detail string
		if !f.NoRetry && newCount < job.MaxRetries {
			delay := s.policy.Delay(job.RetryCount)
			if f.RetryAfter != nil && *f.RetryAfter > 0 {
				delay = *f.RetryAfter
			}
			nextAt := now.Add(delay)
			toStatus = core.StatusQueued
			updates["status"] = core.StatusQueued
			updates["next_retry_at"] = nextAt
			detail = fmt.Sprintf("attempt %d/%d failed, retry in %s: %s", newCount, job.MaxRetries, delay, sanitized)
		} else {
			toStatus = core.StatusFailed
			updates["status"] = core.StatusFailed
			updates["next_retry_at"] = nil
			updates["completed_at"] = now
			if f.NoRetry {
				detail = "not retryable: " + sanitized
			} else {
				detail = fmt.Sprintf("retries exhausted after %d attempts: %s", newCount, sanitized)
			}
		}

		res := tx.Model(&core.Job{}).
			Where("id = ? AND status = ? AND locked_by = ?", jobID, core.StatusProcessing, workerID).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return core.ErrStaleTransition
		}
		return appendAudit(tx, jobID, core.StatusProcessing, toStatus, detail)
	})
}

// ReclaimStale feeds abandoned processing jobs back through the failure
// path, counting retries as usual so a crash-looping job still terminates.
func (s *GormStore) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	var stale []core.Job
	err := s.db.WithContext(ctx).
		Where("status = ?", core.StatusProcessing).
		Where("last_attempt_at < ?", cutoff).
		Find(&stale).Error
	if err != nil {
		return 0, err
	}

	var reclaimed int64
	for i := range stale {
		job := stale[i]
		err := s.MarkFailure(ctx, job.ID, job.LockedBy, core.Failure{
			Message: fmt.Sprintf("abandoned: no completion after %s in processing", olderThan),
			Code:    "abandoned",
		})
		if errors.Is(err, core.ErrStaleTransition) {
			// The executor finished (or another reaper won) between the
			// scan and the swap. Nothing was done; skip.
			continue
		}
		if err != nil {
			return reclaimed, err
		}
		reclaimed++
	}
	return reclaimed, nil
}

// GetJob retrieves a job by ID. Returns nil when the job does not exist.
func (s *GormStore) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJobsByStatus retrieves jobs by status, newest first.
func (s *GormStore) GetJobsByStatus(ctx context.Context, status core.JobStatus, limit int) ([]*core.Job, error) {
	var jobs []*core.Job
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// Stats aggregates queue health, optionally scoped to one tenant.
func (s *GormStore) Stats(ctx context.Context, tenantID string) (*core.JobStats, error) {
	count := func(status core.JobStatus) (int64, error) {
		q := s.db.WithContext(ctx).Model(&core.Job{}).Where("status = ?", status)
		if tenantID != "" {
			q = q.Where("tenant_id = ?", tenantID)
		}
		var n int64
		return n, q.Count(&n).Error
	}

	stats := &core.JobStats{}
	var err error
	if stats.Queued, err = count(core.StatusQueued); err != nil {
		return nil, err
	}
	if stats.Processing, err = count(core.StatusProcessing); err != nil {
		return nil, err
	}
	if stats.Success, err = count(core.StatusSuccess); err != nil {
		return nil, err
	}
	if stats.Failed, err = count(core.StatusFailed); err != nil {
		return nil, err
	}

	if terminal := stats.Success + stats.Failed; terminal > 0 {
		stats.SuccessRatePct = float64(stats.Success) / float64(terminal) * 100
	}

	// Average execution duration over recent successful jobs, computed
	// client-side to stay portable across SQLite and Postgres date math.
	var rows []struct {
		LastAttemptAt *time.Time
		CompletedAt   *time.Time
	}
	q := s.db.WithContext(ctx).Model(&core.Job{}).
		Select("last_attempt_at", "completed_at").
		Where("status = ?", core.StatusSuccess).
		Order("completed_at DESC").
		Limit(1000)
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	var total time.Duration
	var n int
	for _, r := range rows {
		if r.LastAttemptAt == nil || r.CompletedAt == nil {
			continue
		}
		total += r.CompletedAt.Sub(*r.LastAttemptAt)
		n++
	}
	if n > 0 {
		stats.AvgDurationSeconds = total.Seconds() / float64(n)
	}

	return stats, nil
}

// LastRun returns when the (tenant, kind) pair last completed a real sync,
// or nil when it never has.
func (s *GormStore) LastRun(ctx context.Context, tenantID, kind string) (*time.Time, error) {
	var marker core.RunMarker
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND kind = ?", tenantID, kind).
		First(&marker).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &marker.LastRunAt, nil
}

// RecordRun upserts the cooldown marker for a (tenant, kind) pair.
func (s *GormStore) RecordRun(ctx context.Context, tenantID, kind string, at time.Time) error {
	marker := core.RunMarker{TenantID: tenantID, Kind: kind, LastRunAt: at}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "kind"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_run_at", "updated_at"}),
		}).
		Create(&marker).Error
}

// AuditTrail returns the transition log for a job, oldest first.
func (s *GormStore) AuditTrail(ctx context.Context, jobID string) ([]core.AuditRecord, error) {
	var records []core.AuditRecord
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("id ASC").
		Find(&records).Error
	return records, err
}

// appendAudit writes one transition record inside the caller's transaction,
// so the audit trail never disagrees with the job row.
func appendAudit(tx *gorm.DB, jobID string, from, to core.JobStatus, detail string) error {
	return tx.Create(&core.AuditRecord{
		JobID:      jobID,
		FromStatus: from,
		ToStatus:   to,
		Detail:     detail,
	}).Error
}
