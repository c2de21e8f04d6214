// Package audit streams job lifecycle events to external sinks for
// compliance trails and merchant-facing activity feeds. The store keeps its
// own transition records; sinks here are the push side.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	r "github.com/redis/go-redis/v9"

	"github.com/shopglance/syncengine/pkg/core"
)

// Record is the flattened, sink-agnostic form of a lifecycle event.
type Record struct {
	JobID     string    `json:"jobId"`
	TenantID  string    `json:"tenantId"`
	Kind      string    `json:"kind"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RecordOf flattens an engine event into a Record. The second return is
// false for event types that carry no job.
func RecordOf(ev core.Event) (Record, bool) {
	switch ev := ev.(type) {
	case *core.JobEnqueued:
		return recordFor(ev.Job, "enqueued", "", ev.Timestamp), true
	case *core.JobClaimed:
		return recordFor(ev.Job, "claimed", "worker="+ev.WorkerID, ev.Timestamp), true
	case *core.JobSucceeded:
		detail, _ := json.Marshal(ev.Result)
		return recordFor(ev.Job, "succeeded", string(detail), ev.Timestamp), true
	case *core.JobSkipped:
		return recordFor(ev.Job, "skipped", ev.Reason, ev.Timestamp), true
	case *core.JobRetrying:
		return recordFor(ev.Job, "retrying", ev.Error.Error(), ev.Timestamp), true
	case *core.JobFailed:
		return recordFor(ev.Job, "failed", ev.Error.Error(), ev.Timestamp), true
	}
	return Record{}, false
}

func recordFor(job *core.Job, event, detail string, at time.Time) Record {
	return Record{
		JobID:     job.ID,
		TenantID:  job.TenantID,
		Kind:      job.Kind,
		Event:     event,
		Detail:    detail,
		Timestamp: at,
	}
}

// Sink receives audit records.
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

// SlogSink writes audit records as structured log lines.
type SlogSink struct {
	Logger *slog.Logger
}

func (s *SlogSink) Write(_ context.Context, rec Record) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("audit",
		"job_id", rec.JobID,
		"tenant", rec.TenantID,
		"kind", rec.Kind,
		"event", rec.Event,
		"detail", rec.Detail)
	return nil
}

// RedisSink pushes audit records onto a per-tenant Redis list, newest first,
// for the activity feed to consume.
type RedisSink struct {
	rdb *r.Client

	// MaxLen trims each tenant list to this many entries. Zero keeps all.
	MaxLen int64
}

func NewRedisSink(rdb *r.Client) *RedisSink {
	return &RedisSink{rdb: rdb, MaxLen: 1000}
}

func (s *RedisSink) key(tenantID string) string {
	return "audit:" + tenantID
}

func (s *RedisSink) Write(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, s.key(rec.TenantID), payload)
	if s.MaxLen > 0 {
		pipe.LTrim(ctx, s.key(rec.TenantID), 0, s.MaxLen-1)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Recent returns the latest audit records for a tenant, newest first.
func (s *RedisSink) Recent(ctx context.Context, tenantID string, n int64) ([]Record, error) {
	raw, err := s.rdb.LRange(ctx, s.key(tenantID), 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(raw))
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Pump forwards engine events to a sink until the channel closes or the
// context is cancelled. Sink errors are logged and skipped so one bad write
// never stalls the stream.
func Pump(ctx context.Context, events <-chan core.Event, sink Sink, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			rec, ok := RecordOf(ev)
			if !ok {
				continue
			}
			if err := sink.Write(ctx, rec); err != nil {
				logger.Error("audit sink write failed", "event", rec.Event, "job_id", rec.JobID, "error", err)
			}
		}
	}
}
