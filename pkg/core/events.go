package core

import "time"

// Event is the interface for all job lifecycle events.
type Event interface {
	eventMarker()
}

// JobEnqueued is emitted when a job is accepted into the queue.
type JobEnqueued struct {
	Job       *Job
	Timestamp time.Time
}

func (*JobEnqueued) eventMarker() {}

// JobClaimed is emitted when a dispatcher claims a job for execution.
type JobClaimed struct {
	Job       *Job
	WorkerID  string
	Timestamp time.Time
}

func (*JobClaimed) eventMarker() {}

// JobSucceeded is emitted when a job completes successfully.
type JobSucceeded struct {
	Job       *Job
	Result    SyncResult
	Duration  time.Duration
	Timestamp time.Time
}

func (*JobSucceeded) eventMarker() {}

// JobRetrying is emitted when a failed attempt is requeued with backoff.
type JobRetrying struct {
	Job        *Job
	RetryCount int
	Error      error
	NextRunAt  time.Time
	Timestamp  time.Time
}

func (*JobRetrying) eventMarker() {}

// JobFailed is emitted when a job fails terminally.
type JobFailed struct {
	Job       *Job
	Error     error
	Timestamp time.Time
}

func (*JobFailed) eventMarker() {}

// JobSkipped is emitted when a run is coalesced by the cooldown window.
// The job itself is marked success with a skipped result, so the
// coalescing stays observable to callers.
type JobSkipped struct {
	Job       *Job
	Reason    string
	Timestamp time.Time
}

func (*JobSkipped) eventMarker() {}
