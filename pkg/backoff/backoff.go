// Package backoff provides the retry delay policy for sync jobs.
//
// The policy is a pure function from retry count to delay: deterministic and
// side-effect free, so both the store and tests can reason about schedules
// without mocking time.
package backoff

import "time"

// Policy maps a job's retry count to the delay before its next attempt.
// Delays escalate steeply for the first few attempts to absorb brief external
// outages, then plateau at a ceiling so a job keeps retrying periodically
// instead of starving.
type Policy struct {
	steps   []time.Duration
	ceiling time.Duration
}

// Default returns the standard schedule: 1m, 5m, 15m, then 1h capped.
func Default() Policy {
	return New([]time.Duration{
		1 * time.Minute,
		5 * time.Minute,
		15 * time.Minute,
	}, time.Hour)
}

// New builds a policy from an explicit step schedule and a ceiling.
// Steps are clamped so the resulting schedule is monotonically
// non-decreasing and bounded by the ceiling.
func New(steps []time.Duration, ceiling time.Duration) Policy {
	if ceiling <= 0 {
		ceiling = time.Hour
	}
	clamped := make([]time.Duration, len(steps))
	var prev time.Duration
	for i, s := range steps {
		if s < prev {
			s = prev
		}
		if s > ceiling {
			s = ceiling
		}
		clamped[i] = s
		prev = s
	}
	return Policy{steps: clamped, ceiling: ceiling}
}

// Delay returns the wait before the attempt following the given retry count.
// Retry count 0 is the delay after the first failure.
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount < len(p.steps) {
		return p.steps[retryCount]
	}
	return p.ceiling
}

// Ceiling returns the upper bound of the schedule. A zero ceiling identifies
// the zero-value Policy.
func (p Policy) Ceiling() time.Duration {
	return p.ceiling
}
