package core

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateActiveJob is returned by Enqueue when an active job already
	// exists for the same (tenant, kind, target key). Callers may treat it as
	// a no-op success: the pending job will pick up the same state.
	ErrDuplicateActiveJob = errors.New("syncengine: active job already exists for this resource")

	// ErrStaleTransition is returned when a state transition's precondition
	// fails, e.g. a completion racing a timeout-based reclaim. The losing
	// side must not overwrite the job.
	ErrStaleTransition = errors.New("syncengine: job not in expected state for this transition")

	// ErrUnknownKind is returned when no sync spec is registered for a kind.
	ErrUnknownKind = errors.New("syncengine: no sync spec registered for kind")
)

// Validation errors
var (
	ErrInvalidKindName  = errors.New("syncengine: invalid kind name (must be alphanumeric, start with letter)")
	ErrKindNameTooLong  = errors.New("syncengine: kind name too long")
	ErrInvalidTenantID  = errors.New("syncengine: invalid tenant id")
	ErrTenantIDTooLong  = errors.New("syncengine: tenant id too long")
	ErrTargetKeyTooLong = errors.New("syncengine: target key exceeds maximum length")
	ErrPayloadTooLarge  = errors.New("syncengine: job payload exceeds size limit")
)

// NoRetryError indicates an error that should not be retried. The baseline
// policy retries every failure, because misclassifying a transient error as
// permanent is the costlier mistake; wrapping with NoRetry is an explicit
// opt-in for callers that know better.
type NoRetryError struct {
	Err error
}

func (e *NoRetryError) Error() string {
	return fmt.Sprintf("no retry: %v", e.Err)
}

func (e *NoRetryError) Unwrap() error {
	return e.Err
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return &NoRetryError{Err: err}
}
