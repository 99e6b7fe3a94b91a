package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by stores and services.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound indicates the referenced trip, step, child record or job does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a non-terminal job already exists for the same target and kind,
	// or that a state transition was requested on a job that no longer accepts it.
	ErrConflict = errors.New("conflict")

	// ErrInvalidKind indicates an unknown job kind.
	ErrInvalidKind = errors.New("invalid job kind")

	// ErrProviderFailure indicates the travel-time provider or geocoder failed
	// or returned malformed data.
	ErrProviderFailure = errors.New("provider failure")

	// ErrAllUnitsFailed indicates every unit of a batch job failed.
	ErrAllUnitsFailed = errors.New("all units failed")
)

// ConflictError reports the job that blocks a new job for the same target and kind.
type ConflictError struct {
	ExistingJobID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("active job already exists: %s", e.ExistingJobID)
}

// Is makes ConflictError match ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
