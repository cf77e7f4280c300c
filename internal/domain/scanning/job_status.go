package scanning

import (
	"fmt"
	"strings"
)

// JobStatus represents the current state of a scan job. It enables tracking of
// job lifecycle from admission through completion, failure or cancellation.
type JobStatus string

const (
	// JobStatusQueued indicates a job has been admitted and is waiting for a
	// concurrency slot.
	JobStatusQueued JobStatus = "queued"

	// JobStatusRunning indicates a job has been handed to an executor.
	JobStatusRunning JobStatus = "running"

	// JobStatusCompleted indicates the executor reported success with a result.
	JobStatusCompleted JobStatus = "completed"

	// JobStatusFailed indicates the executor errored or the job timed out.
	JobStatusFailed JobStatus = "failed"

	// JobStatusCancelled indicates the job was cancelled while queued, or the
	// executor acknowledged a cancellation request.
	JobStatusCancelled JobStatus = "cancelled"
)

// AllJobStatuses lists every status in lifecycle order.
var AllJobStatuses = []JobStatus{
	JobStatusQueued,
	JobStatusRunning,
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusCancelled,
}

func (s JobStatus) String() string { return string(s) }

// Int32 returns a stable numeric code for the status, used by the history store.
func (s JobStatus) Int32() int32 {
	switch s {
	case JobStatusQueued:
		return 1
	case JobStatusRunning:
		return 2
	case JobStatusCompleted:
		return 3
	case JobStatusFailed:
		return 4
	case JobStatusCancelled:
		return 5
	default:
		return 0
	}
}

// ParseJobStatus converts a string to a JobStatus. It returns an empty status
// for unknown values.
func ParseJobStatus(s string) JobStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued":
		return JobStatusQueued
	case "running":
		return JobStatusRunning
	case "completed":
		return JobStatusCompleted
	case "failed":
		return JobStatusFailed
	case "cancelled", "canceled":
		return JobStatusCancelled
	default:
		return "" // represents unspecified
	}
}

// IsTerminal reports whether no further transition can leave this status.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// ValidateTransition checks if a status transition is valid and returns an error if not.
func (s JobStatus) ValidateTransition(target JobStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("%w from %s to %s", ErrInvalidTransition, s, target)
	}
	return nil
}

// isValidTransition checks if the current status can transition to the target status.
func (s JobStatus) isValidTransition(target JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return target == JobStatusRunning || target == JobStatusCancelled
	case JobStatusRunning:
		return target == JobStatusCompleted || target == JobStatusFailed || target == JobStatusCancelled
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		// Terminal states - no further transitions allowed.
		return false
	default:
		return false
	}
}
