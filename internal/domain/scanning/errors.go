package scanning

import "errors"

// ErrorKind classifies scheduler failures. Admission-time kinds are returned
// synchronously; in-flight kinds are recorded on the job.
type ErrorKind string

const (
	ErrorKindInvalidRequest ErrorKind = "InvalidRequest"
	ErrorKindQueueFull      ErrorKind = "QueueFull"
	ErrorKindNotFound       ErrorKind = "NotFound"
	ErrorKindNotCancellable ErrorKind = "NotCancellable"
	ErrorKindTimeout        ErrorKind = "Timeout"
	ErrorKindExecutor       ErrorKind = "ExecutorError"
)

var (
	// ErrInvalidRequest is returned when a scan request is malformed or ill-typed.
	ErrInvalidRequest = errors.New("invalid scan request")
	// ErrQueueFull is returned when the queue is at capacity. Callers may retry later.
	ErrQueueFull = errors.New("scan queue is full")
	// ErrJobNotFound is returned for unknown or swept job ids.
	ErrJobNotFound = errors.New("scan job not found")
	// ErrNotCancellable is returned when cancelling a job that is terminal or
	// already has a pending cancellation.
	ErrNotCancellable = errors.New("scan job is not cancellable")
	// ErrJobTimeout marks a job that exceeded its deadline.
	ErrJobTimeout = errors.New("scan job exceeded its deadline")
	// ErrExecutor wraps failures raised by the scan executor.
	ErrExecutor = errors.New("scan executor failed")
	// ErrQueueClosed is returned by submissions after shutdown began.
	ErrQueueClosed = errors.New("scan queue is shut down")
	// ErrInvalidTransition is returned for illegal status changes.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// KindOf maps an error onto the scheduler taxonomy. It returns an empty kind
// for errors outside of it.
func KindOf(err error) ErrorKind {
	var jobErr *JobError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &jobErr):
		return jobErr.Kind
	case errors.Is(err, ErrInvalidRequest):
		return ErrorKindInvalidRequest
	case errors.Is(err, ErrQueueFull):
		return ErrorKindQueueFull
	case errors.Is(err, ErrJobNotFound):
		return ErrorKindNotFound
	case errors.Is(err, ErrNotCancellable):
		return ErrorKindNotCancellable
	case errors.Is(err, ErrJobTimeout):
		return ErrorKindTimeout
	case errors.Is(err, ErrExecutor):
		return ErrorKindExecutor
	default:
		return ""
	}
}

// JobError is the failure payload recorded on a failed job.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// NewExecutorError wraps an executor failure verbatim.
func NewExecutorError(err error) *JobError {
	return &JobError{Kind: ErrorKindExecutor, Message: err.Error()}
}

// NewTimeoutError records a deadline breach.
func NewTimeoutError(msg string) *JobError {
	return &JobError{Kind: ErrorKindTimeout, Message: msg}
}

func (e *JobError) Error() string { return string(e.Kind) + ": " + e.Message }

// Is lets errors.Is match a JobError against the sentinel for its kind.
func (e *JobError) Is(target error) bool {
	switch e.Kind {
	case ErrorKindTimeout:
		return target == ErrJobTimeout
	case ErrorKindExecutor:
		return target == ErrExecutor
	default:
		return false
	}
}
