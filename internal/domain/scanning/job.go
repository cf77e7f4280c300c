package scanning

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job is one unit of scheduled analysis work. Its identity and request are
// immutable; status, progress and outcome change under the job's own lock so
// executor callbacks and queue reads never race.
type Job struct {
	jobID uuid.UUID
	spec  ScanSpec

	mu              sync.RWMutex
	status          JobStatus
	cancelRequested bool
	tracker         *ProgressTracker
	result          *ScanResult
	failure         *JobError
	timeline        *Timeline
}

// NewJob creates a queued Job for the validated spec. A nil TimeProvider uses
// the wall clock.
func NewJob(jobID uuid.UUID, spec ScanSpec, tp TimeProvider) *Job {
	return &Job{
		jobID:    jobID,
		spec:     spec,
		status:   JobStatusQueued,
		timeline: NewTimeline(tp),
	}
}

// JobID returns the unique identifier for this scan job.
func (j *Job) JobID() uuid.UUID { return j.jobID }

// Spec returns the immutable request the job was admitted with.
func (j *Job) Spec() ScanSpec { return j.spec }

// Status returns the current execution status of the scan job.
func (j *Job) Status() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// CreatedAt returns the admission time.
func (j *Job) CreatedAt() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.timeline.CreatedAt()
}

// StartedAt returns the dispatch time, zero if the job never ran.
func (j *Job) StartedAt() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.timeline.StartedAt()
}

// CompletedAt returns when the job became terminal, zero if it has not.
func (j *Job) CompletedAt() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.timeline.CompletedAt()
}

// Start moves the job to running and returns the start time.
func (j *Job) Start() (time.Time, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.transition(JobStatusRunning); err != nil {
		return time.Time{}, err
	}
	startedAt := j.timeline.MarkStarted()
	j.tracker = NewProgressTracker(startedAt)
	return startedAt, nil
}

// UpdateProgress applies an executor callback. Updates outside the running
// state, regressions and updates after a terminal transition are ignored.
func (j *Job) UpdateProgress(processed, total int64, currentFile string) (Progress, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != JobStatusRunning || j.tracker == nil {
		return j.progressLocked(), false
	}

	p, ok := j.tracker.Update(processed, total, currentFile, j.timeline.Now())
	if ok {
		j.timeline.UpdateLastUpdate()
	}
	return p, ok
}

// Complete records the result and moves the job to completed.
func (j *Job) Complete(result *ScanResult) error {
	if result == nil {
		return errors.New("complete requires a result")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.transition(JobStatusCompleted); err != nil {
		return err
	}
	j.result = result.clone()
	j.timeline.MarkCompleted()
	return nil
}

// Fail records the failure payload and moves the job to failed.
func (j *Job) Fail(jobErr *JobError) error {
	if jobErr == nil {
		return errors.New("fail requires an error payload")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.transition(JobStatusFailed); err != nil {
		return err
	}
	j.failure = &JobError{Kind: jobErr.Kind, Message: jobErr.Message}
	j.timeline.MarkCompleted()
	return nil
}

// Cancel moves a queued job, or a running job whose executor acknowledged
// cancellation, to cancelled.
func (j *Job) Cancel() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status.IsTerminal() {
		return fmt.Errorf("%w: job is %s", ErrNotCancellable, j.status)
	}
	if err := j.transition(JobStatusCancelled); err != nil {
		return err
	}
	j.timeline.MarkCompleted()
	return nil
}

// RequestCancel flags a running job for cooperative cancellation. A second
// request, or a request against a job that is not running, is rejected.
func (j *Job) RequestCancel() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != JobStatusRunning {
		return fmt.Errorf("%w: job is %s", ErrNotCancellable, j.status)
	}
	if j.cancelRequested {
		return fmt.Errorf("%w: cancellation already requested", ErrNotCancellable)
	}
	j.cancelRequested = true
	j.timeline.UpdateLastUpdate()
	return nil
}

// CancelRequested reports whether a running job is awaiting cancellation.
func (j *Job) CancelRequested() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.cancelRequested
}

// Snapshot returns a consistent value copy of the job.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	snap := JobSnapshot{
		ID:              j.jobID,
		Status:          j.status,
		Spec:            j.spec,
		Progress:        j.progressLocked(),
		Result:          j.result,
		CancelRequested: j.cancelRequested,
		CreatedAt:       j.timeline.CreatedAt(),
		UpdatedAt:       j.timeline.LastUpdate(),
	}
	if j.failure != nil {
		f := *j.failure
		snap.Error = &f
	}
	if t := j.timeline.StartedAt(); !t.IsZero() {
		snap.StartedAt = &t
	}
	if t := j.timeline.CompletedAt(); !t.IsZero() {
		snap.CompletedAt = &t
	}
	return snap
}

func (j *Job) progressLocked() Progress {
	if j.tracker == nil {
		return Progress{}
	}
	return j.tracker.Snapshot()
}

func (j *Job) transition(target JobStatus) error {
	if err := j.status.ValidateTransition(target); err != nil {
		return err
	}
	j.status = target
	return nil
}

// JobSnapshot is an immutable point-in-time copy of a Job used by every read
// path, event and persistence call. Result is shared with the job and must not
// be modified.
type JobSnapshot struct {
	ID              uuid.UUID
	Status          JobStatus
	Spec            ScanSpec
	Progress        Progress
	Result          *ScanResult
	Error           *JobError
	CancelRequested bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}
