package scanning

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/scanq/internal/domain/events"
)

// Event types relevant to Jobs.
const (
	EventTypeJobQueued     events.EventType = "JobQueued"
	EventTypeJobStarted    events.EventType = "JobStarted"
	EventTypeJobProgressed events.EventType = "JobProgressed"
	EventTypeJobCompleted  events.EventType = "JobCompleted"
	EventTypeJobFailed     events.EventType = "JobFailed"
	EventTypeJobCancelled  events.EventType = "JobCancelled"
)

// eventKinds maps event types onto the short kind names used on the wire.
var eventKinds = map[events.EventType]string{
	EventTypeJobQueued:     "queued",
	EventTypeJobStarted:    "started",
	EventTypeJobProgressed: "progress",
	EventTypeJobCompleted:  "completed",
	EventTypeJobFailed:     "failed",
	EventTypeJobCancelled:  "cancelled",
}

// EventKind returns the wire name for a job event type.
func EventKind(t events.EventType) string { return eventKinds[t] }

// ResultSummary carries the headline numbers of a completed scan.
type ResultSummary struct {
	FilesScanned int64 `json:"files_scanned"`
	FilesSkipped int64 `json:"files_skipped"`
	Findings     int   `json:"findings"`
}

// JobEvent reports a lifecycle transition or a progress update for a job.
type JobEvent struct {
	eventType  events.EventType
	occurredAt time.Time

	JobID           uuid.UUID
	Status          JobStatus
	Progress        *Progress
	Error           *JobError
	Summary         *ResultSummary
	CancelRequested bool
}

// NewJobLifecycleEvent derives the event from the job's current status.
func NewJobLifecycleEvent(snap JobSnapshot) JobEvent {
	var et events.EventType
	switch snap.Status {
	case JobStatusQueued:
		et = EventTypeJobQueued
	case JobStatusRunning:
		et = EventTypeJobStarted
	case JobStatusCompleted:
		et = EventTypeJobCompleted
	case JobStatusFailed:
		et = EventTypeJobFailed
	case JobStatusCancelled:
		et = EventTypeJobCancelled
	}

	evt := JobEvent{
		eventType:       et,
		occurredAt:      snap.UpdatedAt,
		JobID:           snap.ID,
		Status:          snap.Status,
		Error:           snap.Error,
		CancelRequested: snap.CancelRequested,
	}
	if snap.Status != JobStatusQueued {
		p := snap.Progress
		evt.Progress = &p
	}
	if snap.Result != nil {
		evt.Summary = &ResultSummary{
			FilesScanned: snap.Result.FilesScanned,
			FilesSkipped: snap.Result.FilesSkipped,
			Findings:     len(snap.Result.Findings),
		}
	}
	return evt
}

// NewJobProgressedEvent reports a progress update for a running job.
func NewJobProgressedEvent(jobID uuid.UUID, p Progress, at time.Time) JobEvent {
	return JobEvent{
		eventType:  EventTypeJobProgressed,
		occurredAt: at,
		JobID:      jobID,
		Status:     JobStatusRunning,
		Progress:   &p,
	}
}

func (e JobEvent) EventType() events.EventType { return e.eventType }
func (e JobEvent) OccurredAt() time.Time       { return e.occurredAt }

// IsTerminal reports whether the event closes the job's lifecycle.
func (e JobEvent) IsTerminal() bool {
	return e.Status.IsTerminal() && e.eventType != EventTypeJobProgressed
}

// MarshalJSON renders the push-channel frame for the event.
func (e JobEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type            string         `json:"type"`
		JobID           string         `json:"job_id"`
		Status          JobStatus      `json:"status"`
		Progress        *Progress      `json:"progress,omitempty"`
		Error           *JobError      `json:"error,omitempty"`
		Summary         *ResultSummary `json:"summary,omitempty"`
		CancelRequested bool           `json:"cancel_requested,omitempty"`
		OccurredAt      time.Time      `json:"occurred_at"`
	}{
		Type:            EventKind(e.eventType),
		JobID:           e.JobID.String(),
		Status:          e.Status,
		Progress:        e.Progress,
		Error:           e.Error,
		Summary:         e.Summary,
		CancelRequested: e.CancelRequested,
		OccurredAt:      e.occurredAt,
	})
}
