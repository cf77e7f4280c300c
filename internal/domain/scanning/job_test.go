package scanning

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockTimeProvider struct {
	mu  sync.Mutex
	now time.Time
}

func newMockTimeProvider(now time.Time) *mockTimeProvider { return &mockTimeProvider{now: now} }

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func newTestJob(t *testing.T, tp TimeProvider) *Job {
	t.Helper()
	spec, err := ScanRequest{Target: "/srv/repo"}.Validate()
	require.NoError(t, err)
	return NewJob(uuid.New(), spec, tp)
}

func TestNewJobIsQueued(t *testing.T) {
	tp := newMockTimeProvider(trackerEpoch)
	job := newTestJob(t, tp)

	snap := job.Snapshot()
	assert.Equal(t, JobStatusQueued, snap.Status)
	assert.Equal(t, trackerEpoch, snap.CreatedAt)
	assert.Nil(t, snap.StartedAt)
	assert.Nil(t, snap.CompletedAt)
	assert.Nil(t, snap.Result)
	assert.Nil(t, snap.Error)
	assert.Equal(t, Progress{}, snap.Progress)
}

func TestJobLifecycleCompleted(t *testing.T) {
	tp := newMockTimeProvider(trackerEpoch)
	job := newTestJob(t, tp)

	tp.Advance(time.Second)
	startedAt, err := job.Start()
	require.NoError(t, err)
	assert.Equal(t, trackerEpoch.Add(time.Second), startedAt)

	tp.Advance(time.Second)
	p, ok := job.UpdateProgress(1, 4, "a.go")
	require.True(t, ok)
	assert.InDelta(t, 25, p.Percentage, 0.001)

	tp.Advance(time.Second)
	require.NoError(t, job.Complete(&ScanResult{FilesScanned: 4, Findings: []Finding{{RuleID: "aws-access-key"}}}))

	snap := job.Snapshot()
	assert.Equal(t, JobStatusCompleted, snap.Status)
	require.NotNil(t, snap.Result)
	assert.Len(t, snap.Result.Findings, 1)
	assert.Nil(t, snap.Error)
	assert.InDelta(t, 25, snap.Progress.Percentage, 0.001)
	require.NotNil(t, snap.CompletedAt)
	assert.True(t, !snap.CompletedAt.Before(*snap.StartedAt))
	assert.True(t, !snap.StartedAt.Before(snap.CreatedAt))
}

func TestJobTerminalTransitionsKeepReportedProgress(t *testing.T) {
	tests := []struct {
		name   string
		finish func(*Job) error
		want   JobStatus
	}{
		{
			name:   "completed",
			finish: func(j *Job) error { return j.Complete(&ScanResult{FilesScanned: 3}) },
			want:   JobStatusCompleted,
		},
		{
			name:   "failed",
			finish: func(j *Job) error { return j.Fail(NewTimeoutError("job exceeded timeout")) },
			want:   JobStatusFailed,
		},
		{
			name: "cancelled",
			finish: func(j *Job) error {
				if err := j.RequestCancel(); err != nil {
					return err
				}
				return j.Cancel()
			},
			want: JobStatusCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp := newMockTimeProvider(trackerEpoch)
			job := newTestJob(t, tp)
			_, err := job.Start()
			require.NoError(t, err)

			tp.Advance(time.Second)
			reported, ok := job.UpdateProgress(3, 10, "a.go")
			require.True(t, ok)

			tp.Advance(time.Second)
			require.NoError(t, tt.finish(job))

			snap := job.Snapshot()
			assert.Equal(t, tt.want, snap.Status)
			assert.Equal(t, reported, snap.Progress)
			assert.Equal(t, int64(3), snap.Progress.ProcessedFiles)
			assert.Equal(t, int64(10), snap.Progress.TotalFiles)
			assert.InDelta(t, 30, snap.Progress.Percentage, 0.001)
		})
	}
}

func TestJobFailRecordsPayload(t *testing.T) {
	job := newTestJob(t, nil)
	_, err := job.Start()
	require.NoError(t, err)

	require.NoError(t, job.Fail(NewExecutorError(errors.New("permission denied"))))

	snap := job.Snapshot()
	assert.Equal(t, JobStatusFailed, snap.Status)
	require.NotNil(t, snap.Error)
	assert.Equal(t, ErrorKindExecutor, snap.Error.Kind)
	assert.Equal(t, "permission denied", snap.Error.Message)
	assert.Nil(t, snap.Result)
}

func TestJobCompleteRequiresRunning(t *testing.T) {
	job := newTestJob(t, nil)
	err := job.Complete(&ScanResult{})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	assert.Error(t, job.Complete(nil))
	assert.Error(t, job.Fail(nil))
}

func TestJobTerminalFinality(t *testing.T) {
	job := newTestJob(t, nil)
	_, err := job.Start()
	require.NoError(t, err)
	require.NoError(t, job.Fail(NewTimeoutError("deadline exceeded")))

	before := job.Snapshot()

	_, ok := job.UpdateProgress(10, 10, "late.go")
	assert.False(t, ok)
	assert.ErrorIs(t, job.Complete(&ScanResult{}), ErrInvalidTransition)
	assert.ErrorIs(t, job.Cancel(), ErrNotCancellable)
	assert.ErrorIs(t, job.RequestCancel(), ErrNotCancellable)
	_, err = job.Start()
	assert.ErrorIs(t, err, ErrInvalidTransition)

	assert.Equal(t, before, job.Snapshot())
}

func TestJobCancelQueued(t *testing.T) {
	job := newTestJob(t, nil)
	require.NoError(t, job.Cancel())

	snap := job.Snapshot()
	assert.Equal(t, JobStatusCancelled, snap.Status)
	assert.Nil(t, snap.StartedAt)
	assert.NotNil(t, snap.CompletedAt)
	assert.ErrorIs(t, job.Cancel(), ErrNotCancellable)
}

func TestJobRequestCancelOnlyOnce(t *testing.T) {
	job := newTestJob(t, nil)
	assert.ErrorIs(t, job.RequestCancel(), ErrNotCancellable, "queued jobs are cancelled directly")

	_, err := job.Start()
	require.NoError(t, err)

	require.NoError(t, job.RequestCancel())
	assert.True(t, job.CancelRequested())
	assert.ErrorIs(t, job.RequestCancel(), ErrNotCancellable)
	assert.Equal(t, JobStatusRunning, job.Status())

	require.NoError(t, job.Cancel())
	assert.Equal(t, JobStatusCancelled, job.Status())
}

func TestJobConcurrentProgressIsMonotonic(t *testing.T) {
	job := newTestJob(t, nil)
	_, err := job.Start()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := int64(1); i <= 100; i++ {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			job.UpdateProgress(n, 100, "")
		}(i)
	}

	var last float64
	for range 50 {
		p := job.Snapshot().Progress
		assert.GreaterOrEqual(t, p.Percentage, last)
		last = p.Percentage
	}
	wg.Wait()

	assert.Equal(t, int64(100), job.Snapshot().Progress.ProcessedFiles)
}

func TestJobLifecycleEvent(t *testing.T) {
	tp := newMockTimeProvider(trackerEpoch)
	job := newTestJob(t, tp)

	evt := NewJobLifecycleEvent(job.Snapshot())
	assert.Equal(t, EventTypeJobQueued, evt.EventType())
	assert.Nil(t, evt.Progress)
	assert.False(t, evt.IsTerminal())

	_, err := job.Start()
	require.NoError(t, err)
	assert.Equal(t, EventTypeJobStarted, NewJobLifecycleEvent(job.Snapshot()).EventType())

	require.NoError(t, job.Complete(&ScanResult{FilesScanned: 3, FilesSkipped: 1}))
	evt = NewJobLifecycleEvent(job.Snapshot())
	assert.Equal(t, EventTypeJobCompleted, evt.EventType())
	assert.True(t, evt.IsTerminal())
	require.NotNil(t, evt.Summary)
	assert.Equal(t, int64(3), evt.Summary.FilesScanned)

	data, err := json.Marshal(evt)
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, "completed", frame["type"])
	assert.Equal(t, job.JobID().String(), frame["job_id"])
	assert.Equal(t, "completed", frame["status"])
}

func TestJobProgressedEvent(t *testing.T) {
	id := uuid.New()
	evt := NewJobProgressedEvent(id, Progress{Percentage: 40, ProcessedFiles: 4, TotalFiles: 10}, trackerEpoch)

	assert.Equal(t, EventTypeJobProgressed, evt.EventType())
	assert.Equal(t, "progress", EventKind(evt.EventType()))
	assert.Equal(t, trackerEpoch, evt.OccurredAt())
	assert.False(t, evt.IsTerminal())
}
