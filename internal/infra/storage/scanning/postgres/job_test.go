package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appscanning "github.com/ahrav/scanq/internal/app/scanning"
	"github.com/ahrav/scanq/internal/domain/scanning"
	"github.com/ahrav/scanq/internal/infra/storage"
)

// stepClock advances one second on every reading so timestamps are distinct
// and survive postgres' microsecond precision.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock(start time.Time) *stepClock { return &stepClock{now: start} }

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func setupJobTest(t *testing.T) (context.Context, *jobStore) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	pool, cleanup := storage.SetupTestContainer(t)
	t.Cleanup(cleanup)
	return context.Background(), NewJobStore(pool, storage.NoOpTracer())
}

func terminalSnapshot(t *testing.T, clock scanning.TimeProvider, target string, status scanning.JobStatus) scanning.JobSnapshot {
	t.Helper()

	spec := scanning.NewScanSpec(scanning.TargetTypePath, target, scanning.ScanOptions{
		Exclude: []string{"*.log"},
		Labels:  map[string]string{"team": "platform"},
	})
	job := scanning.NewJob(uuid.New(), spec, clock)
	if status == scanning.JobStatusCancelled {
		require.NoError(t, job.Cancel())
		return job.Snapshot()
	}

	_, err := job.Start()
	require.NoError(t, err)
	job.UpdateProgress(3, 4, "a.go")

	switch status {
	case scanning.JobStatusCompleted:
		require.NoError(t, job.Complete(&scanning.ScanResult{
			FilesScanned: 4,
			FilesSkipped: 1,
			BytesScanned: 2048,
			Duration:     1500 * time.Millisecond,
			Findings: []scanning.Finding{{
				RuleID:      "aws-access-token",
				File:        "a.go",
				StartLine:   3,
				EndLine:     3,
				Match:       "REDACTED",
				Fingerprint: "a.go:aws-access-token:3",
				Tags:        []string{"key"},
			}},
		}))
	case scanning.JobStatusFailed:
		require.NoError(t, job.Fail(scanning.NewTimeoutError("job exceeded timeout of 30m0s")))
	default:
		t.Fatalf("unsupported status %s", status)
	}
	return job.Snapshot()
}

func TestJobStore_ArchiveAndGet(t *testing.T) {
	t.Parallel()
	ctx, store := setupJobTest(t)
	clock := newStepClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	snap := terminalSnapshot(t, clock, "/srv/repo", scanning.JobStatusCompleted)
	require.NoError(t, store.ArchiveJob(ctx, snap))

	loaded, err := store.GetJob(ctx, snap.ID)
	require.NoError(t, err)

	assert.Equal(t, snap.ID, loaded.ID)
	assert.Equal(t, scanning.JobStatusCompleted, loaded.Status)
	assert.Equal(t, snap.Spec.Path(), loaded.Spec.Path())
	assert.Equal(t, snap.Spec.Options().Exclude, loaded.Spec.Options().Exclude)
	assert.Equal(t, "platform", loaded.Spec.Options().Labels["team"])
	assert.Equal(t, int64(3), loaded.Progress.ProcessedFiles)
	assert.Equal(t, int64(4), loaded.Progress.TotalFiles)
	assert.InDelta(t, snap.Progress.Percentage, loaded.Progress.Percentage, 0.001)
	assert.True(t, snap.CreatedAt.Equal(loaded.CreatedAt))
	require.NotNil(t, loaded.CompletedAt)
	assert.True(t, snap.CompletedAt.Equal(*loaded.CompletedAt))

	require.NotNil(t, loaded.Result)
	assert.Equal(t, int64(4), loaded.Result.FilesScanned)
	assert.Equal(t, 1500*time.Millisecond, loaded.Result.Duration)
	require.Len(t, loaded.Result.Findings, 1)
	assert.Equal(t, snap.Result.Findings[0], loaded.Result.Findings[0])
	assert.Nil(t, loaded.Error)
}

func TestJobStore_ArchiveFailedJobKeepsError(t *testing.T) {
	t.Parallel()
	ctx, store := setupJobTest(t)
	clock := newStepClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	snap := terminalSnapshot(t, clock, "/srv/slow", scanning.JobStatusFailed)
	require.NoError(t, store.ArchiveJob(ctx, snap))

	loaded, err := store.GetJob(ctx, snap.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.Error)
	assert.Equal(t, scanning.ErrorKindTimeout, loaded.Error.Kind)
	assert.Nil(t, loaded.Result)

	// Archiving twice overwrites instead of failing.
	require.NoError(t, store.ArchiveJob(ctx, snap))
}

func TestJobStore_RejectsNonTerminalSnapshot(t *testing.T) {
	t.Parallel()
	ctx, store := setupJobTest(t)

	job := scanning.NewJob(uuid.New(), scanning.NewScanSpec(scanning.TargetTypePath, "/srv/repo", scanning.ScanOptions{}), nil)
	require.Error(t, store.ArchiveJob(ctx, job.Snapshot()))
}

func TestJobStore_GetJobNotFound(t *testing.T) {
	t.Parallel()
	ctx, store := setupJobTest(t)

	_, err := store.GetJob(ctx, uuid.New())
	require.ErrorIs(t, err, scanning.ErrJobNotFound)
}

func TestJobStore_ListJobs(t *testing.T) {
	t.Parallel()
	ctx, store := setupJobTest(t)
	clock := newStepClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	var archived []scanning.JobSnapshot
	for _, status := range []scanning.JobStatus{
		scanning.JobStatusCompleted,
		scanning.JobStatusFailed,
		scanning.JobStatusCancelled,
		scanning.JobStatusCompleted,
	} {
		snap := terminalSnapshot(t, clock, "/srv/repo", status)
		require.NoError(t, store.ArchiveJob(ctx, snap))
		archived = append(archived, snap)
	}

	tests := []struct {
		name      string
		opts      appscanning.ListOptions
		wantIDs   []uuid.UUID
		wantTotal int
	}{
		{
			name:      "all newest first",
			opts:      appscanning.ListOptions{},
			wantIDs:   []uuid.UUID{archived[3].ID, archived[2].ID, archived[1].ID, archived[0].ID},
			wantTotal: 4,
		},
		{
			name:      "paged",
			opts:      appscanning.ListOptions{Limit: 2, Offset: 1},
			wantIDs:   []uuid.UUID{archived[2].ID, archived[1].ID},
			wantTotal: 4,
		},
		{
			name:      "status filter",
			opts:      appscanning.ListOptions{Status: scanning.JobStatusCompleted},
			wantIDs:   []uuid.UUID{archived[3].ID, archived[0].ID},
			wantTotal: 2,
		},
		{
			name:      "offset past end",
			opts:      appscanning.ListOptions{Offset: 10},
			wantIDs:   []uuid.UUID{},
			wantTotal: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := store.ListJobs(ctx, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, page.Total)

			ids := make([]uuid.UUID, 0, len(page.Jobs))
			for _, j := range page.Jobs {
				ids = append(ids, j.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}
