package scanning

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var trackerEpoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestProgressTrackerUpdate(t *testing.T) {
	tests := []struct {
		name      string
		processed int64
		total     int64
		elapsed   time.Duration
		wantPct   float64
		wantETA   *time.Duration
	}{
		{
			name:      "zero total never yields NaN",
			processed: 0,
			total:     0,
			elapsed:   time.Second,
			wantPct:   0,
			wantETA:   nil,
		},
		{
			name:      "nothing processed has no ETA",
			processed: 0,
			total:     10,
			elapsed:   time.Second,
			wantPct:   0,
			wantETA:   nil,
		},
		{
			name:      "halfway",
			processed: 5,
			total:     10,
			elapsed:   10 * time.Second,
			wantPct:   50,
			wantETA:   durationPtr(10 * time.Second),
		},
		{
			name:      "processed beyond total clamps",
			processed: 12,
			total:     10,
			elapsed:   6 * time.Second,
			wantPct:   100,
			wantETA:   durationPtr(0),
		},
		{
			name:      "processed with zero total",
			processed: 3,
			total:     0,
			elapsed:   3 * time.Second,
			wantPct:   0,
			wantETA:   durationPtr(0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewProgressTracker(trackerEpoch)
			p, ok := tr.Update(tt.processed, tt.total, "a.go", trackerEpoch.Add(tt.elapsed))
			require.True(t, ok)

			assert.False(t, math.IsNaN(p.Percentage))
			assert.InDelta(t, tt.wantPct, p.Percentage, 0.0001)
			assert.Equal(t, tt.wantETA, p.EstimatedTimeRemaining)
			assert.Equal(t, tt.elapsed, p.ElapsedTime)
		})
	}
}

func TestProgressTrackerIgnoresRegressions(t *testing.T) {
	tr := NewProgressTracker(trackerEpoch)

	_, ok := tr.Update(6, 10, "b.go", trackerEpoch.Add(time.Second))
	require.True(t, ok)

	p, ok := tr.Update(4, 10, "a.go", trackerEpoch.Add(2*time.Second))
	assert.False(t, ok)
	assert.Equal(t, int64(6), p.ProcessedFiles)
	assert.Equal(t, "b.go", p.CurrentFile)

	_, ok = tr.Update(-1, 10, "", trackerEpoch.Add(2*time.Second))
	assert.False(t, ok)
}

func TestProgressTrackerPercentageNeverDecreases(t *testing.T) {
	tr := NewProgressTracker(trackerEpoch)

	p1, _ := tr.Update(5, 10, "", trackerEpoch.Add(time.Second))
	// Total grows as more files are discovered.
	p2, ok := tr.Update(6, 40, "", trackerEpoch.Add(2*time.Second))
	require.True(t, ok)

	assert.InDelta(t, 50, p1.Percentage, 0.0001)
	assert.GreaterOrEqual(t, p2.Percentage, p1.Percentage)
	assert.Equal(t, int64(40), p2.TotalFiles)
}

func TestProgressSnapshotIsACopy(t *testing.T) {
	tr := NewProgressTracker(trackerEpoch)
	p, _ := tr.Update(1, 2, "", trackerEpoch.Add(2*time.Second))
	*p.EstimatedTimeRemaining = time.Hour

	assert.Equal(t, 2*time.Second, *tr.Snapshot().EstimatedTimeRemaining)
}

func TestProgressMarshalJSON(t *testing.T) {
	tr := NewProgressTracker(trackerEpoch)
	p, _ := tr.Update(0, 0, "", trackerEpoch.Add(1500*time.Millisecond))

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"percentage": 0,
		"processed_files": 0,
		"total_files": 0,
		"elapsed_seconds": 1.5,
		"estimated_seconds_remaining": null
	}`, string(data))
}

func durationPtr(d time.Duration) *time.Duration { return &d }
