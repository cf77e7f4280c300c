package scanning

import (
	"encoding/json"
	"math"
	"time"
)

// Progress is a normalized point-in-time view of a running scan.
type Progress struct {
	Percentage     float64
	ProcessedFiles int64
	TotalFiles     int64
	CurrentFile    string
	ElapsedTime    time.Duration
	// EstimatedTimeRemaining is nil until at least one file has been processed.
	EstimatedTimeRemaining *time.Duration
}

// MarshalJSON renders durations as seconds so consumers never see a
// non-finite number.
func (p Progress) MarshalJSON() ([]byte, error) {
	type wire struct {
		Percentage             float64  `json:"percentage"`
		ProcessedFiles         int64    `json:"processed_files"`
		TotalFiles             int64    `json:"total_files"`
		CurrentFile            string   `json:"current_file,omitempty"`
		ElapsedSeconds         float64  `json:"elapsed_seconds"`
		EstimatedSecondsRemain *float64 `json:"estimated_seconds_remaining"`
	}

	w := wire{
		Percentage:     p.Percentage,
		ProcessedFiles: p.ProcessedFiles,
		TotalFiles:     p.TotalFiles,
		CurrentFile:    p.CurrentFile,
		ElapsedSeconds: p.ElapsedTime.Seconds(),
	}
	if p.EstimatedTimeRemaining != nil {
		secs := p.EstimatedTimeRemaining.Seconds()
		w.EstimatedSecondsRemain = &secs
	}
	return json.Marshal(w)
}

// ProgressTracker turns raw executor callbacks into Progress snapshots. Only
// executor callbacks move it; terminal transitions leave the last report as is.
// It is not safe for concurrent use; the owning Job serializes access.
type ProgressTracker struct {
	startedAt time.Time
	current   Progress
}

// NewProgressTracker returns a tracker anchored at startedAt.
func NewProgressTracker(startedAt time.Time) *ProgressTracker {
	return &ProgressTracker{startedAt: startedAt}
}

// Update applies a callback and reports whether it changed the snapshot.
// Callbacks reporting fewer processed files than already recorded are ignored,
// and the percentage never decreases even if the total grows.
func (t *ProgressTracker) Update(processed, total int64, currentFile string, now time.Time) (Progress, bool) {
	if processed < 0 || total < 0 || processed < t.current.ProcessedFiles {
		return t.Snapshot(), false
	}

	elapsed := max(now.Sub(t.startedAt), 0)

	pct := max(percentage(processed, total), t.current.Percentage)

	t.current = Progress{
		Percentage:             pct,
		ProcessedFiles:         processed,
		TotalFiles:             total,
		CurrentFile:            currentFile,
		ElapsedTime:            elapsed,
		EstimatedTimeRemaining: estimateRemaining(elapsed, processed, total),
	}
	return t.Snapshot(), true
}

// Snapshot returns a copy of the latest progress.
func (t *ProgressTracker) Snapshot() Progress {
	p := t.current
	if p.EstimatedTimeRemaining != nil {
		eta := *p.EstimatedTimeRemaining
		p.EstimatedTimeRemaining = &eta
	}
	return p
}

// percentage is processed/total*100 clamped to [0, 100]; zero when total is zero.
func percentage(processed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	pct := float64(processed) / float64(total) * 100
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		return 0
	}
	return math.Min(math.Max(pct, 0), 100)
}

// estimateRemaining extrapolates elapsed time over the files still pending.
// It returns nil when nothing has been processed or the result is not finite.
func estimateRemaining(elapsed time.Duration, processed, total int64) *time.Duration {
	if processed <= 0 {
		return nil
	}

	remaining := max(total-processed, 0)
	eta := float64(elapsed) * float64(remaining) / float64(processed)
	if math.IsNaN(eta) || math.IsInf(eta, 0) || eta > math.MaxInt64 {
		return nil
	}

	d := time.Duration(eta)
	return &d
}
