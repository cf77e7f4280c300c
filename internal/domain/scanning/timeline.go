package scanning

import "time"

// TimeProvider is an interface that provides a Now method to get the current time.
type TimeProvider interface {
	Now() time.Time
}

// realTimeProvider is the production clock.
type realTimeProvider struct{}

func (realTimeProvider) Now() time.Time { return time.Now().UTC() }

// Timeline tracks temporal aspects of scan jobs. StartedAt and CompletedAt stay
// zero until reached.
type Timeline struct {
	createdAt    time.Time
	startedAt    time.Time
	completedAt  time.Time
	lastUpdate   time.Time
	timeProvider TimeProvider
}

// NewTimeline creates a new Timeline instance stamped with the creation time.
func NewTimeline(timeProvider TimeProvider) *Timeline {
	if timeProvider == nil {
		timeProvider = realTimeProvider{}
	}
	now := timeProvider.Now()
	return &Timeline{
		createdAt:    now,
		lastUpdate:   now,
		timeProvider: timeProvider,
	}
}

// ReconstructTimeline rebuilds a timeline from stored values.
func ReconstructTimeline(createdAt, startedAt, completedAt, lastUpdate time.Time) *Timeline {
	return &Timeline{
		createdAt:    createdAt,
		startedAt:    startedAt,
		completedAt:  completedAt,
		lastUpdate:   lastUpdate,
		timeProvider: realTimeProvider{},
	}
}

// CreatedAt returns the admission time.
func (t *Timeline) CreatedAt() time.Time { return t.createdAt }

// StartedAt returns the time the scan job was dispatched.
func (t *Timeline) StartedAt() time.Time { return t.startedAt }

// CompletedAt returns the time the scan job reached a terminal state.
func (t *Timeline) CompletedAt() time.Time { return t.completedAt }

// LastUpdate returns the time the scan job was last updated.
func (t *Timeline) LastUpdate() time.Time { return t.lastUpdate }

// Now reads the timeline's clock.
func (t *Timeline) Now() time.Time { return t.timeProvider.Now() }

// MarkStarted records the dispatch time. Timestamps never move backwards
// relative to creation.
func (t *Timeline) MarkStarted() time.Time {
	t.startedAt = t.monotonic(t.createdAt)
	t.lastUpdate = t.startedAt
	return t.startedAt
}

// MarkCompleted records completion time.
func (t *Timeline) MarkCompleted() time.Time {
	floor := t.createdAt
	if !t.startedAt.IsZero() {
		floor = t.startedAt
	}
	t.completedAt = t.monotonic(floor)
	t.lastUpdate = t.completedAt
	return t.completedAt
}

// UpdateLastUpdate updates the last update timestamp.
func (t *Timeline) UpdateLastUpdate() {
	t.lastUpdate = t.monotonic(t.lastUpdate)
}

// IsCompleted checks if the timeline has been marked as completed.
func (t *Timeline) IsCompleted() bool { return !t.completedAt.IsZero() }

func (t *Timeline) monotonic(floor time.Time) time.Time {
	now := t.timeProvider.Now()
	if now.Before(floor) {
		return floor
	}
	return now
}
