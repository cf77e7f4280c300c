package scanning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTransition_ValidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		current JobStatus
		target  JobStatus
	}{
		{name: "Queued to Running is valid", current: JobStatusQueued, target: JobStatusRunning},
		{name: "Queued to Cancelled is valid", current: JobStatusQueued, target: JobStatusCancelled},
		{name: "Running to Completed is valid", current: JobStatusRunning, target: JobStatusCompleted},
		{name: "Running to Failed is valid", current: JobStatusRunning, target: JobStatusFailed},
		{name: "Running to Cancelled is valid", current: JobStatusRunning, target: JobStatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.current.ValidateTransition(tt.target)
			assert.NoError(t, err, "expected valid transition from %s to %s", tt.current, tt.target)
		})
	}
}

func TestValidateTransition_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		current JobStatus
		target  JobStatus
	}{
		{name: "Queued to Completed is invalid", current: JobStatusQueued, target: JobStatusCompleted},
		{name: "Queued to Failed is invalid", current: JobStatusQueued, target: JobStatusFailed},
		{name: "Queued to Queued is invalid", current: JobStatusQueued, target: JobStatusQueued},
		{name: "Running to Queued is invalid", current: JobStatusRunning, target: JobStatusQueued},
		{name: "Running to Running is invalid", current: JobStatusRunning, target: JobStatusRunning},
		{name: "Unknown status is invalid", current: JobStatus("paused"), target: JobStatusRunning},
	}

	for _, terminal := range []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled} {
		for _, target := range AllJobStatuses {
			tests = append(tests, struct {
				name    string
				current JobStatus
				target  JobStatus
			}{name: string(terminal) + " to " + string(target) + " is invalid", current: terminal, target: target})
		}
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.current.ValidateTransition(tt.target)
			assert.ErrorIs(t, err, ErrInvalidTransition)
		})
	}
}

func TestParseJobStatus(t *testing.T) {
	tests := []struct {
		in   string
		want JobStatus
	}{
		{in: "queued", want: JobStatusQueued},
		{in: "RUNNING", want: JobStatusRunning},
		{in: " completed ", want: JobStatusCompleted},
		{in: "failed", want: JobStatusFailed},
		{in: "canceled", want: JobStatusCancelled},
		{in: "cancelled", want: JobStatusCancelled},
		{in: "bogus", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseJobStatus(tt.in))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, JobStatusQueued.IsTerminal())
	assert.False(t, JobStatusRunning.IsTerminal())
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.True(t, JobStatusCancelled.IsTerminal())
}
