package common

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow(), "burst of one should be exhausted")
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	for range 100 {
		assert.True(t, rl.Allow())
	}
	assert.NoError(t, rl.Wait(context.Background()))
}

func TestRateLimiterUpdateLimits(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	rl.UpdateLimits(0, 0)
	assert.True(t, rl.Allow())
}
