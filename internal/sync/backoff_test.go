package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesPerAttempt(t *testing.T) {
	base := 30 * time.Second
	cap := 600 * time.Second

	assert.Equal(t, 30*time.Second, Backoff(1, base, cap))
	assert.Equal(t, 60*time.Second, Backoff(2, base, cap))
	assert.Equal(t, 120*time.Second, Backoff(3, base, cap))
	assert.Equal(t, 240*time.Second, Backoff(4, base, cap))
}

func TestBackoffIsStrictlyIncreasingUntilCap(t *testing.T) {
	base := 30 * time.Second
	cap := 600 * time.Second

	prev := time.Duration(0)
	for attempt := 1; attempt <= 5; attempt++ {
		d := Backoff(attempt, base, cap)
		assert.Greater(t, d, prev, "attempt %d", attempt)
		prev = d
	}
}

func TestBackoffIsCapped(t *testing.T) {
	base := 30 * time.Second
	cap := 600 * time.Second

	assert.Equal(t, cap, Backoff(6, base, cap))
	assert.Equal(t, cap, Backoff(50, base, cap))
}

func TestBackoffClampsBadInput(t *testing.T) {
	base := 30 * time.Second
	cap := 600 * time.Second

	assert.Equal(t, base, Backoff(0, base, cap))
	assert.Equal(t, base, Backoff(-3, base, cap))
}
