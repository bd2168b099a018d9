package queue

import (
	"testing"
	"time"

	"chatqueue/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestFixedPacing(t *testing.T) {
	p := FixedPacing(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, p.Delay(models.QueuedMessage{}))
	assert.Equal(t, 100*time.Millisecond, p.Delay(models.QueuedMessage{RetryCount: 5}))
}

func TestBackoffPacing(t *testing.T) {
	p := NewBackoffPacing(100*time.Millisecond, time.Second)

	first := p.Delay(models.QueuedMessage{RetryCount: 0})
	assert.GreaterOrEqual(t, first, 100*time.Millisecond)
	assert.LessOrEqual(t, first, 125*time.Millisecond)

	third := p.Delay(models.QueuedMessage{RetryCount: 2})
	assert.GreaterOrEqual(t, third, 300*time.Millisecond)
	assert.LessOrEqual(t, third, 500*time.Millisecond)

	assert.LessOrEqual(t, p.Delay(models.QueuedMessage{RetryCount: 20}), time.Second)
}

func TestPacingFromConfig(t *testing.T) {
	assert.Equal(t, FixedPacing(100*time.Millisecond), PacingFromConfig(models.QueueConfig{}))
	assert.Equal(t, FixedPacing(250*time.Millisecond), PacingFromConfig(models.QueueConfig{PacingMs: 250, PacingMode: "fixed"}))

	p, ok := PacingFromConfig(models.QueueConfig{PacingMs: 50, PacingMode: "backoff", MaxPacingMs: 400}).(*BackoffPacing)
	if assert.True(t, ok) {
		assert.LessOrEqual(t, p.Delay(models.QueuedMessage{RetryCount: 10}), 400*time.Millisecond)
	}
}
