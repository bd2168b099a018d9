package queue

import (
	"time"

	"chatqueue/internal/constants"
	"chatqueue/internal/models"
	"chatqueue/internal/retry"
)

// Pacing decides how long the drain loop waits after an attempt on msg
type Pacing interface {
	Delay(msg models.QueuedMessage) time.Duration
}

// FixedPacing waits the same amount after every attempt
type FixedPacing time.Duration

func (p FixedPacing) Delay(models.QueuedMessage) time.Duration {
	return time.Duration(p)
}

// BackoffPacing grows the wait with the retry count of the message just attempted
type BackoffPacing struct {
	backoff *retry.Backoff
}

func NewBackoffPacing(initial, max time.Duration) *BackoffPacing {
	return &BackoffPacing{
		backoff: retry.NewBackoff(retry.BackoffConfig{
			InitialDelay: initial,
			MaxDelay:     max,
			Multiplier:   2,
			MaxAttempts:  1,
			Jitter:       true,
		}),
	}
}

func (p *BackoffPacing) Delay(msg models.QueuedMessage) time.Duration {
	return p.backoff.DelayFor(msg.RetryCount + 1)
}

// PacingFromConfig builds the policy named by cfg
func PacingFromConfig(cfg models.QueueConfig) Pacing {
	initial := time.Duration(cfg.PacingMs) * time.Millisecond
	if cfg.PacingMs <= 0 {
		initial = time.Duration(constants.DefaultPacingMs) * time.Millisecond
	}

	if cfg.PacingMode == "backoff" {
		max := time.Duration(cfg.MaxPacingMs) * time.Millisecond
		if max < initial {
			max = time.Duration(constants.DefaultMaxPacingMs) * time.Millisecond
		}
		if max < initial {
			max = initial
		}
		return NewBackoffPacing(initial, max)
	}
	return FixedPacing(initial)
}
