package queue

import (
	"context"
	"fmt"

	"chatqueue/internal/errors"
	"chatqueue/internal/models"

	"github.com/sirupsen/logrus"
)

// persistLocked mirrors the queue to the store. Failures are logged and
// swallowed; the in-memory queue stays authoritative. Caller holds mu.
func (q *Queue) persistLocked(ctx context.Context) {
	snapshot := make([]models.QueuedMessage, 0, len(q.messages))
	for _, msg := range q.messages {
		snapshot = append(snapshot, *msg)
	}

	if err := q.store.Save(ctx, snapshot); err != nil {
		q.errLog.LogError(errors.NewStoreError("save", err), "Failed to persist queue",
			logrus.Fields{"messages": len(snapshot)})
	}
}

// load seeds the queue from the store and applies the reload rules:
// an attempt interrupted mid-flight is counted and goes back to pending if
// attempts remain, and a binary message whose bytes did not survive becomes failed.
func (q *Queue) load(ctx context.Context) {
	stored, err := q.store.Load(ctx)
	if err != nil {
		q.errLog.LogError(errors.NewStoreError("load", err), "Failed to load queue, starting empty")
		return
	}

	seen := make(map[string]struct{}, len(stored))
	changed := false
	for i := range stored {
		msg := stored[i]
		if msg.ID == "" || msg.Status == models.MessageStatusSent {
			changed = true
			continue
		}
		if _, dup := seen[msg.ID]; dup {
			changed = true
			continue
		}
		seen[msg.ID] = struct{}{}

		if repairOnLoad(&msg, q.defaultMaxRetries) {
			changed = true
		}
		q.messages = append(q.messages, &msg)
	}

	if changed {
		q.persistLocked(ctx)
	}

	q.logger.WithFields(logrus.Fields{
		"restored": len(q.messages),
		"pending":  q.countLocked(models.MessageStatusPending),
		"failed":   q.countLocked(models.MessageStatusFailed),
	}).Info("Queue restored from store")
}

// repairOnLoad fixes a restored record in place and reports whether it changed
func repairOnLoad(msg *models.QueuedMessage, defaultMaxRetries int) bool {
	before := *msg

	if msg.MaxRetries < 1 {
		msg.MaxRetries = defaultMaxRetries
	}
	if msg.RetryCount < 0 {
		msg.RetryCount = 0
	}
	if msg.RetryCount > msg.MaxRetries {
		msg.RetryCount = msg.MaxRetries
	}

	// sending means the process died mid-attempt; the send may have gone out, so it counts
	if msg.Status == models.MessageStatusSending {
		msg.RetryCount++
		msg.LastError = "delivery outcome unknown after restart"
	}
	if msg.Status != models.MessageStatusPending && msg.Status != models.MessageStatusFailed {
		msg.Status = models.MessageStatusPending
	}

	if msg.Status == models.MessageStatusPending && !msg.AttemptsLeft() {
		msg.Status = models.MessageStatusFailed
		if msg.LastError == "" {
			msg.LastError = "retries exhausted before restart"
		}
	}

	if msg.Type.IsBinary() && msg.Status != models.MessageStatusFailed && !msg.FileData.HasBytes() {
		msg.Status = models.MessageStatusFailed
		msg.LastError = fmt.Sprintf("%s attachment was not persisted and is no longer available", msg.Type)
	}

	return msg.Status != before.Status || msg.RetryCount != before.RetryCount ||
		msg.MaxRetries != before.MaxRetries || msg.LastError != before.LastError
}

func (q *Queue) countLocked(status models.MessageStatus) int {
	n := 0
	for _, msg := range q.messages {
		if msg.Status == status {
			n++
		}
	}
	return n
}
