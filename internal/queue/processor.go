package queue

import (
	"context"
	"fmt"
	"time"

	"chatqueue/internal/models"
	"chatqueue/internal/privacy"
	"chatqueue/internal/retry"
	"chatqueue/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// ProcessQueue drains pending messages one at a time. It returns false without
// doing anything when a pass is already running or the monitor is offline.
// Otherwise it keeps running passes while online until no pending message
// remains, then returns true.
func (q *Queue) ProcessQueue(ctx context.Context) bool {
	if !q.monitor.IsOnline() {
		return false
	}

	q.mu.Lock()
	if q.processing {
		q.mu.Unlock()
		return false
	}
	q.processing = true
	q.rerun = false
	q.mu.Unlock()

	q.runPasses(ctx)
	return true
}

// runPasses must be entered with processing already set; it clears the flag on return.
func (q *Queue) runPasses(ctx context.Context) {
	q.notify()

	for pass := 1; ; pass++ {
		attempted := q.drainPass(ctx)

		q.mu.Lock()
		again := q.rerun || attempted > 0
		q.rerun = false
		if !again || ctx.Err() != nil || !q.monitor.IsOnline() || !q.hasPendingLocked() {
			q.processing = false
			q.mu.Unlock()
			break
		}
		q.mu.Unlock()

		q.logger.WithField("pass", pass+1).Debug("Starting another drain pass")
	}

	q.notify()
}

func (q *Queue) hasPendingLocked() bool {
	for _, msg := range q.messages {
		if msg.Status == models.MessageStatusPending {
			return true
		}
	}
	return false
}

// drainPass attempts every message that was pending when the pass began, in
// enqueue order, and returns how many attempts it made.
func (q *Queue) drainPass(ctx context.Context) int {
	q.mu.Lock()
	ids := make([]string, 0, len(q.messages))
	for _, msg := range q.messages {
		if msg.Status == models.MessageStatusPending {
			ids = append(ids, msg.ID)
		}
	}
	q.mu.Unlock()

	attempted := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return attempted
		}
		if !q.monitor.IsOnline() {
			q.logger.WithField("remaining", len(ids)-attempted).Info("Went offline, pausing drain")
			return attempted
		}

		q.mu.Lock()
		msg := q.findLocked(id)
		// removed or retried into a different state since the snapshot
		if msg == nil || msg.Status != models.MessageStatusPending {
			q.mu.Unlock()
			continue
		}
		msg.Status = models.MessageStatusSending
		snapshot := msg.Clone()
		pacing := q.pacing
		q.persistLocked(ctx)
		q.mu.Unlock()
		q.notify()

		err := q.attempt(ctx, snapshot)
		attempted++
		after := q.applyResult(ctx, id, err)
		q.notify()

		if err := retry.Sleep(ctx, pacing.Delay(after)); err != nil {
			return attempted
		}
	}
	return attempted
}

// attempt performs one traced, timed delivery
func (q *Queue) attempt(ctx context.Context, msg models.QueuedMessage) (err error) {
	ctx, span := tracing.StartSpan(ctx, "queue.deliver",
		attribute.String("message.id", msg.ID),
		attribute.String("message.conversation_id", privacy.MaskConversationID(msg.ConversationID)),
		attribute.String("message.type", string(msg.Type)),
		attribute.Int("message.attempt", msg.RetryCount+1),
		attribute.Int("message.max_retries", msg.MaxRetries),
	)
	defer span.End()

	labels := map[string]string{"type": string(msg.Type)}
	q.metrics.IncrementCounter(metricAttempts, labels, "Delivery attempts made")
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panicked: %v", r)
		}
		q.metrics.RecordTimer(metricDuration, time.Since(start), labels)
		if err != nil {
			tracing.RecordError(ctx, err)
		}
	}()

	// Once sending, the attempt runs to completion; the sender's own timeout bounds it.
	return q.sender.Send(context.WithoutCancel(ctx), msg)
}

// applyResult moves the in-flight message to its next state and persists.
// It returns a copy of the message as it stood after the attempt.
func (q *Queue) applyResult(ctx context.Context, id string, sendErr error) models.QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexLocked(id)
	if idx < 0 {
		return models.QueuedMessage{ID: id}
	}
	msg := q.messages[idx]
	after := msg.Clone()

	fields := logrus.Fields{
		"message_id":      privacy.MaskID(msg.ID),
		"conversation_id": privacy.MaskConversationID(msg.ConversationID),
		"attempt":         msg.RetryCount + 1,
		"max_retries":     msg.MaxRetries,
	}
	labels := map[string]string{"type": string(msg.Type)}

	switch {
	case sendErr == nil:
		q.messages = append(q.messages[:idx], q.messages[idx+1:]...)
		q.metrics.IncrementCounter(metricSent, labels, "Messages delivered")
		q.logger.WithFields(fields).Info("Message delivered")

	default:
		msg.RetryCount++
		msg.LastError = sendErr.Error()
		if msg.AttemptsLeft() {
			msg.Status = models.MessageStatusPending
			q.errLog.LogWarn(sendErr, "Delivery failed, will retry", fields)
		} else {
			msg.Status = models.MessageStatusFailed
			q.metrics.IncrementCounter(metricFailed, labels, "Messages that exhausted their retries")
			q.errLog.LogError(sendErr, "Delivery failed, retries exhausted", fields)
		}
		after = msg.Clone()
	}

	// Stop may have cancelled ctx while the attempt ran; the write must still happen.
	q.persistLocked(context.WithoutCancel(ctx))
	return after
}
