// Package queue holds outbound chat messages until they are delivered,
// retrying each a bounded number of times and mirroring every change to a
// durable store.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatqueue/internal/connectivity"
	"chatqueue/internal/constants"
	"chatqueue/internal/errors"
	"chatqueue/internal/metrics"
	"chatqueue/internal/models"
	"chatqueue/internal/privacy"
	"chatqueue/internal/sender"
	"chatqueue/internal/store"
	"chatqueue/internal/validation"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	metricEnqueued = "queue_messages_enqueued_total"
	metricAttempts = "queue_delivery_attempts_total"
	metricSent     = "queue_messages_sent_total"
	metricFailed   = "queue_messages_failed_total"
	metricPending  = "queue_pending"
	metricFailedG  = "queue_failed"
	metricDuration = "queue_delivery_duration"
)

// Connectivity is the reachability signal the queue gates on
type Connectivity interface {
	IsOnline() bool
	OnChange(listener connectivity.Listener) func()
}

// Stats is a snapshot of the queue counters
type Stats struct {
	Pending    int  `json:"pending"`
	Sending    int  `json:"sending"`
	Failed     int  `json:"failed"`
	Online     bool `json:"online"`
	Processing bool `json:"processing"`
}

// Option configures a Queue
type Option func(*Queue)

// WithPacing sets the delay policy between attempts
func WithPacing(p Pacing) Option {
	return func(q *Queue) { q.pacing = p }
}

// WithMetrics records queue metrics into r instead of a private registry
func WithMetrics(r *metrics.Registry) Option {
	return func(q *Queue) { q.metrics = r }
}

// WithClock overrides the time source used for enqueue timestamps
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithDefaultMaxRetries sets the ceiling used when an envelope leaves MaxRetries at 0
func WithDefaultMaxRetries(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.defaultMaxRetries = n
		}
	}
}

// Queue owns the outbound messages awaiting delivery
type Queue struct {
	store   store.Store
	sender  sender.Sender
	monitor Connectivity
	logger  *logrus.Logger
	errLog  *errors.Logger
	metrics *metrics.Registry
	now     func() time.Time

	defaultMaxRetries int

	mu         sync.Mutex
	messages   []*models.QueuedMessage
	pacing     Pacing
	processing bool
	rerun      bool

	running     bool
	runCtx      context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup

	subMu       sync.Mutex
	subscribers map[int]func(Stats)
	nextSubID   int
}

// New creates a queue and seeds it from the store. A store that cannot be
// read yields an empty queue.
func New(ctx context.Context, st store.Store, snd sender.Sender, monitor Connectivity, logger *logrus.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = logrus.New()
	}
	q := &Queue{
		store:             st,
		sender:            snd,
		monitor:           monitor,
		logger:            logger,
		errLog:            errors.WrapLogger(logger),
		metrics:           metrics.NewRegistry(),
		now:               time.Now,
		pacing:            FixedPacing(time.Duration(constants.DefaultPacingMs) * time.Millisecond),
		defaultMaxRetries: constants.DefaultMaxRetries,
		subscribers:       make(map[int]func(Stats)),
	}
	for _, opt := range opts {
		opt(q)
	}

	q.load(ctx)
	return q
}

// Start subscribes to connectivity changes and drains anything already
// pending when online. Background work stops when ctx is done or Stop is called.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		q.logger.Warn("Message queue is already running")
		return
	}
	q.runCtx, q.cancel = context.WithCancel(ctx)
	q.running = true
	q.mu.Unlock()

	unsubscribe := q.monitor.OnChange(q.handleConnectivity)
	q.mu.Lock()
	q.unsubscribe = unsubscribe
	q.mu.Unlock()

	q.logger.WithFields(logrus.Fields{
		"pending": q.QueueCount(),
		"failed":  q.FailedCount(),
		"online":  q.monitor.IsOnline(),
	}).Info("Message queue started")

	q.trigger("start")
}

// Stop unsubscribes from connectivity and waits for a running pass to return.
// An in-flight send is not cancelled; Stop waits for its result.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	unsubscribe := q.unsubscribe
	q.unsubscribe = nil
	cancel := q.cancel
	q.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	cancel()
	q.wg.Wait()
	q.logger.Info("Message queue stopped")
}

func (q *Queue) handleConnectivity(online bool) {
	if !online {
		q.logger.Info("Connectivity lost, queued messages will wait")
		q.notify()
		return
	}

	pending := q.QueueCount()
	q.logger.WithField("pending", pending).Info("Connectivity restored")
	q.notify()
	if pending > 0 {
		q.trigger("online")
	}
}

// trigger starts a drain pass in the background, or asks the running pass to go again
func (q *Queue) trigger(reason string) {
	if !q.monitor.IsOnline() {
		return
	}

	q.mu.Lock()
	if !q.running || q.runCtx.Err() != nil {
		q.mu.Unlock()
		return
	}
	if q.processing {
		q.rerun = true
		q.mu.Unlock()
		return
	}
	// Claim the processing flag here so two triggers cannot both start a drain.
	q.processing = true
	q.rerun = false
	ctx := q.runCtx
	q.wg.Add(1)
	q.mu.Unlock()

	q.logger.WithField("reason", reason).Debug("Drain triggered")
	go func() {
		defer q.wg.Done()
		q.runPasses(ctx)
	}()
}

// AddMessage enqueues a message and returns its id without waiting for delivery
func (q *Queue) AddMessage(env models.Envelope) (string, error) {
	if env.Type == "" {
		env.Type = models.MessageTypeText
	}
	if err := validation.ValidateEnvelope(env); err != nil {
		return "", err
	}

	maxRetries := env.MaxRetries
	if maxRetries == 0 {
		maxRetries = q.defaultMaxRetries
	}

	content := env.Content
	if content == "" && env.Type.IsBinary() {
		content = placeholder(env)
	}

	msg := models.QueuedMessage{
		ID:             uuid.NewString(),
		ConversationID: env.ConversationID,
		Content:        content,
		Type:           env.Type,
		FileData:       env.FileData,
		Metadata:       env.Metadata,
		Timestamp:      q.now().UnixMilli(),
		MaxRetries:     maxRetries,
		Status:         models.MessageStatusPending,
	}
	msg = msg.Clone()

	q.mu.Lock()
	q.messages = append(q.messages, &msg)
	q.persistLocked(context.Background())
	q.mu.Unlock()

	q.metrics.IncrementCounter(metricEnqueued, map[string]string{"type": string(msg.Type)}, "Messages accepted into the queue")
	q.logger.WithFields(logrus.Fields{
		"message_id":      privacy.MaskID(msg.ID),
		"conversation_id": privacy.MaskConversationID(msg.ConversationID),
		"type":            msg.Type,
	}).Debug("Message queued")

	q.notify()
	q.trigger("add")
	return msg.ID, nil
}

func placeholder(env models.Envelope) string {
	if env.FileData != nil && env.FileData.FileName != "" {
		return fmt.Sprintf("[%s: %s]", env.Type, env.FileData.FileName)
	}
	return fmt.Sprintf("[%s]", env.Type)
}

// RetryMessage moves a failed message back to pending with a fresh retry budget
func (q *Queue) RetryMessage(id string) error {
	q.mu.Lock()
	msg := q.findLocked(id)
	if msg == nil {
		q.mu.Unlock()
		return errors.NewNotFoundError("message", id)
	}
	if msg.Status != models.MessageStatusFailed {
		state := msg.Status
		q.mu.Unlock()
		return errors.NewInvalidStateError("retry", id, string(state))
	}
	resetLocked(msg)
	q.persistLocked(context.Background())
	q.mu.Unlock()

	q.notify()
	q.trigger("retry")
	return nil
}

// RetryAllFailed resets every failed message and returns how many were reset
func (q *Queue) RetryAllFailed() int {
	q.mu.Lock()
	n := 0
	for _, msg := range q.messages {
		if msg.Status == models.MessageStatusFailed {
			resetLocked(msg)
			n++
		}
	}
	if n > 0 {
		q.persistLocked(context.Background())
	}
	q.mu.Unlock()

	if n > 0 {
		q.logger.WithField("count", n).Info("Retrying failed messages")
		q.notify()
		q.trigger("retry_all")
	}
	return n
}

func resetLocked(msg *models.QueuedMessage) {
	msg.RetryCount = 0
	msg.Status = models.MessageStatusPending
	msg.LastError = ""
}

// RemoveMessage deletes a pending or failed message. A message whose attempt
// is in flight cannot be removed.
func (q *Queue) RemoveMessage(id string) error {
	q.mu.Lock()
	idx := q.indexLocked(id)
	if idx < 0 {
		q.mu.Unlock()
		return errors.NewNotFoundError("message", id)
	}
	if q.messages[idx].Status == models.MessageStatusSending {
		q.mu.Unlock()
		return errors.NewInFlightError("remove", id)
	}
	q.messages = append(q.messages[:idx], q.messages[idx+1:]...)
	q.persistLocked(context.Background())
	q.mu.Unlock()

	q.notify()
	return nil
}

// ClearFailedMessages deletes every failed message
func (q *Queue) ClearFailedMessages() int {
	return q.removeWhere(func(m *models.QueuedMessage) bool {
		return m.Status == models.MessageStatusFailed
	})
}

// ClearAllMessages deletes everything except a message whose attempt is in flight
func (q *Queue) ClearAllMessages() int {
	return q.removeWhere(func(m *models.QueuedMessage) bool {
		return m.Status != models.MessageStatusSending
	})
}

func (q *Queue) removeWhere(match func(*models.QueuedMessage) bool) int {
	q.mu.Lock()
	kept := q.messages[:0]
	removed := 0
	for _, msg := range q.messages {
		if match(msg) {
			removed++
			continue
		}
		kept = append(kept, msg)
	}
	for i := len(kept); i < len(q.messages); i++ {
		q.messages[i] = nil
	}
	q.messages = kept
	if removed > 0 {
		q.persistLocked(context.Background())
	}
	q.mu.Unlock()

	if removed > 0 {
		q.notify()
	}
	return removed
}

// QueueCount returns the number of pending messages
func (q *Queue) QueueCount() int {
	return q.countStatus(models.MessageStatusPending)
}

// FailedCount returns the number of messages that exhausted their retries
func (q *Queue) FailedCount() int {
	return q.countStatus(models.MessageStatusFailed)
}

func (q *Queue) countStatus(status models.MessageStatus) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.countLocked(status)
}

// IsOnline reports the connectivity state the queue gates on.
func (q *Queue) IsOnline() bool {
	return q.monitor.IsOnline()
}

// IsProcessing reports whether a drain pass is running
func (q *Queue) IsProcessing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}

// Messages returns copies of all queued messages in enqueue order
func (q *Queue) Messages() []models.QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.QueuedMessage, 0, len(q.messages))
	for _, msg := range q.messages {
		out = append(out, msg.Clone())
	}
	return out
}

// Get returns a copy of one message
func (q *Queue) Get(id string) (models.QueuedMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg := q.findLocked(id)
	if msg == nil {
		return models.QueuedMessage{}, errors.NewNotFoundError("message", id)
	}
	return msg.Clone(), nil
}

// Stats returns the current counters
func (q *Queue) Stats() Stats {
	online := q.monitor.IsOnline()

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statsLocked(online)
}

func (q *Queue) statsLocked(online bool) Stats {
	s := Stats{Online: online, Processing: q.processing}
	for _, msg := range q.messages {
		switch msg.Status {
		case models.MessageStatusPending:
			s.Pending++
		case models.MessageStatusSending:
			s.Sending++
		case models.MessageStatusFailed:
			s.Failed++
		}
	}
	return s
}

// SetPacing swaps the delay policy; the next attempt uses it
func (q *Queue) SetPacing(p Pacing) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pacing = p
}

// Metrics returns the registry the queue records into
func (q *Queue) Metrics() *metrics.Registry {
	return q.metrics
}

// Subscribe registers fn to receive a Stats snapshot after every change.
// fn runs on the goroutine that made the change and must not block.
func (q *Queue) Subscribe(fn func(Stats)) func() {
	q.subMu.Lock()
	id := q.nextSubID
	q.nextSubID++
	q.subscribers[id] = fn
	q.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			q.subMu.Lock()
			delete(q.subscribers, id)
			q.subMu.Unlock()
		})
	}
}

func (q *Queue) notify() {
	stats := q.Stats()

	q.metrics.SetGauge(metricPending, float64(stats.Pending), nil, "Messages waiting for delivery")
	q.metrics.SetGauge(metricFailedG, float64(stats.Failed), nil, "Messages that exhausted their retries")

	q.subMu.Lock()
	subs := make([]func(Stats), 0, len(q.subscribers))
	for _, fn := range q.subscribers {
		subs = append(subs, fn)
	}
	q.subMu.Unlock()

	for _, fn := range subs {
		fn(stats)
	}
}

func (q *Queue) findLocked(id string) *models.QueuedMessage {
	if idx := q.indexLocked(id); idx >= 0 {
		return q.messages[idx]
	}
	return nil
}

func (q *Queue) indexLocked(id string) int {
	for i, msg := range q.messages {
		if msg.ID == id {
			return i
		}
	}
	return -1
}
