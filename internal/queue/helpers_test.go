package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"chatqueue/internal/connectivity"
	"chatqueue/internal/models"
	"chatqueue/internal/sender"
	"chatqueue/internal/store"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newTestQueue(t *testing.T, st store.Store, snd sender.Sender, mon *connectivity.Monitor, opts ...Option) *Queue {
	t.Helper()
	if st == nil {
		st = store.NewMemoryStore(nil)
	}
	opts = append([]Option{WithPacing(FixedPacing(0))}, opts...)
	q := New(context.Background(), st, snd, mon, testLogger(), opts...)
	t.Cleanup(q.Stop)
	return q
}

func textEnvelope(content string) models.Envelope {
	return models.Envelope{ConversationID: "ticket:1", Content: content, Type: models.MessageTypeText}
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, msg models.QueuedMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// recordingSender remembers every attempt and delegates the outcome to fn
type recordingSender struct {
	mu    sync.Mutex
	calls []models.QueuedMessage
	fn    func(ctx context.Context, msg models.QueuedMessage) error
}

func (r *recordingSender) Send(ctx context.Context, msg models.QueuedMessage) error {
	r.mu.Lock()
	r.calls = append(r.calls, msg)
	fn := r.fn
	r.mu.Unlock()
	if fn != nil {
		return fn(ctx, msg)
	}
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recordingSender) contents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.Content
	}
	return out
}

// blockingSender parks each attempt until release is closed, then returns err.
// cancelled records whether any attempt saw its context end.
type blockingSender struct {
	recordingSender
	entered   chan string
	release   chan struct{}
	err       error
	cancelled atomic.Bool
}

func newBlockingSender() *blockingSender {
	b := &blockingSender{
		entered: make(chan string, 16),
		release: make(chan struct{}),
	}
	b.fn = func(ctx context.Context, msg models.QueuedMessage) error {
		b.entered <- msg.ID
		<-b.release
		if ctx.Err() != nil {
			b.cancelled.Store(true)
		}
		return b.err
	}
	return b
}

// failingStore rejects every read and write
type failingStore struct {
	mu    sync.Mutex
	saves int
}

var errStoreDown = errors.New("store unavailable")

func (f *failingStore) Load(ctx context.Context) ([]models.QueuedMessage, error) {
	return nil, errStoreDown
}

func (f *failingStore) Save(ctx context.Context, messages []models.QueuedMessage) error {
	f.mu.Lock()
	f.saves++
	f.mu.Unlock()
	return errStoreDown
}

func (f *failingStore) Close() error { return nil }
