package queue

import (
	"context"
	"path/filepath"
	"testing"

	"chatqueue/internal/connectivity"
	"chatqueue/internal/models"
	"chatqueue/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededStore(t *testing.T, messages ...models.QueuedMessage) *store.MemoryStore {
	t.Helper()
	mem := store.NewMemoryStore(nil)
	require.NoError(t, mem.Save(context.Background(), messages))
	return mem
}

func TestLoad_FailedMessageSurvivesRestartAndRetries(t *testing.T) {
	failed := models.QueuedMessage{
		ID:             "f1",
		ConversationID: "ticket:3",
		Content:        "please call back",
		Type:           models.MessageTypeText,
		Metadata:       map[string]interface{}{"agent": "a1"},
		Timestamp:      1700000000000,
		RetryCount:     3,
		MaxRetries:     3,
		Status:         models.MessageStatusFailed,
		LastError:      "endpoint down",
	}
	mem := seededStore(t, failed)

	mon := connectivity.NewMonitor(false)
	snd := &recordingSender{}
	q := newTestQueue(t, mem, snd, mon)

	assert.Equal(t, []models.QueuedMessage{failed}, q.Messages())
	assert.Equal(t, 1, mem.Saves(), "nothing to repair")

	assert.Equal(t, 1, q.RetryAllFailed())
	msg, err := q.Get("f1")
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusPending, msg.Status)
	assert.Equal(t, 0, msg.RetryCount)

	q.Start(context.Background())
	mon.SetOnline(true)

	require.Eventually(t, func() bool { return len(q.Messages()) == 0 }, waitFor, tick)
	require.Equal(t, 1, snd.count())
	assert.Equal(t, "f1", snd.calls[0].ID)
}

func TestLoad_RepairsRecords(t *testing.T) {
	mem := seededStore(t,
		models.QueuedMessage{ID: "interrupted", ConversationID: "c", Content: "x", Type: models.MessageTypeText,
			RetryCount: 1, MaxRetries: 3, Status: models.MessageStatusSending},
		models.QueuedMessage{ID: "lost-bytes", ConversationID: "c", Content: "[image]", Type: models.MessageTypeImage,
			FileData: &models.FileData{Data: []byte{1}, FileName: "a.png"}, MaxRetries: 3, Status: models.MessageStatusPending},
		models.QueuedMessage{ID: "on-disk", ConversationID: "c", Content: "[file]", Type: models.MessageTypeFile,
			FileData: &models.FileData{Path: "/srv/uploads/r.pdf", FileName: "r.pdf"}, MaxRetries: 3, Status: models.MessageStatusPending},
		models.QueuedMessage{ID: "on-disk", ConversationID: "c", Content: "dup", Type: models.MessageTypeText,
			MaxRetries: 3, Status: models.MessageStatusPending},
		models.QueuedMessage{ID: "delivered", ConversationID: "c", Content: "x", Type: models.MessageTypeText,
			MaxRetries: 3, Status: models.MessageStatusSent},
		models.QueuedMessage{ID: "no-ceiling", ConversationID: "c", Content: "x", Type: models.MessageTypeText,
			Status: models.MessageStatusPending},
	)

	q := newTestQueue(t, mem, &recordingSender{}, connectivity.NewMonitor(false))

	msgs := q.Messages()
	require.Len(t, msgs, 4)

	byID := map[string]models.QueuedMessage{}
	for _, m := range msgs {
		byID[m.ID] = m
	}

	assert.Equal(t, models.MessageStatusPending, byID["interrupted"].Status)
	assert.Equal(t, 2, byID["interrupted"].RetryCount, "the interrupted attempt counts")
	assert.Contains(t, byID["interrupted"].LastError, "outcome unknown")

	assert.Equal(t, models.MessageStatusFailed, byID["lost-bytes"].Status)
	assert.Contains(t, byID["lost-bytes"].LastError, "attachment")
	assert.Equal(t, "a.png", byID["lost-bytes"].FileData.FileName)

	assert.Equal(t, models.MessageStatusPending, byID["on-disk"].Status)
	assert.Equal(t, "[file]", byID["on-disk"].Content)

	assert.Equal(t, 3, byID["no-ceiling"].MaxRetries)

	assert.Equal(t, 2, mem.Saves(), "repairs are written back")
	stored, err := mem.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 4)

	// a failed attachment can still be retried; the sender decides
	require.NoError(t, q.RetryMessage("lost-bytes"))
}

func TestLoad_UnreadableStoreStartsEmpty(t *testing.T) {
	q := newTestQueue(t, &failingStore{}, &recordingSender{}, connectivity.NewMonitor(false))
	assert.Empty(t, q.Messages())
	assert.Equal(t, 0, q.QueueCount())
}

func TestPersistence_RoundTripThroughSQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	first, err := store.NewSQLiteStore(dbPath, "test", nil)
	require.NoError(t, err)

	snd := &recordingSender{}
	snd.fn = func(ctx context.Context, msg models.QueuedMessage) error {
		return assert.AnError
	}
	mon := connectivity.NewMonitor(true)
	q := newTestQueue(t, first, snd, mon)

	_, err = q.AddMessage(models.Envelope{ConversationID: "ticket:1", Content: "will fail", MaxRetries: 1,
		Metadata: map[string]interface{}{"k": "v"}})
	require.NoError(t, err)
	q.ProcessQueue(ctx)

	mon.SetOnline(false)
	_, err = q.AddMessage(models.Envelope{ConversationID: "ticket:2", Content: "waiting"})
	require.NoError(t, err)
	_, err = q.AddMessage(models.Envelope{ConversationID: "ticket:2", Type: models.MessageTypeFile,
		FileData: &models.FileData{Path: "/srv/uploads/x.bin", FileName: "x.bin", FileSize: 9}})
	require.NoError(t, err)

	before := q.Messages()
	require.NoError(t, first.Close())

	second, err := store.NewSQLiteStore(dbPath, "test", nil)
	require.NoError(t, err)
	defer second.Close()

	reloaded := newTestQueue(t, second, &recordingSender{}, connectivity.NewMonitor(false))
	assert.Equal(t, before, reloaded.Messages())
	assert.Equal(t, 1, reloaded.FailedCount())
	assert.Equal(t, 2, reloaded.QueueCount())
}
