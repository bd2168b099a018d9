package sender

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"chatqueue/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestBuildPayload_Text(t *testing.T) {
	msg := models.QueuedMessage{
		ID:             "m1",
		ConversationID: "ticket:9",
		Content:        "hi",
		Type:           models.MessageTypeText,
		Metadata:       map[string]interface{}{"agent": "a"},
		Timestamp:      1234,
		RetryCount:     2,
	}

	p, err := BuildPayload(msg)
	require.NoError(t, err)
	assert.Equal(t, "m1", p.ID)
	assert.Equal(t, 3, p.Attempt)
	assert.Nil(t, p.File)
	assert.Equal(t, "a", p.Metadata["agent"])
}

func TestBuildPayload_Attachments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("from disk"), 0600))

	tests := []struct {
		name     string
		fileData *models.FileData
		want     []byte
		rejected bool
	}{
		{"in-memory bytes", &models.FileData{Data: []byte("inline"), FileName: "a.bin"}, []byte("inline"), false},
		{"path reference", &models.FileData{Path: path, FileName: "note.txt"}, []byte("from disk"), false},
		{"bytes lost", &models.FileData{FileName: "gone.png"}, nil, true},
		{"no metadata", nil, nil, true},
		{"traversal", &models.FileData{Path: "../../etc/passwd"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := models.QueuedMessage{ID: "m", Type: models.MessageTypeFile, FileData: tt.fileData}
			p, err := BuildPayload(msg)
			if tt.rejected {
				assert.ErrorIs(t, err, ErrRejected)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, p.File)
			assert.Equal(t, tt.want, p.File.Data)
		})
	}
}

func TestBuildPayload_MissingFile(t *testing.T) {
	msg := models.QueuedMessage{
		ID:       "m",
		Type:     models.MessageTypeImage,
		FileData: &models.FileData{Path: filepath.Join(t.TempDir(), "missing.png")},
	}
	_, err := BuildPayload(msg)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRejected))
}

func TestFunc(t *testing.T) {
	var got string
	s := Func(func(ctx context.Context, msg models.QueuedMessage) error {
		got = msg.ID
		return nil
	})
	require.NoError(t, s.Send(context.Background(), models.QueuedMessage{ID: "x"}))
	assert.Equal(t, "x", got)
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, models.SenderConfig{Endpoint: "http://localhost:9999"}, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &HTTPSender{}, s)

	_, err = New(ctx, models.SenderConfig{Transport: "http"}, testLogger())
	assert.Error(t, err)

	_, err = New(ctx, models.SenderConfig{Transport: "amqp"}, testLogger())
	assert.Error(t, err)

	_, err = New(ctx, models.SenderConfig{Transport: "carrier-pigeon"}, testLogger())
	assert.Error(t, err)
}
