package sender

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chatqueue/internal/errors"
	"chatqueue/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSender_Send(t *testing.T) {
	var (
		gotPath    string
		gotKey     string
		gotAuth    string
		gotPayload Payload
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		gotPath = r.URL.EscapedPath()
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	s, err := NewHTTPSender(server.URL+"/", "secret-token", time.Second, nil, testLogger())
	require.NoError(t, err)

	msg := models.QueuedMessage{
		ID:             "msg-1",
		ConversationID: "ticket/42",
		Content:        "[image]",
		Type:           models.MessageTypeImage,
		FileData:       &models.FileData{Data: []byte{0x89, 0x50}, FileName: "a.png", FileSize: 2, MimeType: "image/png"},
		Timestamp:      1700000000000,
	}
	require.NoError(t, s.Send(context.Background(), msg))

	assert.Equal(t, "/conversations/ticket%2F42/messages", gotPath)
	assert.Equal(t, "msg-1", gotKey)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, 1, gotPayload.Attempt)
	require.NotNil(t, gotPayload.File)
	assert.Equal(t, []byte{0x89, 0x50}, gotPayload.File.Data)
	assert.Equal(t, "image/png", gotPayload.File.MimeType)
}

func TestHTTPSender_Failures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		rejected  bool
		retryable bool
	}{
		{"server error", http.StatusInternalServerError, false, true},
		{"rate limited", http.StatusTooManyRequests, true, true},
		{"bad request", http.StatusBadRequest, true, false},
		{"redirect", http.StatusMultipleChoices, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("nope"))
			}))
			defer server.Close()

			s, err := NewHTTPSender(server.URL, "", time.Second, nil, testLogger())
			require.NoError(t, err)

			err = s.Send(context.Background(), models.QueuedMessage{ID: "m", ConversationID: "c", Type: models.MessageTypeText})
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeDeliveryFailed, errors.GetCode(err))
			assert.Equal(t, tt.retryable, errors.IsRetryable(err))
			assert.Equal(t, tt.rejected, isRejected(err))
		})
	}
}

func TestHTTPSender_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	s, err := NewHTTPSender(url, "", time.Second, nil, testLogger())
	require.NoError(t, err)

	err = s.Send(context.Background(), models.QueuedMessage{ID: "m", ConversationID: "c", Type: models.MessageTypeText})
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
}

func TestHTTPSender_LostAttachmentNeverHitsNetwork(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	s, err := NewHTTPSender(server.URL, "", time.Second, nil, testLogger())
	require.NoError(t, err)

	err = s.Send(context.Background(), models.QueuedMessage{
		ID:       "m",
		Type:     models.MessageTypeAudio,
		FileData: &models.FileData{FileName: "voice.ogg"},
	})
	assert.True(t, isRejected(err))
	assert.False(t, called)
}

func TestNewHTTPSender_Validation(t *testing.T) {
	_, err := NewHTTPSender("", "", time.Second, nil, nil)
	assert.Error(t, err)

	_, err = NewHTTPSender("not a url", "", time.Second, nil, nil)
	assert.Error(t, err)
}
