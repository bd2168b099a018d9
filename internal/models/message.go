package models

import "fmt"

// MessageType is the payload kind of a queued message
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
	MessageTypeAudio MessageType = "audio"
	MessageTypeVideo MessageType = "video"
)

// Valid reports whether t is one of the known payload kinds
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeAudio, MessageTypeVideo:
		return true
	default:
		return false
	}
}

// IsBinary reports whether the payload carries file data
func (t MessageType) IsBinary() bool {
	return t.Valid() && t != MessageTypeText
}

// MessageStatus is the lifecycle state of a queued message
type MessageStatus string

const (
	MessageStatusPending MessageStatus = "pending"
	MessageStatusSending MessageStatus = "sending"
	MessageStatusFailed  MessageStatus = "failed"
	MessageStatusSent    MessageStatus = "sent"
)

// FileData describes the attachment of a non-text message.
// Data is held in memory only; Path, when set, lets the bytes be re-read after a reload.
type FileData struct {
	Data     []byte `json:"-"`
	Path     string `json:"path,omitempty"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	MimeType string `json:"mimeType"`
}

// HasBytes reports whether the attachment bytes are available to a sender
func (f *FileData) HasBytes() bool {
	return f != nil && (len(f.Data) > 0 || f.Path != "")
}

// Envelope is what a caller hands to the queue to enqueue a message
type Envelope struct {
	ConversationID string                 `json:"conversationId"`
	Content        string                 `json:"content"`
	Type           MessageType            `json:"type"`
	FileData       *FileData              `json:"fileData,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	MaxRetries     int                    `json:"maxRetries,omitempty"`
}

// QueuedMessage is one outbound message awaiting or undergoing delivery
type QueuedMessage struct {
	ID             string                 `json:"id"`
	ConversationID string                 `json:"conversationId"`
	Content        string                 `json:"content"`
	Type           MessageType            `json:"type"`
	FileData       *FileData              `json:"fileData,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Timestamp      int64                  `json:"timestamp"`
	RetryCount     int                    `json:"retryCount"`
	MaxRetries     int                    `json:"maxRetries"`
	Status         MessageStatus          `json:"status"`
	LastError      string                 `json:"lastError,omitempty"`
}

// AttemptsLeft reports whether another delivery attempt is allowed after the current count
func (m *QueuedMessage) AttemptsLeft() bool {
	return m.RetryCount < m.MaxRetries
}

// Clone returns a copy that shares no mutable state with m
func (m QueuedMessage) Clone() QueuedMessage {
	c := m
	if m.FileData != nil {
		fd := *m.FileData
		if m.FileData.Data != nil {
			fd.Data = append([]byte(nil), m.FileData.Data...)
		}
		c.FileData = &fd
	}
	if m.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

func (m QueuedMessage) String() string {
	return fmt.Sprintf("QueuedMessage{id=%s type=%s status=%s retry=%d/%d}", m.ID, m.Type, m.Status, m.RetryCount, m.MaxRetries)
}
