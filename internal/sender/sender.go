// Package sender delivers one queued message per call. It has no retry
// policy of its own; the queue decides what happens after a failure.
package sender

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"strings"
	"time"

	"chatqueue/internal/constants"
	"chatqueue/internal/models"
	"chatqueue/internal/security"

	"github.com/sirupsen/logrus"
)

// ErrRejected is returned when the transport answered but refused the message
var ErrRejected = stderrors.New("message rejected")

// Sender performs a single delivery attempt. A nil error means delivered.
type Sender interface {
	Send(ctx context.Context, msg models.QueuedMessage) error
}

// Func adapts a plain function to the Sender interface
type Func func(ctx context.Context, msg models.QueuedMessage) error

func (f Func) Send(ctx context.Context, msg models.QueuedMessage) error {
	return f(ctx, msg)
}

// Payload is the wire form shared by every transport
type Payload struct {
	ID             string                 `json:"id"`
	ConversationID string                 `json:"conversationId"`
	Content        string                 `json:"content"`
	Type           models.MessageType     `json:"type"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Timestamp      int64                  `json:"timestamp"`
	Attempt        int                    `json:"attempt"`
	File           *FilePayload           `json:"file,omitempty"`
}

// FilePayload carries attachment bytes; encoding/json writes Data as base64
type FilePayload struct {
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// BuildPayload converts a queued message to its wire form, loading attachment bytes
func BuildPayload(msg models.QueuedMessage) (*Payload, error) {
	p := &Payload{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Content:        msg.Content,
		Type:           msg.Type,
		Metadata:       msg.Metadata,
		Timestamp:      msg.Timestamp,
		Attempt:        msg.RetryCount + 1,
	}

	if msg.Type.IsBinary() {
		data, err := loadAttachment(msg.FileData)
		if err != nil {
			return nil, err
		}
		p.File = &FilePayload{
			FileName: msg.FileData.FileName,
			FileSize: msg.FileData.FileSize,
			MimeType: msg.FileData.MimeType,
			Data:     data,
		}
	}

	return p, nil
}

func loadAttachment(fd *models.FileData) ([]byte, error) {
	if fd == nil {
		return nil, fmt.Errorf("%w: attachment metadata missing", ErrRejected)
	}
	if len(fd.Data) > 0 {
		return fd.Data, nil
	}
	if fd.Path == "" {
		return nil, fmt.Errorf("%w: attachment bytes unavailable", ErrRejected)
	}
	if err := security.ValidateDataPath(fd.Path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	data, err := os.ReadFile(fd.Path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	return data, nil
}

// New builds the transport selected by cfg
func New(ctx context.Context, cfg models.SenderConfig, logger *logrus.Logger) (Sender, error) {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(constants.DefaultSenderTimeoutSec) * time.Second
	}

	transport := strings.ToLower(cfg.Transport)
	if transport == "" {
		transport = constants.DefaultTransport
	}

	switch transport {
	case "http":
		s, err := NewHTTPSender(cfg.Endpoint, cfg.AuthToken, timeout, nil, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "amqp":
		exchange := cfg.Exchange
		if exchange == "" {
			exchange = constants.DefaultExchange
		}
		s, err := NewAMQPSender(ctx, AMQPOptions{URL: cfg.AMQPURL, Exchange: exchange, Timeout: timeout}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown sender transport %q", cfg.Transport)
	}
}
