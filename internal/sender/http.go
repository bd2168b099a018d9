package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chatqueue/internal/errors"
	"chatqueue/internal/models"
	"chatqueue/internal/privacy"

	"github.com/sirupsen/logrus"
)

const maxErrorBodyBytes = 1024

// HTTPSender posts each message to the chat backend's REST API
type HTTPSender struct {
	baseURL   string
	authToken string
	client    *http.Client
	logger    *logrus.Logger
}

func NewHTTPSender(baseURL, authToken string, timeout time.Duration, httpClient *http.Client, logger *logrus.Logger) (*HTTPSender, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("sender endpoint is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid sender endpoint: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &HTTPSender{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		authToken: authToken,
		client:    httpClient,
		logger:    logger,
	}, nil
}

func (s *HTTPSender) Send(ctx context.Context, msg models.QueuedMessage) error {
	payload, err := BuildPayload(msg)
	if err != nil {
		return errors.NewDeliveryError("http", 0, err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/conversations/%s/messages", s.baseURL, url.PathEscape(msg.ConversationID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", msg.ID)
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	s.logger.WithFields(logrus.Fields{
		"message_id":      privacy.MaskID(msg.ID),
		"conversation_id": privacy.MaskConversationID(msg.ConversationID),
		"attempt":         payload.Attempt,
	}).Debug("Sending message")

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.NewDeliveryError("http", 0, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		cause := fmt.Errorf("chat API error: status %d, body: %s", resp.StatusCode, string(bodyBytes))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			cause = fmt.Errorf("%w: %v", ErrRejected, cause)
		}
		return errors.NewDeliveryError("http", resp.StatusCode, cause)
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
