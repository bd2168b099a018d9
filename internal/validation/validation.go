package validation

import (
	"fmt"
	"net/http"

	"chatqueue/internal/constants"
	"chatqueue/internal/errors"
	"chatqueue/internal/models"
	"chatqueue/internal/security"
)

// ValidateEnvelope checks a caller-supplied envelope before it is enqueued
func ValidateEnvelope(env models.Envelope) error {
	if err := ValidateConversationID(env.ConversationID); err != nil {
		return err
	}

	if !env.Type.Valid() {
		return errors.NewValidationError("type", fmt.Sprintf("unsupported message type %q", env.Type))
	}

	if len(env.Content) > constants.MaxContentLength {
		return errors.NewValidationError("content",
			fmt.Sprintf("too long (max %d bytes)", constants.MaxContentLength))
	}
	if env.Type == models.MessageTypeText && env.Content == "" {
		return errors.NewValidationError("content", "text messages cannot be empty")
	}

	if env.MaxRetries < 0 {
		return errors.NewValidationError("maxRetries", "cannot be negative")
	}

	return validateFileData(env)
}

func validateFileData(env models.Envelope) error {
	if !env.Type.IsBinary() {
		if env.FileData != nil {
			return errors.NewValidationError("fileData", "only allowed for non-text messages")
		}
		return nil
	}

	if env.FileData == nil {
		return errors.NewValidationError("fileData", fmt.Sprintf("required for %s messages", env.Type))
	}
	if !env.FileData.HasBytes() {
		return errors.NewValidationError("fileData", "needs data or a path")
	}
	if env.FileData.FileSize < 0 {
		return errors.NewValidationError("fileData", "file size cannot be negative")
	}
	if env.FileData.Path != "" {
		if err := security.ValidateDataPath(env.FileData.Path); err != nil {
			return errors.NewValidationError("fileData", err.Error())
		}
	}
	return nil
}

// ValidateConversationID validates the target conversation identifier
func ValidateConversationID(conversationID string) error {
	if conversationID == "" {
		return errors.NewValidationError("conversationId", "cannot be empty")
	}
	if len(conversationID) > constants.MaxConversationID {
		return errors.NewValidationError("conversationId",
			fmt.Sprintf("too long (max %d characters)", constants.MaxConversationID))
	}
	if err := rejectControlChars(conversationID); err != nil {
		return errors.NewValidationError("conversationId", err.Error())
	}
	return nil
}

// ValidateMessageID validates a queued message ID taken from a request
func ValidateMessageID(messageID string) error {
	if messageID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "message ID cannot be empty")
	}
	if len(messageID) > constants.MaxMessageIDLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("message ID too long (max %d characters)", constants.MaxMessageIDLength))
	}
	if err := rejectControlChars(messageID); err != nil {
		return errors.New(errors.ErrCodeInvalidInput, "message ID contains invalid characters")
	}
	return nil
}

func rejectControlChars(s string) error {
	for _, char := range s {
		if char == '\x00' || char == '\n' || char == '\r' || char == '\t' {
			return fmt.Errorf("contains invalid characters")
		}
	}
	return nil
}

// ValidateHTTPRequestSize validates incoming HTTP request size
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength > maxSizeBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes))
	}
	return nil
}

// ValidateNumericRange validates numeric values against bounds
func ValidateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too small (min %d)", fieldName, min))
	}
	if value > max {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max %d)", fieldName, max))
	}
	return nil
}

// ValidateTimeout validates timeout values
func ValidateTimeout(timeoutSec int, fieldName string) error {
	if timeoutSec < 1 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s must be at least 1 second", fieldName))
	}
	if timeoutSec > 3600 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max 3600 seconds)", fieldName))
	}
	return nil
}
