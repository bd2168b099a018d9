package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"chatqueue/internal/constants"
	"chatqueue/internal/models"

	"golang.org/x/crypto/pbkdf2"
)

const encryptedPrefix = "enc:v1:"

// Codec turns the queue into the persisted blob and back. Attachment bytes
// are not part of the blob; only file metadata and Path survive.
type Codec struct {
	gcm cipher.AEAD
}

// NewCodec returns a plain JSON codec
func NewCodec() *Codec {
	return &Codec{}
}

// NewEncryptedCodec returns a codec that seals the blob with AES-256-GCM
func NewEncryptedCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, fmt.Errorf("%s environment variable is required when store encryption is enabled", EncryptionSecretEnv)
	}
	if len(secret) < 32 {
		return nil, fmt.Errorf("encryption secret must be at least 32 characters long")
	}

	key := pbkdf2.Key([]byte(secret), []byte(constants.EncryptionSalt), models.Iterations, models.KeySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Codec{gcm: gcm}, nil
}

// Encrypted reports whether blobs are sealed
func (c *Codec) Encrypted() bool {
	return c.gcm != nil
}

// Encode serializes messages. A nil slice is written as an empty array.
func (c *Codec) Encode(messages []models.QueuedMessage) ([]byte, error) {
	if messages == nil {
		messages = []models.QueuedMessage{}
	}

	plain, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal queue: %w", err)
	}
	if c.gcm == nil {
		return plain, nil
	}

	nonce := make([]byte, models.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.gcm.Seal(nonce, nonce, plain, nil)

	return []byte(encryptedPrefix + base64.StdEncoding.EncodeToString(sealed)), nil
}

// Decode parses a blob written by Encode. Empty input is an empty queue.
func (c *Codec) Decode(data []byte) ([]models.QueuedMessage, error) {
	if len(data) == 0 {
		return []models.QueuedMessage{}, nil
	}

	if s := string(data); strings.HasPrefix(s, encryptedPrefix) {
		if c.gcm == nil {
			return nil, fmt.Errorf("stored queue is encrypted but no encryption secret is configured")
		}
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, encryptedPrefix))
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64: %w", err)
		}
		if len(raw) < models.NonceSize {
			return nil, fmt.Errorf("ciphertext too short")
		}
		data, err = c.gcm.Open(nil, raw[:models.NonceSize], raw[models.NonceSize:], nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt: %w", err)
		}
	}

	var messages []models.QueuedMessage
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queue: %w", err)
	}
	if messages == nil {
		messages = []models.QueuedMessage{}
	}
	return messages, nil
}
