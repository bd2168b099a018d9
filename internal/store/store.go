// Package store persists the outbound queue as one serialized value under a single key.
package store

import (
	"context"
	"fmt"
	"os"
	"strings"

	"chatqueue/internal/constants"
	"chatqueue/internal/models"

	"github.com/sirupsen/logrus"
)

// Store is the durable mirror of the queue. Save always receives the full contents.
type Store interface {
	Load(ctx context.Context) ([]models.QueuedMessage, error)
	Save(ctx context.Context, messages []models.QueuedMessage) error
	Close() error
}

// EncryptionSecretEnv holds the passphrase used when store encryption is enabled
const EncryptionSecretEnv = "CHATQUEUE_ENCRYPTION_SECRET"

// Open builds the backend selected by cfg
func Open(ctx context.Context, cfg models.StoreConfig, logger *logrus.Logger) (Store, error) {
	codec, err := codecFor(cfg)
	if err != nil {
		return nil, err
	}

	key := cfg.Key
	if key == "" {
		key = constants.DefaultStoreKey
	}

	backend := strings.ToLower(cfg.Backend)
	if backend == "" {
		backend = constants.DefaultStoreBackend
	}

	var s Store
	switch backend {
	case "sqlite":
		s, err = NewSQLiteStore(cfg.Path, key, codec)
	case "redis":
		s, err = NewRedisStore(ctx, RedisOptions{Addr: cfg.RedisAddr, DB: cfg.RedisDB, Key: key}, codec)
	case "memory":
		s = NewMemoryStore(codec)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"backend":   backend,
		"encrypted": codec.Encrypted(),
	}).Info("Queue store opened")

	return s, nil
}

func codecFor(cfg models.StoreConfig) (*Codec, error) {
	if !cfg.Encrypt {
		return NewCodec(), nil
	}
	return NewEncryptedCodec(os.Getenv(EncryptionSecretEnv))
}
