package store

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"chatqueue/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestOpen_Backends(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, models.StoreConfig{Backend: "memory"}, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, models.StoreConfig{Backend: "SQLite", Path: filepath.Join(t.TempDir(), "q.db")}, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	assert.NoError(t, s.Close())

	_, err = Open(ctx, models.StoreConfig{Backend: "etcd"}, quietLogger())
	assert.Error(t, err)
}

func TestOpen_Encryption(t *testing.T) {
	ctx := context.Background()

	t.Setenv(EncryptionSecretEnv, "")
	_, err := Open(ctx, models.StoreConfig{Backend: "memory", Encrypt: true}, quietLogger())
	assert.Error(t, err)

	t.Setenv(EncryptionSecretEnv, testSecret)
	s, err := Open(ctx, models.StoreConfig{Backend: "memory", Encrypt: true}, quietLogger())
	require.NoError(t, err)

	mem := s.(*MemoryStore)
	require.NoError(t, mem.Save(ctx, sampleQueue()))
	assert.Contains(t, string(mem.Raw()), encryptedPrefix)
}
