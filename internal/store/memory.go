package store

import (
	"context"
	"sync"

	"chatqueue/internal/models"
)

// MemoryStore keeps the encoded blob in memory. It goes through the codec so
// a Load returns exactly what a file-backed store would.
type MemoryStore struct {
	codec *Codec
	mu    sync.Mutex
	blob  []byte
	saves int
}

func NewMemoryStore(codec *Codec) *MemoryStore {
	if codec == nil {
		codec = NewCodec()
	}
	return &MemoryStore{codec: codec}
}

func (m *MemoryStore) Load(ctx context.Context) ([]models.QueuedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codec.Decode(m.blob)
}

func (m *MemoryStore) Save(ctx context.Context, messages []models.QueuedMessage) error {
	blob, err := m.codec.Encode(messages)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blob = blob
	m.saves++
	return nil
}

// Saves returns how many times Save succeeded
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Raw returns a copy of the stored blob
func (m *MemoryStore) Raw() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.blob...)
}

func (m *MemoryStore) Close() error {
	return nil
}
