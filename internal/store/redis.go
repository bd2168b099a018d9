package store

import (
	"context"
	"errors"
	"fmt"

	"chatqueue/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the Redis backend
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// RedisStore keeps the queue blob under one Redis string key
type RedisStore struct {
	rdb   *redis.Client
	key   string
	codec *Codec
}

func NewRedisStore(ctx context.Context, opts RedisOptions, codec *Codec) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if opts.Key == "" {
		return nil, fmt.Errorf("redis key is required")
	}
	if codec == nil {
		codec = NewCodec()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{rdb: rdb, key: opts.Key, codec: codec}, nil
}

func (s *RedisStore) Load(ctx context.Context) ([]models.QueuedMessage, error) {
	blob, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return []models.QueuedMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read queue from redis: %w", err)
	}
	return s.codec.Decode(blob)
}

func (s *RedisStore) Save(ctx context.Context, messages []models.QueuedMessage) error {
	blob, err := s.codec.Encode(messages)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key, blob, 0).Err(); err != nil {
		return fmt.Errorf("failed to write queue to redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
