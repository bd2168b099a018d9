package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"chatqueue/internal/models"
	"chatqueue/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS kv_store (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)
`

const (
	selectValueQuery = `SELECT value FROM kv_store WHERE key = ?`
	upsertValueQuery = `
		INSERT INTO kv_store (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`
)

// SQLiteStore keeps the queue blob in a single row of a key-value table
type SQLiteStore struct {
	db    *sql.DB
	key   string
	codec *Codec
}

func NewSQLiteStore(dbPath, key string, codec *Codec) (*SQLiteStore, error) {
	if err := security.ValidateDataPath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}
	if codec == nil {
		codec = NewCodec()
	}

	if dbPath != ":memory:" {
		file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600) // #nosec G304 - Path validated above
		if err != nil {
			return nil, fmt.Errorf("failed to create database file: %w", err)
		}
		if err := file.Close(); err != nil {
			return nil, fmt.Errorf("failed to close database file: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; also keeps ":memory:" pointing at a single database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, closeWith(db, fmt.Errorf("failed to ping database: %w", err))
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, closeWith(db, fmt.Errorf("failed to initialize schema: %w", err))
	}

	return &SQLiteStore{db: db, key: key, codec: codec}, nil
}

func closeWith(db *sql.DB, err error) error {
	if closeErr := db.Close(); closeErr != nil {
		return fmt.Errorf("%w (close error: %v)", err, closeErr)
	}
	return err
}

func (s *SQLiteStore) Load(ctx context.Context) ([]models.QueuedMessage, error) {
	var blob []byte
	err := retryableDBOperation(ctx, func() error {
		err := s.db.QueryRowContext(ctx, selectValueQuery, s.key).Scan(&blob)
		if err == sql.ErrNoRows {
			blob = nil
			return nil
		}
		return err
	}, "load queue")
	if err != nil {
		return nil, err
	}

	return s.codec.Decode(blob)
}

func (s *SQLiteStore) Save(ctx context.Context, messages []models.QueuedMessage) error {
	blob, err := s.codec.Encode(messages)
	if err != nil {
		return err
	}

	return retryableDBOperation(ctx, func() error {
		_, err := s.db.ExecContext(ctx, upsertValueQuery, s.key, blob)
		return err
	}, "save queue")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
