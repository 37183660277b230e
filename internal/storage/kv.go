package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Change describes one key write. Old or New is nil when the key was absent
// before or removed by the write.
type Change struct {
	Key string
	Old json.RawMessage
	New json.RawMessage
}

// Store is the persisted key/value state backed by SQLite.
type Store struct {
	db *sql.DB

	mu        sync.Mutex
	listeners []func(Change)
}

// Open opens (or creates) the store at path. ":memory:" keeps state in
// process, which tests rely on.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps in-memory databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	const schema = `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create kv table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// OnChange registers fn to run after every successful Set or Remove.
func (s *Store) OnChange(fn func(Change)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// GetRaw returns the stored JSON for key, or nil when absent.
func (s *Store) GetRaw(ctx context.Context, key string) (json.RawMessage, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return json.RawMessage(value), nil
}

// Get decodes the value under key into dst. It reports false when the key is
// absent. A value that no longer decodes into dst is treated as absent.
func (s *Store) Get(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := s.GetRaw(ctx, key)
	if err != nil || raw == nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		slog.Warn("stored value unreadable, treating as absent", "key", key, "error", err)
		return false, nil
	}
	return true, nil
}

// Set stores value as JSON under key.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	old, err := s.GetRaw(ctx, key)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, string(data))
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	s.emit(Change{Key: key, Old: old, New: data})
	return nil
}

// SetIfAbsent stores value only when key has no value yet.
func (s *Store) SetIfAbsent(ctx context.Context, key string, value any) (bool, error) {
	raw, err := s.GetRaw(ctx, key)
	if err != nil {
		return false, err
	}
	if raw != nil {
		return false, nil
	}
	return true, s.Set(ctx, key, value)
}

// Remove deletes key. Removing an absent key is not an error and emits nothing.
func (s *Store) Remove(ctx context.Context, key string) error {
	old, err := s.GetRaw(ctx, key)
	if err != nil {
		return err
	}
	if old == nil {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	s.emit(Change{Key: key, Old: old})
	return nil
}

// Keys lists every stored key.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM kv ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *Store) emit(c Change) {
	s.mu.Lock()
	listeners := append([]func(Change){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(c)
	}
}
