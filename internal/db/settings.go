package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/kimhsiao/gatesync/internal/errors"
	"github.com/kimhsiao/gatesync/internal/storage"
)

// SettingsStore implements storage.Store on the settings table.
// Each Set is a single-row UPSERT, so a value is replaced in one statement.
type SettingsStore struct {
	db *DB
}

var _ storage.Store = (*SettingsStore)(nil)

// NewSettingsStore wraps an open, migrated database.
func NewSettingsStore(db *DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// OpenSettingsStore opens the database in dataDir and applies migrations.
func OpenSettingsStore(dataDir string) (*SettingsStore, error) {
	db, err := Open(dataDir)
	if err != nil {
		return nil, errors.Persistence("open settings database", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, errors.Persistence("migrate settings database", err)
	}
	return NewSettingsStore(db), nil
}

func (s *SettingsStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, errors.Persistence("read setting "+key, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

func (s *SettingsStore) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	query := `INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			  ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, key, value, time.Now().UnixMilli()); err != nil {
		return errors.Persistence("write setting "+key, err)
	}
	return nil
}

func (s *SettingsStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key); err != nil {
		return errors.Persistence("delete setting "+key, err)
	}
	return nil
}

// UpdatedAt returns when key was last written.
func (s *SettingsStore) UpdatedAt(ctx context.Context, key string) (time.Time, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx, "SELECT updated_at FROM settings WHERE key = ?", key).Scan(&ms)
	if stderrors.Is(err, sql.ErrNoRows) {
		return time.Time{}, storage.ErrNotFound
	}
	if err != nil {
		return time.Time{}, errors.Persistence("read setting "+key, err)
	}
	return time.UnixMilli(ms), nil
}

// Close closes the underlying database.
func (s *SettingsStore) Close() error {
	return s.db.Close()
}
