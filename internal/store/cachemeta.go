package store

import (
	"context"
	"database/sql"
	"strconv"
	"time"
)

// Metadata keys stored in the cache_metadata table (§3, §4.1).
const (
	MetaKeyIncludeDependencies = "include_dependencies"
	MetaKeyIndexedFileCount    = "indexed_file_count"
	MetaKeyLastVacuum          = "last_vacuum"
	MetaKeyLastCompileCmdsHash = "last_compile_commands_hash"
	MetaKeyLastRefreshAt       = "last_refresh_at"
	MetaKeyProjectSourceRoot   = "project_source_root"
)

// GetMetadata reads a single cache_metadata value, returning ("", false)
// if the key is unset.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.read.QueryRowContext(ctx, `SELECT value FROM cache_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetMetadata writes a single cache_metadata value outside of a caller
// transaction, using the writer connection directly.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.setMetadata(ctx, s.write, key, value)
}

// SetMetadataTx writes a cache_metadata value as part of a caller's
// write transaction.
func SetMetadataTx(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO cache_metadata(key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// GetIndexedFileCount reads the cached file count, defaulting to 0 if unset.
func (s *Store) GetIndexedFileCount(ctx context.Context) (int, error) {
	v, ok, err := s.GetMetadata(ctx, MetaKeyIndexedFileCount)
	if err != nil || !ok {
		return 0, err
	}
	return strconv.Atoi(v)
}

// GetLastVacuum returns the time of the last vacuum, or the zero time
// if the database has never been vacuumed.
func (s *Store) GetLastVacuum(ctx context.Context) (time.Time, error) {
	v, ok, err := s.GetMetadata(ctx, MetaKeyLastVacuum)
	if err != nil || !ok {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, v)
}

// IncludeDependenciesEnabled reports whether the project config
// requested dependency-graph tracking for cross-file invalidation
// (§4.1, §4.7 — disabling it trades correctness for a smaller cache).
func (s *Store) IncludeDependenciesEnabled(ctx context.Context) (bool, error) {
	v, ok, err := s.GetMetadata(ctx, MetaKeyIncludeDependencies)
	if err != nil || !ok {
		return true, err // default: enabled
	}
	return v == "1", nil
}
