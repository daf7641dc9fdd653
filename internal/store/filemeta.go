package store

import (
	"context"
	"database/sql"

	"github.com/standardbeagle/cindex/internal/types"
)

// UpsertFileMetadata writes (or replaces) the file_metadata row for one
// file, as the final step of the atomic file update (§4.2).
func UpsertFileMetadata(ctx context.Context, tx *sql.Tx, m types.FileMetadata) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO file_metadata (path, content_hash, args_hash, indexed_at, symbol_count, success, error_message, retry_count)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(path) DO UPDATE SET
			content_hash=excluded.content_hash, args_hash=excluded.args_hash,
			indexed_at=excluded.indexed_at, symbol_count=excluded.symbol_count,
			success=excluded.success, error_message=excluded.error_message, retry_count=excluded.retry_count
	`, m.Path, m.ContentHash, m.ArgsHash, m.IndexedAt, m.SymbolCount, boolToInt(m.Success), m.ErrorMessage, m.RetryCount)
	return err
}

// DeleteFileMetadata removes a file's metadata row (file removal, §4.9 step 5).
func DeleteFileMetadata(ctx context.Context, tx *sql.Tx, path string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM file_metadata WHERE path = ?`, path)
	return err
}

func scanFileMetadata(row interface{ Scan(dest ...any) error }) (types.FileMetadata, error) {
	var m types.FileMetadata
	var success int
	err := row.Scan(&m.Path, &m.ContentHash, &m.ArgsHash, &m.IndexedAt, &m.SymbolCount, &success, &m.ErrorMessage, &m.RetryCount)
	m.Success = success != 0
	return m, err
}

// FileMetadataByPath fetches one file's metadata, or nil if unknown.
func (s *Store) FileMetadataByPath(ctx context.Context, path string) (*types.FileMetadata, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT path, content_hash, args_hash, indexed_at, symbol_count, success, error_message, retry_count
		 FROM file_metadata WHERE path = ?`, path)
	m, err := scanFileMetadata(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// AllFileMetadata fetches every known file's metadata, used by the
// change scanner (C8) to diff against a fresh filesystem enumeration.
func (s *Store) AllFileMetadata(ctx context.Context) (map[string]types.FileMetadata, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT path, content_hash, args_hash, indexed_at, symbol_count, success, error_message, retry_count FROM file_metadata`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]types.FileMetadata)
	for rows.Next() {
		m, err := scanFileMetadata(rows)
		if err != nil {
			return nil, err
		}
		out[m.Path] = m
	}
	return out, rows.Err()
}

// FileCount returns the number of tracked files (for server_status).
func (s *Store) FileCount(ctx context.Context) (int, error) {
	var n int
	err := s.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_metadata`).Scan(&n)
	return n, err
}

// SymbolCount returns the total number of tracked symbols.
func (s *Store) SymbolCount(ctx context.Context) (int, error) {
	var n int
	err := s.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM symbols`).Scan(&n)
	return n, err
}
