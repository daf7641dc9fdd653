package store

import (
	"context"
	"database/sql"

	"github.com/standardbeagle/cindex/internal/types"
)

// InsertParseError appends an error record for a failed parse attempt.
// Parse errors are append-only within a retry budget; callers decide
// when to prune old rows for a file (typically on successful re-parse).
func InsertParseError(ctx context.Context, tx *sql.Tx, rec types.ParseErrorRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO parse_errors (file, error_kind, message, stacktrace, file_hash, args_hash, retry_count, timestamp)
		VALUES (?,?,?,?,?,?,?,?)
	`, rec.File, rec.ErrorKind, rec.Message, rec.Stacktrace, rec.FileHash, rec.ArgsHash, rec.RetryCount, rec.Timestamp)
	return err
}

// ClearParseErrorsForFile removes prior error records for a file,
// typically called when a re-parse of that file succeeds.
func ClearParseErrorsForFile(ctx context.Context, tx *sql.Tx, file string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM parse_errors WHERE file = ?`, file)
	return err
}

// ParseErrorsForFile returns the error history for one file, most
// recent first.
func (s *Store) ParseErrorsForFile(ctx context.Context, file string) ([]types.ParseErrorRecord, error) {
	rows, err := s.read.QueryContext(ctx, `
		SELECT id, file, error_kind, message, stacktrace, file_hash, args_hash, retry_count, timestamp
		FROM parse_errors WHERE file = ? ORDER BY timestamp DESC
	`, file)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanParseErrorRows(rows)
}

// SearchParseErrors returns recent parse errors across the whole
// project, optionally filtered by error kind, supporting the
// search_parse_errors diagnostic query.
func (s *Store) SearchParseErrors(ctx context.Context, kind string, limit int) ([]types.ParseErrorRecord, error) {
	query := `SELECT id, file, error_kind, message, stacktrace, file_hash, args_hash, retry_count, timestamp FROM parse_errors`
	var args []any
	if kind != "" {
		query += ` WHERE error_kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanParseErrorRows(rows)
}

func scanParseErrorRows(rows *sql.Rows) ([]types.ParseErrorRecord, error) {
	var out []types.ParseErrorRecord
	for rows.Next() {
		var rec types.ParseErrorRecord
		if err := rows.Scan(&rec.ID, &rec.File, &rec.ErrorKind, &rec.Message, &rec.Stacktrace,
			&rec.FileHash, &rec.ArgsHash, &rec.RetryCount, &rec.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
