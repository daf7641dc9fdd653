package store

import (
	"context"
	"database/sql"

	"github.com/standardbeagle/cindex/internal/types"
)

// ClaimHeader records that ownerFile is the first (and only) parse
// task that will emit symbols for a header, implementing the
// first-win protocol (§4.5). Must be called inside the same write
// transaction as the owner's symbol/call-site replacement.
func ClaimHeader(ctx context.Context, tx *sql.Tx, entry types.HeaderTrackerEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO header_tracker (path, processed_by, file_hash, compile_commands_hash, processed_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(path) DO UPDATE SET
			processed_by=excluded.processed_by, file_hash=excluded.file_hash,
			compile_commands_hash=excluded.compile_commands_hash, processed_at=excluded.processed_at
	`, entry.Path, entry.ProcessedBy, entry.FileHash, entry.CompileCommandsHash, entry.ProcessedAt)
	return err
}

// HeaderTrackerEntry returns the current owner record for a header
// path, or nil if the header has never been claimed.
func (s *Store) HeaderTrackerEntry(ctx context.Context, path string) (*types.HeaderTrackerEntry, error) {
	var e types.HeaderTrackerEntry
	err := s.read.QueryRowContext(ctx, `
		SELECT path, processed_by, file_hash, compile_commands_hash, processed_at
		FROM header_tracker WHERE path = ?
	`, path).Scan(&e.Path, &e.ProcessedBy, &e.FileHash, &e.CompileCommandsHash, &e.ProcessedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// HeadersOwnedBy returns every header currently claimed by ownerFile,
// used when ownerFile is removed or re-parsed so its claims can be
// released and reassigned (§4.5).
func (s *Store) HeadersOwnedBy(ctx context.Context, ownerFile string) ([]string, error) {
	rows, err := s.read.QueryContext(ctx, `SELECT path FROM header_tracker WHERE processed_by = ?`, ownerFile)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// HeadersOwnedByTx is HeadersOwnedBy scoped to an in-flight write
// transaction, so a caller that just claimed or released headers in tx
// sees its own uncommitted writes (§4.5, §4.9 atomic apply).
func HeadersOwnedByTx(ctx context.Context, tx *sql.Tx, ownerFile string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT path FROM header_tracker WHERE processed_by = ?`, ownerFile)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ReleaseHeaderClaim removes a header's ownership record, making it
// eligible to be re-claimed by the next file that includes it.
func ReleaseHeaderClaim(ctx context.Context, tx *sql.Tx, path string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM header_tracker WHERE path = ?`, path)
	return err
}

// AllHeaderTrackerEntries returns the full header_tracker table,
// used by the change scanner to detect headers whose content changed
// independent of any owner's compile args (§4.5, §4.8).
func (s *Store) AllHeaderTrackerEntries(ctx context.Context) (map[string]types.HeaderTrackerEntry, error) {
	rows, err := s.read.QueryContext(ctx, `
		SELECT path, processed_by, file_hash, compile_commands_hash, processed_at FROM header_tracker
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]types.HeaderTrackerEntry)
	for rows.Next() {
		var e types.HeaderTrackerEntry
		if err := rows.Scan(&e.Path, &e.ProcessedBy, &e.FileHash, &e.CompileCommandsHash, &e.ProcessedAt); err != nil {
			return nil, err
		}
		out[e.Path] = e
	}
	return out, rows.Err()
}
