package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/standardbeagle/cindex/internal/types"
)

// ReplaceDependencyEdges deletes every edge sourced from file and
// inserts the replacements, inside the same write transaction as that
// file's symbol/call-site replacement (§4.2, §4.7). Returns rows
// deleted plus rows inserted for the caller's vacuum accounting.
func ReplaceDependencyEdges(ctx context.Context, tx *sql.Tx, file string, edges []types.IncludeEdge, detectedAt time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM dependency_edges WHERE source_file = ?`, file)
	if err != nil {
		return 0, err
	}
	dirty, _ := res.RowsAffected()
	for _, e := range edges {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO dependency_edges (source_file, included_file, is_direct, include_depth, detected_at)
			VALUES (?,?,?,?,?)
			ON CONFLICT(source_file, included_file) DO UPDATE SET
				is_direct=excluded.is_direct, include_depth=excluded.include_depth, detected_at=excluded.detected_at
		`, file, e.IncludedFile, boolToInt(e.IsDirect), e.Depth, detectedAt); err != nil {
			return dirty, err
		}
	}
	return dirty + int64(len(edges)), nil
}

// DeleteDependencyEdgesForFile removes every edge sourced from file
// (file removal, §4.9 step 5), returning the number of rows deleted.
func DeleteDependencyEdgesForFile(ctx context.Context, tx *sql.Tx, file string) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM dependency_edges WHERE source_file = ?`, file)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DirectDependents returns every source file that directly includes
// includedFile — the first BFS layer for FindTransitiveDependents.
func (s *Store) DirectDependents(ctx context.Context, includedFile string) ([]string, error) {
	rows, err := s.read.QueryContext(ctx, `
		SELECT DISTINCT source_file FROM dependency_edges WHERE included_file = ?
	`, includedFile)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DependenciesOf returns every file directly included by file.
func (s *Store) DependenciesOf(ctx context.Context, file string) ([]types.IncludeEdge, error) {
	rows, err := s.read.QueryContext(ctx, `
		SELECT included_file, is_direct, include_depth FROM dependency_edges WHERE source_file = ?
	`, file)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.IncludeEdge
	for rows.Next() {
		var e types.IncludeEdge
		var isDirect int
		if err := rows.Scan(&e.IncludedFile, &isDirect, &e.Depth); err != nil {
			return nil, err
		}
		e.IsDirect = isDirect != 0
		out = append(out, e)
	}
	return out, rows.Err()
}
