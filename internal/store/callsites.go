package store

import (
	"context"
	"database/sql"

	"github.com/standardbeagle/cindex/internal/types"
)

// ReplaceCallSitesForFile deletes all call sites whose File equals
// file and inserts the replacements (§3: "on re-parse of a file F, all
// call sites whose source is F are deleted and re-inserted"). Returns
// rows deleted plus rows inserted for the caller's vacuum accounting.
func ReplaceCallSitesForFile(ctx context.Context, tx *sql.Tx, file string, sites []types.CallSite) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM call_sites WHERE file = ?`, file)
	if err != nil {
		return 0, err
	}
	dirty, _ := res.RowsAffected()
	for _, cs := range sites {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO call_sites (caller_id, callee_id, file, line, column) VALUES (?,?,?,?,?)`,
			cs.CallerID, cs.CalleeID, cs.File, cs.Line, cs.Column); err != nil {
			return dirty, err
		}
	}
	return dirty + int64(len(sites)), nil
}

// FindCallers returns every call site whose callee is calleeID.
func (s *Store) FindCallers(ctx context.Context, calleeID string) ([]types.CallSite, error) {
	return s.queryCallSites(ctx, `SELECT caller_id, callee_id, file, line, column FROM call_sites WHERE callee_id = ?`, calleeID)
}

// FindCallees returns every call site whose caller is callerID.
func (s *Store) FindCallees(ctx context.Context, callerID string) ([]types.CallSite, error) {
	return s.queryCallSites(ctx, `SELECT caller_id, callee_id, file, line, column FROM call_sites WHERE caller_id = ?`, callerID)
}

func (s *Store) queryCallSites(ctx context.Context, query, arg string) ([]types.CallSite, error) {
	rows, err := s.read.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.CallSite
	for rows.Next() {
		var cs types.CallSite
		if err := rows.Scan(&cs.CallerID, &cs.CalleeID, &cs.File, &cs.Line, &cs.Column); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// AllCalleesOf returns the distinct set of callee IDs called directly
// by callerID, used as one BFS expansion step by call_path (§4.10).
func (s *Store) AllCalleesOf(ctx context.Context, callerID string) ([]string, error) {
	rows, err := s.read.QueryContext(ctx, `SELECT DISTINCT callee_id FROM call_sites WHERE caller_id = ?`, callerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DeleteCallSitesForFile removes all call sites owned by a removed
// file, returning the number of rows deleted.
func DeleteCallSitesForFile(ctx context.Context, tx *sql.Tx, file string) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM call_sites WHERE file = ?`, file)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
