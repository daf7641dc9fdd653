// Package headertracker implements C5: assigning each header to
// exactly one (translation-unit, compile-args) owner so it is parsed
// once rather than once per including translation unit (spec §4.5).
package headertracker

import (
	"context"
	"database/sql"
	"time"

	"github.com/standardbeagle/cindex/internal/store"
	"github.com/standardbeagle/cindex/internal/types"
)

// Tracker wraps the header_tracker table with the first-win claim
// protocol. A single Tracker is shared by every worker result applied
// within one coordinator run; ClaimOrSuppress must run inside the
// same write transaction as the owning file's symbol replacement so
// the claim and the symbols it gates commit atomically.
type Tracker struct {
	db *store.Store
}

func New(db *store.Store) *Tracker {
	return &Tracker{db: db}
}

// Decision reports whether a header's symbols should be emitted for
// this parse, after consulting (and possibly updating) the tracker.
type Decision struct {
	Claimed bool // true: this TU owns H, emit its symbols
}

// ClaimOrSuppress implements the three-step first-win protocol from
// §4.5 for one header H (current content hash headerHash) seen while
// parsing owner with args hash argsHash. Must be called with the write
// transaction that will also persist owner's symbols.
//
// A header already owned by owner itself (the common re-parse case) is
// re-affirmed rather than suppressed: owner keeps emitting H's symbols
// and the tracker row's hash/timestamp are refreshed, otherwise a TU's
// own headers would go silently stale the moment it is re-parsed.
func (t *Tracker) ClaimOrSuppress(ctx context.Context, tx *sql.Tx, header, headerHash, owner, argsHash string) (Decision, error) {
	existing, err := t.entryTx(ctx, tx, header)
	if err != nil {
		return Decision{}, err
	}
	if existing != nil && existing.ProcessedBy != owner {
		// Claimed by someone else: suppress emission, leave the row
		// untouched (step 3).
		return Decision{Claimed: false}, nil
	}
	// Absent, or already owned by owner: claim/re-affirm it (step 2).
	if err := store.ClaimHeader(ctx, tx, types.HeaderTrackerEntry{
		Path:                header,
		ProcessedBy:         owner,
		FileHash:            headerHash,
		CompileCommandsHash: argsHash,
		ProcessedAt:         time.Now(),
	}); err != nil {
		return Decision{}, err
	}
	return Decision{Claimed: true}, nil
}

func (t *Tracker) entryTx(ctx context.Context, tx *sql.Tx, path string) (*types.HeaderTrackerEntry, error) {
	var e types.HeaderTrackerEntry
	err := tx.QueryRowContext(ctx, `
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

// ReleaseOwned clears every header claim owned by file, so another TU
// may claim them on the next batch. Call before re-parsing or
// removing file (§4.5 "owning file removed or re-parsed").
func (t *Tracker) ReleaseOwned(ctx context.Context, tx *sql.Tx, file string) error {
	owned, err := t.db.HeadersOwnedBy(ctx, file)
	if err != nil {
		return err
	}
	for _, h := range owned {
		if err := store.ReleaseHeaderClaim(ctx, tx, h); err != nil {
			return err
		}
	}
	return nil
}

// ClearAll wipes the entire tracker, used when compile_commands'
// global hash changes (§4.5, §4.9 step 1): any preprocessor-visible
// argument change can affect any header's parse.
func (t *Tracker) ClearAll(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM header_tracker`)
	return err
}

// StaleHeaders returns every tracked header whose current content
// hash differs from the hash recorded at claim time, i.e. the headers
// whose content has changed since they were last parsed (§4.8
// modified_headers, first half of the union).
func (t *Tracker) StaleHeaders(ctx context.Context, hashFile func(path string) (string, error)) ([]string, error) {
	entries, err := t.db.AllHeaderTrackerEntries(ctx)
	if err != nil {
		return nil, err
	}
	var stale []string
	for path, entry := range entries {
		h, err := hashFile(path)
		if err != nil {
			// Header no longer readable (deleted); treat as stale so its
			// row gets invalidated and dependents recomputed.
			stale = append(stale, path)
			continue
		}
		if h != entry.FileHash {
			stale = append(stale, path)
		}
	}
	return stale, nil
}

// InvalidateHeader deletes H's tracker row on its own, outside of an
// owner's transaction — used by the coordinator when a header changed
// but no specific TU is re-parsing it yet (§4.5 "header content
// change: the row for H is deleted; next TU to see H wins").
func (t *Tracker) InvalidateHeader(ctx context.Context, header string) error {
	return t.db.WithWriteTx(ctx, func(tx *sql.Tx) error {
		return store.ReleaseHeaderClaim(ctx, tx, header)
	})
}
