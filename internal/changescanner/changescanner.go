// Package changescanner implements C8: comparing the current on-disk
// storage state against a fresh filesystem enumeration (C3) and the
// compilation database (C4) to produce a structured changeset
// consumed by the incremental coordinator (spec §4.8).
package changescanner

import (
	"context"
	"sort"

	"github.com/standardbeagle/cindex/internal/compiledb"
	"github.com/standardbeagle/cindex/internal/headertracker"
	"github.com/standardbeagle/cindex/internal/scanner"
	"github.com/standardbeagle/cindex/internal/store"
	"github.com/standardbeagle/cindex/internal/types"
)

// Scanner produces changesets by diffing fresh scans against the store.
// snapshot is the path of the cached copy of the compilation database
// as of the last applied refresh (written by the project orchestrator
// next to the cache database), which serves as the "old" side of the
// §4.4 diff when the live database's global hash changes.
type Scanner struct {
	db       *store.Store
	files    *scanner.Scanner
	headers  *headertracker.Tracker
	snapshot string
}

func New(db *store.Store, files *scanner.Scanner, headers *headertracker.Tracker, snapshotPath string) *Scanner {
	return &Scanner{db: db, files: files, headers: headers, snapshot: snapshotPath}
}

// Scan walks the source tree, diffs it against stored file_metadata
// and header_tracker state, and checks the compile_commands global
// hash, producing a full §4.8 changeset.
func (s *Scanner) Scan(ctx context.Context, compileCommandsPath string) (types.ChangeSet, error) {
	var cs types.ChangeSet

	currentFiles, err := s.files.Scan()
	if err != nil {
		return cs, err
	}

	cdb, err := compiledb.Load(compileCommandsPath)
	if err != nil {
		return cs, err
	}
	globalHash, err := cdb.GlobalHash()
	if err != nil {
		return cs, err
	}
	storedHash, _, err := s.db.GetMetadata(ctx, store.MetaKeyLastCompileCmdsHash)
	if err != nil {
		return cs, err
	}
	cs.CompileCommandsChanged = globalHash != "" && globalHash != storedHash

	metadata, err := s.db.AllFileMetadata(ctx)
	if err != nil {
		return cs, err
	}

	scannedSet := make(map[string]bool, len(currentFiles))
	for _, f := range currentFiles {
		scannedSet[f] = true

		existing, known := metadata[f]
		if !known {
			cs.Added = append(cs.Added, f)
			continue
		}
		hash, err := scanner.HashFile(f)
		if err != nil {
			continue // unreadable mid-scan; next scan will pick it up
		}
		if hash != existing.ContentHash {
			cs.Modified = append(cs.Modified, f)
		}
	}

	for f := range metadata {
		if !scannedSet[f] {
			cs.Removed = append(cs.Removed, f)
		}
	}

	if cs.CompileCommandsChanged {
		cs.CommandsChanged = s.commandsChanged(cdb, scannedSet, metadata, cs.Modified)
	}

	stale, err := s.headers.StaleHeaders(ctx, scanner.HashFile)
	if err != nil {
		return cs, err
	}
	cs.ModifiedHeaders = stale

	return cs, nil
}

// commandsChanged runs §4.9 step 1's per-file argument diff: the
// snapshot of the database from the last applied refresh against the
// freshly loaded one, via C4's DiffArgs. Δ = added ∪ changed is queued
// for re-parse; entries removed from the database whose file is still
// on disk are queued too, so they get re-parsed with default args
// instead of being deleted while present (deleting an on-disk file's
// rows would break invariant §8.4). Files already queued as
// content-modified are skipped, as are database entries for files the
// index has never seen.
func (s *Scanner) commandsChanged(current *compiledb.Store, scannedSet map[string]bool, metadata map[string]types.FileMetadata, modified []string) []string {
	previous, err := compiledb.Load(s.snapshot)
	if err != nil {
		// Unreadable snapshot: diff against an empty database, which
		// degrades to "every known entry changed". Load already treats
		// a missing snapshot (first refresh) the same way.
		previous = &compiledb.Store{}
	}
	diff := compiledb.DiffArgs(previous, current)

	alreadyQueued := make(map[string]bool, len(modified))
	for _, f := range modified {
		alreadyQueued[f] = true
	}

	var out []string
	seen := make(map[string]bool)
	for _, group := range [][]string{diff.Added, diff.Changed, diff.Removed} {
		for _, f := range group {
			if seen[f] || alreadyQueued[f] || !scannedSet[f] {
				continue
			}
			if _, known := metadata[f]; !known {
				continue // never indexed; the Added set covers it
			}
			seen[f] = true
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}
