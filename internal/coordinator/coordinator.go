// Package coordinator implements C9: turning a changeset into a
// re-analysis set under the priority/cascade policy of spec §4.9,
// dispatching it across the C6 worker pool with bounded concurrency,
// and applying each completed result as one atomic storage transaction.
package coordinator

import (
	"context"
	"database/sql"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/cindex/internal/compiledb"
	"github.com/standardbeagle/cindex/internal/debug"
	"github.com/standardbeagle/cindex/internal/depgraph"
	cerrors "github.com/standardbeagle/cindex/internal/errors"
	"github.com/standardbeagle/cindex/internal/headertracker"
	"github.com/standardbeagle/cindex/internal/parserworker"
	"github.com/standardbeagle/cindex/internal/scanner"
	"github.com/standardbeagle/cindex/internal/store"
	"github.com/standardbeagle/cindex/internal/types"
)

// MaxRetries bounds how many times a file is re-queued after a worker
// crash before the coordinator gives up on it for this run (§4.9
// "failure handling... up to a fixed retry budget").
const MaxRetries = 2

// Coordinator applies one changeset at a time. sourceRoot, when
// non-empty, is used to stamp each stored symbol's is_project flag
// (origin inside the source root, §3) at apply time — the worker
// doesn't know the project boundary.
type Coordinator struct {
	db         *store.Store
	pool       *parserworker.Pool
	headers    *headertracker.Tracker
	deps       *depgraph.Graph
	sourceRoot string

	concurrency int
}

// Result summarizes one run, mirroring the counts refresh_project
// reports to clients (§6).
type Result struct {
	FilesAnalyzed int
	FilesRemoved  int
	Errors        []types.ParseErrorRecord
}

func New(db *store.Store, pool *parserworker.Pool, headers *headertracker.Tracker, deps *depgraph.Graph, sourceRoot string) *Coordinator {
	concurrency := runtime.NumCPU() - 1
	if concurrency < 1 {
		concurrency = 1
	}
	return &Coordinator{db: db, pool: pool, headers: headers, deps: deps, sourceRoot: sourceRoot, concurrency: concurrency}
}

// Apply runs the full §4.9 policy for one changeset. argsFor resolves
// a file's compile arguments (falling back to defaults when the file
// has none in the compilation database); cancel, if non-nil, is
// polled between dispatches and apply steps for cooperative
// cancellation (§4.9 "Cancellation").
func (c *Coordinator) Apply(ctx context.Context, cs types.ChangeSet, argsFor func(file string) []string, cancelled func() bool) (Result, error) {
	var result Result
	if cancelled == nil {
		cancelled = func() bool { return false }
	}

	reparse := make(map[string]bool)

	if cs.CompileCommandsChanged {
		// Preprocessor-visible argument changes can affect any header, so
		// every first-win claim is up for grabs again (§4.5, §4.9 step 1).
		if err := c.db.WithWriteTx(ctx, func(tx *sql.Tx) error {
			return c.headers.ClearAll(ctx, tx)
		}); err != nil {
			return result, err
		}
		for _, f := range cs.CommandsChanged {
			reparse[f] = true
		}
	}

	for _, h := range cs.ModifiedHeaders {
		dependents, err := c.deps.FindTransitiveDependents(ctx, h)
		if err != nil {
			return result, err
		}
		for _, d := range dependents {
			reparse[d] = true
		}
		if err := c.headers.InvalidateHeader(ctx, h); err != nil {
			return result, err
		}
	}

	for _, s := range cs.Modified {
		reparse[s] = true
	}
	for _, f := range cs.Added {
		reparse[f] = true
	}

	if cancelled() {
		return result, cerrors.New(cerrors.Cancelled, "apply", nil)
	}

	files := make([]string, 0, len(reparse))
	for f := range reparse {
		files = append(files, f)
	}

	errs, err := c.dispatch(ctx, files, argsFor, cancelled)
	if err != nil {
		return result, err
	}
	result.FilesAnalyzed = len(files)
	result.Errors = errs

	for _, r := range cs.Removed {
		if cancelled() {
			break
		}
		if err := c.removeFile(ctx, r); err != nil {
			return result, err
		}
		result.FilesRemoved++
	}

	return result, nil
}

func (c *Coordinator) dispatch(ctx context.Context, files []string, argsFor func(string) []string, cancelled func() bool) ([]types.ParseErrorRecord, error) {
	var mu sync.Mutex
	var allErrors []types.ParseErrorRecord

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for _, file := range files {
		file := file
		if cancelled() {
			break
		}
		g.Go(func() error {
			args := argsFor(file)
			errs := c.parseAndApplyWithRetry(gctx, file, args)
			if len(errs) > 0 {
				mu.Lock()
				allErrors = append(allErrors, errs...)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return allErrors, err
	}
	return allErrors, nil
}

func (c *Coordinator) parseAndApplyWithRetry(ctx context.Context, file string, args []string) []types.ParseErrorRecord {
	var retry int32
	for {
		hash, hashErr := scanner.HashFile(file)
		if hashErr != nil {
			return []types.ParseErrorRecord{{File: file, ErrorKind: string(cerrors.ParseFailure), Message: hashErr.Error(), Timestamp: time.Now()}}
		}
		task := types.ParseTask{File: file, Args: args, ArgsHash: compiledb.Hash(args), ContentHash: hash}

		result, err := c.pool.Parse(ctx, task)
		if err == nil {
			if !result.Success {
				// The prior successful parse's snapshot survives a failed
				// one (§4.9): only the error log and file metadata change.
				recs := c.recordParseFailure(ctx, file, hash, task.ArgsHash, result.Errors)
				return recs
			}
			if applyErr := c.applyResult(ctx, file, hash, task.ArgsHash, result); applyErr != nil {
				debug.Logf(debug.Coordinator, "apply failed for %s: %v", file, applyErr)
				return []types.ParseErrorRecord{{File: file, ErrorKind: string(cerrors.StorageCorruption), Message: applyErr.Error(), Timestamp: time.Now()}}
			}
			return nil
		}

		if atomic.AddInt32(&retry, 1) > MaxRetries {
			rec := types.ParseErrorRecord{File: file, ErrorKind: string(cerrors.WorkerCrashed), Message: err.Error(), RetryCount: int(retry), Timestamp: time.Now()}
			c.recordFailure(ctx, file, rec)
			return []types.ParseErrorRecord{rec}
		}
		debug.Logf(debug.Coordinator, "worker crashed parsing %s, retry %d/%d", file, retry, MaxRetries)
	}
}

// applyResult commits one file's symbols, call sites, dependency
// edges, header claims and file metadata atomically (§4.2, §4.9).
//
// Claim bookkeeping happens in two steps. First, headers this TU owned
// on its previous parse but no longer reports are released (§4.5
// "owning file removed or re-parsed: the owner must clear its owned
// tracker rows"), so a TU that dropped an #include surrenders the
// claim and the next TU to encounter the header may win it. Then the
// reported headers are claimed, and the first-win decision gates which
// header-owned symbols this TU is allowed to persist: a header
// suppressed here (claimed by some other TU) must not have its symbols
// upserted by this apply. The delete/insert scope passed to
// ReplaceSymbolsForFile covers the TU, every header it still owns and
// every header it just released — not just its own path — or a
// declaration removed from an owned header would survive as a ghost
// row (§3).
func (c *Coordinator) applyResult(ctx context.Context, file, contentHash, argsHash string, result types.ParseResult) error {
	var dirty int64
	err := c.db.WithWriteTx(ctx, func(tx *sql.Tx) error {
		reported := make(map[string]bool, len(result.Headers))
		for _, h := range result.Headers {
			reported[h] = true
		}
		prevOwned, err := store.HeadersOwnedByTx(ctx, tx, file)
		if err != nil {
			return err
		}
		var released []string
		for _, h := range prevOwned {
			if reported[h] {
				continue
			}
			if err := store.ReleaseHeaderClaim(ctx, tx, h); err != nil {
				return err
			}
			released = append(released, h)
		}

		suppressed := make(map[string]bool, len(result.Headers))
		for _, h := range result.Headers {
			headerHash, err := scanner.HashFile(h)
			if err != nil {
				suppressed[h] = true // header vanished mid-batch; next scan reconciles it
				continue
			}
			decision, err := c.headers.ClaimOrSuppress(ctx, tx, h, headerHash, file, argsHash)
			if err != nil {
				return err
			}
			if !decision.Claimed {
				suppressed[h] = true
			}
		}

		kept := result.Symbols
		if len(suppressed) > 0 {
			kept = make([]types.Symbol, 0, len(result.Symbols))
			for _, sym := range result.Symbols {
				if sym.File != file && suppressed[sym.File] {
					continue // owned by another TU; not ours to persist
				}
				kept = append(kept, sym)
			}
		}
		merged := store.MergeDefinitionWins(kept)
		if c.sourceRoot != "" {
			prefix := c.sourceRoot + string(os.PathSeparator)
			for i := range merged {
				merged[i].IsProject = strings.HasPrefix(merged[i].File, prefix)
			}
		}

		owned, err := store.HeadersOwnedByTx(ctx, tx, file)
		if err != nil {
			return err
		}
		scope := append([]string{file}, owned...)
		scope = append(scope, released...)
		n, err := store.ReplaceSymbolsForFile(ctx, tx, scope, merged)
		if err != nil {
			return err
		}
		dirty += n
		n, err = store.ReplaceCallSitesForFile(ctx, tx, file, result.CallSites)
		if err != nil {
			return err
		}
		dirty += n
		n, err = depgraph.Update(ctx, tx, file, result.Includes)
		if err != nil {
			return err
		}
		dirty += n
		if err := store.ClearParseErrorsForFile(ctx, tx, file); err != nil {
			return err
		}
		return store.UpsertFileMetadata(ctx, tx, types.FileMetadata{
			Path: file, ContentHash: contentHash, ArgsHash: argsHash,
			IndexedAt: time.Now(), SymbolCount: len(merged), Success: true,
		})
	})
	if err != nil {
		return err
	}
	c.db.NoteDirty(dirty)
	return nil
}

// recordParseFailure logs a completed-but-unsuccessful parse: error
// records are appended, file metadata flips to success=false with an
// incremented retry count, and the file's symbols, call sites and
// dependency edges are left exactly as the last successful parse wrote
// them (§4.9 "the previous snapshot survives").
func (c *Coordinator) recordParseFailure(ctx context.Context, file, contentHash, argsHash string, errs []types.ParseErrorRecord) []types.ParseErrorRecord {
	now := time.Now()
	if len(errs) == 0 {
		errs = []types.ParseErrorRecord{{File: file, ErrorKind: string(cerrors.ParseFailure), Message: "parse failed"}}
	}
	message := errs[0].Message

	writeErr := c.db.WithWriteTx(ctx, func(tx *sql.Tx) error {
		for i := range errs {
			errs[i].FileHash = contentHash
			errs[i].ArgsHash = argsHash
			if errs[i].Timestamp.IsZero() {
				errs[i].Timestamp = now
			}
			if err := store.InsertParseError(ctx, tx, errs[i]); err != nil {
				return err
			}
		}
		prior, err := priorMetadataTx(ctx, tx, file)
		if err != nil {
			return err
		}
		return store.UpsertFileMetadata(ctx, tx, types.FileMetadata{
			Path: file, ContentHash: contentHash, ArgsHash: argsHash,
			IndexedAt: now, SymbolCount: prior.SymbolCount,
			Success: false, ErrorMessage: message, RetryCount: prior.RetryCount + 1,
		})
	})
	if writeErr != nil {
		debug.Logf(debug.Coordinator, "recording parse failure for %s failed: %v", file, writeErr)
	}
	return errs
}

// priorMetadataTx reads the file's existing metadata inside tx, so a
// failure record can carry forward the prior symbol count and bump the
// retry counter. A file never indexed before reads as zero values.
func priorMetadataTx(ctx context.Context, tx *sql.Tx, file string) (types.FileMetadata, error) {
	var m types.FileMetadata
	var success int
	err := tx.QueryRowContext(ctx,
		`SELECT symbol_count, retry_count, success FROM file_metadata WHERE path = ?`, file).
		Scan(&m.SymbolCount, &m.RetryCount, &success)
	if err == sql.ErrNoRows {
		return m, nil
	}
	m.Success = success != 0
	return m, err
}

func (c *Coordinator) recordFailure(ctx context.Context, file string, rec types.ParseErrorRecord) {
	_ = c.db.WithWriteTx(ctx, func(tx *sql.Tx) error {
		if err := store.InsertParseError(ctx, tx, rec); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE file_metadata SET success = 0, retry_count = retry_count + 1 WHERE path = ?`, file)
		return err
	})
}

func (c *Coordinator) removeFile(ctx context.Context, file string) error {
	var dirty int64
	err := c.db.WithWriteTx(ctx, func(tx *sql.Tx) error {
		n, err := store.DeleteSymbolsForFile(ctx, tx, file)
		if err != nil {
			return err
		}
		dirty += n
		n, err = store.DeleteCallSitesForFile(ctx, tx, file)
		if err != nil {
			return err
		}
		dirty += n
		n, err = store.DeleteDependencyEdgesForFile(ctx, tx, file)
		if err != nil {
			return err
		}
		dirty += n
		if err := c.headers.ReleaseOwned(ctx, tx, file); err != nil {
			return err
		}
		if err := store.ClearParseErrorsForFile(ctx, tx, file); err != nil {
			return err
		}
		return store.DeleteFileMetadata(ctx, tx, file)
	})
	if err != nil {
		return err
	}
	c.db.NoteDirty(dirty)
	return nil
}
