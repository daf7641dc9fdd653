// Package project wires C1 (identity) through C9 (incremental
// coordinator) and C11 (lifecycle) into the single orchestration point
// the MCP tool surface and CLI call: one Manager per active project
// directory, holding its own storage handle, worker pool and lifecycle
// state machine (spec §4.1, §4.11, §6 "set_project_directory" and
// "refresh_project").
package project

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/standardbeagle/cindex/internal/changescanner"
	"github.com/standardbeagle/cindex/internal/compiledb"
	"github.com/standardbeagle/cindex/internal/config"
	"github.com/standardbeagle/cindex/internal/coordinator"
	"github.com/standardbeagle/cindex/internal/debug"
	"github.com/standardbeagle/cindex/internal/depgraph"
	cerrors "github.com/standardbeagle/cindex/internal/errors"
	"github.com/standardbeagle/cindex/internal/headertracker"
	"github.com/standardbeagle/cindex/internal/identity"
	"github.com/standardbeagle/cindex/internal/lifecycle"
	"github.com/standardbeagle/cindex/internal/parserworker"
	"github.com/standardbeagle/cindex/internal/query"
	"github.com/standardbeagle/cindex/internal/scanner"
	"github.com/standardbeagle/cindex/internal/store"
	"github.com/standardbeagle/cindex/internal/types"
)

// Project is one active (source_root, config_path) identity with every
// component it takes to index and query it.
type Project struct {
	Identity *identity.Identity
	Config   *config.Config

	db      *store.Store
	pool    *parserworker.Pool
	headers *headertracker.Tracker
	deps    *depgraph.Graph
	coord   *coordinator.Coordinator
	files   *scanner.Scanner
	changes *changescanner.Scanner
	cdb     *compiledb.Store
	Life    *lifecycle.Machine
	Query   *query.Layer

	cacheDir string

	initialMode  string // "full" or "resume", set by initialIndex
	initialFiles int

	mu sync.Mutex // serializes RefreshProject calls for this project
}

// Manager holds every Project opened in this process, keyed by
// identity hash, so set_project_directory is idempotent per directory
// and list_projects/cache_info can enumerate them (SPEC_FULL
// supplemented feature, §6).
type Manager struct {
	mu           sync.RWMutex
	projects     map[string]*Project
	workerBinary string
}

// NewManager creates an empty Manager. workerBinary is the path to the
// cindex-parse-worker executable (§4.6 "spawn, never fork"); if empty,
// it is resolved relative to the running executable's directory, then
// via $PATH.
func NewManager(workerBinary string) *Manager {
	return &Manager{projects: make(map[string]*Project), workerBinary: workerBinary}
}

func (m *Manager) resolveWorkerBinary() (string, error) {
	if m.workerBinary != "" {
		return m.workerBinary, nil
	}
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), parserworker.BinaryName)
		if _, statErr := os.Stat(candidate); statErr == nil {
			return candidate, nil
		}
	}
	if path, err := exec.LookPath(parserworker.BinaryName); err == nil {
		return path, nil
	}
	return "", cerrors.New(cerrors.ParserUnavailable, "resolve_worker_binary",
		fmt.Errorf("%s not found alongside executable or on PATH", parserworker.BinaryName))
}

// SetProjectDirectory implements set_project_directory (§4.1, §6):
// resolves identity, opens (or reopens) the project's cache, and
// performs the initial full index if the cache is new. autoRefresh
// controls whether resuming an existing cache also runs an incremental
// refresh; a fresh cache is always indexed in full. Returns the ready
// Project; a second call with the same (root, configPath) is a cheap
// no-op that returns the already-open Project.
func (m *Manager) SetProjectDirectory(ctx context.Context, root, configPath string, autoRefresh bool) (*Project, error) {
	id, err := identity.Resolve(root, configPath)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.projects[id.Hash16]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.mu.Unlock()

	p, err := m.open(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.projects[id.Hash16] = p
	m.mu.Unlock()

	if err := p.initialIndex(ctx, autoRefresh); err != nil {
		return p, err
	}
	return p, nil
}

func (m *Manager) open(ctx context.Context, id *identity.Identity) (*Project, error) {
	cfg, err := config.Load(id.SourceRoot, id.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	cacheDir := cfg.CacheRootOverride
	if cacheDir == "" {
		cacheDir, err = id.Dir()
		if err != nil {
			return nil, err
		}
	} else {
		cacheDir = filepath.Join(cacheDir, id.CacheDir)
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, cerrors.New(cerrors.InvalidProjectPath, "mkdir_cache", err)
	}

	db, err := store.Open(ctx, filepath.Join(cacheDir, "cache.db"))
	if err != nil {
		return nil, err
	}

	binaryPath, err := m.resolveWorkerBinary()
	if err != nil {
		db.Close()
		return nil, err
	}
	pool, err := parserworker.NewPool(ctx, binaryPath, cfg.WorkerCount())
	if err != nil {
		db.Close()
		return nil, err
	}

	headers := headertracker.New(db)
	deps := depgraph.New(db)
	fscanner := scanner.New(cfg.SourceRoot, extensionsFromInclude(cfg.Include), cfg.Exclude)
	life := lifecycle.New()

	p := &Project{
		Identity: id,
		Config:   cfg,
		cacheDir: cacheDir,
		db:       db,
		pool:     pool,
		headers:  headers,
		deps:     deps,
		coord:    coordinator.New(db, pool, headers, deps, cfg.SourceRoot),
		files:    fscanner,
		changes:  changescanner.New(db, fscanner, headers, commandsSnapshotPath(cacheDir)),
		Life:     life,
		Query:    query.New(db, deps, life, cacheDir),
	}
	return p, nil
}

// initialIndex runs the first full scan/parse for a freshly opened
// project whose cache is empty, transitioning Uninitialized →
// Initializing → Indexing → Indexed (§4.11). A reopened project whose
// cache already has indexed files skips straight to Indexed and
// performs an incremental RefreshProject instead, matching the
// "resume" behavior from §9's open question. The chosen mode and the
// resulting counts are kept for set_project_directory's response.
func (p *Project) initialIndex(ctx context.Context, autoRefresh bool) error {
	p.Life.Transition(lifecycle.Initializing)

	count, err := p.db.FileCount(ctx)
	if err != nil {
		p.Life.Transition(lifecycle.Failed)
		return err
	}

	if count == 0 {
		p.initialMode = "full"
		p.Life.Transition(lifecycle.Indexing)
	} else {
		p.initialMode = "resume"
		p.Life.Transition(lifecycle.Indexed)
		if !autoRefresh {
			return nil
		}
	}

	summary, err := p.RefreshProject(ctx, RefreshOptions{})
	if err != nil {
		p.Life.Transition(lifecycle.Failed)
		return err
	}
	p.initialFiles = summary.FilesAnalyzed
	p.Life.Transition(lifecycle.Indexed)
	return nil
}

// InitialIndexInfo reports how set_project_directory's initial index
// ran: "full" for a fresh cache, "resume" for a reopened one, and the
// number of files it analyzed (§6).
func (p *Project) InitialIndexInfo() (mode string, filesAnalyzed int) {
	return p.initialMode, p.initialFiles
}

// PreviewRefresh implements the supplemented dry-run changeset preview
// (SPEC_FULL §2): runs C8's scan without invoking C9's apply phase, so
// a caller can see what refresh_project would do before committing to
// it. It does not touch lifecycle state.
func (p *Project) PreviewRefresh(ctx context.Context) (types.ChangeSet, error) {
	return p.changes.Scan(ctx, p.Config.CompileCommandsPath)
}

// RefreshOptions controls one refresh_project run (§6). ForceFull (or
// Incremental explicitly false) re-parses every scanned file instead of
// the changeset's minimal set. Cancelled, if non-nil, is polled for
// cooperative cancellation mid-run.
type RefreshOptions struct {
	ForceFull bool
	Cancelled func() bool
}

// RefreshSummary is what refresh_project reports back (§6): the
// coordinator's counts plus the changeset that drove them, the mode
// that ran and the wall-clock the run took.
type RefreshSummary struct {
	coordinator.Result
	Changes  types.ChangeSet
	Mode     string // "full" or "incremental"
	ElapsedS float64
}

// RefreshProject implements refresh_project (§4.9, §6): scans for
// changes, applies them via the incremental coordinator, and records
// refresh bookkeeping metadata.
func (p *Project) RefreshProject(ctx context.Context, opts RefreshOptions) (RefreshSummary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	started := time.Now()
	summary := RefreshSummary{Mode: "incremental"}

	prevState := p.Life.Current()
	if prevState == lifecycle.Indexed {
		p.Life.Transition(lifecycle.Refreshing)
		defer func() {
			if p.Life.Current() == lifecycle.Refreshing {
				p.Life.Transition(lifecycle.Indexed)
			}
		}()
	}

	cdb, err := compiledb.Load(p.Config.CompileCommandsPath)
	if err != nil {
		return summary, err
	}
	p.cdb = cdb

	cs, err := p.changes.Scan(ctx, p.Config.CompileCommandsPath)
	if err != nil {
		return summary, err
	}

	if opts.ForceFull {
		cs = p.forceFullChangeSet(cs)
		summary.Mode = "full"
	}
	summary.Changes = cs

	if cs.IsEmpty() {
		debug.Logf(debug.Coordinator, "refresh for %s: no changes", p.Identity.SourceRoot)
		summary.ElapsedS = time.Since(started).Seconds()
		return summary, nil
	}

	result, err := p.coord.Apply(ctx, cs, p.argsFor, opts.Cancelled)
	summary.Result = result
	summary.ElapsedS = time.Since(started).Seconds()
	if err != nil {
		return summary, err
	}

	globalHash, err := cdb.GlobalHash()
	if err == nil && globalHash != "" {
		_ = p.db.SetMetadata(ctx, store.MetaKeyLastCompileCmdsHash, globalHash)
	}
	p.snapshotCompileCommands()
	_ = p.db.SetMetadata(ctx, store.MetaKeyLastRefreshAt, time.Now().Format(time.RFC3339))
	fileCount, err := p.db.FileCount(ctx)
	if err == nil {
		_ = p.db.SetMetadata(ctx, store.MetaKeyIndexedFileCount, fmt.Sprintf("%d", fileCount))
	}

	return summary, nil
}

// commandsSnapshotPath is where a project caches the compilation
// database it last applied, serving as the "old" side of C4's diff on
// the next refresh (§4.4, §4.9 step 1).
func commandsSnapshotPath(cacheDir string) string {
	return filepath.Join(cacheDir, "compile_commands.last.json")
}

// snapshotCompileCommands copies the live compilation database into
// the cache directory after a successful apply. Best-effort: a failed
// copy means the next commands diff degrades to "every entry changed",
// which re-parses more than needed but never less.
func (p *Project) snapshotCompileCommands() {
	data, err := os.ReadFile(p.Config.CompileCommandsPath)
	if err != nil {
		return
	}
	_ = os.WriteFile(commandsSnapshotPath(p.cacheDir), data, 0o644)
}

// forceFullChangeSet widens an incremental changeset so every file on
// disk is re-parsed: already-known files move into Modified, the
// scanner's view of added/removed files is kept as-is.
func (p *Project) forceFullChangeSet(cs types.ChangeSet) types.ChangeSet {
	files, err := p.files.Scan()
	if err != nil {
		return cs
	}
	added := make(map[string]bool, len(cs.Added))
	for _, f := range cs.Added {
		added[f] = true
	}
	full := types.ChangeSet{
		CompileCommandsChanged: cs.CompileCommandsChanged,
		Added:                  cs.Added,
		ModifiedHeaders:        cs.ModifiedHeaders,
		Removed:                cs.Removed,
	}
	for _, f := range files {
		if !added[f] {
			full.Modified = append(full.Modified, f)
		}
	}
	return full
}

// extensionsFromInclude turns the config's include glob list (e.g.
// "*.cpp") into the bare-extension form scanner.Scanner matches
// against filepath.Ext. Patterns without a leading "*" (a specific
// relative path or other glob shape) aren't representable as a bare
// extension and are skipped; the default extension set already covers
// the common C/C++ suffixes.
func extensionsFromInclude(include []string) []string {
	var out []string
	for _, pattern := range include {
		if ext, ok := trimStarPrefix(pattern); ok {
			out = append(out, ext)
		}
	}
	return out
}

func trimStarPrefix(pattern string) (string, bool) {
	if len(pattern) > 1 && pattern[0] == '*' && pattern[1] == '.' {
		return pattern[1:], true
	}
	return "", false
}

// argsFor resolves a file's compile arguments from the loaded
// compilation database, falling back to an empty argument vector (the
// worker still parses with default language-standard flags) when the
// file has no compile_commands.json entry (§4.4 "non-fatal").
func (p *Project) argsFor(file string) []string {
	if args, ok := p.cdb.ArgsFor(file); ok {
		return args
	}
	return nil
}

// VacuumCache implements the supplemented vacuum_cache operation.
func (p *Project) VacuumCache(ctx context.Context) error {
	return p.Query.VacuumCache(ctx)
}

// CacheInfo is the per-project summary returned by the supplemented
// cache_info/list_projects operations (SPEC_FULL §2).
type CacheInfo struct {
	SourceRoot string
	CacheDir   string
	State      string
	FileCount  int
}

func (p *Project) CacheInfo(ctx context.Context) (CacheInfo, error) {
	fileCount, err := p.db.FileCount(ctx)
	if err != nil {
		return CacheInfo{}, err
	}
	return CacheInfo{
		SourceRoot: p.Identity.SourceRoot,
		CacheDir:   p.cacheDir,
		State:      string(p.Life.Current()),
		FileCount:  fileCount,
	}, nil
}

// ListProjects returns CacheInfo for every project opened this process
// lifetime, sorted by source root for deterministic output.
func (m *Manager) ListProjects(ctx context.Context) ([]CacheInfo, error) {
	m.mu.RLock()
	projects := make([]*Project, 0, len(m.projects))
	for _, p := range m.projects {
		projects = append(projects, p)
	}
	m.mu.RUnlock()

	var out []CacheInfo
	for _, p := range projects {
		info, err := p.CacheInfo(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceRoot < out[j].SourceRoot })
	return out, nil
}

// Project looks up an already-opened project by source root, or nil
// if set_project_directory has not been called for it yet.
func (m *Manager) Project(root, configPath string) (*Project, error) {
	id, err := identity.Resolve(root, configPath)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.projects[id.Hash16], nil
}

// Close shuts down every open project's worker pool and storage handle.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, p := range m.projects {
		if err := p.pool.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := p.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.projects = make(map[string]*Project)
	return firstErr
}
