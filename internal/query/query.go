// Package query implements C10: the read-side API over the storage
// backend — symbol search, class info, call-graph walks and
// inheritance lookups (spec §4.10). Every operation here must succeed
// while the coordinator is mid-refresh, reading only through the
// store's read-only connection pool (§4.2, §5).
package query

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/hbollon/go-edlib"
	"github.com/surgebase/porter2"

	"github.com/standardbeagle/cindex/internal/debug"
	"github.com/standardbeagle/cindex/internal/depgraph"
	"github.com/standardbeagle/cindex/internal/lifecycle"
	"github.com/standardbeagle/cindex/internal/store"
	"github.com/standardbeagle/cindex/internal/types"
)

// Layer is the query-layer handle: a thin read-only veneer over the
// store, gated by the lifecycle state machine (§4.11: queries
// permitted in Indexed/Refreshing, rejected with NOT_READY otherwise).
type Layer struct {
	db    *store.Store
	deps  *depgraph.Graph
	life  *lifecycle.Machine
	cache string // cache directory path, for server_status
}

func New(db *store.Store, deps *depgraph.Graph, life *lifecycle.Machine, cacheDir string) *Layer {
	return &Layer{db: db, deps: deps, life: life, cache: cacheDir}
}

// anchoredPattern reports whether pattern should be treated as a
// regular expression rather than a full-text query — a pattern is
// "anchored" per §4.10 when it begins with ^ or contains regex
// metacharacters beyond plain word characters.
var regexMetachars = regexp.MustCompile(`[\^$.*+?()\[\]{}|\\]`)

func anchoredPattern(pattern string) bool {
	return strings.HasPrefix(pattern, "^") || regexMetachars.MatchString(pattern)
}

// SearchSymbols implements search_symbols/search_classes/search_functions
// (§4.10, §6): regex search for anchored patterns, full-text search
// otherwise. kinds/projectOnly/file narrow an anchored search's
// candidate set before the regex is matched against name and
// qualified name; an unanchored search applies them to the FTS hits
// after matching.
func (l *Layer) SearchSymbols(ctx context.Context, pattern string, kinds []types.SymbolKind, projectOnly bool, file string) ([]types.Symbol, error) {
	if err := l.life.CheckQueryable(); err != nil {
		return nil, err
	}

	var results []types.Symbol
	var err error
	if anchoredPattern(pattern) {
		results, err = l.searchRegex(ctx, pattern, kinds, projectOnly, file)
	} else {
		results, err = l.searchFTS(ctx, pattern, kinds, projectOnly, file)
	}
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		if suggestion := l.suggest(ctx, pattern); suggestion != "" {
			debug.Logf(debug.Query, "no hits for %q, closest known symbol name: %q", pattern, suggestion)
		}
	}
	return results, nil
}

func (l *Layer) searchRegex(ctx context.Context, pattern string, kinds []types.SymbolKind, projectOnly bool, file string) ([]types.Symbol, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	candidates, err := l.db.AllSymbols(ctx, kinds, projectOnly, file)
	if err != nil {
		return nil, err
	}
	var out []types.Symbol
	for _, sym := range candidates {
		if re.MatchString(sym.Name) || re.MatchString(sym.QualifiedName) {
			out = append(out, sym)
		}
	}
	return out, nil
}

// searchFTS stems the pattern's tokens with porter2 (matching the
// stemming the teacher applies to query tokens before hitting FTS) so
// "indexing" finds a symbol named "index", then filters FTS hits by
// kinds/projectOnly/file since sqlite's fts5 MATCH can't see those
// columns directly.
func (l *Layer) searchFTS(ctx context.Context, pattern string, kinds []types.SymbolKind, projectOnly bool, file string) ([]types.Symbol, error) {
	ftsQuery := stemmedFTSQuery(pattern)
	hits, err := l.db.SearchSymbolsFTS(ctx, ftsQuery, 500)
	if err != nil {
		return nil, err
	}
	if len(kinds) == 0 && !projectOnly && file == "" {
		return hits, nil
	}
	kindSet := make(map[types.SymbolKind]bool, len(kinds))
	for _, k := range kinds {
		kindSet[k] = true
	}
	var out []types.Symbol
	for _, sym := range hits {
		if len(kindSet) > 0 && !kindSet[sym.Kind] {
			continue
		}
		if projectOnly && !sym.IsProject {
			continue
		}
		if file != "" && sym.File != file {
			continue
		}
		out = append(out, sym)
	}
	return out, nil
}

// stemmedFTSQuery tokenizes pattern on non-alphanumeric runs, stems
// each token with porter2, and joins them as an FTS5 OR prefix query
// so "calculating" and "calculate" both become "calcul*" and retrieve
// a symbol stored as "calculateTotal".
func stemmedFTSQuery(pattern string) string {
	fields := strings.FieldsFunc(pattern, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_')
	})
	if len(fields) == 0 {
		return pattern
	}
	stemmed := make([]string, 0, len(fields))
	for _, f := range fields {
		stemmed = append(stemmed, porter2.Stem(strings.ToLower(f))+"*")
	}
	return strings.Join(stemmed, " OR ")
}

// suggest returns the single known symbol name with the highest
// Jaro-Winkler similarity to pattern, used to annotate a zero-hit
// search the way the teacher's "did you mean" suggestions work.
// Returns "" when nothing clears a reasonable similarity floor.
func (l *Layer) suggest(ctx context.Context, pattern string) string {
	names, err := l.db.DistinctSymbolNames(ctx, 5000)
	if err != nil || len(names) == 0 {
		return ""
	}
	best, bestScore := "", float32(0.0)
	for _, name := range names {
		score, err := edlib.StringsSimilarity(pattern, name, edlib.JaroWinkler)
		if err != nil {
			continue
		}
		if score > bestScore {
			best, bestScore = name, score
		}
	}
	if bestScore < 0.80 {
		return ""
	}
	return best
}

// ClassInfo implements get_class_info (§4.10, §6): methods, fields,
// bases, file/line ranges, brief and doc for one class/struct/union.
type ClassInfo struct {
	Symbol  types.Symbol
	Methods []types.Symbol
	Fields  []types.Symbol
}

func (l *Layer) ClassInfo(ctx context.Context, name string) (*ClassInfo, error) {
	if err := l.life.CheckQueryable(); err != nil {
		return nil, err
	}
	class, err := l.resolveClass(ctx, name)
	if err != nil {
		return nil, err
	}
	if class == nil {
		return nil, nil
	}
	// Members aren't addressable by the class's own qualified name, so
	// they're found by scanning for parent_class == class.QualifiedName.
	all, err := l.db.AllSymbols(ctx, nil, false, "")
	if err != nil {
		return nil, err
	}
	info := &ClassInfo{Symbol: *class}
	for _, sym := range all {
		if sym.ParentClass != class.QualifiedName {
			continue
		}
		switch sym.Kind {
		case types.KindMethod:
			info.Methods = append(info.Methods, sym)
		case types.KindField:
			info.Fields = append(info.Fields, sym)
		}
	}
	return info, nil
}

// resolveClass looks a class up by qualified name first (exact), then
// falls back to bare name (get_class_info accepts either, §4.10).
func (l *Layer) resolveClass(ctx context.Context, name string) (*types.Symbol, error) {
	byQualified, err := l.db.SymbolsByQualifiedName(ctx, name)
	if err != nil {
		return nil, err
	}
	if sym := firstClassLike(byQualified); sym != nil {
		return sym, nil
	}
	byName, err := l.db.SymbolsByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return firstClassLike(byName), nil
}

func firstClassLike(syms []types.Symbol) *types.Symbol {
	for i := range syms {
		switch syms[i].Kind {
		case types.KindClass, types.KindStruct, types.KindUnion:
			return &syms[i]
		}
	}
	return nil
}

// SignatureRecord is one get_function_signature result (§6).
type SignatureRecord struct {
	Signature string
	File      string
	Line      int
}

// FunctionSignatures implements get_function_signature (§4.10, §6):
// every overload/declaration of a (optionally class-scoped) function.
func (l *Layer) FunctionSignatures(ctx context.Context, name, className string) ([]SignatureRecord, error) {
	if err := l.life.CheckQueryable(); err != nil {
		return nil, err
	}
	syms, err := l.db.SymbolsByName(ctx, name)
	if err != nil {
		return nil, err
	}
	var out []SignatureRecord
	for _, sym := range syms {
		if sym.Kind != types.KindFunction && sym.Kind != types.KindMethod {
			continue
		}
		if className != "" && sym.ParentClass != className {
			continue
		}
		out = append(out, SignatureRecord{Signature: sym.Signature, File: sym.File, Line: sym.Line})
	}
	return out, nil
}

// HierarchyResult implements get_class_hierarchy/get_derived_classes
// (§4.10, §6, §8 scenario F).
type HierarchyResult struct {
	Bases   []string
	Derived []types.Symbol
}

func (l *Layer) ClassHierarchy(ctx context.Context, name string) (*HierarchyResult, error) {
	if err := l.life.CheckQueryable(); err != nil {
		return nil, err
	}
	class, err := l.resolveClass(ctx, name)
	if err != nil {
		return nil, err
	}
	result := &HierarchyResult{}
	if class != nil {
		result.Bases = class.BaseClasses
	}
	derived, err := l.db.SymbolsWithBaseClass(ctx, name)
	if err != nil {
		return nil, err
	}
	result.Derived = derived
	return result, nil
}

// FindCallers implements find_callers (§4.10, §6): every symbol that
// calls any symbol named fn.
func (l *Layer) FindCallers(ctx context.Context, fn string) ([]types.Symbol, error) {
	if err := l.life.CheckQueryable(); err != nil {
		return nil, err
	}
	callees, err := l.db.SymbolsByName(ctx, fn)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []types.Symbol
	for _, callee := range callees {
		sites, err := l.db.FindCallers(ctx, callee.ID)
		if err != nil {
			return nil, err
		}
		for _, site := range sites {
			if seen[site.CallerID] {
				continue
			}
			seen[site.CallerID] = true
			if sym, err := l.db.SymbolByID(ctx, site.CallerID); err == nil && sym != nil {
				out = append(out, *sym)
			}
		}
	}
	return out, nil
}

// FindCallees implements find_callees (§4.10, §6): every symbol that
// any symbol named fn calls.
func (l *Layer) FindCallees(ctx context.Context, fn string) ([]types.Symbol, error) {
	if err := l.life.CheckQueryable(); err != nil {
		return nil, err
	}
	callers, err := l.db.SymbolsByName(ctx, fn)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []types.Symbol
	for _, caller := range callers {
		sites, err := l.db.FindCallees(ctx, caller.ID)
		if err != nil {
			return nil, err
		}
		for _, site := range sites {
			if seen[site.CalleeID] {
				continue
			}
			seen[site.CalleeID] = true
			if sym, err := l.db.SymbolByID(ctx, site.CalleeID); err == nil && sym != nil {
				out = append(out, *sym)
			}
		}
	}
	return out, nil
}

// CallPath implements get_call_path (§4.10, §6): bounded BFS over
// caller→callee call-site edges between two function names, up to
// maxDepth hops. It returns the paths of the first BFS layer that
// reaches a target; each symbol is visited once, so at most one path
// leads to any given symbol.
func (l *Layer) CallPath(ctx context.Context, from, to string, maxDepth int) ([][]types.Symbol, error) {
	if err := l.life.CheckQueryable(); err != nil {
		return nil, err
	}
	if maxDepth <= 0 {
		maxDepth = 10
	}

	fromSyms, err := l.db.SymbolsByName(ctx, from)
	if err != nil {
		return nil, err
	}
	toSyms, err := l.db.SymbolsByName(ctx, to)
	if err != nil {
		return nil, err
	}
	toIDs := make(map[string]bool, len(toSyms))
	for _, s := range toSyms {
		toIDs[s.ID] = true
	}

	type node struct {
		id   string
		path []string
	}
	queue := make([]node, 0, len(fromSyms))
	visited := make(map[string]bool)
	for _, s := range fromSyms {
		queue = append(queue, node{id: s.ID, path: []string{s.ID}})
		visited[s.ID] = true
	}

	var foundPaths [][]string
	for depth := 0; depth <= maxDepth && len(queue) > 0 && len(foundPaths) == 0; depth++ {
		var next []node
		for _, n := range queue {
			if toIDs[n.id] {
				foundPaths = append(foundPaths, n.path)
				continue
			}
			callees, err := l.db.AllCalleesOf(ctx, n.id)
			if err != nil {
				return nil, err
			}
			for _, callee := range callees {
				if visited[callee] {
					continue
				}
				visited[callee] = true
				next = append(next, node{id: callee, path: append(append([]string{}, n.path...), callee)})
			}
		}
		queue = next
	}

	var out [][]types.Symbol
	for _, path := range foundPaths {
		var syms []types.Symbol
		for _, id := range path {
			if sym, err := l.db.SymbolByID(ctx, id); err == nil && sym != nil {
				syms = append(syms, *sym)
			}
		}
		out = append(out, syms)
	}
	return out, nil
}

// FindInFile implements find_in_file (§4.10, §6): symbols in one file
// whose name matches pattern (regex, same convention as SearchSymbols).
func (l *Layer) FindInFile(ctx context.Context, file, pattern string) ([]types.Symbol, error) {
	if err := l.life.CheckQueryable(); err != nil {
		return nil, err
	}
	if pattern == "" {
		return l.db.SymbolsByFile(ctx, file)
	}
	return l.searchRegex(ctx, pattern, nil, false, file)
}

// SearchParseErrors implements the supplemented get_parse_errors query
// (SPEC_FULL §2): read accessor over the append-only parse-errors log.
func (l *Layer) SearchParseErrors(ctx context.Context, file string) ([]types.ParseErrorRecord, error) {
	if err := l.life.CheckQueryable(); err != nil {
		return nil, err
	}
	if file != "" {
		return l.db.ParseErrorsForFile(ctx, file)
	}
	return l.db.SearchParseErrors(ctx, "", 200)
}

// Status is the get_server_status response (§4.10, §6).
type Status struct {
	State            string
	IndexedFileCount int
	SymbolCount      int
	CacheDir         string
	LastRefresh      string
}

// ServerStatus implements get_server_status. Unlike every other query
// here it does not gate on CheckQueryable — status must be observable
// from any lifecycle state, including Uninitialized/Indexing, so
// clients can poll progress (§4.11).
func (l *Layer) ServerStatus(ctx context.Context) (Status, error) {
	fileCount, err := l.db.FileCount(ctx)
	if err != nil {
		return Status{}, err
	}
	symCount, err := l.db.SymbolCount(ctx)
	if err != nil {
		return Status{}, err
	}
	lastRefresh, _, err := l.db.GetMetadata(ctx, store.MetaKeyLastRefreshAt)
	if err != nil {
		return Status{}, err
	}
	return Status{
		State:            string(l.life.Current()),
		IndexedFileCount: fileCount,
		SymbolCount:      symCount,
		CacheDir:         l.cache,
		LastRefresh:      lastRefresh,
	}, nil
}

// VacuumCache implements the supplemented vacuum_cache operation
// (SPEC_FULL §2): an explicit, idempotent maintenance call beyond the
// automatic opportunistic trigger (§4.2).
func (l *Layer) VacuumCache(ctx context.Context) error {
	return l.db.Vacuum(ctx)
}
