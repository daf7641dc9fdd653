// Package depgraph implements C7: the include-dependency graph, used
// to answer "which source files transitively depend on this header?"
// in sub-linear time so header edits cascade to exactly the files
// that need re-parsing (spec §4.7).
package depgraph

import (
	"context"
	"database/sql"
	"time"

	"github.com/standardbeagle/cindex/internal/store"
	"github.com/standardbeagle/cindex/internal/types"
)

// Graph wraps the dependency_edges table.
type Graph struct {
	db *store.Store
}

func New(db *store.Store) *Graph {
	return &Graph{db: db}
}

// Update replaces every edge sourced from file with the given include
// list, inside the caller's write transaction (§4.7 Update). Returns
// the affected-row count for the caller's vacuum accounting (§4.2).
func Update(ctx context.Context, tx *sql.Tx, file string, includes []types.IncludeEdge) (int64, error) {
	return store.ReplaceDependencyEdges(ctx, tx, file, includes, time.Now())
}

// Remove deletes every edge sourced from file (file removal, §4.9 step 5).
func Remove(ctx context.Context, tx *sql.Tx, file string) (int64, error) {
	return store.DeleteDependencyEdgesForFile(ctx, tx, file)
}

// FindDependents returns the direct reverse lookup: every source file
// that directly includes header.
func (g *Graph) FindDependents(ctx context.Context, header string) ([]string, error) {
	return g.db.DirectDependents(ctx, header)
}

// FindTransitiveDependents computes the full reverse-reachable set
// from header via worklist traversal over direct-dependent edges,
// terminating safely in the presence of include cycles by tracking a
// visited set (§4.7).
func (g *Graph) FindTransitiveDependents(ctx context.Context, header string) ([]string, error) {
	visited := make(map[string]bool)
	queue := []string{header}
	var result []string

	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]

		dependents, err := g.db.DirectDependents(ctx, h)
		if err != nil {
			return nil, err
		}
		for _, d := range dependents {
			if visited[d] {
				continue
			}
			visited[d] = true
			result = append(result, d)
			queue = append(queue, d)
		}
	}
	return result, nil
}

// DependenciesOf returns the files directly included by file, used to
// rebuild the parser's include graph view after a re-parse.
func (g *Graph) DependenciesOf(ctx context.Context, file string) ([]types.IncludeEdge, error) {
	return g.db.DependenciesOf(ctx, file)
}
