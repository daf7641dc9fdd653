package query

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/cindex/internal/depgraph"
	"github.com/standardbeagle/cindex/internal/lifecycle"
	"github.com/standardbeagle/cindex/internal/store"
	"github.com/standardbeagle/cindex/internal/types"
)

func newTestLayer(t *testing.T) (*Layer, *store.Store, *lifecycle.Machine) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	db, err := store.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	life := lifecycle.New()
	life.Transition(lifecycle.Indexed)
	deps := depgraph.New(db)
	return New(db, deps, life, t.TempDir()), db, life
}

func seedSymbol(t *testing.T, db *store.Store, sym types.Symbol) {
	t.Helper()
	ctx := context.Background()
	err := db.WithWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := store.ReplaceSymbolsForFile(ctx, tx, []string{sym.File}, []types.Symbol{sym})
		return err
	})
	require.NoError(t, err)
}

func TestSearchSymbolsRejectsWhenNotQueryable(t *testing.T) {
	layer, _, life := newTestLayer(t)
	life.Transition(lifecycle.Indexing)
	_, err := layer.SearchSymbols(context.Background(), "Foo", nil, false, "")
	assert.Error(t, err)
}

func TestSearchSymbolsAnchoredRegex(t *testing.T) {
	layer, db, _ := newTestLayer(t)
	seedSymbol(t, db, types.Symbol{ID: "u1", Name: "Widget", QualifiedName: "ns::Widget", Kind: types.KindClass, File: "/a.h", Line: 1})
	seedSymbol(t, db, types.Symbol{ID: "u2", Name: "Gadget", QualifiedName: "ns::Gadget", Kind: types.KindClass, File: "/a.h", Line: 5})

	hits, err := layer.SearchSymbols(context.Background(), "^Widget$", nil, false, "")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Widget", hits[0].Name)
}

func TestSearchSymbolsFTSStemsQueryTerms(t *testing.T) {
	layer, db, _ := newTestLayer(t)
	seedSymbol(t, db, types.Symbol{ID: "u1", Name: "calculateTotal", QualifiedName: "calculateTotal", Kind: types.KindFunction, File: "/a.cpp", Line: 1})

	hits, err := layer.SearchSymbols(context.Background(), "calculating", nil, false, "")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "calculateTotal", hits[0].Name)
}

func TestClassInfoCollectsMembers(t *testing.T) {
	layer, db, _ := newTestLayer(t)
	seedSymbol(t, db, types.Symbol{ID: "c1", Name: "Widget", QualifiedName: "ns::Widget", Kind: types.KindClass, File: "/a.h", Line: 1})
	seedSymbol(t, db, types.Symbol{ID: "m1", Name: "Render", QualifiedName: "ns::Widget::Render", Kind: types.KindMethod, ParentClass: "ns::Widget", File: "/a.h", Line: 2})
	seedSymbol(t, db, types.Symbol{ID: "f1", Name: "size_", QualifiedName: "ns::Widget::size_", Kind: types.KindField, ParentClass: "ns::Widget", File: "/a.h", Line: 3})

	info, err := layer.ClassInfo(context.Background(), "ns::Widget")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "Widget", info.Symbol.Name)
	require.Len(t, info.Methods, 1)
	assert.Equal(t, "Render", info.Methods[0].Name)
	require.Len(t, info.Fields, 1)
	assert.Equal(t, "size_", info.Fields[0].Name)
}

func TestClassHierarchyFindsDerived(t *testing.T) {
	layer, db, _ := newTestLayer(t)
	seedSymbol(t, db, types.Symbol{ID: "base", Name: "Shape", QualifiedName: "Shape", Kind: types.KindClass, File: "/a.h", Line: 1})
	seedSymbol(t, db, types.Symbol{ID: "derived", Name: "Circle", QualifiedName: "Circle", Kind: types.KindClass, BaseClasses: []string{"Shape"}, File: "/a.h", Line: 5})

	result, err := layer.ClassHierarchy(context.Background(), "Shape")
	require.NoError(t, err)
	require.Len(t, result.Derived, 1)
	assert.Equal(t, "Circle", result.Derived[0].Name)
}

func TestFindCallersAndCallees(t *testing.T) {
	layer, db, _ := newTestLayer(t)
	seedSymbol(t, db, types.Symbol{ID: "caller", Name: "main", QualifiedName: "main", Kind: types.KindFunction, File: "/a.cpp", Line: 1})
	seedSymbol(t, db, types.Symbol{ID: "callee", Name: "helper", QualifiedName: "helper", Kind: types.KindFunction, File: "/a.cpp", Line: 10})

	ctx := context.Background()
	err := db.WithWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := store.ReplaceCallSitesForFile(ctx, tx, "/a.cpp", []types.CallSite{{CallerID: "caller", CalleeID: "callee", File: "/a.cpp", Line: 2}})
		return err
	})
	require.NoError(t, err)

	callers, err := layer.FindCallers(ctx, "helper")
	require.NoError(t, err)
	require.Len(t, callers, 1)
	assert.Equal(t, "main", callers[0].Name)

	callees, err := layer.FindCallees(ctx, "main")
	require.NoError(t, err)
	require.Len(t, callees, 1)
	assert.Equal(t, "helper", callees[0].Name)
}

func TestCallPathFindsChain(t *testing.T) {
	layer, db, _ := newTestLayer(t)
	seedSymbol(t, db, types.Symbol{ID: "a", Name: "A", QualifiedName: "A", Kind: types.KindFunction, File: "/a.cpp", Line: 1})
	seedSymbol(t, db, types.Symbol{ID: "b", Name: "B", QualifiedName: "B", Kind: types.KindFunction, File: "/a.cpp", Line: 2})
	seedSymbol(t, db, types.Symbol{ID: "c", Name: "C", QualifiedName: "C", Kind: types.KindFunction, File: "/a.cpp", Line: 3})

	ctx := context.Background()
	err := db.WithWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := store.ReplaceCallSitesForFile(ctx, tx, "/a.cpp", []types.CallSite{
			{CallerID: "a", CalleeID: "b", File: "/a.cpp", Line: 1},
			{CallerID: "b", CalleeID: "c", File: "/a.cpp", Line: 2},
		})
		return err
	})
	require.NoError(t, err)

	paths, err := layer.CallPath(ctx, "A", "C", 5)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	require.Len(t, paths[0], 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{paths[0][0].Name, paths[0][1].Name, paths[0][2].Name})
}

func TestServerStatusDoesNotRequireQueryableState(t *testing.T) {
	layer, _, life := newTestLayer(t)
	life.Transition(lifecycle.Indexing)

	status, err := layer.ServerStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "indexing", status.State)
}
