package changescanner

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/cindex/internal/compiledb"
	"github.com/standardbeagle/cindex/internal/headertracker"
	"github.com/standardbeagle/cindex/internal/scanner"
	"github.com/standardbeagle/cindex/internal/store"
	"github.com/standardbeagle/cindex/internal/types"
)

func setup(t *testing.T) (string, *store.Store, *Scanner) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.cpp"), []byte("int main(){}"), 0o644))

	cacheDir := t.TempDir()
	db, err := store.Open(context.Background(), filepath.Join(cacheDir, "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sc := scanner.New(root, nil, nil)
	tr := headertracker.New(db)
	return root, db, New(db, sc, tr, filepath.Join(cacheDir, "compile_commands.last.json"))
}

func TestScanDetectsAddedFile(t *testing.T) {
	root, _, cs := setup(t)
	result, err := cs.Scan(context.Background(), "/nonexistent/compile_commands.json")
	require.NoError(t, err)
	require.Len(t, result.Added, 1)
	assert.Equal(t, filepath.Join(root, "a.cpp"), result.Added[0])
}

func TestScanDetectsModifiedFile(t *testing.T) {
	root, db, changeScanner := setup(t)
	ctx := context.Background()
	file := filepath.Join(root, "a.cpp")

	hash, err := scanner.HashFile(file)
	require.NoError(t, err)
	require.NoError(t, db.WithWriteTx(ctx, func(tx *sql.Tx) error {
		return store.UpsertFileMetadata(ctx, tx, types.FileMetadata{
			Path: file, ContentHash: hash, IndexedAt: time.Now(), Success: true,
		})
	}))

	result, err := changeScanner.Scan(ctx, "/nonexistent/compile_commands.json")
	require.NoError(t, err)
	assert.Empty(t, result.Added)
	assert.Empty(t, result.Modified)

	require.NoError(t, os.WriteFile(file, []byte("int main(){ return 1; }"), 0o644))
	result, err = changeScanner.Scan(ctx, "/nonexistent/compile_commands.json")
	require.NoError(t, err)
	assert.Equal(t, []string{file}, result.Modified)
}

func TestScanDetectsCommandsChangedFiles(t *testing.T) {
	root, db, changeScanner := setup(t)
	ctx := context.Background()
	file := filepath.Join(root, "a.cpp")

	ccPath := filepath.Join(root, "compile_commands.json")
	commandsJSON := func(flag string) []byte {
		return []byte(`[{"directory":"` + root + `","file":"` + file + `","arguments":["clang++","` + flag + `","-c","` + file + `"]}]`)
	}
	require.NoError(t, os.WriteFile(ccPath, commandsJSON("-O0"), 0o644))
	// The snapshot a prior refresh would have left behind: the -O0 view.
	require.NoError(t, os.WriteFile(changeScanner.snapshot, commandsJSON("-O0"), 0o644))

	hash, err := scanner.HashFile(file)
	require.NoError(t, err)
	require.NoError(t, db.WithWriteTx(ctx, func(tx *sql.Tx) error {
		return store.UpsertFileMetadata(ctx, tx, types.FileMetadata{
			Path: file, ContentHash: hash,
			ArgsHash:  compiledb.Hash([]string{"clang++", "-O0", "-c", file}),
			IndexedAt: time.Now(), Success: true,
		})
	}))
	require.NoError(t, db.SetMetadata(ctx, store.MetaKeyLastCompileCmdsHash, mustGlobalHash(t, ccPath)))
	first, err := changeScanner.Scan(ctx, ccPath)
	require.NoError(t, err)
	assert.False(t, first.CompileCommandsChanged)
	assert.Empty(t, first.CommandsChanged)

	require.NoError(t, os.WriteFile(ccPath, commandsJSON("-O2"), 0o644))
	result, err := changeScanner.Scan(ctx, ccPath)
	require.NoError(t, err)
	assert.True(t, result.CompileCommandsChanged)
	assert.Equal(t, []string{file}, result.CommandsChanged)
	assert.Empty(t, result.Modified, "content did not change, only arguments")
}

func mustGlobalHash(t *testing.T, ccPath string) string {
	t.Helper()
	cdb, err := compiledb.Load(ccPath)
	require.NoError(t, err)
	h, err := cdb.GlobalHash()
	require.NoError(t, err)
	return h
}

func TestScanDetectsRemovedFile(t *testing.T) {
	root, db, changeScanner := setup(t)
	ctx := context.Background()
	file := filepath.Join(root, "a.cpp")

	require.NoError(t, db.WithWriteTx(ctx, func(tx *sql.Tx) error {
		return store.UpsertFileMetadata(ctx, tx, types.FileMetadata{
			Path: file, ContentHash: "stale", IndexedAt: time.Now(), Success: true,
		})
	}))
	require.NoError(t, os.Remove(file))

	result, err := changeScanner.Scan(ctx, "/nonexistent/compile_commands.json")
	require.NoError(t, err)
	assert.Equal(t, []string{file}, result.Removed)
}
