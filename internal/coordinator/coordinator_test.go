package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/cindex/internal/depgraph"
	"github.com/standardbeagle/cindex/internal/headertracker"
	"github.com/standardbeagle/cindex/internal/parserworker"
	"github.com/standardbeagle/cindex/internal/store"
	"github.com/standardbeagle/cindex/internal/types"
)

// writeFakeWorker drops a shell script that echoes back one symbol
// per task, keyed off the requested file, so the coordinator's
// dispatch/apply plumbing can be exercised without libclang.
func writeFakeWorker(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake worker script requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-worker.sh")
	script := `#!/bin/sh
while IFS= read -r line; do
  file=$(echo "$line" | sed -n 's/.*"File":"\([^"]*\)".*/\1/p')
  printf '{"File":"%s","Success":true,"Symbols":[{"ID":"usr#%s","Name":"sym","File":"%s","IsProject":true,"IsDefinition":true}]}\n' "$file" "$file" "$file"
done
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func setup(t *testing.T) (*Coordinator, *store.Store) {
	t.Helper()
	return setupWithWorker(t, writeFakeWorker(t))
}

func setupWithWorker(t *testing.T, workerPath string) (*Coordinator, *store.Store) {
	t.Helper()
	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	pool, err := parserworker.NewPool(context.Background(), workerPath, 2)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	tr := headertracker.New(db)
	dg := depgraph.New(db)
	return New(db, pool, tr, dg, ""), db
}

// writeHeaderAwareFakeWorker drops a shell script reporting headerPath
// in every result's Headers and emitting one symbol owned by headerPath
// alongside a symbol owned by the dispatched TU itself, simulating two
// translation units that both #include the same header.
func writeHeaderAwareFakeWorker(t *testing.T, headerPath string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake worker script requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-worker-shared-header.sh")
	script := `#!/bin/sh
while IFS= read -r line; do
  file=$(echo "$line" | sed -n 's/.*"File":"\([^"]*\)".*/\1/p')
  printf '{"File":"%s","Success":true,"Headers":["` + headerPath + `"],"Symbols":[{"ID":"usr#own-%s","Name":"Own","File":"%s","IsProject":true,"IsDefinition":true},{"ID":"usr#shared","Name":"Shared","File":"` + headerPath + `","IsProject":true,"IsDefinition":true}]}\n' "$file" "$file" "$file"
done
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

// writeToggleHeaderFakeWorker reports headerPath in Headers on every
// parse, but only emits headerPath's symbol until markerPath exists —
// simulating the header's declaration being removed by the time its
// owning TU is re-parsed.
func writeToggleHeaderFakeWorker(t *testing.T, headerPath, markerPath string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake worker script requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-worker-toggle-header.sh")
	script := `#!/bin/sh
while IFS= read -r line; do
  file=$(echo "$line" | sed -n 's/.*"File":"\([^"]*\)".*/\1/p')
  if [ -f "` + markerPath + `" ]; then
    printf '{"File":"%s","Success":true,"Headers":["` + headerPath + `"],"Symbols":[]}\n' "$file"
  else
    printf '{"File":"%s","Success":true,"Headers":["` + headerPath + `"],"Symbols":[{"ID":"usr#shared","Name":"Shared","File":"` + headerPath + `","IsProject":true,"IsDefinition":true}]}\n' "$file"
  fi
done
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

// writeFile creates a real, readable file at path so scanner.HashFile
// (invoked per TU and per header) has something to hash.
func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestApplyAddedFilesAreParsedAndStored(t *testing.T) {
	c, db := setup(t)
	ctx := context.Background()

	dir := t.TempDir()
	srcA := filepath.Join(dir, "a.cpp")
	srcB := filepath.Join(dir, "b.cpp")
	writeFile(t, srcA, "int a();\n")
	writeFile(t, srcB, "int b();\n")

	cs := types.ChangeSet{Added: []string{srcA, srcB}}
	result, err := c.Apply(ctx, cs, func(string) []string { return nil }, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.FilesAnalyzed)
	assert.Empty(t, result.Errors)

	syms, err := db.AllSymbols(ctx, nil, false, "")
	require.NoError(t, err)
	assert.Len(t, syms, 2)
}

func TestApplyRemovedFilesClearStorage(t *testing.T) {
	c, db := setup(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "a.cpp")
	writeFile(t, src, "int a();\n")

	_, err := c.Apply(ctx, types.ChangeSet{Added: []string{src}}, func(string) []string { return nil }, nil)
	require.NoError(t, err)

	result, err := c.Apply(ctx, types.ChangeSet{Removed: []string{src}}, func(string) []string { return nil }, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesRemoved)

	syms, err := db.SymbolsByFile(ctx, src)
	require.NoError(t, err)
	assert.Empty(t, syms)
}

func TestApplyRespectsCancellation(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()

	cs := types.ChangeSet{Added: []string{"/a.cpp"}}
	_, err := c.Apply(ctx, cs, func(string) []string { return nil }, func() bool { return true })
	require.Error(t, err)
}

// TestApplyCommandsChangedFilesAreReparsed covers §4.9 step 1: a file
// whose content is unchanged but whose compile arguments differ gets
// re-parsed, and the header tracker is cleared wholesale.
func TestApplyCommandsChangedFilesAreReparsed(t *testing.T) {
	c, db := setup(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "a.cpp")
	writeFile(t, src, "int a();\n")

	cs := types.ChangeSet{CompileCommandsChanged: true, CommandsChanged: []string{src}}
	result, err := c.Apply(ctx, cs, func(string) []string { return []string{"-DNEW"} }, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesAnalyzed)

	meta, err := db.FileMetadataByPath(ctx, src)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.True(t, meta.Success)
}

// writeFailingFakeWorker reports Success=false with one error record
// for every task, exercising the snapshot-preserving failure path.
func writeFailingFakeWorker(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake worker script requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-worker-failing.sh")
	script := `#!/bin/sh
while IFS= read -r line; do
  file=$(echo "$line" | sed -n 's/.*"File":"\([^"]*\)".*/\1/p')
  printf '{"File":"%s","Success":false,"Errors":[{"File":"%s","ErrorKind":"PARSE_FAILURE","Message":"expected ; before }"}]}\n' "$file" "$file"
done
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

// TestApplyFailedParsePreservesPriorSnapshot drives a file through one
// successful parse and one failed re-parse. The failure must be logged
// and flagged in file metadata, while the earlier parse's symbols stay
// untouched (§4.9 failure handling).
func TestApplyFailedParsePreservesPriorSnapshot(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.cpp")
	writeFile(t, src, "int a();\n")
	ctx := context.Background()

	good, db := setup(t)
	_, err := good.Apply(ctx, types.ChangeSet{Added: []string{src}}, func(string) []string { return nil }, nil)
	require.NoError(t, err)

	before, err := db.SymbolsByFile(ctx, src)
	require.NoError(t, err)
	require.Len(t, before, 1)

	pool, err := parserworker.NewPool(ctx, writeFailingFakeWorker(t), 1)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	bad := New(db, pool, headertracker.New(db), depgraph.New(db), "")

	result, err := bad.Apply(ctx, types.ChangeSet{Modified: []string{src}}, func(string) []string { return nil }, nil)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)

	after, err := db.SymbolsByFile(ctx, src)
	require.NoError(t, err)
	assert.Len(t, after, 1, "failed re-parse must not delete the prior snapshot")

	meta, err := db.FileMetadataByPath(ctx, src)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.False(t, meta.Success)
	assert.Equal(t, 1, meta.RetryCount)

	errs, err := db.ParseErrorsForFile(ctx, src)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "expected ;")
}

// TestApplySuppressesHeaderSymbolsFromNonOwningTU drives two
// translation units that both #include the same header through two
// separate Apply runs. Only the first TU to process the header may
// win the first-win claim (§4.5); the second TU's copy of the header's
// symbols must never reach the symbols table.
func TestApplySuppressesHeaderSymbolsFromNonOwningTU(t *testing.T) {
	dir := t.TempDir()
	srcA := filepath.Join(dir, "a.cpp")
	srcB := filepath.Join(dir, "b.cpp")
	header := filepath.Join(dir, "shared.h")
	writeFile(t, srcA, "#include \"shared.h\"\n")
	writeFile(t, srcB, "#include \"shared.h\"\n")
	writeFile(t, header, "class Shared {};\n")

	c, db := setupWithWorker(t, writeHeaderAwareFakeWorker(t, header))
	ctx := context.Background()

	_, err := c.Apply(ctx, types.ChangeSet{Added: []string{srcA}}, func(string) []string { return nil }, nil)
	require.NoError(t, err)
	_, err = c.Apply(ctx, types.ChangeSet{Added: []string{srcB}}, func(string) []string { return nil }, nil)
	require.NoError(t, err)

	sharedSyms, err := db.SymbolsByFile(ctx, header)
	require.NoError(t, err)
	require.Len(t, sharedSyms, 1, "header symbol must be persisted exactly once, by its claiming TU")

	entry, err := db.HeaderTrackerEntry(ctx, header)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, srcA, entry.ProcessedBy, "first TU to process the header wins the claim")

	all, err := db.AllSymbols(ctx, nil, false, "")
	require.NoError(t, err)
	assert.Len(t, all, 3, "a.cpp's own symbol + the shared header symbol + b.cpp's own symbol")
}

// writeDroppableIncludeFakeWorker reports headerPath in Headers (with
// its symbol) for every TU, except that once markerPath exists,
// dropSrc's parses stop mentioning the header entirely — simulating
// dropSrc being edited to remove its #include.
func writeDroppableIncludeFakeWorker(t *testing.T, headerPath, dropSrc, markerPath string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake worker script requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-worker-droppable-include.sh")
	script := `#!/bin/sh
while IFS= read -r line; do
  file=$(echo "$line" | sed -n 's/.*"File":"\([^"]*\)".*/\1/p')
  if [ -f "` + markerPath + `" ] && [ "$file" = "` + dropSrc + `" ]; then
    printf '{"File":"%s","Success":true,"Symbols":[{"ID":"usr#own-%s","Name":"Own","File":"%s","IsProject":true,"IsDefinition":true}]}\n' "$file" "$file" "$file"
  else
    printf '{"File":"%s","Success":true,"Headers":["` + headerPath + `"],"Symbols":[{"ID":"usr#own-%s","Name":"Own","File":"%s","IsProject":true,"IsDefinition":true},{"ID":"usr#shared","Name":"Shared","File":"` + headerPath + `","IsProject":true,"IsDefinition":true}]}\n' "$file" "$file" "$file"
  fi
done
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

// TestApplyDroppedIncludeReleasesClaimForNextTU covers §4.5's re-parse
// invalidation clause: a TU that owned a header and then dropped the
// #include must surrender the tracker row on re-parse, or the header
// stays pointed at an owner that will never re-emit it and every other
// TU is suppressed forever.
func TestApplyDroppedIncludeReleasesClaimForNextTU(t *testing.T) {
	dir := t.TempDir()
	srcA := filepath.Join(dir, "a.cpp")
	srcB := filepath.Join(dir, "b.cpp")
	header := filepath.Join(dir, "shared.h")
	marker := filepath.Join(dir, "include-dropped")
	writeFile(t, srcA, "#include \"shared.h\"\n")
	writeFile(t, srcB, "#include \"shared.h\"\n")
	writeFile(t, header, "class Shared {};\n")

	c, db := setupWithWorker(t, writeDroppableIncludeFakeWorker(t, header, srcA, marker))
	ctx := context.Background()

	_, err := c.Apply(ctx, types.ChangeSet{Added: []string{srcA}}, func(string) []string { return nil }, nil)
	require.NoError(t, err)

	entry, err := db.HeaderTrackerEntry(ctx, header)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, srcA, entry.ProcessedBy)

	// a.cpp drops the include and is re-parsed: the claim must be
	// released and the header's symbols (owned by a.cpp's last parse)
	// wiped along with it.
	writeFile(t, marker, "")
	_, err = c.Apply(ctx, types.ChangeSet{Modified: []string{srcA}}, func(string) []string { return nil }, nil)
	require.NoError(t, err)

	entry, err = db.HeaderTrackerEntry(ctx, header)
	require.NoError(t, err)
	assert.Nil(t, entry, "dropped include must release the tracker row")
	orphaned, err := db.SymbolsByFile(ctx, header)
	require.NoError(t, err)
	assert.Empty(t, orphaned)

	// The next TU to report the header wins the claim and its symbols
	// become visible again.
	_, err = c.Apply(ctx, types.ChangeSet{Added: []string{srcB}}, func(string) []string { return nil }, nil)
	require.NoError(t, err)

	entry, err = db.HeaderTrackerEntry(ctx, header)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, srcB, entry.ProcessedBy)
	reclaimed, err := db.SymbolsByFile(ctx, header)
	require.NoError(t, err)
	assert.Len(t, reclaimed, 1)
}

// TestApplyReparseDeletesRemovedHeaderDeclaration covers the ghost-row
// scenario: a header declaration present on first parse is removed by
// the time its owning TU is re-parsed. The stale symbol row, keyed on
// the header's own path rather than the TU's path, must be deleted
// (§3 "re-parsing a file replaces all records whose source file is
// that file").
func TestApplyReparseDeletesRemovedHeaderDeclaration(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.cpp")
	header := filepath.Join(dir, "shared.h")
	marker := filepath.Join(dir, "declaration-removed")
	writeFile(t, src, "#include \"shared.h\"\n")
	writeFile(t, header, "class Shared {};\n")

	c, db := setupWithWorker(t, writeToggleHeaderFakeWorker(t, header, marker))
	ctx := context.Background()

	_, err := c.Apply(ctx, types.ChangeSet{Added: []string{src}}, func(string) []string { return nil }, nil)
	require.NoError(t, err)

	before, err := db.SymbolsByFile(ctx, header)
	require.NoError(t, err)
	require.Len(t, before, 1)

	writeFile(t, marker, "")

	_, err = c.Apply(ctx, types.ChangeSet{Modified: []string{src}}, func(string) []string { return nil }, nil)
	require.NoError(t, err)

	after, err := db.SymbolsByFile(ctx, header)
	require.NoError(t, err)
	assert.Empty(t, after, "removed header declaration must not remain as a ghost row")
}
