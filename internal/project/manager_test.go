package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/cindex/internal/lifecycle"
)

func TestExtensionsFromInclude(t *testing.T) {
	got := extensionsFromInclude([]string{"*.cpp", "*.h", "vendor/**", "Makefile"})
	assert.Equal(t, []string{".cpp", ".h"}, got)
}

func TestResolveWorkerBinaryPrefersExplicitPath(t *testing.T) {
	m := NewManager("/explicit/path/cindex-parse-worker")
	path, err := m.resolveWorkerBinary()
	require.NoError(t, err)
	assert.Equal(t, "/explicit/path/cindex-parse-worker", path)
}

// fakeWorkerScript writes an executable shell script standing in for
// cindex-parse-worker: it round-trips each JSON-lines task with a
// trivially successful, empty ParseResult, enough to exercise the
// coordinator's dispatch/apply pipeline end to end without libclang.
func fakeWorkerScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cindex-parse-worker")
	script := "#!/bin/sh\nwhile IFS= read -r line; do\n  printf '%s\\n' '{\"File\":\"\",\"Symbols\":null,\"CallSites\":null,\"Includes\":null,\"Headers\":null,\"Errors\":null,\"Success\":true}'\ndone\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestSetProjectDirectoryIndexesNewFiles(t *testing.T) {
	srcRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "widget.cpp"), []byte("class Widget {};\n"), 0o644))

	cacheRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, ".cindex.kdl"), []byte(
		"cache-root \""+cacheRoot+"\"\n"), 0o644))

	m := NewManager(fakeWorkerScript(t))
	t.Cleanup(func() { m.Close() })

	ctx := context.Background()
	p, err := m.SetProjectDirectory(ctx, srcRoot, "", true)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, lifecycle.Indexed, p.Life.Current())

	status, err := p.Query.ServerStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.IndexedFileCount)
}

func TestSetProjectDirectoryIsIdempotentPerDirectory(t *testing.T) {
	srcRoot := t.TempDir()
	cacheRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, ".cindex.kdl"), []byte(
		"cache-root \""+cacheRoot+"\"\n"), 0o644))

	m := NewManager(fakeWorkerScript(t))
	t.Cleanup(func() { m.Close() })

	ctx := context.Background()
	p1, err := m.SetProjectDirectory(ctx, srcRoot, "", true)
	require.NoError(t, err)
	p2, err := m.SetProjectDirectory(ctx, srcRoot, "", true)
	require.NoError(t, err)
	assert.Same(t, p1, p2)
}

func TestListProjectsReportsOpenProjects(t *testing.T) {
	srcRoot := t.TempDir()
	cacheRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, ".cindex.kdl"), []byte(
		"cache-root \""+cacheRoot+"\"\n"), 0o644))

	m := NewManager(fakeWorkerScript(t))
	t.Cleanup(func() { m.Close() })

	ctx := context.Background()
	_, err := m.SetProjectDirectory(ctx, srcRoot, "", true)
	require.NoError(t, err)

	infos, err := m.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "indexed", infos[0].State)
}
