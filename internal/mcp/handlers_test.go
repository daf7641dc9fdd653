package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/cindex/internal/project"
)

// fakeWorkerScript mirrors project.fakeWorkerScript: a shell script
// standing in for cindex-parse-worker that round-trips each task with
// a trivially successful, empty ParseResult.
func fakeWorkerScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cindex-parse-worker")
	script := "#!/bin/sh\nwhile IFS= read -r line; do\n  printf '%s\\n' '{\"File\":\"\",\"Symbols\":null,\"CallSites\":null,\"Includes\":null,\"Headers\":null,\"Errors\":null,\"Success\":true}'\ndone\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	srcRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "widget.cpp"), []byte("class Widget {};\n"), 0o644))
	cacheRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, ".cindex.kdl"), []byte(
		"cache-root \""+cacheRoot+"\"\n"), 0o644))

	manager := project.NewManager(fakeWorkerScript(t))
	t.Cleanup(func() { manager.Close() })
	return NewServer(manager), srcRoot
}

func callTool(t *testing.T, handler func(context.Context, *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error), params interface{}) map[string]interface{} {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)

	result, err := handler(context.Background(), &mcpsdk.CallToolRequest{
		Params: &mcpsdk.CallToolParamsRaw{Arguments: raw},
	})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)

	text, ok := result.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &decoded))
	if result.IsError {
		decoded["__is_error__"] = true
	}
	return decoded
}

func TestHandleSetProjectDirectoryIndexesProject(t *testing.T) {
	server, srcRoot := newTestServer(t)

	resp := callTool(t, server.handleSetProjectDirectory, SetProjectDirectoryParams{ProjectPath: srcRoot})
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "full", resp["mode"])
	assert.Equal(t, "indexed", resp["state"])
	assert.Equal(t, float64(1), resp["file_count"])
}

func TestHandleSearchSymbolsRequiresOpenProject(t *testing.T) {
	server, srcRoot := newTestServer(t)

	resp := callTool(t, server.handleSearchSymbols, SearchSymbolsParams{
		ProjectParams: ProjectParams{ProjectPath: srcRoot},
		Pattern:       "Widget",
	})
	assert.Equal(t, true, resp["__is_error__"])
}

func TestHandleSearchSymbolsSucceedsOnIndexedProject(t *testing.T) {
	server, srcRoot := newTestServer(t)
	_ = callTool(t, server.handleSetProjectDirectory, SetProjectDirectoryParams{ProjectPath: srcRoot})

	resp := callTool(t, server.handleSearchSymbols, SearchSymbolsParams{
		ProjectParams: ProjectParams{ProjectPath: srcRoot},
		Pattern:       "^Widget$",
	})
	assert.NotContains(t, resp, "__is_error__")
	assert.Equal(t, float64(0), resp["count"])
}

func TestHandleGetServerStatusListsEveryProjectWhenSourceRootOmitted(t *testing.T) {
	server, srcRoot := newTestServer(t)
	_ = callTool(t, server.handleSetProjectDirectory, SetProjectDirectoryParams{ProjectPath: srcRoot})

	resp := callTool(t, server.handleGetServerStatus, ProjectParams{})
	projects, ok := resp["projects"].([]interface{})
	require.True(t, ok)
	assert.Len(t, projects, 1)
}

func TestHandleRefreshProjectDryRunPreviewsWithoutApplying(t *testing.T) {
	server, srcRoot := newTestServer(t)
	_ = callTool(t, server.handleSetProjectDirectory, SetProjectDirectoryParams{ProjectPath: srcRoot})

	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "extra.cpp"), []byte("class Extra {};\n"), 0o644))

	resp := callTool(t, server.handleRefreshProject, RefreshProjectParams{
		ProjectParams: ProjectParams{ProjectPath: srcRoot},
		DryRun:        true,
	})
	assert.Equal(t, true, resp["dry_run"])
	changes, ok := resp["changes"].(map[string]interface{})
	require.True(t, ok)
	added, ok := changes["added"].([]interface{})
	require.True(t, ok)
	assert.Len(t, added, 1)

	status := callTool(t, server.handleGetServerStatus, ProjectParams{ProjectPath: srcRoot})
	assert.Equal(t, float64(1), status["IndexedFileCount"])
}

func TestHandleVacuumCacheSucceedsOnIndexedProject(t *testing.T) {
	server, srcRoot := newTestServer(t)
	_ = callTool(t, server.handleSetProjectDirectory, SetProjectDirectoryParams{ProjectPath: srcRoot})

	resp := callTool(t, server.handleVacuumCache, ProjectParams{ProjectPath: srcRoot})
	assert.Equal(t, true, resp["success"])
}
