package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/cindex/internal/config"
	"github.com/standardbeagle/cindex/internal/debug"
	"github.com/standardbeagle/cindex/internal/mcp"
	"github.com/standardbeagle/cindex/internal/project"
	"github.com/standardbeagle/cindex/internal/version"
)

// loadConfigWithOverrides mirrors the teacher's flag-to-config
// binding: a config is always loaded relative to a root. The root flag
// picks the project; a source-root node in the config file still
// overrides the directory that is scanned.
func loadConfigWithOverrides(c *cli.Context) (root, configPath string, err error) {
	root = c.String("root")
	if root == "" {
		root, err = os.Getwd()
		if err != nil {
			return "", "", fmt.Errorf("resolve working directory: %w", err)
		}
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return "", "", fmt.Errorf("resolve root path %q: %w", root, err)
	}
	configPath = c.String("config")
	if configPath != "" && !filepath.IsAbs(configPath) {
		configPath = filepath.Join(root, configPath)
	}
	return root, configPath, nil
}

func main() {
	app := &cli.App{
		Name:    "cindexd",
		Usage:   "Incremental C/C++ symbol index with an MCP tool surface",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "Project source root (defaults to the current directory)",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file name, resolved relative to root",
				Value:   config.DefaultConfigFileName,
			},
			&cli.StringFlag{
				Name:  "worker",
				Usage: "Path to the cindex-parse-worker binary (default: alongside this executable, then $PATH)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the MCP server (stdio by default)",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "http",
						Usage: "Serve Streamable HTTP at this address instead of stdio (e.g. :8080)",
					},
					&cli.StringFlag{
						Name:  "sse",
						Usage: "Serve SSE at this address instead of stdio (e.g. :8080)",
					},
				},
			},
			{
				Name:   "index",
				Usage:  "Resolve project identity and perform the initial index",
				Action: indexCommand,
			},
			{
				Name:   "refresh",
				Usage:  "Incrementally re-index a project already indexed by a prior run",
				Action: refreshCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "full",
						Usage: "Re-parse every file instead of the minimal changeset",
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Print lifecycle state, file and symbol counts for a project",
				Action: statusCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output as JSON",
					},
				},
			},
		},
	}

	initDebugLog()
	err := app.Run(os.Args)
	debug.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "cindexd:", err)
		os.Exit(1)
	}
}

// initDebugLog opens the diagnostic log when CINDEX_DEBUG is set: "1"
// or "true" picks a default directory under the OS temp dir, any other
// value is used as the log directory itself. The log is file-only —
// stdout stays reserved for JSON-RPC framing on the stdio transport.
func initDebugLog() {
	v := os.Getenv("CINDEX_DEBUG")
	if v == "" {
		return
	}
	dir := v
	if v == "1" || v == "true" {
		dir = filepath.Join(os.TempDir(), "cindex-logs")
	}
	if _, err := debug.OpenLogFile(dir); err != nil {
		fmt.Fprintln(os.Stderr, "cindexd: debug log unavailable:", err)
	}
}

func newManager(c *cli.Context) *project.Manager {
	return project.NewManager(c.String("worker"))
}

// serveCommand implements the serve subcommand (§6): it opens no
// project itself — set_project_directory is the first tool call every
// client makes, the same way the teacher's mcp command defers project
// setup to the client.
func serveCommand(c *cli.Context) error {
	manager := newManager(c)
	server := mcp.NewServer(manager)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		debug.Logf(debug.Server, "received shutdown signal")
		cancel()
	}()

	switch {
	case c.String("http") != "":
		return server.ServeHTTP(ctx, c.String("http"))
	case c.String("sse") != "":
		return server.ServeSSE(ctx, c.String("sse"))
	default:
		return server.Serve(ctx)
	}
}

func indexCommand(c *cli.Context) error {
	root, configPath, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	manager := newManager(c)
	defer manager.Close()

	ctx := context.Background()
	proj, err := manager.SetProjectDirectory(ctx, root, configPath, true)
	if err != nil {
		return fmt.Errorf("index %s: %w", root, err)
	}
	info, err := proj.CacheInfo(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("indexed %s: state=%s files=%d cache=%s\n", info.SourceRoot, info.State, info.FileCount, info.CacheDir)
	return nil
}

func refreshCommand(c *cli.Context) error {
	root, configPath, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	manager := newManager(c)
	defer manager.Close()

	ctx := context.Background()
	proj, err := manager.SetProjectDirectory(ctx, root, configPath, true)
	if err != nil {
		return fmt.Errorf("open %s: %w", root, err)
	}
	summary, err := proj.RefreshProject(ctx, project.RefreshOptions{ForceFull: c.Bool("full")})
	if err != nil {
		return fmt.Errorf("refresh %s: %w", root, err)
	}
	fmt.Printf("refreshed %s (%s): analyzed=%d removed=%d errors=%d elapsed=%.2fs\n",
		root, summary.Mode, summary.FilesAnalyzed, summary.FilesRemoved, len(summary.Errors), summary.ElapsedS)
	return nil
}

func statusCommand(c *cli.Context) error {
	root, configPath, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	manager := newManager(c)
	defer manager.Close()

	ctx := context.Background()
	proj, err := manager.SetProjectDirectory(ctx, root, configPath, true)
	if err != nil {
		return fmt.Errorf("open %s: %w", root, err)
	}
	status, err := proj.Query.ServerStatus(ctx)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return printJSON(status)
	}
	fmt.Printf("state:        %s\n", status.State)
	fmt.Printf("files:        %d\n", status.IndexedFileCount)
	fmt.Printf("symbols:      %d\n", status.SymbolCount)
	fmt.Printf("cache:        %s\n", status.CacheDir)
	fmt.Printf("last refresh: %s\n", status.LastRefresh)
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
