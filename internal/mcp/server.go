// Package mcp exposes the indexer's query and lifecycle operations as
// Model Context Protocol tools (spec §6), following the teacher's
// manual-unmarshal CallToolRequest handler style rather than the SDK's
// generic typed-handler helper.
package mcp

import (
	"context"
	"net/http"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/cindex/internal/project"
	"github.com/standardbeagle/cindex/internal/version"
)

// Server wraps the MCP protocol server and the project manager every
// tool handler dispatches through.
type Server struct {
	manager *project.Manager
	server  *mcp.Server
}

// NewServer builds the MCP server and registers every tool from §6
// plus the SPEC_FULL supplemented diagnostic/maintenance tools.
func NewServer(manager *project.Manager) *Server {
	s := &Server{
		manager: manager,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "cindex-mcp-server",
			Version: version.Version,
		}, nil),
	}
	s.registerTools()
	return s
}

func stringProp(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: description}
}

func boolProp(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "boolean", Description: description}
}

func intProp(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer", Description: description}
}

// projectProperties are the (project_path, config_file) fields every
// tool past set_project_directory shares, so a client can address
// more than one open project (§6).
func projectProperties() map[string]*jsonschema.Schema {
	return map[string]*jsonschema.Schema{
		"project_path": stringProp("Absolute path to the project's source root, as passed to set_project_directory"),
		"config_file":  stringProp("Optional explicit config file path, if not the project root's default .cindex.kdl"),
	}
}

func (s *Server) registerTools() {
	s.server.AddTool(&mcp.Tool{
		Name:        "set_project_directory",
		Description: "Resolve a project identity for project_path and perform (or resume) its initial index. Call this before any other tool.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"project_path": stringProp("Absolute path to the C/C++ project's source root"),
				"config_file":  stringProp("Optional explicit .cindex.kdl path"),
				"auto_refresh": boolProp("When resuming an existing cache, also run an incremental refresh (default true)"),
			},
			Required: []string{"project_path"},
		},
	}, s.handleSetProjectDirectory)

	s.server.AddTool(&mcp.Tool{
		Name:        "refresh_project",
		Description: "Rescan the project for added, modified and removed files and apply an incremental re-index. Pass dry_run to preview the changeset without applying it.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: mergeProps(projectProperties(), map[string]*jsonschema.Schema{
				"incremental": boolProp("Apply only the minimal changeset (default true); false re-parses everything"),
				"force_full":  boolProp("Re-parse every file regardless of detected changes"),
				"dry_run":     boolProp("Preview the changeset without applying it"),
			}),
			Required: []string{"project_path"},
		},
	}, s.handleRefreshProject)

	s.server.AddTool(&mcp.Tool{
		Name:        "search_symbols",
		Description: "Search indexed symbols by name. An anchored pattern (e.g. ^Foo$) is matched as a regular expression; any other pattern runs a stemmed full-text search.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: mergeProps(projectProperties(), map[string]*jsonschema.Schema{
				"pattern":      stringProp("Name pattern: regex if anchored, full-text otherwise"),
				"kinds":        {Type: "array", Items: stringProp("Symbol kind, e.g. \"class\", \"function\", \"field\""), Description: "Restrict to these symbol kinds; omit for any"},
				"project_only": boolProp("Restrict to symbols defined inside the source root"),
				"file":         stringProp("Restrict to one file's symbols"),
			}),
			Required: []string{"project_path", "pattern"},
		},
	}, s.handleSearchSymbols)

	s.server.AddTool(&mcp.Tool{
		Name:        "search_classes",
		Description: "Search indexed class/struct/union symbols by name (shorthand for search_symbols with kind=\"class\").",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: mergeProps(projectProperties(), map[string]*jsonschema.Schema{
				"pattern": stringProp("Name pattern: regex if anchored, full-text otherwise"),
			}),
			Required: []string{"project_path", "pattern"},
		},
	}, s.handleSearchClasses)

	s.server.AddTool(&mcp.Tool{
		Name:        "search_functions",
		Description: "Search indexed function/method symbols by name (shorthand for search_symbols with kind=\"function\").",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: mergeProps(projectProperties(), map[string]*jsonschema.Schema{
				"pattern": stringProp("Name pattern: regex if anchored, full-text otherwise"),
			}),
			Required: []string{"project_path", "pattern"},
		},
	}, s.handleSearchFunctions)

	s.server.AddTool(&mcp.Tool{
		Name:        "get_class_info",
		Description: "Get a class/struct/union's methods, fields and documentation by qualified or bare name.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: mergeProps(projectProperties(), map[string]*jsonschema.Schema{
				"class_name": stringProp("Qualified (ns::Class) or bare class name"),
			}),
			Required: []string{"project_path", "class_name"},
		},
	}, s.handleGetClassInfo)

	s.server.AddTool(&mcp.Tool{
		Name:        "get_function_signature",
		Description: "List every indexed overload/declaration signature for a function or method name.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: mergeProps(projectProperties(), map[string]*jsonschema.Schema{
				"function_name": stringProp("Function or method name"),
				"class_name":    stringProp("Restrict to methods of this qualified class name"),
			}),
			Required: []string{"project_path", "function_name"},
		},
	}, s.handleGetFunctionSignature)

	s.server.AddTool(&mcp.Tool{
		Name:        "get_class_hierarchy",
		Description: "Get a class's direct base classes and every class that directly derives from it.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: mergeProps(projectProperties(), map[string]*jsonschema.Schema{
				"class_name": stringProp("Qualified or bare class name"),
			}),
			Required: []string{"project_path", "class_name"},
		},
	}, s.handleGetClassHierarchy)

	s.server.AddTool(&mcp.Tool{
		Name:        "get_derived_classes",
		Description: "Get every class that directly derives from the named base class (shorthand for get_class_hierarchy's \"derived\" field).",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: mergeProps(projectProperties(), map[string]*jsonschema.Schema{
				"class_name": stringProp("Qualified or bare base class name"),
			}),
			Required: []string{"project_path", "class_name"},
		},
	}, s.handleGetDerivedClasses)

	s.server.AddTool(&mcp.Tool{
		Name:        "find_callers",
		Description: "Find every symbol that calls a function or method by name.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: mergeProps(projectProperties(), map[string]*jsonschema.Schema{
				"function_name": stringProp("Callee function or method name"),
			}),
			Required: []string{"project_path", "function_name"},
		},
	}, s.handleFindCallers)

	s.server.AddTool(&mcp.Tool{
		Name:        "find_callees",
		Description: "Find every symbol that a function or method calls, by name.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: mergeProps(projectProperties(), map[string]*jsonschema.Schema{
				"function_name": stringProp("Caller function or method name"),
			}),
			Required: []string{"project_path", "function_name"},
		},
	}, s.handleFindCallees)

	s.server.AddTool(&mcp.Tool{
		Name:        "get_call_path",
		Description: "Find the shortest call chain(s) from one function to another, up to max_depth hops.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: mergeProps(projectProperties(), map[string]*jsonschema.Schema{
				"from":      stringProp("Starting function name"),
				"to":        stringProp("Target function name"),
				"max_depth": intProp("Maximum hops to search (default 10)"),
			}),
			Required: []string{"project_path", "from", "to"},
		},
	}, s.handleGetCallPath)

	s.server.AddTool(&mcp.Tool{
		Name:        "find_in_file",
		Description: "List symbols declared in one file, optionally filtered by a name pattern.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: mergeProps(projectProperties(), map[string]*jsonschema.Schema{
				"file_path": stringProp("Absolute file path as indexed"),
				"pattern":   stringProp("Optional regex name filter"),
			}),
			Required: []string{"project_path", "file_path"},
		},
	}, s.handleFindInFile)

	s.server.AddTool(&mcp.Tool{
		Name:        "get_server_status",
		Description: "Report lifecycle state, indexed file/symbol counts and cache location. Omit project_path to list every open project.",
		InputSchema: &jsonschema.Schema{
			Type:       "object",
			Properties: projectProperties(),
		},
	}, s.handleGetServerStatus)

	s.server.AddTool(&mcp.Tool{
		Name:        "vacuum_cache",
		Description: "Explicitly compact a project's on-disk cache database.",
		InputSchema: &jsonschema.Schema{
			Type:       "object",
			Properties: projectProperties(),
			Required:   []string{"project_path"},
		},
	}, s.handleVacuumCache)

	s.server.AddTool(&mcp.Tool{
		Name:        "get_parse_errors",
		Description: "List recent parse failures, optionally filtered to one file.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: mergeProps(projectProperties(), map[string]*jsonschema.Schema{
				"file": stringProp("Restrict to one file's parse-error history"),
			}),
			Required: []string{"project_path"},
		},
	}, s.handleGetParseErrors)
}

func mergeProps(a, b map[string]*jsonschema.Schema) map[string]*jsonschema.Schema {
	out := make(map[string]*jsonschema.Schema, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Serve runs the server over stdio until ctx is cancelled or the
// transport closes (§6 "stdio default transport").
func (s *Server) Serve(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// ServeHTTP runs the server as a Streamable HTTP endpoint at addr
// until ctx is cancelled, for clients that can't speak stdio (§6
// "--http").
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.server }, nil)
	return serveHTTP(ctx, addr, handler)
}

// ServeSSE runs the server as an SSE endpoint at addr until ctx is
// cancelled, for older clients that haven't moved to Streamable HTTP
// (§6 "--sse").
func (s *Server) ServeSSE(ctx context.Context, addr string) error {
	handler := mcp.NewSSEHandler(func(*http.Request) *mcp.Server { return s.server }, nil)
	return serveHTTP(ctx, addr, handler)
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	httpServer := &http.Server{Addr: addr, Handler: handler}
	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return httpServer.Shutdown(context.Background())
	}
}

// Close releases every project the manager opened.
func (s *Server) Close() error {
	return s.manager.Close()
}
