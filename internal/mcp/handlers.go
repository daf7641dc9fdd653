package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/cindex/internal/project"
	"github.com/standardbeagle/cindex/internal/types"
)

// unmarshalParams decodes a tool call's raw arguments into dst,
// matching the teacher's manual-unmarshal handler style (tolerant of
// unknown fields, explicit error on a malformed shape).
func unmarshalParams(req *mcp.CallToolRequest, dst interface{}) error {
	if len(req.Params.Arguments) == 0 {
		return nil
	}
	return json.Unmarshal(req.Params.Arguments, dst)
}

// SetProjectDirectoryParams is the set_project_directory input (§6).
// AutoRefresh governs whether resuming an existing cache also runs an
// incremental refresh against the current filesystem state; a fresh
// cache is always fully indexed regardless.
type SetProjectDirectoryParams struct {
	ProjectPath string `json:"project_path"`
	ConfigFile  string `json:"config_file,omitempty"`
	AutoRefresh *bool  `json:"auto_refresh,omitempty"`
}

func (s *Server) handleSetProjectDirectory(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var p SetProjectDirectoryParams
	if err := unmarshalParams(req, &p); err != nil {
		return createErrorResponse("set_project_directory", fmt.Errorf("invalid parameters: %w", err))
	}
	if p.ProjectPath == "" {
		return createErrorResponse("set_project_directory", fmt.Errorf("project_path is required"))
	}
	autoRefresh := p.AutoRefresh == nil || *p.AutoRefresh

	proj, err := s.manager.SetProjectDirectory(ctx, p.ProjectPath, p.ConfigFile, autoRefresh)
	if err != nil {
		return createErrorResponse("set_project_directory", err)
	}

	info, err := proj.CacheInfo(ctx)
	if err != nil {
		return createErrorResponse("set_project_directory", err)
	}
	mode, filesAnalyzed := proj.InitialIndexInfo()
	return createJSONResponse(map[string]interface{}{
		"status":         "ok",
		"mode":           mode,
		"files_analyzed": filesAnalyzed,
		"project_path":   info.SourceRoot,
		"cache_dir":      info.CacheDir,
		"state":          info.State,
		"file_count":     info.FileCount,
	})
}

// ProjectParams names the project an operation applies to; every tool
// past set_project_directory accepts it so a client can work with
// several open projects concurrently (§6).
type ProjectParams struct {
	ProjectPath string `json:"project_path"`
	ConfigFile  string `json:"config_file,omitempty"`
}

func (s *Server) lookupProject(req ProjectParams) (*project.Project, error) {
	proj, err := s.manager.Project(req.ProjectPath, req.ConfigFile)
	if err != nil {
		return nil, err
	}
	if proj == nil {
		return nil, fmt.Errorf("no project open for %q; call set_project_directory first", req.ProjectPath)
	}
	return proj, nil
}

// RefreshProjectParams is the refresh_project input (§6). Incremental
// defaults to true; setting it false, or setting ForceFull, re-parses
// every file. DryRun previews C8's changeset without applying it
// (SPEC_FULL §2).
type RefreshProjectParams struct {
	ProjectParams
	Incremental *bool `json:"incremental,omitempty"`
	ForceFull   bool  `json:"force_full,omitempty"`
	DryRun      bool  `json:"dry_run,omitempty"`
}

func (s *Server) handleRefreshProject(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var p RefreshProjectParams
	if err := unmarshalParams(req, &p); err != nil {
		return createErrorResponse("refresh_project", fmt.Errorf("invalid parameters: %w", err))
	}
	proj, err := s.lookupProject(p.ProjectParams)
	if err != nil {
		return createErrorResponse("refresh_project", err)
	}

	if p.DryRun {
		cs, err := proj.PreviewRefresh(ctx)
		if err != nil {
			return createErrorResponse("refresh_project", err)
		}
		return createJSONResponse(map[string]interface{}{
			"dry_run": true,
			"changes": changesPayload(cs),
		})
	}

	forceFull := p.ForceFull || (p.Incremental != nil && !*p.Incremental)
	summary, err := proj.RefreshProject(ctx, project.RefreshOptions{ForceFull: forceFull})
	if err != nil {
		return createErrorResponse("refresh_project", err)
	}
	return createJSONResponse(map[string]interface{}{
		"status":         "ok",
		"mode":           summary.Mode,
		"files_analyzed": summary.FilesAnalyzed,
		"files_removed":  summary.FilesRemoved,
		"elapsed_s":      summary.ElapsedS,
		"error_count":    len(summary.Errors),
		"changes":        changesPayload(summary.Changes),
	})
}

func changesPayload(cs types.ChangeSet) map[string]interface{} {
	return map[string]interface{}{
		"compile_commands": cs.CompileCommandsChanged,
		"added":            cs.Added,
		"modified":         cs.Modified,
		"modified_headers": cs.ModifiedHeaders,
		"removed":          cs.Removed,
		"commands_changed": cs.CommandsChanged,
	}
}

// SearchSymbolsParams is the search_symbols/search_classes/search_functions
// input (§6).
type SearchSymbolsParams struct {
	ProjectParams
	Pattern     string   `json:"pattern"`
	Kinds       []string `json:"kinds,omitempty"`
	ProjectOnly bool     `json:"project_only,omitempty"`
	File        string   `json:"file,omitempty"`
}

func (s *Server) handleSearchSymbols(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var p SearchSymbolsParams
	if err := unmarshalParams(req, &p); err != nil {
		return createErrorResponse("search_symbols", fmt.Errorf("invalid parameters: %w", err))
	}
	proj, err := s.lookupProject(p.ProjectParams)
	if err != nil {
		return createErrorResponse("search_symbols", err)
	}

	hits, err := proj.Query.SearchSymbols(ctx, p.Pattern, parseKinds(p.Kinds), p.ProjectOnly, p.File)
	if err != nil {
		return createErrorResponse("search_symbols", err)
	}
	return createJSONResponse(map[string]interface{}{"symbols": hits, "count": len(hits)})
}

// kindsFor maps the tool-facing "class"/"function" shorthand to the
// concrete SymbolKind set a search should match, letting
// search_classes and search_functions both reuse the underlying query
// (§6 lists them as thin wrappers over one search).
func kindsFor(kind string) []types.SymbolKind {
	switch kind {
	case "class":
		return []types.SymbolKind{types.KindClass, types.KindStruct, types.KindUnion}
	case "function":
		return []types.SymbolKind{types.KindFunction, types.KindMethod}
	default:
		return nil
	}
}

// parseKinds maps kind names from a search_symbols request onto the
// closed SymbolKind enumeration; unknown names are ignored rather than
// erroring, and the "class"/"function" group shorthands expand.
func parseKinds(names []string) []types.SymbolKind {
	var out []types.SymbolKind
	for _, name := range names {
		switch name {
		case "class", "function":
			out = append(out, kindsFor(name)...)
		case "struct":
			out = append(out, types.KindStruct)
		case "union":
			out = append(out, types.KindUnion)
		case "enum":
			out = append(out, types.KindEnum)
		case "method":
			out = append(out, types.KindMethod)
		case "typedef":
			out = append(out, types.KindTypedef)
		case "alias":
			out = append(out, types.KindAlias)
		case "namespace":
			out = append(out, types.KindNamespace)
		case "variable":
			out = append(out, types.KindVariable)
		case "field":
			out = append(out, types.KindField)
		}
	}
	return out
}

func (s *Server) handleSearchClasses(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var np struct {
		ProjectParams
		Pattern string `json:"pattern"`
	}
	if err := unmarshalParams(req, &np); err != nil {
		return createErrorResponse("search_classes", fmt.Errorf("invalid parameters: %w", err))
	}
	proj, err := s.lookupProject(np.ProjectParams)
	if err != nil {
		return createErrorResponse("search_classes", err)
	}
	hits, err := proj.Query.SearchSymbols(ctx, np.Pattern, kindsFor("class"), false, "")
	if err != nil {
		return createErrorResponse("search_classes", err)
	}
	return createJSONResponse(map[string]interface{}{"symbols": hits, "count": len(hits)})
}

func (s *Server) handleSearchFunctions(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var np struct {
		ProjectParams
		Pattern string `json:"pattern"`
	}
	if err := unmarshalParams(req, &np); err != nil {
		return createErrorResponse("search_functions", fmt.Errorf("invalid parameters: %w", err))
	}
	proj, err := s.lookupProject(np.ProjectParams)
	if err != nil {
		return createErrorResponse("search_functions", err)
	}
	hits, err := proj.Query.SearchSymbols(ctx, np.Pattern, kindsFor("function"), false, "")
	if err != nil {
		return createErrorResponse("search_functions", err)
	}
	return createJSONResponse(map[string]interface{}{"symbols": hits, "count": len(hits)})
}

// ClassNameParams names a class by qualified or bare name (§6).
type ClassNameParams struct {
	ProjectParams
	ClassName string `json:"class_name"`
}

func (s *Server) handleGetClassInfo(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var p ClassNameParams
	if err := unmarshalParams(req, &p); err != nil {
		return createErrorResponse("get_class_info", fmt.Errorf("invalid parameters: %w", err))
	}
	proj, err := s.lookupProject(p.ProjectParams)
	if err != nil {
		return createErrorResponse("get_class_info", err)
	}

	info, err := proj.Query.ClassInfo(ctx, p.ClassName)
	if err != nil {
		return createErrorResponse("get_class_info", err)
	}
	if info == nil {
		return createJSONResponse(map[string]interface{}{"found": false, "class_name": p.ClassName})
	}
	return createJSONResponse(map[string]interface{}{
		"found":   true,
		"class":   info.Symbol,
		"methods": info.Methods,
		"fields":  info.Fields,
	})
}

// FunctionSignatureParams is the get_function_signature input (§6).
type FunctionSignatureParams struct {
	ProjectParams
	FunctionName string `json:"function_name"`
	ClassName    string `json:"class_name,omitempty"`
}

func (s *Server) handleGetFunctionSignature(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var p FunctionSignatureParams
	if err := unmarshalParams(req, &p); err != nil {
		return createErrorResponse("get_function_signature", fmt.Errorf("invalid parameters: %w", err))
	}
	proj, err := s.lookupProject(p.ProjectParams)
	if err != nil {
		return createErrorResponse("get_function_signature", err)
	}

	sigs, err := proj.Query.FunctionSignatures(ctx, p.FunctionName, p.ClassName)
	if err != nil {
		return createErrorResponse("get_function_signature", err)
	}
	return createJSONResponse(map[string]interface{}{"signatures": sigs, "count": len(sigs)})
}

func (s *Server) handleGetClassHierarchy(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var p ClassNameParams
	if err := unmarshalParams(req, &p); err != nil {
		return createErrorResponse("get_class_hierarchy", fmt.Errorf("invalid parameters: %w", err))
	}
	proj, err := s.lookupProject(p.ProjectParams)
	if err != nil {
		return createErrorResponse("get_class_hierarchy", err)
	}

	hierarchy, err := proj.Query.ClassHierarchy(ctx, p.ClassName)
	if err != nil {
		return createErrorResponse("get_class_hierarchy", err)
	}
	return createJSONResponse(map[string]interface{}{
		"bases":   hierarchy.Bases,
		"derived": hierarchy.Derived,
	})
}

func (s *Server) handleGetDerivedClasses(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var p ClassNameParams
	if err := unmarshalParams(req, &p); err != nil {
		return createErrorResponse("get_derived_classes", fmt.Errorf("invalid parameters: %w", err))
	}
	proj, err := s.lookupProject(p.ProjectParams)
	if err != nil {
		return createErrorResponse("get_derived_classes", err)
	}
	hierarchy, err := proj.Query.ClassHierarchy(ctx, p.ClassName)
	if err != nil {
		return createErrorResponse("get_derived_classes", err)
	}
	return createJSONResponse(map[string]interface{}{"derived": hierarchy.Derived, "count": len(hierarchy.Derived)})
}

// FunctionNameParams names a function for the call-graph tools (§6).
type FunctionNameParams struct {
	ProjectParams
	FunctionName string `json:"function_name"`
}

func (s *Server) handleFindCallers(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var p FunctionNameParams
	if err := unmarshalParams(req, &p); err != nil {
		return createErrorResponse("find_callers", fmt.Errorf("invalid parameters: %w", err))
	}
	proj, err := s.lookupProject(p.ProjectParams)
	if err != nil {
		return createErrorResponse("find_callers", err)
	}
	callers, err := proj.Query.FindCallers(ctx, p.FunctionName)
	if err != nil {
		return createErrorResponse("find_callers", err)
	}
	return createJSONResponse(map[string]interface{}{"callers": callers, "count": len(callers)})
}

func (s *Server) handleFindCallees(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var p FunctionNameParams
	if err := unmarshalParams(req, &p); err != nil {
		return createErrorResponse("find_callees", fmt.Errorf("invalid parameters: %w", err))
	}
	proj, err := s.lookupProject(p.ProjectParams)
	if err != nil {
		return createErrorResponse("find_callees", err)
	}
	callees, err := proj.Query.FindCallees(ctx, p.FunctionName)
	if err != nil {
		return createErrorResponse("find_callees", err)
	}
	return createJSONResponse(map[string]interface{}{"callees": callees, "count": len(callees)})
}

// CallPathParams is the get_call_path input (§6).
type CallPathParams struct {
	ProjectParams
	From     string `json:"from"`
	To       string `json:"to"`
	MaxDepth int    `json:"max_depth,omitempty"`
}

func (s *Server) handleGetCallPath(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var p CallPathParams
	if err := unmarshalParams(req, &p); err != nil {
		return createErrorResponse("get_call_path", fmt.Errorf("invalid parameters: %w", err))
	}
	proj, err := s.lookupProject(p.ProjectParams)
	if err != nil {
		return createErrorResponse("get_call_path", err)
	}
	paths, err := proj.Query.CallPath(ctx, p.From, p.To, p.MaxDepth)
	if err != nil {
		return createErrorResponse("get_call_path", err)
	}
	return createJSONResponse(map[string]interface{}{"paths": paths, "count": len(paths)})
}

// FindInFileParams is the find_in_file input (§6).
type FindInFileParams struct {
	ProjectParams
	FilePath string `json:"file_path"`
	Pattern  string `json:"pattern,omitempty"`
}

func (s *Server) handleFindInFile(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var p FindInFileParams
	if err := unmarshalParams(req, &p); err != nil {
		return createErrorResponse("find_in_file", fmt.Errorf("invalid parameters: %w", err))
	}
	proj, err := s.lookupProject(p.ProjectParams)
	if err != nil {
		return createErrorResponse("find_in_file", err)
	}
	symbols, err := proj.Query.FindInFile(ctx, p.FilePath, p.Pattern)
	if err != nil {
		return createErrorResponse("find_in_file", err)
	}
	return createJSONResponse(map[string]interface{}{"symbols": symbols, "count": len(symbols)})
}

func (s *Server) handleGetServerStatus(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var p ProjectParams
	if err := unmarshalParams(req, &p); err != nil {
		return createErrorResponse("get_server_status", fmt.Errorf("invalid parameters: %w", err))
	}

	if p.ProjectPath == "" {
		infos, err := s.manager.ListProjects(ctx)
		if err != nil {
			return createErrorResponse("get_server_status", err)
		}
		return createJSONResponse(map[string]interface{}{"projects": infos})
	}

	proj, err := s.lookupProject(p)
	if err != nil {
		return createErrorResponse("get_server_status", err)
	}
	status, err := proj.Query.ServerStatus(ctx)
	if err != nil {
		return createErrorResponse("get_server_status", err)
	}
	return createJSONResponse(status)
}

// VacuumCacheParams is the supplemented vacuum_cache input.
type VacuumCacheParams = ProjectParams

func (s *Server) handleVacuumCache(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var p VacuumCacheParams
	if err := unmarshalParams(req, &p); err != nil {
		return createErrorResponse("vacuum_cache", fmt.Errorf("invalid parameters: %w", err))
	}
	proj, err := s.lookupProject(p)
	if err != nil {
		return createErrorResponse("vacuum_cache", err)
	}
	if err := proj.VacuumCache(ctx); err != nil {
		return createErrorResponse("vacuum_cache", err)
	}
	return createJSONResponse(map[string]interface{}{"success": true})
}

// ParseErrorsParams is the supplemented get_parse_errors input.
type ParseErrorsParams struct {
	ProjectParams
	File string `json:"file,omitempty"`
}

func (s *Server) handleGetParseErrors(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var p ParseErrorsParams
	if err := unmarshalParams(req, &p); err != nil {
		return createErrorResponse("get_parse_errors", fmt.Errorf("invalid parameters: %w", err))
	}
	proj, err := s.lookupProject(p.ProjectParams)
	if err != nil {
		return createErrorResponse("get_parse_errors", err)
	}
	errs, err := proj.Query.SearchParseErrors(ctx, p.File)
	if err != nil {
		return createErrorResponse("get_parse_errors", err)
	}
	return createJSONResponse(map[string]interface{}{"errors": errs, "count": len(errs)})
}
