//go:build clang

// Package astwalk walks a libclang translation unit and converts its
// cursors into the symbol, call-site, include and error records C6
// hands back to the coordinator (spec §4.6). It is built only with
// the "clang" tag, isolating libclang's cgo dependency to the
// parse-worker binary the same way reqtraq isolates its optional
// clang-based code parser.
package astwalk

import (
	"fmt"
	"strings"

	"github.com/go-clang/clang-v14/clang"

	"github.com/standardbeagle/cindex/internal/types"
)

// Walker holds the one libclang Index a worker process creates for
// its whole lifetime (§4.6: "initialize the parser binding once per
// process; initialization is idempotent and tolerant of
// re-initialization in different worker instances").
type Walker struct {
	index clang.Index
}

func NewWalker() *Walker {
	return &Walker{index: clang.NewIndex(0, 0)}
}

func (w *Walker) Dispose() { w.index.Dispose() }

// Parse parses one translation unit and returns every record the
// coordinator needs to apply the file's atomic update.
func (w *Walker) Parse(task types.ParseTask) types.ParseResult {
	result := types.ParseResult{File: task.File}

	var tu clang.TranslationUnit
	opts := uint32(clang.TranslationUnit_DetailedPreprocessingRecord) | uint32(clang.TranslationUnit_KeepGoing)
	errCode := w.index.ParseTranslationUnit2FullArgv(task.File, task.Args, nil, opts, &tu)
	if errCode != clang.Error_Success {
		result.Errors = append(result.Errors, types.ParseErrorRecord{
			File: task.File, ErrorKind: "PARSE_FAILURE",
			Message: fmt.Sprintf("libclang parse error: %v", errCode),
		})
		result.Success = false
		return result
	}
	defer tu.Dispose()

	for _, d := range tu.Diagnostics() {
		if d.Severity() >= clang.Diagnostic_Error {
			result.Errors = append(result.Errors, types.ParseErrorRecord{
				File: task.File, ErrorKind: "PARSE_FAILURE", Message: d.Spelling(),
			})
		}
	}

	v := &visitor{task: task}
	v.walk(tu.TranslationUnitCursor())
	result.Symbols = v.symbols
	result.CallSites = v.callSites
	result.Headers = v.headers
	result.Includes = v.includes
	result.Success = true
	return result
}

type visitor struct {
	task      types.ParseTask
	symbols   []types.Symbol
	callSites []types.CallSite
	headers   []string
	includes  []types.IncludeEdge
	seenInc   map[string]bool
}

func (v *visitor) walk(root clang.Cursor) {
	v.seenInc = make(map[string]bool)

	root.Visit(func(cursor, parent clang.Cursor) clang.ChildVisitResult {
		if cursor.IsNull() {
			return clang.ChildVisit_Continue
		}
		switch cursor.Kind() {
		case clang.Cursor_ClassDecl, clang.Cursor_StructDecl, clang.Cursor_UnionDecl,
			clang.Cursor_ClassTemplate, clang.Cursor_ClassTemplatePartialSpecialization:
			v.recordType(cursor)
			return clang.ChildVisit_Recurse

		case clang.Cursor_EnumDecl:
			v.recordType(cursor)
			return clang.ChildVisit_Continue

		case clang.Cursor_Namespace:
			return clang.ChildVisit_Recurse

		case clang.Cursor_TypedefDecl:
			v.recordAlias(cursor, types.KindTypedef)

		case clang.Cursor_TypeAliasDecl, clang.Cursor_TypeAliasTemplateDecl:
			v.recordAlias(cursor, types.KindAlias)

		case clang.Cursor_CXXMethod, clang.Cursor_Constructor, clang.Cursor_Destructor, clang.Cursor_ConversionFunction:
			v.recordFunction(cursor, types.KindMethod)
			v.walkCallSites(cursor)

		case clang.Cursor_FunctionDecl, clang.Cursor_FunctionTemplate:
			v.recordFunction(cursor, types.KindFunction)
			v.walkCallSites(cursor)

		case clang.Cursor_FieldDecl:
			v.recordField(cursor)

		case clang.Cursor_VarDecl:
			if isNamespaceOrGlobalScope(cursor) {
				v.recordVariable(cursor)
			}

		case clang.Cursor_InclusionDirective:
			v.recordInclude(cursor)
		}
		return clang.ChildVisit_Recurse
	})
}

func isSpecialization(cursor clang.Cursor) bool {
	// A class template SPECIALIZATION (full or partial) is distinct
	// from the primary template: the primary template's cursor kind is
	// Cursor_ClassTemplate with no specialized-template cursor, while a
	// specialization's cursor reports a non-null specialized template
	// via cursor.SpecializedCursorTemplate() (§4.6). A method whose
	// parameter list merely contains an instantiated template type is
	// not itself a specialization.
	return cursor.Kind() == clang.Cursor_ClassTemplatePartialSpecialization ||
		!cursor.SpecializedCursorTemplate().IsNull()
}

func (v *visitor) recordType(cursor clang.Cursor) {
	usr := cursor.USR()
	if usr == "" {
		return
	}
	file, line, col, endLine := location(cursor)

	kind := types.KindClass
	switch cursor.Kind() {
	case clang.Cursor_StructDecl:
		kind = types.KindStruct
	case clang.Cursor_UnionDecl:
		kind = types.KindUnion
	case clang.Cursor_EnumDecl:
		kind = types.KindEnum
	}

	sym := types.Symbol{
		ID: usr, Name: cursor.Spelling(), QualifiedName: qualifiedName(cursor),
		Kind: kind, File: file, Line: line, Column: col, StartLine: line, EndLine: endLine,
		Access: access(cursor), IsProject: true, IsDefinition: cursor.IsDefinition(),
		Namespace: enclosingNamespace(cursor),
		Brief:     cursor.BriefCommentText(), Doc: cursor.RawCommentText(),
	}
	if !isSpecialization(cursor) {
		sym.BaseClasses = baseClasses(cursor)
	}
	v.symbols = append(v.symbols, sym)
}

func (v *visitor) recordFunction(cursor clang.Cursor, kind types.SymbolKind) {
	usr := cursor.USR()
	if usr == "" {
		return
	}
	file, line, col, endLine := location(cursor)

	sym := types.Symbol{
		ID: usr, Name: cursor.Spelling(), QualifiedName: qualifiedName(cursor),
		Kind: kind, File: file, Line: line, Column: col, StartLine: line, EndLine: endLine,
		Signature: cursor.Type().Spelling(), Access: access(cursor),
		IsProject: true, IsDefinition: cursor.IsDefinition(),
		Namespace:   enclosingNamespace(cursor),
		ParentClass: parentClassName(cursor),
		Brief:       cursor.BriefCommentText(), Doc: cursor.RawCommentText(),
	}
	if !sym.IsDefinition {
		sym.DeclFile, sym.DeclLine = file, line
	}
	v.symbols = append(v.symbols, sym)
}

func (v *visitor) recordAlias(cursor clang.Cursor, kind types.SymbolKind) {
	usr := cursor.USR()
	if usr == "" {
		return
	}
	file, line, col, endLine := location(cursor)
	v.symbols = append(v.symbols, types.Symbol{
		ID: usr, Name: cursor.Spelling(), QualifiedName: qualifiedName(cursor),
		Kind: kind, File: file, Line: line, Column: col, StartLine: line, EndLine: endLine,
		Access: access(cursor), IsProject: true, IsDefinition: true,
		Namespace: enclosingNamespace(cursor),
		// The underlying type is already canonicalized by libclang's
		// CanonicalType, so alias chains resolve to their concrete base.
		Signature: cursor.TypedefDeclUnderlyingType().CanonicalType().Spelling(),
		Brief:     cursor.BriefCommentText(), Doc: cursor.RawCommentText(),
	})
}

func (v *visitor) recordField(cursor clang.Cursor) {
	usr := cursor.USR()
	if usr == "" {
		return
	}
	file, line, col, endLine := location(cursor)
	v.symbols = append(v.symbols, types.Symbol{
		ID: usr, Name: cursor.Spelling(), QualifiedName: qualifiedName(cursor),
		Kind: types.KindField, File: file, Line: line, Column: col, StartLine: line, EndLine: endLine,
		Signature: cursor.Type().Spelling(), Access: access(cursor),
		IsDefinition: true,
		Namespace:    enclosingNamespace(cursor),
		ParentClass:  parentClassName(cursor),
		Brief:        cursor.BriefCommentText(), Doc: cursor.RawCommentText(),
	})
}

func (v *visitor) recordVariable(cursor clang.Cursor) {
	usr := cursor.USR()
	if usr == "" {
		return
	}
	file, line, col, endLine := location(cursor)
	v.symbols = append(v.symbols, types.Symbol{
		ID: usr, Name: cursor.Spelling(), QualifiedName: qualifiedName(cursor),
		Kind: types.KindVariable, File: file, Line: line, Column: col, StartLine: line, EndLine: endLine,
		Signature: cursor.Type().Spelling(), Access: access(cursor),
		IsProject: true, IsDefinition: cursor.IsDefinition(),
		Namespace: enclosingNamespace(cursor),
	})
}

// recordInclude flattens every inclusion directive the preprocessing
// record saw into a TU-level edge. The directive's own location tells
// whether the TU included the header itself or inherited it through
// another header; the latter is stored as an indirect edge.
func (v *visitor) recordInclude(cursor clang.Cursor) {
	included := cursor.IncludedFile()
	path := included.TryGetRealPathName()
	if path == "" || v.seenInc[path] {
		return
	}
	from, _, _, _ := location(cursor)
	direct := from == v.task.File

	v.seenInc[path] = true
	v.headers = append(v.headers, path)
	depth := 1
	if !direct {
		depth = 2
	}
	v.includes = append(v.includes, types.IncludeEdge{
		IncludedFile: path,
		IsDirect:     direct,
		Depth:        depth,
	})
}

// walkCallSites enumerates direct call expressions inside a function
// or method body. A function-pointer assignment (DeclRefExpr used as
// an rvalue, not a CallExpr) is deliberately not visited as a call
// (§4.6).
func (v *visitor) walkCallSites(fn clang.Cursor) {
	callerUSR := fn.USR()
	if callerUSR == "" {
		return
	}
	fn.Visit(func(cursor, parent clang.Cursor) clang.ChildVisitResult {
		if cursor.Kind() == clang.Cursor_CallExpr {
			ref := cursor.Referenced()
			if !ref.IsNull() {
				calleeUSR := ref.USR()
				if calleeUSR != "" {
					file, line, col, _ := location(cursor)
					v.callSites = append(v.callSites, types.CallSite{
						CallerID: callerUSR, CalleeID: calleeUSR, File: file, Line: line, Column: col,
					})
				}
			}
		}
		return clang.ChildVisit_Recurse
	})
}

func location(cursor clang.Cursor) (file string, line, col, endLine int) {
	f, l, c, _ := cursor.Location().FileLocation()
	file = f.TryGetRealPathName()
	line, col = int(l), int(c)
	_, endL, _, _ := cursor.Extent().End().FileLocation()
	endLine = int(endL)
	return
}

func access(cursor clang.Cursor) types.Access {
	switch cursor.AccessSpecifier() {
	case clang.AccessSpecifier_Protected:
		return types.AccessProtected
	case clang.AccessSpecifier_Private:
		return types.AccessPrivate
	default:
		return types.AccessPublic
	}
}

func qualifiedName(cursor clang.Cursor) string {
	var parts []string
	for c := cursor; !c.IsNull() && c.Kind() != clang.Cursor_TranslationUnit; c = c.SemanticParent() {
		name := c.Spelling()
		if name == "" {
			break
		}
		parts = append([]string{name}, parts...)
	}
	return strings.Join(parts, "::")
}

func enclosingNamespace(cursor clang.Cursor) string {
	var parts []string
	for c := cursor.SemanticParent(); !c.IsNull() && c.Kind() != clang.Cursor_TranslationUnit; c = c.SemanticParent() {
		if c.Kind() == clang.Cursor_Namespace {
			parts = append([]string{c.Spelling()}, parts...)
		}
	}
	return strings.Join(parts, "::")
}

func parentClassName(cursor clang.Cursor) string {
	parent := cursor.SemanticParent()
	switch parent.Kind() {
	case clang.Cursor_ClassDecl, clang.Cursor_StructDecl, clang.Cursor_ClassTemplate, clang.Cursor_ClassTemplatePartialSpecialization:
		return qualifiedName(parent)
	}
	return ""
}

func isNamespaceOrGlobalScope(cursor clang.Cursor) bool {
	parent := cursor.SemanticParent()
	return parent.IsNull() || parent.Kind() == clang.Cursor_Namespace || parent.Kind() == clang.Cursor_TranslationUnit
}

// baseClasses collects a class/struct's direct base specifiers,
// resolving type-alias bases to their canonical expansion so
// `class D : Container<Alias>` is stored as `Container<canonical(Alias)>` (§4.6).
//
// A base specifier naming a template type parameter (e.g. `class
// Adapter<Base> : public Base {}`) has no concrete class declaration
// behind it; its canonical type's Declaration cursor is null. Those
// are dependent names, not real bases, and are excluded so
// get_derived_classes never mistakes a template parameter named
// "Base" for a derivation from an unrelated `struct Base`.
func baseClasses(cursor clang.Cursor) []string {
	var bases []string
	cursor.Visit(func(c, parent clang.Cursor) clang.ChildVisitResult {
		if c.Kind() == clang.Cursor_CXXBaseSpecifier {
			canonical := c.Type().CanonicalType()
			if canonical.Declaration().IsNull() {
				return clang.ChildVisit_Continue
			}
			bases = append(bases, canonical.Spelling())
		}
		return clang.ChildVisit_Continue
	})
	return bases
}
