package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/standardbeagle/cindex/internal/types"
)

// ReplaceSymbolsForFile deletes every symbol row whose File is one of
// files and inserts the given replacements, applying the
// definition-wins invariant (§3): when the caller passes multiple
// records sharing an ID, MergeDefinitionWins should be applied first —
// this function trusts its caller already did so.
//
// files must cover every distinct Symbol.File value the caller's parse
// is authoritative for: a translation unit's own path plus every
// header it currently owns (§4.5). A symbol declared in a header is
// stored with File set to that header's path, not the TU's path, so
// scoping the delete to only the TU's own path would leave a header
// declaration that was removed on re-parse as a permanent ghost row
// (§3 "re-parsing a file replaces all records whose source file is
// that file").
//
// Must run inside the same transaction as the file's call-site and
// dependency-edge replacement for the atomic file update to hold (§4.2).
//
// Returns the number of rows deleted plus rows inserted, which the
// caller feeds to Store.NoteDirty for the opportunistic vacuum policy
// (§4.2) once the transaction commits.
func ReplaceSymbolsForFile(ctx context.Context, tx *sql.Tx, files []string, symbols []types.Symbol) (int64, error) {
	if len(files) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(files)), ",")
	args := make([]interface{}, len(files))
	for i, f := range files {
		args[i] = f
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM symbols WHERE file IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, err
	}
	dirty, _ := res.RowsAffected()
	for _, sym := range symbols {
		if err := upsertSymbol(ctx, tx, sym); err != nil {
			return dirty, err
		}
	}
	return dirty + int64(len(symbols)), nil
}

func upsertSymbol(ctx context.Context, tx *sql.Tx, sym types.Symbol) error {
	now := time.Now()
	if sym.CreatedAt.IsZero() {
		sym.CreatedAt = now
	}
	sym.UpdatedAt = now

	_, err := tx.ExecContext(ctx, `
		INSERT INTO symbols (
			id, name, qualified_name, kind, file, line, column, start_line, end_line,
			decl_file, decl_line, decl_end_line, signature, is_project, namespace,
			access, parent_class, base_classes, is_definition, brief, doc, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?, ?,?,?,?,?,?, ?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, qualified_name=excluded.qualified_name, kind=excluded.kind,
			file=excluded.file, line=excluded.line, column=excluded.column,
			start_line=excluded.start_line, end_line=excluded.end_line,
			decl_file=excluded.decl_file, decl_line=excluded.decl_line, decl_end_line=excluded.decl_end_line,
			signature=excluded.signature, is_project=excluded.is_project, namespace=excluded.namespace,
			access=excluded.access, parent_class=excluded.parent_class, base_classes=excluded.base_classes,
			is_definition=excluded.is_definition, brief=excluded.brief, doc=excluded.doc,
			updated_at=excluded.updated_at
	`,
		sym.ID, sym.Name, sym.QualifiedName, int(sym.Kind), sym.File, sym.Line, sym.Column, sym.StartLine, sym.EndLine,
		sym.DeclFile, sym.DeclLine, sym.DeclEndLine, sym.Signature, boolToInt(sym.IsProject), sym.Namespace,
		int(sym.Access), sym.ParentClass, strings.Join(sym.BaseClasses, "\x1f"), boolToInt(sym.IsDefinition),
		truncate(sym.Brief, types.DefaultBriefMaxChars), truncate(sym.Doc, types.DefaultDocCommentMaxChars),
		sym.CreatedAt, sym.UpdatedAt,
	)
	return err
}

// MergeDefinitionWins applies §3's definition-wins invariant to a set
// of candidate records that may share IDs (multiple forward
// declarations plus, possibly, one definition): exactly one record per
// ID survives, preferring IsDefinition = true, else one declaration.
func MergeDefinitionWins(candidates []types.Symbol) []types.Symbol {
	byID := make(map[string]types.Symbol, len(candidates))
	for _, c := range candidates {
		existing, ok := byID[c.ID]
		if !ok {
			byID[c.ID] = c
			continue
		}
		if c.IsDefinition && !existing.IsDefinition {
			byID[c.ID] = c
		}
		// else: keep existing (either it's already the definition, or
		// both are declarations and first one wins arbitrarily).
	}
	out := make([]types.Symbol, 0, len(byID))
	for _, v := range byID {
		out = append(out, v)
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func scanSymbol(row interface {
	Scan(dest ...any) error
}) (types.Symbol, error) {
	var sym types.Symbol
	var kind, access, isProject, isDefinition int
	var baseClasses string
	err := row.Scan(
		&sym.ID, &sym.Name, &sym.QualifiedName, &kind, &sym.File, &sym.Line, &sym.Column, &sym.StartLine, &sym.EndLine,
		&sym.DeclFile, &sym.DeclLine, &sym.DeclEndLine, &sym.Signature, &isProject, &sym.Namespace,
		&access, &sym.ParentClass, &baseClasses, &isDefinition, &sym.Brief, &sym.Doc, &sym.CreatedAt, &sym.UpdatedAt,
	)
	if err != nil {
		return sym, err
	}
	sym.Kind = types.SymbolKind(kind)
	sym.Access = types.Access(access)
	sym.IsProject = isProject != 0
	sym.IsDefinition = isDefinition != 0
	if baseClasses != "" {
		sym.BaseClasses = strings.Split(baseClasses, "\x1f")
	}
	return sym, nil
}

const symbolColumns = `id, name, qualified_name, kind, file, line, column, start_line, end_line,
	decl_file, decl_line, decl_end_line, signature, is_project, namespace,
	access, parent_class, base_classes, is_definition, brief, doc, created_at, updated_at`

// SymbolByID fetches a single symbol by its unique ID using the
// read-only connection pool.
func (s *Store) SymbolByID(ctx context.Context, id string) (*types.Symbol, error) {
	row := s.read.QueryRowContext(ctx, `SELECT `+symbolColumns+` FROM symbols WHERE id = ?`, id)
	sym, err := scanSymbol(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sym, nil
}

// SymbolsByName fetches all symbols with an exact Name match.
func (s *Store) SymbolsByName(ctx context.Context, name string) ([]types.Symbol, error) {
	rows, err := s.read.QueryContext(ctx, `SELECT `+symbolColumns+` FROM symbols WHERE name = ? ORDER BY file, line`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSymbolRows(rows)
}

// SymbolsByQualifiedName fetches all symbols whose qualified name
// matches exactly (used by class_info / get_class_hierarchy).
func (s *Store) SymbolsByQualifiedName(ctx context.Context, qname string) ([]types.Symbol, error) {
	rows, err := s.read.QueryContext(ctx, `SELECT `+symbolColumns+` FROM symbols WHERE qualified_name = ? ORDER BY file, line`, qname)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSymbolRows(rows)
}

// SymbolsByFile fetches all symbols defined/declared in a file.
func (s *Store) SymbolsByFile(ctx context.Context, file string) ([]types.Symbol, error) {
	rows, err := s.read.QueryContext(ctx, `SELECT `+symbolColumns+` FROM symbols WHERE file = ? ORDER BY line`, file)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSymbolRows(rows)
}

// AllSymbols fetches every symbol passing the kind/project/file
// filters, as the candidate set for regex matching applied in Go
// (sqlite has no native regex function without a custom extension).
// Used for anchored patterns (§4.10).
func (s *Store) AllSymbols(ctx context.Context, kinds []types.SymbolKind, projectOnly bool, file string) ([]types.Symbol, error) {
	query := `SELECT ` + symbolColumns + ` FROM symbols WHERE 1=1`
	var args []any
	if projectOnly {
		query += ` AND is_project = 1`
	}
	if file != "" {
		query += ` AND file = ?`
		args = append(args, file)
	}
	if len(kinds) > 0 {
		placeholders := make([]string, len(kinds))
		for i, k := range kinds {
			placeholders[i] = "?"
			args = append(args, int(k))
		}
		query += ` AND kind IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY file, line`

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSymbolRows(rows)
}

// SearchSymbolsFTS runs a full-text query against the symbols_fts
// virtual table (§4.2, §4.10 "full-text if the pattern is not anchored").
func (s *Store) SearchSymbolsFTS(ctx context.Context, ftsQuery string, limit int) ([]types.Symbol, error) {
	rows, err := s.read.QueryContext(ctx, `
		SELECT `+prefixColumns("s")+`
		FROM symbols_fts f
		JOIN symbols s ON s.rowid = f.rowid
		WHERE symbols_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, ftsQuery, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSymbolRows(rows)
}

func prefixColumns(alias string) string {
	cols := strings.Split(strings.ReplaceAll(symbolColumns, "\n", ""), ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func scanSymbolRows(rows *sql.Rows) ([]types.Symbol, error) {
	var out []types.Symbol
	for rows.Next() {
		sym, err := scanSymbol(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// DeleteSymbolsForFile removes all symbols belonging to a removed file
// (§4.9 step 5), returning the number of rows deleted.
func DeleteSymbolsForFile(ctx context.Context, tx *sql.Tx, file string) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM symbols WHERE file = ?`, file)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DistinctSymbolNames returns up to limit distinct symbol names, used
// as the candidate pool for a "did you mean" suggestion on a zero-hit
// search (§4.10).
func (s *Store) DistinctSymbolNames(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.read.QueryContext(ctx, `SELECT DISTINCT name FROM symbols LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// SymbolsWithBaseClass returns every class/struct symbol whose stored
// base_classes list has an element equal to name, ending in "::name",
// or starting with "name<" (not any other substring of a longer
// name), used by get_derived_classes (§4.10).
// The astwalk visitor already excludes dependent template-parameter
// names from base_classes (§4.6, §8 scenario F), so this is a plain
// membership check, not a false-positive filter.
func (s *Store) SymbolsWithBaseClass(ctx context.Context, name string) ([]types.Symbol, error) {
	rows, err := s.read.QueryContext(ctx, `SELECT `+symbolColumns+` FROM symbols WHERE base_classes LIKE ? ORDER BY file, line`,
		"%"+name+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	all, err := scanSymbolRows(rows)
	if err != nil {
		return nil, err
	}
	var out []types.Symbol
	for _, sym := range all {
		for _, base := range sym.BaseClasses {
			if base == name || strings.HasSuffix(base, "::"+name) || strings.HasPrefix(base, name+"<") {
				out = append(out, sym)
				break
			}
		}
	}
	return out, nil
}
