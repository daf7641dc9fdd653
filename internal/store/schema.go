package store

// CurrentSchemaVersion is the schema version this build of the code
// understands. Opening a store whose stored version is greater fails
// with SchemaTooNew (§4.2, §7); opening one whose version is lower
// runs the migrations below, in order, forward-only.
const CurrentSchemaVersion = 1

// migration is one forward-only schema step. Index 0 upgrades from
// schema version 0 (fresh database) to version 1, and so on.
type migration struct {
	version int
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS schema_version (
				version INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS cache_metadata (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS file_metadata (
				path TEXT PRIMARY KEY,
				content_hash TEXT NOT NULL,
				args_hash TEXT NOT NULL DEFAULT '',
				indexed_at TIMESTAMP NOT NULL,
				symbol_count INTEGER NOT NULL DEFAULT 0,
				success INTEGER NOT NULL DEFAULT 1,
				error_message TEXT NOT NULL DEFAULT '',
				retry_count INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS symbols (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				qualified_name TEXT NOT NULL,
				kind INTEGER NOT NULL,
				file TEXT NOT NULL,
				line INTEGER NOT NULL,
				column INTEGER NOT NULL,
				start_line INTEGER NOT NULL,
				end_line INTEGER NOT NULL,
				decl_file TEXT NOT NULL DEFAULT '',
				decl_line INTEGER NOT NULL DEFAULT 0,
				decl_end_line INTEGER NOT NULL DEFAULT 0,
				signature TEXT NOT NULL DEFAULT '',
				is_project INTEGER NOT NULL DEFAULT 0,
				namespace TEXT NOT NULL DEFAULT '',
				access INTEGER NOT NULL DEFAULT 0,
				parent_class TEXT NOT NULL DEFAULT '',
				base_classes TEXT NOT NULL DEFAULT '',
				is_definition INTEGER NOT NULL DEFAULT 0,
				brief TEXT NOT NULL DEFAULT '',
				doc TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file)`,
			`CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name)`,
			`CREATE INDEX IF NOT EXISTS idx_symbols_parent_class ON symbols(parent_class)`,
			`CREATE VIRTUAL TABLE IF NOT EXISTS symbols_fts USING fts5(
				id UNINDEXED, name, qualified_name, content='symbols', content_rowid='rowid'
			)`,
			`CREATE TRIGGER IF NOT EXISTS symbols_ai AFTER INSERT ON symbols BEGIN
				INSERT INTO symbols_fts(rowid, id, name, qualified_name) VALUES (new.rowid, new.id, new.name, new.qualified_name);
			END`,
			`CREATE TRIGGER IF NOT EXISTS symbols_ad AFTER DELETE ON symbols BEGIN
				INSERT INTO symbols_fts(symbols_fts, rowid, id, name, qualified_name) VALUES('delete', old.rowid, old.id, old.name, old.qualified_name);
			END`,
			`CREATE TRIGGER IF NOT EXISTS symbols_au AFTER UPDATE ON symbols BEGIN
				INSERT INTO symbols_fts(symbols_fts, rowid, id, name, qualified_name) VALUES('delete', old.rowid, old.id, old.name, old.qualified_name);
				INSERT INTO symbols_fts(rowid, id, name, qualified_name) VALUES (new.rowid, new.id, new.name, new.qualified_name);
			END`,
			`CREATE TABLE IF NOT EXISTS call_sites (
				caller_id TEXT NOT NULL,
				callee_id TEXT NOT NULL,
				file TEXT NOT NULL,
				line INTEGER NOT NULL,
				column INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_call_sites_file ON call_sites(file)`,
			`CREATE INDEX IF NOT EXISTS idx_call_sites_caller ON call_sites(caller_id)`,
			`CREATE INDEX IF NOT EXISTS idx_call_sites_callee ON call_sites(callee_id)`,
			`CREATE TABLE IF NOT EXISTS header_tracker (
				path TEXT PRIMARY KEY,
				processed_by TEXT NOT NULL,
				file_hash TEXT NOT NULL,
				compile_commands_hash TEXT NOT NULL,
				processed_at TIMESTAMP NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS dependency_edges (
				source_file TEXT NOT NULL,
				included_file TEXT NOT NULL,
				is_direct INTEGER NOT NULL,
				include_depth INTEGER NOT NULL,
				detected_at TIMESTAMP NOT NULL,
				PRIMARY KEY (source_file, included_file)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_dep_edges_included ON dependency_edges(included_file)`,
			`CREATE TABLE IF NOT EXISTS parse_errors (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				file TEXT NOT NULL,
				error_kind TEXT NOT NULL,
				message TEXT NOT NULL,
				stacktrace TEXT NOT NULL DEFAULT '',
				file_hash TEXT NOT NULL DEFAULT '',
				args_hash TEXT NOT NULL DEFAULT '',
				retry_count INTEGER NOT NULL DEFAULT 0,
				timestamp TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_parse_errors_file ON parse_errors(file)`,
		},
	},
}
