// Package types holds the data model shared across every indexer
// component: symbols, call sites, file metadata, header-tracker rows,
// dependency edges and parse-error records (spec §3).
package types

import "time"

// Common system-wide constants.
const (
	// DefaultMaxFileSize is a per-file size limit of 10 MiB. No
	// component applies it: the scanner returns matching files of any
	// size.
	DefaultMaxFileSize = 10 * 1024 * 1024

	// DefaultReadCacheMB is a read-cache size of 64 MB. The store does
	// not pass it to the storage engine (its connections set no
	// cache_size pragma), so sqlite's own default cache size applies.
	DefaultReadCacheMB = 64

	// DefaultDocCommentMaxChars truncates a full documentation comment
	// (§4.6).
	DefaultDocCommentMaxChars = 4000
	// DefaultBriefMaxChars truncates the brief comment (§4.6).
	DefaultBriefMaxChars = 200
)

// SymbolKind is the closed tagged enumeration of symbol kinds the
// parser can emit (§3, §9: "avoid string-compare dispatch").
type SymbolKind uint8

const (
	KindUnknown SymbolKind = iota
	KindClass
	KindStruct
	KindUnion
	KindEnum
	KindFunction
	KindMethod
	KindTypedef
	KindAlias
	KindNamespace
	KindVariable
	KindField
)

func (k SymbolKind) String() string {
	switch k {
	case KindClass:
		return "class"
	case KindStruct:
		return "struct"
	case KindUnion:
		return "union"
	case KindEnum:
		return "enum"
	case KindFunction:
		return "function"
	case KindMethod:
		return "method"
	case KindTypedef:
		return "typedef"
	case KindAlias:
		return "alias"
	case KindNamespace:
		return "namespace"
	case KindVariable:
		return "variable"
	case KindField:
		return "field"
	default:
		return "unknown"
	}
}

// Access is the closed enumeration of C++ access specifiers.
type Access uint8

const (
	AccessPublic Access = iota
	AccessProtected
	AccessPrivate
)

func (a Access) String() string {
	switch a {
	case AccessProtected:
		return "protected"
	case AccessPrivate:
		return "private"
	default:
		return "public"
	}
}

// Symbol is one row of the symbol table (§3). Primary key: ID.
type Symbol struct {
	ID            string // unique symbol id (USR); stable across runs
	Name          string
	QualifiedName string
	Kind          SymbolKind
	File          string
	Line          int
	Column        int
	StartLine     int
	EndLine       int
	DeclFile      string // optional separate declaration location
	DeclLine      int
	DeclEndLine   int
	Signature     string
	IsProject     bool // origin inside source root
	Namespace     string
	Access        Access
	ParentClass   string
	BaseClasses   []string // ordered
	IsDefinition  bool
	Brief         string
	Doc           string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasDeclLocation reports whether a separate declaration location was
// recorded (distinct from the definition-wins symbol row's own File/Line).
func (s *Symbol) HasDeclLocation() bool {
	return s.DeclFile != ""
}

// CallSite is one row of the call_sites table (§3). No uniqueness
// constraint on the tuple; purely additive within a file's parse.
type CallSite struct {
	CallerID string
	CalleeID string
	File     string
	Line     int
	Column   int // 0 if unknown
}

// FileMetadata is one row of file_metadata (§3). Key: Path.
type FileMetadata struct {
	Path         string
	ContentHash  string // MD5, 128-bit, hex
	ArgsHash     string // compile-args hash, or "" if none
	IndexedAt    time.Time
	SymbolCount  int
	Success      bool
	ErrorMessage string
	RetryCount   int
}

// HeaderTrackerEntry is one row of the header tracker (§3, §4.5). Key:
// Path. Invariant: at most one row per header.
type HeaderTrackerEntry struct {
	Path                string
	ProcessedBy         string // owning translation unit (source file path)
	FileHash            string
	CompileCommandsHash string
	ProcessedAt         time.Time
}

// DependencyEdge is one row of the dependency graph (§3, §4.7).
// Uniqueness on (SourceFile, IncludedFile).
type DependencyEdge struct {
	SourceFile   string
	IncludedFile string
	IsDirect     bool
	IncludeDepth int
	DetectedAt   time.Time
}

// ParseErrorRecord is one append-only row of the parse-errors log (§3, §7).
type ParseErrorRecord struct {
	ID         int64
	File       string
	ErrorKind  string
	Message    string
	Stacktrace string
	FileHash   string
	ArgsHash   string
	RetryCount int
	Timestamp  time.Time
}

// ChangeSet is the structured diff the change scanner (C8) hands to the
// incremental coordinator (C9). CommandsChanged lists known, unmodified
// files whose compile_commands entry was added, changed or removed
// since the snapshot taken at the last refresh; it is only populated
// when CompileCommandsChanged is true.
type ChangeSet struct {
	CompileCommandsChanged bool
	Added                  []string
	Modified               []string
	ModifiedHeaders        []string
	Removed                []string
	CommandsChanged        []string
}

// IsEmpty reports whether the changeset requires no work at all — the
// no-op-refresh case from spec §9's open question: a cache whose stored
// hashes still match the filesystem yields an empty changeset.
func (c *ChangeSet) IsEmpty() bool {
	return !c.CompileCommandsChanged &&
		len(c.Added) == 0 && len(c.Modified) == 0 &&
		len(c.ModifiedHeaders) == 0 && len(c.Removed) == 0 &&
		len(c.CommandsChanged) == 0
}

// ParseTask is the unit of work dispatched to a parse worker process (C6).
type ParseTask struct {
	File        string
	Args        []string
	ArgsHash    string
	ContentHash string
}

// ParseResult is what a parse worker returns for one ParseTask.
type ParseResult struct {
	File      string
	Symbols   []Symbol
	CallSites []CallSite
	Includes  []IncludeEdge
	Headers   []string // headers seen, for header-tracker claim attempts
	Errors    []ParseErrorRecord
	Success   bool
}

// IncludeEdge is a single include relationship reported by one parse,
// prior to being written to the dependency graph.
type IncludeEdge struct {
	IncludedFile string
	IsDirect     bool
	Depth        int
}

// CacheMetadata mirrors the cache_metadata key/value table (§3).
type CacheMetadata struct {
	SchemaVersion           int
	IncludeDependencies     bool
	IndexedFileCount        int
	LastVacuum              time.Time
	LastCompileCommandsHash string
}
