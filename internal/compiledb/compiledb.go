// Package compiledb implements C4: loading a compile_commands.json
// compilation database, diffing per-file argument vectors, and hashing
// argument vectors for storage (spec §4.4).
package compiledb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Entry is one row of a standard compile_commands.json database.
type Entry struct {
	Directory string   `json:"directory"`
	File      string   `json:"file"`
	Arguments []string `json:"arguments,omitempty"`
	Command   string   `json:"command,omitempty"`
}

// Store holds a loaded compilation database, keyed by canonical
// absolute file path.
type Store struct {
	path   string
	byFile map[string][]string
}

// Load reads a compile_commands.json from path. A missing file is not
// an error (§4.4: "non-fatal; files fall back to a default-args
// parse") — Store.ArgsFor simply returns ⊥ for every file.
func Load(path string) (*Store, error) {
	s := &Store{path: path, byFile: make(map[string][]string)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for _, e := range entries {
		abs := e.File
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(e.Directory, e.File)
		}
		abs = filepath.Clean(abs)

		args := e.Arguments
		if len(args) == 0 && e.Command != "" {
			args = strings.Fields(e.Command)
		}
		s.byFile[abs] = args
	}
	return s, nil
}

// ArgsFor returns the argument vector for file, or (nil, false) if the
// database has no entry for it.
func (s *Store) ArgsFor(file string) ([]string, bool) {
	abs, err := filepath.Abs(file)
	if err == nil {
		file = filepath.Clean(abs)
	}
	args, ok := s.byFile[file]
	return args, ok
}

// Diff compares old and new argument maps, both keyed by canonical
// file path, and reports added, removed and changed files. "changed"
// compares argument vectors element-wise; order is significant (§4.4).
type Diff struct {
	Added   []string
	Removed []string
	Changed []string
}

func DiffArgs(old, new *Store) Diff {
	var d Diff
	for file, newArgs := range new.byFile {
		oldArgs, existed := old.byFile[file]
		if !existed {
			d.Added = append(d.Added, file)
			continue
		}
		if !equalArgs(oldArgs, newArgs) {
			d.Changed = append(d.Changed, file)
		}
	}
	for file := range old.byFile {
		if _, stillPresent := new.byFile[file]; !stillPresent {
			d.Removed = append(d.Removed, file)
		}
	}
	return d
}

func equalArgs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Hash returns a stable hex digest of an argument vector, order
// sensitive, for per-file args-hash storage (§4.4).
func Hash(args []string) string {
	h := xxhash.New()
	for _, a := range args {
		h.Write([]byte(a))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// GlobalHash hashes the whole loaded database's content, used to
// detect a compile_commands.json change as a unit (§4.8, §4.9).
func (s *Store) GlobalHash() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	h := xxhash.Sum64(data)
	return fmt.Sprintf("%016x", h), nil
}
