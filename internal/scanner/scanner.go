// Package scanner implements C3: enumerating candidate C/C++ files under
// the source root, honoring exclude globs and .gitignore, and computing
// content hashes for change detection (spec §4.3).
package scanner

import (
	"bufio"
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// DefaultExtensions are the source/header extensions the spec names (§4.3).
var DefaultExtensions = []string{".c", ".cc", ".cpp", ".cxx", ".h", ".hpp", ".hxx", ".hh"}

// DefaultExcludeDirs are directory-name globs always skipped, matching
// the teacher's build-output / vendor / VCS metadata conventions.
var DefaultExcludeDirs = []string{
	"**/.git/**", "**/.svn/**", "**/.hg/**",
	"**/build/**", "**/out/**", "**/cmake-build-*/**",
	"**/node_modules/**", "**/vendor/**", "**/third_party/**",
	"**/.cache/**",
}

// Scanner enumerates files under a source root.
type Scanner struct {
	Root         string
	Extensions   map[string]bool
	ExcludeGlobs []string
	gitignore    gitignore.Matcher
}

// New creates a Scanner over root with the given extensions (defaults
// used when nil) and additional exclude glob patterns.
func New(root string, extensions, excludeGlobs []string) *Scanner {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	extSet := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		extSet[strings.ToLower(e)] = true
	}

	s := &Scanner{
		Root:         root,
		Extensions:   extSet,
		ExcludeGlobs: append(append([]string{}, DefaultExcludeDirs...), excludeGlobs...),
	}
	s.gitignore = loadGitignore(root)
	return s
}

// loadGitignore reads a top-level .gitignore (if present) into a
// go-git gitignore.Matcher. Missing or unreadable files are not an
// error — gitignore support is additive, not required.
func loadGitignore(root string) gitignore.Matcher {
	f, err := os.Open(filepath.Join(root, ".gitignore"))
	if err != nil {
		return gitignore.NewMatcher(nil)
	}
	defer f.Close()

	var patterns []gitignore.Pattern
	scan := bufio.NewScanner(f)
	for scan.Scan() {
		line := scan.Text()
		if strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}
	return gitignore.NewMatcher(patterns)
}

// Scan walks the source root and returns canonical absolute paths of
// every candidate file, sorted for deterministic output.
func (s *Scanner) Scan() ([]string, error) {
	var out []string
	err := filepath.Walk(s.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(s.Root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		relParts := strings.Split(filepath.ToSlash(rel), "/")

		if info.IsDir() {
			if s.excludedByGlob(rel+"/") || s.gitignore.Match(relParts, true) {
				return filepath.SkipDir
			}
			return nil
		}

		if !s.Extensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		if s.excludedByGlob(rel) || s.gitignore.Match(relParts, false) {
			return nil
		}

		abs, absErr := filepath.Abs(path)
		if absErr != nil {
			return absErr
		}
		out = append(out, abs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (s *Scanner) excludedByGlob(relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	for _, pattern := range s.ExcludeGlobs {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
	}
	return false
}

// HashFile computes the 128-bit MD5 content hash used for change
// detection (§3, §4.3). Not a cryptographic requirement — speed and
// collision-avoidance for incidental changes is all that's needed.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
