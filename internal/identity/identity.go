// Package identity implements C1: canonicalizing (source_root, config_path)
// into a stable identity hash and cache directory name (spec §4.1).
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	cerrors "github.com/standardbeagle/cindex/internal/errors"
)

// Identity is a resolved, canonical project identity.
type Identity struct {
	SourceRoot string // canonical absolute path
	ConfigPath string // canonical absolute path, or "" if none
	Hash16     string // first 16 hex chars of SHA-256(root|config)
	CacheDir   string // basename(root)_hash16
}

// Resolve canonicalizes root (and the optional configPath) and computes
// the identity. root must exist and be a directory.
func Resolve(root, configPath string) (*Identity, error) {
	absRoot, err := canonicalize(root)
	if err != nil {
		return nil, cerrors.New(cerrors.InvalidProjectPath, "resolve", err).WithFile(root)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, cerrors.New(cerrors.InvalidProjectPath, "resolve", err).WithFile(absRoot)
	}
	if !info.IsDir() {
		return nil, cerrors.New(cerrors.InvalidProjectPath, "resolve",
			fmt.Errorf("not a directory: %s", absRoot)).WithFile(absRoot)
	}

	absConfig := ""
	if configPath != "" {
		absConfig, err = canonicalize(configPath)
		if err != nil {
			return nil, cerrors.New(cerrors.InvalidProjectPath, "resolve", err).WithFile(configPath)
		}
	}

	h := hashOf(absRoot, absConfig)
	return &Identity{
		SourceRoot: absRoot,
		ConfigPath: absConfig,
		Hash16:     h,
		CacheDir:   fmt.Sprintf("%s_%s", filepath.Base(absRoot), h),
	}, nil
}

// canonicalize resolves an absolute path, normalizing separators,
// resolving symlinks and stripping trailing slashes, so that
// identity(root, cfg) == identity(root, cfg) for any canonicalizable
// variant of the same paths (spec §8 round-trip law).
func canonicalize(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return abs, nil
}

// hashOf returns the first 16 hex chars of SHA-256(root|config).
func hashOf(root, config string) string {
	sum := sha256.Sum256([]byte(root + "|" + config))
	return hex.EncodeToString(sum[:])[:16]
}

// CacheRoot returns the user-cache directory under which all project
// cache directories live, honoring $XDG_CACHE_HOME when set.
func CacheRoot() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "cindex"), nil
}

// Dir returns the full path to this identity's cache directory.
func (id *Identity) Dir() (string, error) {
	root, err := CacheRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, id.CacheDir), nil
}
