package identity

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveRejectsMissingRoot(t *testing.T) {
	_, err := Resolve(filepath.Join(t.TempDir(), "does-not-exist"), "")
	if err == nil {
		t.Fatalf("expected error for missing root")
	}
}

func TestResolveRejectsFileAsRoot(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Resolve(file, "")
	if err == nil {
		t.Fatalf("expected error when root is a file")
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	a, err := Resolve(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Resolve(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if a.Hash16 != b.Hash16 || a.CacheDir != b.CacheDir {
		t.Fatalf("expected identical identity for the same (root, config) pair")
	}
}

func TestResolveTrailingSlashInsensitive(t *testing.T) {
	dir := t.TempDir()
	a, err := Resolve(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Resolve(dir+string(filepath.Separator), "")
	if err != nil {
		t.Fatal(err)
	}
	if a.Hash16 != b.Hash16 {
		t.Fatalf("expected trailing slash to not affect identity hash")
	}
}

func TestResolveDifferentConfigDisjoint(t *testing.T) {
	dir := t.TempDir()
	cfgA := filepath.Join(dir, "a.json")
	cfgB := filepath.Join(dir, "b.json")
	for _, p := range []string{cfgA, cfgB} {
		if err := os.WriteFile(p, []byte("{}"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	a, err := Resolve(dir, cfgA)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Resolve(dir, cfgB)
	if err != nil {
		t.Fatal(err)
	}
	if a.Hash16 == b.Hash16 {
		t.Fatalf("expected different config paths to produce disjoint identities")
	}
}

func TestCacheDirIncludesBasename(t *testing.T) {
	dir := t.TempDir()
	id, err := Resolve(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	base := filepath.Base(dir)
	if len(id.CacheDir) <= len(base) {
		t.Fatalf("expected cache dir %q to be longer than basename %q", id.CacheDir, base)
	}
}
