//go:build !clang

package main

import (
	"fmt"
	"os"
)

// Without the "clang" build tag this binary carries no libclang cgo
// dependency and exits clearly rather than silently producing empty
// results, matching reqtraq's own optional clang-tagged parser split.
func main() {
	fmt.Fprintln(os.Stderr, "cindex-parse-worker: built without the \"clang\" tag; rebuild with -tags clang")
	os.Exit(1)
}
