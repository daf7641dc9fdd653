package config

import (
	"path/filepath"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// applyKDL parses a ".cindex.kdl" document and overlays any values it
// sets onto cfg. Relative paths (source-root, compile-commands,
// cache-root) are resolved against configDir, the directory the
// config file lives in.
//
// Recognized top-level nodes:
//
//	source-root "relative/or/absolute/path"
//	compile-commands "path/to/compile_commands.json"
//	worker-pool-size 4
//	vacuum-threshold 10000
//	cache-root "/override/cache/root"
//	include { "*.cpp" "*.h" }
//	exclude { "vendor/**" "**/*.gen.cpp" }
func applyKDL(cfg *Config, data []byte, configDir string) error {
	doc, err := kdl.Parse(strings.NewReader(string(data)))
	if err != nil {
		return err
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "source-root":
			if s, ok := firstStringArg(n); ok {
				cfg.SourceRoot = resolvePath(configDir, s)
			}
		case "compile-commands":
			if s, ok := firstStringArg(n); ok {
				cfg.CompileCommandsPath = resolvePath(configDir, s)
			}
		case "worker-pool-size":
			if i, ok := firstIntArg(n); ok {
				cfg.WorkerPoolSize = i
			}
		case "vacuum-threshold":
			if i, ok := firstIntArg(n); ok {
				cfg.VacuumThreshold = int64(i)
			}
		case "cache-root":
			if s, ok := firstStringArg(n); ok {
				cfg.CacheRootOverride = resolvePath(configDir, s)
			}
		case "include":
			cfg.Include = append(cfg.Include, collectStringArgs(n)...)
		case "exclude":
			cfg.Exclude = append(cfg.Exclude, collectStringArgs(n)...)
		}
	}
	return nil
}

func resolvePath(dir, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Clean(filepath.Join(dir, p))
}

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	s, ok := n.Arguments[0].Value.(string)
	return s, ok
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// collectStringArgs reads a node's string list either from inline
// arguments (`include "*.cpp" "*.h"`) or from block-form children
// (`include { "*.cpp" }`), matching the teacher's two accepted forms.
func collectStringArgs(n *document.Node) []string {
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 && len(n.Children) > 0 {
		for _, child := range n.Children {
			if s, ok := firstStringArg(child); ok {
				out = append(out, s)
			} else if child.Name != nil {
				if s, ok := child.Name.Value.(string); ok {
					out = append(out, s)
				}
			}
		}
	}
	return out
}
