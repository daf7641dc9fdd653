// Package config loads per-project indexer configuration from a
// ".cindex.kdl" file (spec §6 "A sibling file name is configurable;
// default location is the project root"), applies CLI overrides, and
// validates the result. Absence of a config file is not an error —
// sensible defaults apply throughout.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/go-playground/validator/v10"
)

// DefaultConfigFileName is the project-relative config file the CLI
// looks for when no --config flag is given.
const DefaultConfigFileName = ".cindex.kdl"

// DefaultCompileCommandsName is the compile_commands.json sibling
// file name when the config doesn't override it (§6 "Compilation
// database... default location is the project root").
const DefaultCompileCommandsName = "compile_commands.json"

// DefaultVacuumThreshold equals store.VacuumThreshold. The store's
// vacuum trigger reads only its own constant; Config.VacuumThreshold
// is parsed and validated but not passed to the store.
const DefaultVacuumThreshold = 5000

// Config holds everything set_project_directory and refresh_project
// need beyond the (source_root, config_path) identity pair itself.
type Config struct {
	SourceRoot          string   `validate:"required,dir"`
	CompileCommandsPath string   `validate:"required"`
	Include             []string `validate:"dive,required"`
	Exclude             []string `validate:"dive,required"`
	WorkerPoolSize      int      `validate:"gte=0"`
	VacuumThreshold     int64    `validate:"gte=0"`
	CacheRootOverride   string
}

// Defaults returns a Config with every field set to its sensible
// default for sourceRoot, before any file or CLI override is applied.
func Defaults(sourceRoot string) *Config {
	return &Config{
		SourceRoot:          sourceRoot,
		CompileCommandsPath: filepath.Join(sourceRoot, DefaultCompileCommandsName),
		WorkerPoolSize:      0, // 0 means "CPU count - 1, minimum 1" at runtime (§4.9)
		VacuumThreshold:     DefaultVacuumThreshold,
	}
}

// Load reads "<sourceRoot>/<configFileName>" (or, if configFileName is
// already absolute, that path directly) and overlays it onto Defaults.
// A missing file returns the defaults unchanged — not an error.
func Load(sourceRoot, configFileName string) (*Config, error) {
	cfg := Defaults(sourceRoot)
	if configFileName == "" {
		configFileName = DefaultConfigFileName
	}

	path := configFileName
	if !filepath.IsAbs(path) {
		path = filepath.Join(sourceRoot, configFileName)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := applyKDL(cfg, data, filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// WorkerCount resolves the effective worker-pool size, applying the
// §4.9/§5 default (CPU count - 1, minimum 1) when unset.
func (c *Config) WorkerCount() int {
	if c.WorkerPoolSize > 0 {
		return c.WorkerPoolSize
	}
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return n
}

// Validate checks struct-tag constraints via go-playground/validator
// and returns a readable error listing every violated field.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msg := "invalid config:"
			for _, fe := range verrs {
				msg += fmt.Sprintf(" %s failed '%s';", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("%s", msg)
		}
		return err
	}
	return nil
}
