// Package config loads the settings of a debug run.
//
// A config file is optional. When present it may be YAML, JSON or CUE; its
// structure is checked against an embedded CUE schema and then decoded
// strictly over the built-in defaults, so unknown keys are rejected.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	"github.com/roach88/xpand/internal/annotate"
	"github.com/roach88/xpand/internal/compile"
	"github.com/roach88/xpand/internal/diag"
	"github.com/roach88/xpand/internal/expand"
	"github.com/roach88/xpand/internal/textenc"
)

//go:embed schema.cue
var schemaSrc string

// DefaultPath is looked up when no config file is named explicitly.
const DefaultPath = "xpand.yaml"

// DefaultFeatures are the unstable features expanded derive and format
// macros commonly reference.
var DefaultFeatures = []string{
	"fmt_helpers_for_derive",
	"fmt_internals",
	"print_internals",
	"panic_internals",
	"core_intrinsics",
	"derive_clone_copy",
	"derive_eq",
	"structural_match",
	"coverage_attribute",
	"rustc_attrs",
	"stmt_expr_attributes",
}

// DefaultLints are allowed so only errors relevant to the expansion remain.
var DefaultLints = []string{
	"unused",
	"internal_features",
	"non_camel_case_types",
	"non_snake_case",
	"non_upper_case_globals",
	"clippy::all",
}

// Command is an external service invocation template.
type Command struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// History configures the run ledger.
type History struct {
	// Path is the SQLite database file. Empty disables recording.
	Path string `yaml:"path"`
}

// Config holds every setting of a debug run.
type Config struct {
	Package   string `yaml:"package"`
	Target    string `yaml:"target"`
	Toolchain string `yaml:"toolchain"`

	// Encoding is the label of the expansion output encoding, or "auto".
	Encoding string `yaml:"encoding"`

	// Dir is the working directory of the external services.
	Dir string `yaml:"dir"`

	ScratchDir string `yaml:"scratch_dir"`
	OutDir     string `yaml:"out_dir"`

	// StaleAfter and Timeout are Go duration strings.
	StaleAfter string `yaml:"stale_after"`
	Timeout    string `yaml:"timeout"`

	Features []string `yaml:"features"`
	Lints    []string `yaml:"lints"`

	Expander Command `yaml:"expander"`
	Compiler Command `yaml:"compiler"`
	History  History `yaml:"history"`

	staleAfter time.Duration
	timeout    time.Duration
}

// Default returns the built-in configuration, which targets the
// test-structured-sql binary on the nightly channel.
func Default() *Config {
	return &Config{
		Package:    "test-structured-sql",
		Target:     "test-structured-sql",
		Toolchain:  "nightly",
		Encoding:   textenc.Auto,
		ScratchDir: ".",
		OutDir:     compile.DefaultOutDir,
		StaleAfter: "1h",
		Timeout:    "0s",
		Features:   append([]string(nil), DefaultFeatures...),
		Lints:      append([]string(nil), DefaultLints...),
		Expander:   Command{Command: expand.DefaultCommand, Args: append([]string(nil), expand.DefaultArgs...)},
		Compiler:   Command{Command: compile.DefaultCommand, Args: append([]string(nil), compile.DefaultArgs...)},
	}
}

// Load reads the config file at path over the defaults and validates the
// result. A missing file is an error only when required is set.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return validated(cfg)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return validated(cfg)
	}

	normalized, err := checkSchema(path, data)
	if err != nil {
		return nil, err
	}

	decoder := yaml.NewDecoder(bytes.NewReader(normalized))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, diag.Wrap(diag.ConfigurationError, fmt.Sprintf("decoding %s", path), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func validated(cfg *Config) (*Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// checkSchema validates data against the embedded schema and returns it as
// JSON, which the YAML decoder reads for every source format.
func checkSchema(path string, data []byte) ([]byte, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSrc, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compiling config schema: %w", err)
	}

	var v cue.Value
	if filepath.Ext(path) == ".cue" {
		v = ctx.CompileBytes(data, cue.Filename(path))
	} else {
		file, err := cueyaml.Extract(path, data)
		if err != nil {
			return nil, diag.Wrap(diag.ConfigurationError, fmt.Sprintf("parsing %s", path), err)
		}
		v = ctx.BuildFile(file)
	}
	if err := v.Err(); err != nil {
		return nil, configError(path, err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, configError(path, err)
	}

	out, err := unified.MarshalJSON()
	if err != nil {
		return nil, configError(path, err)
	}
	return out, nil
}

func configError(path string, err error) error {
	return &diag.Error{
		Code:        diag.ConfigurationError,
		Message:     fmt.Sprintf("invalid config %s", path),
		Diagnostics: cueerrors.Details(err, nil),
		Err:         err,
	}
}

// Validate checks every field and caches parsed durations. It is called by
// Load and must be called again after fields are overridden.
func (c *Config) Validate() error {
	for _, f := range []struct{ key, value string }{
		{"package", c.Package},
		{"target", c.Target},
		{"toolchain", c.Toolchain},
		{"expander.command", c.Expander.Command},
		{"compiler.command", c.Compiler.Command},
	} {
		if f.value == "" {
			return diag.New(diag.ConfigurationError, "%s is required", f.key)
		}
	}

	enc, err := textenc.Canonical(c.Encoding)
	if err != nil {
		return err
	}
	c.Encoding = enc

	if c.staleAfter, err = parseDuration("stale_after", c.StaleAfter); err != nil {
		return err
	}
	if c.timeout, err = parseDuration("timeout", c.Timeout); err != nil {
		return err
	}

	if err := annotate.FeatureSet(c.Features).Validate(); err != nil {
		return err
	}
	return annotate.LintSet(c.Lints).Validate()
}

func parseDuration(key, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, diag.Wrap(diag.ConfigurationError, fmt.Sprintf("%s: invalid duration %q", key, s), err)
	}
	if d < 0 {
		return 0, diag.New(diag.ConfigurationError, "%s: negative duration %q", key, s)
	}
	return d, nil
}

// StaleAfterDuration returns the parsed stale_after value.
func (c *Config) StaleAfterDuration() time.Duration { return c.staleAfter }

// TimeoutDuration returns the parsed timeout value.
func (c *Config) TimeoutDuration() time.Duration { return c.timeout }
