package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xpand/internal/diag"
	"github.com/roach88/xpand/internal/textenc"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "test-structured-sql", cfg.Target)
	assert.Equal(t, "nightly", cfg.Toolchain)
	assert.Equal(t, time.Hour, cfg.StaleAfterDuration())
	assert.Zero(t, cfg.TimeoutDuration())
}

func TestLoad_MissingOptionalFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), DefaultPath), false)
	require.NoError(t, err)
	assert.Equal(t, Default().Features, cfg.Features)
}

func TestLoad_MissingRequiredFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "custom.yaml"), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_UTF16KeepsEndiannessOpen(t *testing.T) {
	path := writeFile(t, "xpand.yaml", "encoding: utf-16\n")

	cfg, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, textenc.UTF16, cfg.Encoding)

	bigEndian := []byte{0xFE, 0xFF, 0x00, 'f', 0x00, 'n'}
	n, err := textenc.Normalize(bigEndian, cfg.Encoding)
	require.NoError(t, err)
	assert.Equal(t, "fn", string(n.Text))
	assert.Equal(t, textenc.UTF16BE, n.Encoding)
	assert.True(t, n.BOM)

	littleEndian := []byte{0xFF, 0xFE, 'f', 0x00, 'n', 0x00}
	n, err = textenc.Normalize(littleEndian, cfg.Encoding)
	require.NoError(t, err)
	assert.Equal(t, "fn", string(n.Text))
	assert.Equal(t, textenc.UTF16LE, n.Encoding)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, "xpand.yaml", `
package: silo
target: movies
encoding: UTF-16LE
timeout: 2m
features: [feat_a, feat_b]
lints: [lint_x]
compiler:
  args: ["+{toolchain}", "{source}"]
history:
  path: runs.db
`)

	cfg, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, "silo", cfg.Package)
	assert.Equal(t, "movies", cfg.Target)
	assert.Equal(t, "nightly", cfg.Toolchain, "unset fields keep defaults")
	assert.Equal(t, "utf-16le", cfg.Encoding)
	assert.Equal(t, 2*time.Minute, cfg.TimeoutDuration())
	assert.Equal(t, []string{"feat_a", "feat_b"}, cfg.Features)
	assert.Equal(t, []string{"lint_x"}, cfg.Lints)
	assert.Equal(t, "rustc", cfg.Compiler.Command)
	assert.Equal(t, []string{"+{toolchain}", "{source}"}, cfg.Compiler.Args)
	assert.Equal(t, "runs.db", cfg.History.Path)
}

func TestLoad_CUE(t *testing.T) {
	path := writeFile(t, "xpand.cue", `
package: "silo"
target:  "movies"
features: ["feat_a"]
expander: command: "cargo-expand"
`)

	cfg, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, "movies", cfg.Target)
	assert.Equal(t, []string{"feat_a"}, cfg.Features)
	assert.Equal(t, "cargo-expand", cfg.Expander.Command)
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "xpand.json", `{"target": "movies", "lints": ["unused"]}`)

	cfg, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, "movies", cfg.Target)
	assert.Equal(t, []string{"unused"}, cfg.Lints)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, "xpand.yaml", ""), true)
	require.NoError(t, err)
	assert.Equal(t, Default().Target, cfg.Target)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{"unknown field", "xpand.yaml", "targt: movies\n", "invalid config"},
		{"wrong type", "xpand.yaml", "features: feat_a\n", "invalid config"},
		{"empty target", "xpand.yaml", "target: \"\"\n", "invalid config"},
		{"duplicate feature", "xpand.yaml", "features: [feat_a, feat_a]\n", `duplicate feature "feat_a"`},
		{"malformed lint", "xpand.yaml", "lints: [\"not a lint\"]\n", "malformed lint"},
		{"bad duration", "xpand.yaml", "timeout: soon\n", "invalid duration"},
		{"negative duration", "xpand.yaml", "stale_after: -1h\n", "negative duration"},
		{"unknown encoding", "xpand.yaml", "encoding: klingon\n", "unknown source encoding"},
		{"bad cue", "xpand.cue", "target: \n", "invalid config"},
		{"bad yaml", "xpand.yaml", "target: [unterminated\n", "parsing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content), true)
			require.Error(t, err)
			assert.True(t, diag.Is(err, diag.ConfigurationError), "got %v", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_RequiredFields(t *testing.T) {
	cfg := Default()
	cfg.Compiler.Command = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compiler.command is required")
}

func TestDefault_ReturnsCopies(t *testing.T) {
	a := Default()
	a.Features[0] = "changed"
	assert.NotEqual(t, "changed", Default().Features[0])
	assert.NotEqual(t, "changed", DefaultFeatures[0])
}
