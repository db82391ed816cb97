// Package compile builds annotated expansion output as a standalone binary
// with a toolchain channel that permits unstable features.
package compile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/xpand/internal/annotate"
	"github.com/roach88/xpand/internal/diag"
	"github.com/roach88/xpand/internal/proc"
	"github.com/roach88/xpand/internal/scratch"
)

// DefaultCommand is the compiler service.
const DefaultCommand = "rustc"

// DefaultArgs is the argument template for DefaultCommand. Placeholders:
// {toolchain}, {target}, {crate}, {source}, {out_dir}.
var DefaultArgs = []string{
	"+{toolchain}",
	"--edition", "2021",
	"--crate-type", "bin",
	"--crate-name", "{crate}",
	"--out-dir", "{out_dir}",
	"{source}",
}

// DefaultOutDir receives the build output. It is not cleaned by the pipeline.
const DefaultOutDir = "target/xpand"

// Result is the outcome of one compiler invocation.
type Result struct {
	// Success is true when the compiler exited with status 0.
	Success bool `json:"success"`

	// ExitCode is the compiler's exit status.
	ExitCode int `json:"exit_code"`

	// Diagnostics is the compiler's stderr, verbatim.
	Diagnostics string `json:"diagnostics,omitempty"`

	// Duration is how long the compiler ran.
	Duration time.Duration `json:"duration_ns"`
}

// Compiler invokes the compiler service.
type Compiler struct {
	Runner proc.Runner

	// Command defaults to DefaultCommand.
	Command string

	// Args defaults to DefaultArgs.
	Args []string

	// Dir is the working directory for the service.
	Dir string

	// OutDir defaults to DefaultOutDir.
	OutDir string
}

// Compile writes src into artifact and builds it as binary target with the
// given toolchain channel.
//
// The artifact is owned by the caller, who releases it; Compile only writes
// and consumes it. A non-zero exit is diag.CompileFailed with the
// diagnostics attached; the Result is returned either way when the compiler
// ran.
func (c *Compiler) Compile(ctx context.Context, artifact *scratch.Artifact, src *annotate.Source, target, toolchain string) (*Result, error) {
	if err := artifact.Write(src.Text); err != nil {
		return nil, fmt.Errorf("staging annotated source: %w", err)
	}

	name := c.Command
	if name == "" {
		name = DefaultCommand
	}
	args := c.Args
	if len(args) == 0 {
		args = DefaultArgs
	}
	outDir := c.OutDir
	if outDir == "" {
		outDir = DefaultOutDir
	}

	cmd := proc.Command{
		Name: name,
		Args: proc.Expand(args, map[string]string{
			"toolchain": toolchain,
			"target":    target,
			"crate":     CrateName(target),
			"source":    artifact.Path(),
			"out_dir":   outDir,
		}),
		Dir: c.Dir,
	}

	slog.Debug("compiling", "target", target, "toolchain", toolchain, "command", cmd.String())

	res, err := c.Runner.Run(ctx, cmd)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("running %s: %w", name, ctxErr)
		}
		return nil, diag.Wrap(diag.CompileFailed, fmt.Sprintf("running %s", name), err)
	}

	// The compiler has read the artifact by the time it exits.
	if _, err := artifact.Read(); err != nil {
		slog.Debug("artifact not readable after compile", "path", artifact.Path(), "error", err)
	}

	result := &Result{
		Success:     res.Success(),
		ExitCode:    res.ExitCode,
		Diagnostics: string(res.Stderr),
		Duration:    res.Duration,
	}
	if !result.Success {
		return result, &diag.Error{
			Code:        diag.CompileFailed,
			Message:     fmt.Sprintf("%s exited with status %d", name, res.ExitCode),
			Diagnostics: result.Diagnostics,
		}
	}
	return result, nil
}

// CrateName maps a binary target name to a valid crate name.
func CrateName(target string) string {
	return strings.ReplaceAll(target, "-", "_")
}
