// Package expand runs the macro-expansion service for one package/target
// pair and captures its raw output.
package expand

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/xpand/internal/diag"
	"github.com/roach88/xpand/internal/proc"
	"github.com/roach88/xpand/internal/textenc"
)

// DefaultCommand is the expansion service, the cargo-expand subcommand.
const DefaultCommand = "cargo"

// DefaultArgs is the argument template for DefaultCommand.
var DefaultArgs = []string{"expand", "--bin", "{target}", "-p", "{package}"}

// Request identifies what to expand.
type Request struct {
	// Target is the binary target name.
	Target string

	// Package is the package that defines Target.
	Package string
}

// Source is the raw expansion payload.
type Source struct {
	// Data is the service's standard output, byte for byte.
	Data []byte

	// Encoding is the label of the encoding Data is in.
	Encoding string
}

// Expander invokes the expansion service.
type Expander struct {
	Runner proc.Runner

	// Command is the program to run. Defaults to DefaultCommand.
	Command string

	// Args is the argument template; {target} and {package} are substituted.
	// Defaults to DefaultArgs.
	Args []string

	// Dir is the working directory for the service.
	Dir string

	// Encoding is the label the payload is declared in. "auto" (or empty)
	// sniffs a byte-order mark.
	Encoding string
}

// Expand runs the expansion service for req.
//
// A non-zero exit or empty output is diag.ExpansionFailed carrying the
// service's stderr verbatim. The returned Source is never nil; on failure it
// holds an empty payload so best-effort runs can continue.
func (e *Expander) Expand(ctx context.Context, req Request) (*Source, error) {
	if req.Target == "" || req.Package == "" {
		return &Source{Encoding: textenc.UTF8}, diag.New(diag.ConfigurationError, "expansion request needs both target and package")
	}

	name := e.Command
	if name == "" {
		name = DefaultCommand
	}
	args := e.Args
	if len(args) == 0 {
		args = DefaultArgs
	}
	cmd := proc.Command{
		Name: name,
		Args: proc.Expand(args, map[string]string{"target": req.Target, "package": req.Package}),
		Dir:  e.Dir,
	}

	slog.Debug("expanding", "package", req.Package, "target", req.Target, "command", cmd.String())

	empty := &Source{Encoding: textenc.UTF8}
	res, err := e.Runner.Run(ctx, cmd)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			// Interrupted runs are not expansion failures; they abort under any policy.
			return empty, fmt.Errorf("running %s: %w", name, ctxErr)
		}
		return empty, diag.Wrap(diag.ExpansionFailed, fmt.Sprintf("running %s", name), err)
	}
	if !res.Success() {
		return empty, &diag.Error{
			Code:        diag.ExpansionFailed,
			Message:     fmt.Sprintf("%s exited with status %d", name, res.ExitCode),
			Diagnostics: string(res.Stderr),
		}
	}
	if len(res.Stdout) == 0 {
		return empty, &diag.Error{
			Code:        diag.ExpansionFailed,
			Message:     fmt.Sprintf("%s produced no output", name),
			Diagnostics: string(res.Stderr),
		}
	}

	enc := strings.ToLower(strings.TrimSpace(e.Encoding))
	if enc == "" || enc == textenc.Auto {
		enc = textenc.Detect(res.Stdout)
	}

	slog.Debug("expansion captured", "bytes", len(res.Stdout), "encoding", enc, "duration", res.Duration)
	return &Source{Data: res.Stdout, Encoding: enc}, nil
}
