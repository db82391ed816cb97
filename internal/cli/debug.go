package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/xpand/internal/annotate"
	"github.com/roach88/xpand/internal/compile"
	"github.com/roach88/xpand/internal/config"
	"github.com/roach88/xpand/internal/expand"
	"github.com/roach88/xpand/internal/history"
	"github.com/roach88/xpand/internal/pipeline"
	"github.com/roach88/xpand/internal/proc"
	"github.com/roach88/xpand/internal/scratch"
)

// DebugOptions holds flags for the debug and debug-strict commands.
type DebugOptions struct {
	*RootOptions
	Policy pipeline.Policy

	Package    string
	Target     string
	Toolchain  string
	ScratchDir string
	Timeout    string
	Database   string

	// Runner allows overriding the subprocess runner (for testing).
	// If nil, defaults to proc.ExecRunner.
	Runner proc.Runner

	// IDs allows overriding the run id generator (for testing).
	// If nil, defaults to scratch.UUIDv7Generator.
	IDs scratch.IDGenerator

	// Now allows overriding the clock (for testing).
	Now func() time.Time
}

// NewDebugCommand creates the debug command for the given policy:
// "debug" for best-effort, "debug-strict" for strict.
func NewDebugCommand(rootOpts *RootOptions, policy pipeline.Policy) *cobra.Command {
	return newDebugCommand(&DebugOptions{RootOptions: rootOpts, Policy: policy})
}

func newDebugCommand(opts *DebugOptions) *cobra.Command {
	use, short := "debug", "Expand, annotate and recompile, continuing past failures"
	if opts.Policy == pipeline.Strict {
		use, short = "debug-strict", "Expand, annotate and recompile, stopping at the first failure"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long: short + `.

The expansion service prints the macro-expanded source of one binary
target. xpand normalizes it to UTF-8, prepends the configured feature and
lint attributes, and compiles the result with the configured toolchain.
Scratch files are unique per run and removed before the command exits.

Example:
  xpand ` + use + ` --package test-structured-sql --target test-structured-sql
  xpand ` + use + ` -c xpand.yaml --db ./xpand.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDebug(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Package, "package", "", "package that defines the target (overrides config)")
	cmd.Flags().StringVar(&opts.Target, "target", "", "binary target to expand (overrides config)")
	cmd.Flags().StringVar(&opts.Toolchain, "toolchain", "", "toolchain channel to compile with (overrides config)")
	cmd.Flags().StringVar(&opts.ScratchDir, "scratch-dir", "", "directory for per-run scratch files (overrides config)")
	cmd.Flags().StringVar(&opts.Timeout, "timeout", "", "bound on the whole run, e.g. 2m (overrides config)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record the run in this SQLite history ledger")

	return cmd
}

func runDebug(opts *DebugOptions, cmd *cobra.Command) error {
	setupLogging(opts.RootOptions, cmd.ErrOrStderr())

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return outputCommandError(formatter, err)
	}
	if err := applyOverrides(cfg, opts); err != nil {
		return outputCommandError(formatter, err)
	}
	formatter.VerboseLog("package=%s target=%s toolchain=%s scratch=%s",
		cfg.Package, cfg.Target, cfg.Toolchain, cfg.ScratchDir)

	p := newPipeline(cfg, opts)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, runErr := p.Run(ctx)

	recordErr := recordRun(ctx, opts.Database, cfg, report)

	if err := outputReport(formatter, report, runErr); err != nil {
		return err
	}
	if runErr != nil {
		return reportedExitError(exitCodeFor(runErr), fmt.Sprintf("%s run aborted", opts.Policy), runErr)
	}
	if recordErr != nil {
		return reportedExitError(ExitCommandError, "failed to record run", recordErr)
	}
	return nil
}

// applyOverrides copies non-empty flag values over the config and
// revalidates it.
func applyOverrides(cfg *config.Config, opts *DebugOptions) error {
	for _, o := range []struct {
		flag string
		dst  *string
	}{
		{opts.Package, &cfg.Package},
		{opts.Target, &cfg.Target},
		{opts.Toolchain, &cfg.Toolchain},
		{opts.ScratchDir, &cfg.ScratchDir},
		{opts.Timeout, &cfg.Timeout},
	} {
		if o.flag != "" {
			*o.dst = o.flag
		}
	}
	return cfg.Validate()
}

func newPipeline(cfg *config.Config, opts *DebugOptions) *pipeline.Pipeline {
	runner := opts.Runner
	if runner == nil {
		runner = proc.ExecRunner{}
	}

	expander := &expand.Expander{
		Runner:   runner,
		Command:  cfg.Expander.Command,
		Args:     cfg.Expander.Args,
		Dir:      cfg.Dir,
		Encoding: cfg.Encoding,
	}
	compiler := &compile.Compiler{
		Runner:  runner,
		Command: cfg.Compiler.Command,
		Args:    cfg.Compiler.Args,
		Dir:     cfg.Dir,
		OutDir:  cfg.OutDir,
	}

	p := pipeline.New(pipeline.Options{
		Request:     expand.Request{Target: cfg.Target, Package: cfg.Package},
		Toolchain:   cfg.Toolchain,
		Features:    annotate.FeatureSet(cfg.Features),
		Lints:       annotate.LintSet(cfg.Lints),
		Policy:      opts.Policy,
		ScratchDir:  cfg.ScratchDir,
		LegacyNames: pipeline.LegacyArtifacts,
		StaleAfter:  cfg.StaleAfterDuration(),
		Timeout:     cfg.TimeoutDuration(),
	}, expander, compiler)

	if opts.IDs != nil {
		p.IDs = opts.IDs
	}
	if opts.Now != nil {
		p.Now = opts.Now
	}
	return p
}

// recordRun appends the report to the history ledger when one is
// configured. The --db flag takes precedence over history.path.
func recordRun(ctx context.Context, dbPath string, cfg *config.Config, report *pipeline.Report) error {
	if dbPath == "" {
		dbPath = cfg.History.Path
	}
	if dbPath == "" {
		return nil
	}

	st, err := history.Open(dbPath)
	if err != nil {
		slog.Error("failed to open history", "path", dbPath, "error", err)
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing history", "error", closeErr)
		}
	}()

	// The run context may have expired; recording must still happen.
	if err := st.Record(context.WithoutCancel(ctx), history.FromReport(report)); err != nil {
		slog.Error("failed to record run", "run", report.RunID, "error", err)
		return err
	}
	slog.Debug("run recorded", "run", report.RunID, "path", dbPath)
	return nil
}

func outputCommandError(formatter *OutputFormatter, err error) error {
	_ = formatter.Error(errorCode(err), err.Error(), nil)
	return reportedExitError(ExitCommandError, "command setup failed", err)
}

func outputReport(formatter *OutputFormatter, report *pipeline.Report, runErr error) error {
	if formatter.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: report, RunID: report.RunID}
		if runErr != nil {
			resp.Status = "error"
			resp.Error = &CLIError{Code: errorCode(runErr), Message: runErr.Error()}
		}
		return formatter.encode(resp)
	}

	writeReport(formatter.Writer, report)
	if runErr != nil {
		fmt.Fprintf(formatter.Writer, "Error [%s]: %s\n", errorCode(runErr), runErr.Error())
	}
	return nil
}

// writeReport prints a human-readable summary of a run. External
// diagnostics are reproduced byte for byte after the summary.
func writeReport(w io.Writer, r *pipeline.Report) {
	states := make([]string, len(r.States))
	for i, s := range r.States {
		states[i] = s.String()
	}

	fmt.Fprintf(w, "run:       %s\n", r.RunID)
	fmt.Fprintf(w, "policy:    %s\n", r.Policy)
	fmt.Fprintf(w, "target:    %s (package %s, toolchain %s)\n", r.Target, r.Package, r.Toolchain)
	fmt.Fprintf(w, "states:    %s\n", strings.Join(states, " -> "))
	fmt.Fprintf(w, "final:     %s\n", r.Final)
	if r.SourceEncoding != "" {
		fmt.Fprintf(w, "expanded:  %d bytes (%s)\n", r.ExpandedBytes, r.SourceEncoding)
	}
	if r.SourceDigest != "" {
		fmt.Fprintf(w, "digest:    %s\n", r.SourceDigest)
	}
	if r.Compile != nil {
		status := "ok"
		if !r.Compile.Success {
			status = "failed"
		}
		fmt.Fprintf(w, "compile:   %s (exit %d)\n", status, r.Compile.ExitCode)
	}
	for _, path := range r.Swept {
		fmt.Fprintf(w, "swept:     %s\n", path)
	}
	for _, f := range r.Failures {
		fmt.Fprintf(w, "failure:   [%s] %s\n", f.Stage, f.Message)
	}
	for _, msg := range r.CleanupErrors {
		fmt.Fprintf(w, "cleanup:   %s\n", msg)
	}

	if d := r.Diagnostics(); d != "" {
		fmt.Fprintln(w, "--- diagnostics ---")
		fmt.Fprint(w, d)
		if !strings.HasSuffix(d, "\n") {
			fmt.Fprintln(w)
		}
	}
}
