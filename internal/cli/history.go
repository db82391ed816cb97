package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/xpand/internal/history"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Limit    int
	RunID    string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded debug runs",
		Long: `List debug runs recorded in the history ledger, newest first.

With --run, show a single run including its diagnostics.

Example:
  xpand history --db ./xpand.db
  xpand history --db ./xpand.db --run 0192a4c1-7e2f-7b4e-9c1d-4f0e8a2b3c4d`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite history ledger (default history.path from config)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs to list (0 for all)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "show a single run by id")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	dbPath := opts.Database
	if dbPath == "" {
		cfg, err := loadConfig(opts.RootOptions)
		if err != nil {
			return outputCommandError(formatter, err)
		}
		dbPath = cfg.History.Path
	}
	if dbPath == "" {
		_ = formatter.Error(ErrCodeConfig, "no history ledger: pass --db or set history.path", nil)
		return reportedExitError(ExitCommandError, "no history ledger configured", nil)
	}

	st, err := history.Open(dbPath)
	if err != nil {
		_ = formatter.Error(ErrCodeHistory, err.Error(), nil)
		return reportedExitError(ExitCommandError, "failed to open history", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.RunID != "" {
		run, err := st.Get(ctx, opts.RunID)
		if errors.Is(err, history.ErrNotFound) {
			_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
			return reportedExitError(ExitCommandError, "unknown run", err)
		}
		if err != nil {
			_ = formatter.Error(ErrCodeHistory, err.Error(), nil)
			return reportedExitError(ExitCommandError, "failed to read history", err)
		}
		if formatter.Format == "json" {
			return formatter.Success(run)
		}
		writeRun(formatter.Writer, run)
		return nil
	}

	runs, err := st.List(ctx, opts.Limit)
	if err != nil {
		_ = formatter.Error(ErrCodeHistory, err.Error(), nil)
		return reportedExitError(ExitCommandError, "failed to read history", err)
	}
	if formatter.Format == "json" {
		return formatter.Success(runs)
	}
	writeRuns(formatter.Writer, runs)
	return nil
}

func writeRuns(w io.Writer, runs []history.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tPOLICY\tTARGET\tFINAL\tFAILURE\tSTARTED")
	for _, r := range runs {
		failure := r.FailureCode
		if failure == "" {
			failure = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Policy, r.Target, r.FinalState, failure, r.StartedAt.Format(time.RFC3339))
	}
	tw.Flush()
}

func writeRun(w io.Writer, r history.Run) {
	fmt.Fprintf(w, "run:       %s\n", r.ID)
	fmt.Fprintf(w, "policy:    %s\n", r.Policy)
	fmt.Fprintf(w, "target:    %s (package %s, toolchain %s)\n", r.Target, r.Package, r.Toolchain)
	fmt.Fprintf(w, "states:    %s\n", strings.Join(r.States, " -> "))
	fmt.Fprintf(w, "final:     %s\n", r.FinalState)
	fmt.Fprintf(w, "started:   %s\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "duration:  %s\n", r.FinishedAt.Sub(r.StartedAt))
	if r.SourceDigest != "" {
		fmt.Fprintf(w, "digest:    %s\n", r.SourceDigest)
	}
	if r.FailureCode != "" {
		fmt.Fprintf(w, "failure:   [%s] %s (%d total)\n", r.FailureStage, r.FailureCode, r.FailureCount)
	}
	if r.Diagnostics != "" {
		fmt.Fprintln(w, "--- diagnostics ---")
		fmt.Fprint(w, r.Diagnostics)
		if !strings.HasSuffix(r.Diagnostics, "\n") {
			fmt.Fprintln(w)
		}
	}
}
