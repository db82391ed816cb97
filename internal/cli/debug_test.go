package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xpand/internal/history"
	"github.com/roach88/xpand/internal/pipeline"
	"github.com/roach88/xpand/internal/testutil"
)

const rustcDiagnostics = "error[E0425]: cannot find value `x` in this scope\n --> .xpand-run-cli-1-expanded-utf8.rs:3:13\n"

type debugFixture struct {
	dir    string
	opts   *DebugOptions
	runner *testutil.ScriptedRunner
	cmd    *cobra.Command
	out    *bytes.Buffer
	logs   *bytes.Buffer
}

func newDebugFixture(t *testing.T, policy pipeline.Policy, format string, steps ...testutil.Step) *debugFixture {
	t.Helper()
	dir := t.TempDir()

	cfgPath := filepath.Join(dir, "xpand.yaml")
	cfg := fmt.Sprintf(`package: demo
target: demo
toolchain: nightly
scratch_dir: %q
out_dir: %q
features: [feat_a]
lints: [lint_x]
`, dir, filepath.Join(dir, "out"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	f := &debugFixture{
		dir:    dir,
		runner: testutil.NewScriptedRunner(steps...),
		out:    &bytes.Buffer{},
		logs:   &bytes.Buffer{},
	}
	f.opts = &DebugOptions{
		RootOptions: &RootOptions{Format: format, Config: cfgPath},
		Policy:      policy,
		Runner:      f.runner,
		IDs:         testutil.NewFixedIDGenerator("run-cli-1"),
		Now:         func() time.Time { return time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC) },
	}
	f.cmd = newDebugCommand(f.opts)
	f.cmd.SetOut(f.out)
	f.cmd.SetErr(f.logs)
	return f
}

func (f *debugFixture) execute(args ...string) error {
	if args == nil {
		args = []string{}
	}
	f.cmd.SetArgs(args)
	return f.cmd.ExecuteContext(context.Background())
}

func (f *debugFixture) assertScratchClean(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".xpand-"), "scratch file left behind: %s", e.Name())
	}
}

func TestDebug_BestEffortCompileFailure(t *testing.T) {
	f := newDebugFixture(t, pipeline.BestEffort, "text",
		testutil.Succeed("fn main() {}\n"),
		testutil.Fail(1, rustcDiagnostics),
	)

	err := f.execute()
	require.NoError(t, err, "best-effort run absorbs compile failures")
	assert.Equal(t, 0, f.runner.Remaining())
	f.assertScratchClean(t)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "debug_best_effort_compile_failure", f.out.Bytes())
}

func TestDebugStrict_ExpansionFailure(t *testing.T) {
	f := newDebugFixture(t, pipeline.Strict, "text",
		testutil.Fail(101, "error: no bin target named `demo`\n"),
		testutil.Succeed(""),
	)

	err := f.execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, 1, f.runner.Remaining(), "compiler must not run after a strict abort")

	out := f.out.String()
	assert.Contains(t, out, "final:     aborted\n")
	assert.Contains(t, out, "--- diagnostics ---\nerror: no bin target named `demo`\n")
	assert.Contains(t, out, "Error [EXPANSION_FAILED]")
	assert.True(t, IsReported(err), "the report already carries the error")
	assert.NotContains(t, out, "compiling")
	f.assertScratchClean(t)
}

func TestDebug_EncodingLossIsCommandError(t *testing.T) {
	for _, policy := range []pipeline.Policy{pipeline.BestEffort, pipeline.Strict} {
		t.Run(policy.String(), func(t *testing.T) {
			f := newDebugFixture(t, policy, "text",
				testutil.SucceedBytes([]byte("fn main() { \xff }\n")),
			)

			err := f.execute()
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, f.out.String(), "Error [ENCODING_LOSS]")
			assert.Len(t, f.runner.Calls(), 1)
			f.assertScratchClean(t)
		})
	}
}

func TestDebug_JSONOutput(t *testing.T) {
	f := newDebugFixture(t, pipeline.Strict, "json",
		testutil.Succeed("fn main() {}\n"),
		testutil.Succeed(""),
	)

	require.NoError(t, f.execute())

	var resp struct {
		Status string                 `json:"status"`
		RunID  string                 `json:"run_id"`
		Data   map[string]interface{} `json:"data"`
		Error  *CLIError              `json:"error"`
	}
	require.NoError(t, json.Unmarshal(f.out.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-cli-1", resp.RunID)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "done", resp.Data["final_state"])
	assert.Equal(t, "strict", resp.Data["policy"])
	assert.Equal(t, "fdefeda17aa5de8271753f8722589e1087ac79ca92518f780813a51f8d61a33a", resp.Data["source_digest"])
}

func TestDebug_JSONOutputOnAbort(t *testing.T) {
	f := newDebugFixture(t, pipeline.Strict, "json",
		testutil.Succeed("fn main() {}\n"),
		testutil.Fail(1, rustcDiagnostics),
	)

	err := f.execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(f.out.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "COMPILE_FAILED", resp.Error.Code)
	assert.NotNil(t, resp.Data, "the report accompanies the error")
}

func TestDebug_FlagsOverrideConfig(t *testing.T) {
	f := newDebugFixture(t, pipeline.BestEffort, "text",
		testutil.Succeed("fn main() {}\n"),
		testutil.Succeed(""),
	)

	require.NoError(t, f.execute("--package", "other-pkg", "--target", "other-bin", "--toolchain", "nightly-2026-01-01"))

	calls := f.runner.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"expand", "--bin", "other-bin", "-p", "other-pkg"}, calls[0].Args)
	assert.Equal(t, "rustc", calls[1].Name)
	assert.Equal(t, "+nightly-2026-01-01", calls[1].Args[0])
	assert.Contains(t, calls[1].Args, "other_bin")
}

func TestDebug_InvalidConfigIsCommandError(t *testing.T) {
	tests := []struct {
		name   string
		config string
		args   []string
	}{
		{"unknown_field", "bogus: true\n", nil},
		{"duplicate_feature", "features: [a, a]\n", nil},
		{"bad_timeout_flag", "", []string{"--timeout", "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDebugFixture(t, pipeline.BestEffort, "text")
			path := filepath.Join(f.dir, "bad.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.config), 0o644))
			f.opts.Config = path

			err := f.execute(tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, f.out.String(), "Error [CONFIGURATION_ERROR]")
			assert.Empty(t, f.runner.Calls())
		})
	}
}

func TestDebug_MissingConfigFile(t *testing.T) {
	f := newDebugFixture(t, pipeline.BestEffort, "text")
	f.opts.Config = filepath.Join(f.dir, "missing.yaml")

	err := f.execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.True(t, IsReported(err))
	assert.NotContains(t, err.Error(), "invalid configuration")
	assert.Contains(t, f.out.String(), "Error [ERROR]: reading config file")
}

func TestDebug_BestEffortTimeoutFailsRun(t *testing.T) {
	f := newDebugFixture(t, pipeline.BestEffort, "text", testutil.Hang())
	dbPath := filepath.Join(f.dir, "history.db")

	err := f.execute("--timeout", "20ms", "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, f.out.String(), "final:     aborted\n")
	f.assertScratchClean(t)

	st, err := history.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	run, err := st.Get(context.Background(), "run-cli-1")
	require.NoError(t, err)
	assert.Equal(t, "aborted", run.FinalState)
}

func TestDebug_RecordsHistory(t *testing.T) {
	f := newDebugFixture(t, pipeline.BestEffort, "text",
		testutil.Fail(101, "error: could not compile `demo`\n"),
		testutil.Succeed(""),
	)
	dbPath := filepath.Join(f.dir, "history.db")

	require.NoError(t, f.execute("--db", dbPath))

	st, err := history.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	run, err := st.Get(context.Background(), "run-cli-1")
	require.NoError(t, err)
	assert.Equal(t, "best-effort", run.Policy)
	assert.Equal(t, "done", run.FinalState)
	assert.Equal(t, "EXPANSION_FAILED", run.FailureCode)
	assert.Equal(t, "expanding", run.FailureStage)
	assert.Equal(t, "error: could not compile `demo`\n", run.Diagnostics)
}

func TestDebug_VerboseLogsToStderr(t *testing.T) {
	f := newDebugFixture(t, pipeline.BestEffort, "json",
		testutil.Succeed("fn main() {}\n"),
		testutil.Succeed(""),
	)
	f.opts.Verbose = true

	require.NoError(t, f.execute())
	assert.Contains(t, f.logs.String(), "state transition")

	var resp CLIResponse
	assert.NoError(t, json.Unmarshal(f.out.Bytes(), &resp), "stdout stays valid JSON")
}
