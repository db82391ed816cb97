package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/xpand/internal/proc"
)

// Step is one scripted reply of a ScriptedRunner.
type Step struct {
	// Result is returned when Err is nil.
	Result *proc.Result

	// Err simulates a process that could not be started.
	Err error

	// Block makes the step wait until the context ends and return its
	// error, like a process killed by cancellation.
	Block bool

	// OnRun, if set, is called with the command before the reply is
	// returned. Tests use it to inspect artifacts while they still exist.
	OnRun func(cmd proc.Command)
}

// Succeed replies with exit status 0 and the given stdout.
func Succeed(stdout string) Step {
	return Step{Result: &proc.Result{Stdout: []byte(stdout)}}
}

// SucceedBytes replies with exit status 0 and raw stdout bytes.
func SucceedBytes(stdout []byte) Step {
	return Step{Result: &proc.Result{Stdout: stdout}}
}

// Fail replies with the given exit status and stderr.
func Fail(exitCode int, stderr string) Step {
	return Step{Result: &proc.Result{Stderr: []byte(stderr), ExitCode: exitCode}}
}

// Hang replies only once the context ends.
func Hang() Step {
	return Step{Block: true}
}

// ScriptedRunner is a proc.Runner that replays scripted steps in order and
// records every command it receives.
//
// Thread-safety: safe for concurrent use via internal mutex.
type ScriptedRunner struct {
	mu    sync.Mutex
	steps []Step
	calls []proc.Command
}

// NewScriptedRunner creates a runner that replies with steps in order.
func NewScriptedRunner(steps ...Step) *ScriptedRunner {
	return &ScriptedRunner{steps: steps}
}

// Run implements proc.Runner.
func (r *ScriptedRunner) Run(ctx context.Context, cmd proc.Command) (*proc.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	if len(r.steps) == 0 {
		r.mu.Unlock()
		return nil, fmt.Errorf("ScriptedRunner: unexpected call %q", cmd.String())
	}
	step := r.steps[0]
	r.steps = r.steps[1:]
	r.mu.Unlock()

	if step.OnRun != nil {
		step.OnRun(cmd)
	}
	if step.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Result, nil
}

// Calls returns the commands received so far.
func (r *ScriptedRunner) Calls() []proc.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]proc.Command, len(r.calls))
	copy(out, r.calls)
	return out
}

// Remaining returns how many scripted steps were not consumed.
func (r *ScriptedRunner) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.steps)
}
