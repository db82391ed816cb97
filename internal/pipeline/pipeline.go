package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/xpand/internal/annotate"
	"github.com/roach88/xpand/internal/compile"
	"github.com/roach88/xpand/internal/diag"
	"github.com/roach88/xpand/internal/expand"
	"github.com/roach88/xpand/internal/scratch"
	"github.com/roach88/xpand/internal/textenc"
)

// Artifact names. Older tooling wrote these names directly into the
// working directory; they double as the default legacy names to sweep.
const (
	RawArtifact        = "expanded.rs"
	NormalizedArtifact = "expanded-utf8.rs"
)

// LegacyArtifacts are the fixed names swept before every run by default.
var LegacyArtifacts = []string{RawArtifact, NormalizedArtifact}

// Options configures a Pipeline. All fields are fixed for the lifetime of
// the pipeline.
type Options struct {
	Request   expand.Request
	Toolchain string
	Features  annotate.FeatureSet
	Lints     annotate.LintSet
	Policy    Policy

	// ScratchDir holds the run's artifacts. Defaults to ".".
	ScratchDir string

	// LegacyNames are removed from ScratchDir before the run starts.
	LegacyNames []string

	// StaleAfter is the age at which leftover per-run artifacts are swept.
	// Zero leaves them alone.
	StaleAfter time.Duration

	// Timeout bounds the whole run, subprocesses included. Zero means none.
	Timeout time.Duration
}

// Pipeline runs the expand → normalize → annotate → compile sequence.
type Pipeline struct {
	opts     Options
	expander *expand.Expander
	compiler *compile.Compiler

	// IDs generates run ids. Defaults to scratch.UUIDv7Generator.
	IDs scratch.IDGenerator

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// New creates a pipeline.
func New(opts Options, expander *expand.Expander, compiler *compile.Compiler) *Pipeline {
	return &Pipeline{
		opts:     opts,
		expander: expander,
		compiler: compiler,
		IDs:      scratch.UUIDv7Generator{},
		Now:      time.Now,
	}
}

// run carries the state of one pipeline execution.
type run struct {
	p      *Pipeline
	scope  *scratch.Scope
	report *Report
	log    *slog.Logger
}

// Run executes one debug run.
//
// The returned report is never nil. The error is non-nil exactly when the
// run ends Aborted: always for encoding loss and configuration errors, and
// for any step failure under Strict. Every artifact acquired by the run is
// released before Run returns.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	runID := p.IDs.Generate()
	r := &run{
		p:     p,
		scope: scratch.NewScope(p.opts.ScratchDir, runID),
		report: &Report{
			RunID:     runID,
			Policy:    p.opts.Policy,
			Package:   p.opts.Request.Package,
			Target:    p.opts.Request.Target,
			Toolchain: p.opts.Toolchain,
			States:    []State{Idle},
			Final:     Idle,
			Artifacts: []string{},
			StartedAt: p.Now(),
		},
		log: slog.With("run", runID, "policy", p.opts.Policy.String()),
	}

	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	swept, errs := scratch.Sweep(p.opts.ScratchDir, p.opts.LegacyNames, p.opts.StaleAfter, p.Now())
	r.report.Swept = swept
	r.cleanupFailed(errs)
	for _, path := range swept {
		r.log.Debug("removed stale artifact", "path", path)
	}

	abortErr := r.execute(ctx)

	r.enter(Cleanup)
	r.cleanupFailed(r.scope.ReleaseAll())
	for _, a := range r.scope.Artifacts() {
		r.report.Artifacts = append(r.report.Artifacts, a.Path())
	}

	r.report.FinishedAt = p.Now()
	if abortErr != nil {
		r.enter(Aborted)
		r.log.Info("run aborted", "error", abortErr)
		return r.report, abortErr
	}
	r.enter(Done)
	r.log.Info("run done", "failures", len(r.report.Failures))
	return r.report, nil
}

// execute runs the steps in order and returns the error that aborts the
// run, if any.
func (r *run) execute(ctx context.Context) error {
	r.enter(Expanding)
	src, err := r.expand(ctx)
	if err := r.settle(Expanding, err); err != nil {
		return err
	}

	r.enter(Normalizing)
	norm, err := r.normalize(src)
	if err := r.settle(Normalizing, err); err != nil {
		return err
	}

	r.enter(Annotating)
	ann, err := annotate.Annotate(norm.Text, r.p.opts.Features, r.p.opts.Lints)
	if err := r.settle(Annotating, err); err != nil {
		return err
	}
	r.report.SourceDigest = Digest(ann.Text)

	r.enter(Compiling)
	err = r.compile(ctx, ann)
	return r.settle(Compiling, err)
}

func (r *run) expand(ctx context.Context) (*expand.Source, error) {
	src, err := r.p.expander.Expand(ctx, r.p.opts.Request)
	if src == nil {
		src = &expand.Source{Encoding: textenc.UTF8}
	}
	r.report.ExpandedBytes = len(src.Data)
	r.report.SourceEncoding = src.Encoding
	return src, err
}

// normalize stages the raw payload in its own artifact, reads it back and
// converts it to UTF-8. The raw artifact does not outlive the step.
func (r *run) normalize(src *expand.Source) (*textenc.Normalized, error) {
	raw, err := r.scope.Acquire(RawArtifact)
	defer r.release(raw)
	if err != nil {
		return nil, fmt.Errorf("staging raw payload: %w", err)
	}
	if err := raw.Write(src.Data); err != nil {
		return nil, fmt.Errorf("staging raw payload: %w", err)
	}
	data, err := raw.Read()
	if err != nil {
		return nil, fmt.Errorf("reading raw payload: %w", err)
	}

	norm, err := textenc.Normalize(data, src.Encoding)
	if err != nil {
		return nil, err
	}
	r.report.SourceEncoding = norm.Encoding
	return norm, nil
}

// compile stages the annotated source in the normalized artifact and runs
// the compiler against it. The artifact does not outlive the step.
func (r *run) compile(ctx context.Context, ann *annotate.Source) error {
	art, err := r.scope.Acquire(NormalizedArtifact)
	defer r.release(art)
	if err != nil {
		return fmt.Errorf("staging annotated source: %w", err)
	}

	res, err := r.p.compiler.Compile(ctx, art, ann, r.p.opts.Request.Target, r.p.opts.Toolchain)
	r.report.Compile = res
	return err
}

// settle records a step failure and decides whether it aborts the run.
// Unclassified errors (I/O on scratch files) always abort.
func (r *run) settle(stage State, err error) error {
	if err == nil {
		return nil
	}

	code := diag.CodeOf(err)
	r.report.Failures = append(r.report.Failures, Failure{
		Stage:       stage,
		Code:        code,
		Message:     err.Error(),
		Diagnostics: diag.DiagnosticsOf(err),
	})

	if code == "" || code.Fatal() || r.p.opts.Policy == Strict {
		return fmt.Errorf("%s: %w", stage, err)
	}

	r.log.Warn("step failed, continuing", "stage", stage.String(), "code", string(code), "error", err)
	return nil
}

func (r *run) enter(s State) {
	r.report.States = append(r.report.States, s)
	r.report.Final = s
	r.log.Debug("state transition", "state", s.String())
}

// release frees a step's artifact. A failure is only logged here; Cleanup
// retries the removal and records the outcome once.
func (r *run) release(a *scratch.Artifact) {
	if err := r.scope.Release(a); err != nil {
		r.log.Debug("release failed, retrying at cleanup", "path", a.Path(), "error", err)
	}
}

// cleanupFailed logs removal failures. They are recorded but never escalated.
func (r *run) cleanupFailed(errs []error) {
	for _, err := range errs {
		r.report.CleanupErrors = append(r.report.CleanupErrors, err.Error())
		r.log.Warn("cleanup failed", "error", err)
	}
}
