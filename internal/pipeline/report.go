package pipeline

import (
	"strings"
	"time"

	"github.com/roach88/xpand/internal/compile"
	"github.com/roach88/xpand/internal/diag"
)

// Failure is a step failure recorded during a run.
type Failure struct {
	Stage       State     `json:"stage"`
	Code        diag.Code `json:"code"`
	Message     string    `json:"message"`
	Diagnostics string    `json:"diagnostics,omitempty"`
}

// Report describes a completed run.
type Report struct {
	RunID     string `json:"run_id"`
	Policy    Policy `json:"policy"`
	Package   string `json:"package"`
	Target    string `json:"target"`
	Toolchain string `json:"toolchain"`

	// States lists every state the run entered, in order.
	States []State `json:"states"`
	Final  State   `json:"final_state"`

	Failures []Failure `json:"failures,omitempty"`

	// CleanupErrors are logged removal failures; they never fail a run.
	CleanupErrors []string `json:"cleanup_errors,omitempty"`

	// Artifacts are the scratch paths the run used. None exist after the run.
	Artifacts []string `json:"artifacts"`

	// Swept are leftovers from earlier runs removed before this one started.
	Swept []string `json:"swept,omitempty"`

	ExpandedBytes  int    `json:"expanded_bytes"`
	SourceEncoding string `json:"source_encoding,omitempty"`
	SourceDigest   string `json:"source_digest,omitempty"`

	Compile *compile.Result `json:"compile,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Failed reports whether any step failed, absorbed or not.
func (r *Report) Failed() bool {
	return len(r.Failures) > 0
}

// FirstFailure returns the earliest recorded failure, or nil.
func (r *Report) FirstFailure() *Failure {
	if len(r.Failures) == 0 {
		return nil
	}
	return &r.Failures[0]
}

// Diagnostics concatenates the external diagnostics of every failure and
// of a successful compile, verbatim and in run order.
func (r *Report) Diagnostics() string {
	var b strings.Builder
	for _, f := range r.Failures {
		b.WriteString(f.Diagnostics)
	}
	if r.Compile != nil && r.Compile.Success {
		b.WriteString(r.Compile.Diagnostics)
	}
	return b.String()
}
