package scratch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/roach88/xpand/internal/diag"
)

// Prefix starts the base name of every per-run artifact.
const Prefix = ".xpand-"

// Scope owns the artifacts of a single run.
//
// Not safe for concurrent use; a run is strictly sequential.
type Scope struct {
	dir       string
	runID     string
	artifacts []*Artifact
}

// NewScope creates a scope rooted at dir for the given run id.
func NewScope(dir, runID string) *Scope {
	if dir == "" {
		dir = "."
	}
	return &Scope{dir: dir, runID: runID}
}

// RunID returns the run id the scope was created for.
func (s *Scope) RunID() string { return s.runID }

// PathFor returns the path an artifact with the given name has in this scope.
func (s *Scope) PathFor(name string) string {
	return filepath.Join(s.dir, Prefix+s.runID+"-"+name)
}

// Acquire creates (or truncates) the artifact file for name.
//
// The artifact is registered with the scope before the file is created, so
// ReleaseAll removes it even when creation fails halfway. On error the
// returned artifact is still non-nil and safe to Release.
func (s *Scope) Acquire(name string) (*Artifact, error) {
	a := &Artifact{name: name, path: s.PathFor(name)}
	s.artifacts = append(s.artifacts, a)

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return a, fmt.Errorf("acquire %s: %w", name, err)
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return a, fmt.Errorf("acquire %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return a, fmt.Errorf("acquire %s: %w", name, err)
	}
	a.state = Created
	return a, nil
}

// Release deletes the artifact file if present. Releasing an absent or nil
// artifact is a no-op.
func (s *Scope) Release(a *Artifact) error {
	if a == nil {
		return nil
	}
	if _, err := os.Lstat(a.path); err != nil {
		// Nothing reachable at the path; an unfinished Acquire lands here too.
		if errors.Is(err, fs.ErrNotExist) || a.state == Absent {
			a.state = Absent
			return nil
		}
	}
	if err := os.Remove(a.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return diag.Wrap(diag.CleanupFailed, fmt.Sprintf("removing %s", a.path), err)
	}
	a.state = Absent
	return nil
}

// ReleaseAll releases every artifact acquired through the scope and returns
// the failures, if any.
func (s *Scope) ReleaseAll() []error {
	var errs []error
	for _, a := range s.artifacts {
		if err := s.Release(a); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Artifacts returns the artifacts acquired so far, in acquisition order.
func (s *Scope) Artifacts() []*Artifact {
	out := make([]*Artifact, len(s.artifacts))
	copy(out, s.artifacts)
	return out
}
