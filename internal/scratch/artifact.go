package scratch

import (
	"fmt"
	"os"
)

// State is the lifecycle position of an Artifact.
type State int

const (
	// Absent means no file exists at the artifact path.
	Absent State = iota
	// Created means the file exists and is empty.
	Created
	// Written means the payload has been written.
	Written
	// Consumed means the payload has been read back by the next stage.
	Consumed
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Created:
		return "created"
	case Written:
		return "written"
	case Consumed:
		return "consumed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Artifact is a scratch file owned by a Scope.
type Artifact struct {
	name  string
	path  string
	state State
}

// Name returns the logical name the artifact was acquired with.
func (a *Artifact) Name() string { return a.name }

// Path returns the filesystem path of the artifact.
func (a *Artifact) Path() string { return a.path }

// State returns the current lifecycle state.
func (a *Artifact) State() State { return a.state }

// Write replaces the artifact contents with data.
func (a *Artifact) Write(data []byte) error {
	if a.state == Absent {
		return fmt.Errorf("write %s: artifact is absent", a.name)
	}
	if err := os.WriteFile(a.path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", a.name, err)
	}
	a.state = Written
	return nil
}

// Read returns the artifact contents and marks it consumed.
func (a *Artifact) Read() ([]byte, error) {
	if a.state != Written && a.state != Consumed {
		return nil, fmt.Errorf("read %s: artifact is %s", a.name, a.state)
	}
	data, err := os.ReadFile(a.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", a.name, err)
	}
	a.state = Consumed
	return data, nil
}
