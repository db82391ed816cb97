package pipeline

import "fmt"

// Policy selects how step failures are handled.
type Policy int

const (
	// BestEffort logs and absorbs expansion and compile failures.
	BestEffort Policy = iota
	// Strict aborts on the first failing step.
	Strict
)

func (p Policy) String() string {
	switch p {
	case BestEffort:
		return "best-effort"
	case Strict:
		return "strict"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ParsePolicy parses the String form of a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "best-effort":
		return BestEffort, nil
	case "strict":
		return Strict, nil
	}
	return 0, fmt.Errorf("unknown policy %q", s)
}

// State is a position in the run state machine.
type State int

const (
	Idle State = iota
	Expanding
	Normalizing
	Annotating
	Compiling
	Cleanup
	Done
	Aborted
)

var stateNames = [...]string{
	Idle:        "idle",
	Expanding:   "expanding",
	Normalizing: "normalizing",
	Annotating:  "annotating",
	Compiling:   "compiling",
	Cleanup:     "cleanup",
	Done:        "done",
	Aborted:     "aborted",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == Done || s == Aborted
}
