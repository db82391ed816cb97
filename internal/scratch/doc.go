// Package scratch manages the on-disk artifacts handed between pipeline
// stages.
//
// Every artifact belongs to a Scope, which is bound to one run. Artifact
// paths embed the run id so two runs started from the same directory never
// touch each other's files:
//
//	<dir>/.xpand-<run-id>-expanded.rs
//	<dir>/.xpand-<run-id>-expanded-utf8.rs
//
// Release is idempotent and safe on artifacts whose creation or write never
// completed. The owner of a Scope calls ReleaseAll on every exit path.
package scratch
