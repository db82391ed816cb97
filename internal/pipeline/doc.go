// Package pipeline sequences expansion, normalization, annotation and
// compilation into one debug run.
//
// A run walks a fixed state machine:
//
//	Idle → Expanding → Normalizing → Annotating → Compiling → Cleanup → Done
//
// with Aborted as the alternative terminal state. Cleanup runs on every
// path, so no scratch artifact survives an orderly run.
//
// The Policy decides which failures end a run early. BestEffort absorbs
// expansion and compile failures and carries on with whatever it has;
// Strict stops at the first failure. Encoding loss and configuration errors
// abort under both policies, because no meaningful artifact can follow them.
package pipeline
