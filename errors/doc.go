// Package errors provides structured error types for the sandbox.
//
// Every error carries a Phase (where in the evaluation it happened) and a
// Kind (what went wrong). Guest-thrown errors additionally carry the guest
// error's name and message so hosts can surface them without re-entering
// the interpreter.
//
// Errors compare by Phase and Kind via errors.Is:
//
//	if errors.Is(err, &errors.Error{Phase: errors.PhaseEval, Kind: errors.KindSyntax}) {
//	    // guest source failed to parse
//	}
package errors
