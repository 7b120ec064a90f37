package engine

import "fmt"

// Class enumerates the error taxonomy a session can encounter. Classes 1-5
// are recovered locally (recorded to a ledger, loop continues); only Class6
// ever causes RunSession itself to return a non-nil error.
type Class int

const (
	ClassUnknown Class = iota
	ClassParsingGap
	ClassPersistenceCorruption
	ClassPatchApplicationFailure
	ClassRevalidationFailure
	ClassOracleUnavailable
	ClassInvariantViolation
)

func (c Class) String() string {
	switch c {
	case ClassParsingGap:
		return "parsing_gap"
	case ClassPersistenceCorruption:
		return "persistence_corruption"
	case ClassPatchApplicationFailure:
		return "patch_application_failure"
	case ClassRevalidationFailure:
		return "revalidation_failure"
	case ClassOracleUnavailable:
		return "oracle_unavailable"
	case ClassInvariantViolation:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

// EngineError wraps every recognized failure mode in the taxonomy with its
// Class, so callers can distinguish "recovered, keep going" (Class 1-5)
// from "fatal, abort the session" (Class 6) without string matching.
type EngineError struct {
	Class Class
	Msg   string
	Err   error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine: %s: %s: %v", e.Class, e.Msg, e.Err)
	}

	return fmt.Sprintf("engine: %s: %s", e.Class, e.Msg)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Fatal reports whether this error must abort the session (Class 6 only).
func (e *EngineError) Fatal() bool { return e.Class == ClassInvariantViolation }

func newEngineError(class Class, msg string, err error) *EngineError {
	return &EngineError{Class: class, Msg: msg, Err: err}
}
