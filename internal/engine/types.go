// Package engine holds the hard core of SHDE: failure parsing, the
// deterministic pattern fixers, the confidence model, rollback
// orchestration, and the debug-loop state machine that ties them together.
package engine

import (
	"github.com/shde-project/shde/internal/signature"
)

// Failure is a single parsed test failure, produced by ParseFailures (C1)
// and immutable once created.
type Failure struct {
	FilePath     string    `json:"file_path"`
	TestName     string    `json:"test_name"`
	ErrorKind    ErrorKind `json:"error_kind"`
	ErrorMessage string    `json:"error_message"`
	RawLocation  string    `json:"raw_location"`
}

// Signature derives this failure's ErrorSignature from its message and the
// surrounding code context (the source line(s) the raw location points at,
// when available — callers without code context may pass an empty string,
// which still yields a reproducible signature over the message alone).
func (f Failure) Signature(codeContext string) signature.Signature {
	return signature.Of(f.ErrorMessage, codeContext)
}

// ErrorKind classifies a Failure for Pattern Fixer dispatch (C5's closed
// catalogue). Unrecognized failures get KindUnknown, which no handler
// matches.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindMissingAttribute
	KindAssertionMismatch
	KindImportError
	KindMissingPositionalArgs
	KindIndentationError
)

func (k ErrorKind) String() string {
	switch k {
	case KindMissingAttribute:
		return "MissingAttribute"
	case KindAssertionMismatch:
		return "AssertionMismatch"
	case KindImportError:
		return "ImportError"
	case KindMissingPositionalArgs:
		return "MissingPositionalArgs"
	case KindIndentationError:
		return "IndentationError"
	default:
		return "Unknown"
	}
}

// Provenance identifies which of the three escalating patch sources
// produced a Patch. An enumerated Go type rather than a string tag, per the
// closed three-way choice the Debug Loop Controller escalates through.
type Provenance int

const (
	ProvenanceLearned Provenance = iota
	ProvenancePattern
	ProvenanceOracle
)

func (p Provenance) String() string {
	switch p {
	case ProvenanceLearned:
		return "LEARNED"
	case ProvenancePattern:
		return "PATTERN"
	case ProvenanceOracle:
		return "ORACLE"
	default:
		return "UNKNOWN"
	}
}

// Patch is a unified-diff artifact targeting one or more files plus the
// ErrorSignature it originated from. Files holds the already-materialized
// new contents for the files a handler or the oracle produced — Pattern Fixer handlers operate in memory and hand back
// whole-file bytes rather than a diff text, so Patch carries both a
// human-readable DiffText (for ledgers/reports) and the applied bytes.
type Patch struct {
	Signature   signature.Signature `json:"signature"`
	Provenance  Provenance          `json:"provenance"`
	DiffText    string              `json:"diff_text"`
	Files       map[string][]byte   `json:"-"` // path -> new full content, applied by the Controller
	Description string              `json:"description,omitempty"`
}

// AttemptStatus is the outcome of trying to apply and validate a Patch.
type AttemptStatus int

const (
	StatusUnknown AttemptStatus = iota
	StatusAppliedAndPassed
	StatusAppliedAndFailed
	StatusRejectedByGate
	StatusRolledBack
	StatusManualReview
)

func (s AttemptStatus) String() string {
	switch s {
	case StatusAppliedAndPassed:
		return "APPLIED_AND_PASSED"
	case StatusAppliedAndFailed:
		return "APPLIED_AND_FAILED"
	case StatusRejectedByGate:
		return "REJECTED_BY_GATE"
	case StatusRolledBack:
		return "ROLLED_BACK"
	case StatusManualReview:
		return "MANUAL_REVIEW"
	default:
		return "UNKNOWN"
	}
}

// AttemptOutcome records the result of one applied-or-rejected Patch.
type AttemptOutcome struct {
	Signature signature.Signature `json:"signature"`
	Patch     Patch               `json:"patch"`
	Status    AttemptStatus       `json:"status"`
	Timestamp int64               `json:"timestamp"` // unix seconds, caller-supplied so engine stays free of wall-clock calls
}

// ConfidenceRecord is one scored assignment for a (signature, patch) pair.
// Multiple records accumulate per signature; the latest per (signature,
// patch) prevails.
type ConfidenceRecord struct {
	Signature signature.Signature `json:"signature"`
	Patch     Patch               `json:"patch"`
	Score     float64             `json:"score"`
	Reason    string              `json:"reason"`
	Timestamp int64               `json:"timestamp"`
}
