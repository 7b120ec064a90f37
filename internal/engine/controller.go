package engine

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/shde-project/shde/internal/executor"
	"github.com/shde-project/shde/internal/oracle"
	"github.com/shde-project/shde/internal/signature"
)

// Vault is the subset of the Backup Vault (internal/backup.Vault) the
// Controller depends on, expressed as an interface so engine never imports
// a sibling persistence package (internal/store imports engine; engine
// importing it back would cycle).
type Vault interface {
	EnsureBackup(ctx context.Context, sessionID, path string) error
	Restore(ctx context.Context, sessionID, path string) error
	Commit(sessionID string) error
	AbortRestoreAll(ctx context.Context, sessionID string) error
}

// LearnedLookuper is the Learned-Fix Store's read view.
type LearnedLookuper interface {
	Lookup(sig signature.Signature) (Patch, bool, error)
}

// LearnedUpserter is the Learned-Fix Store's write view; called only after
// an APPLIED_AND_PASSED outcome (invariant 2 of the data model).
type LearnedUpserter interface {
	Upsert(ctx context.Context, sig signature.Signature, patch Patch, now int64) error
}

// SuccessRecorder is the Patch Tracker's write view for the
// successful_patches ledger.
type SuccessRecorder interface {
	RecordSuccessfulPatch(ctx context.Context, outcome AttemptOutcome) error
}

// OracleSuggester is the Patch Oracle Adapter's contract, as consumed by
// the Controller.
type OracleSuggester interface {
	Suggest(ctx context.Context, sig signature.Signature, prompt oracle.Prompt, tracker oracle.FeedbackRecorder, now int64) (string, error)
}

// SourceFS is the minimal file read/write surface the Controller needs
// over project source files, distinct from the Backup Vault's own
// fs.FS use so a caller can point the Controller at a restricted view if
// desired.
type SourceFS interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
}

// Clock supplies the current unix timestamp, so the engine package itself
// never calls time.Now() directly — every AttemptOutcome/ConfidenceRecord
// timestamp comes from here, keeping the state machine deterministic under
// test with a fake Clock.
type Clock func() int64

// Session bundles every collaborator the Debug Loop Controller (C9)
// orchestrates. A nil OracleSuggester is tolerated — the oracle step is
// then always skipped. Feedback is handed to the oracle as is, nil included.
type Session struct {
	Executor   executor.Executor
	Learned    interface {
		LearnedLookuper
		LearnedUpserter
	}
	Vault      Vault
	Confidence *ConfidenceManager
	Rollback   *RollbackManager
	Oracle     OracleSuggester
	Feedback   oracle.FeedbackRecorder
	Success    SuccessRecorder
	Failed     FailedPatchRecorder
	Source     SourceFS
	Clock      Clock
	Log        zerolog.Logger

	AllowAssertionRewrite bool
	SessionMaxRetries     int
}

// Outcome is RunSession's terminal result.
type Outcome struct {
	Terminal    TerminalState
	Signatures  []SignatureOutcome
}

// SignatureOutcome is one signature's final disposition for the session.
type SignatureOutcome struct {
	Signature  signature.Signature
	Status     AttemptStatus
	Reason     string
	Attempts   int
}

// TerminalState is one of the three states a session can end in.
type TerminalState int

const (
	TerminalSuccess TerminalState = iota
	TerminalPartial
	TerminalAborted
)

func (t TerminalState) String() string {
	switch t {
	case TerminalSuccess:
		return "Success"
	case TerminalPartial:
		return "Partial"
	default:
		return "Aborted"
	}
}

// RunSession drives the debugging session state machine: run tests, parse
// failures, escalate each through Learned -> Pattern -> Oracle, apply,
// revalidate, and either commit or roll back — wrapped up to
// SessionMaxRetries outer passes. targets restricts each pass's test run
// to the given files (nil runs the full suite); a revalidation run is
// restricted to the files the patch touched instead.
func (s *Session) RunSession(ctx context.Context, sessionID string, targets []string) (Outcome, error) {
	var allOutcomes []SignatureOutcome

	for pass := 0; pass < max(s.SessionMaxRetries, 1); pass++ {
		result, err := s.Executor.Run(ctx, targets)
		if err != nil {
			return Outcome{Terminal: TerminalAborted, Signatures: allOutcomes}, newEngineError(ClassInvariantViolation, "executor invocation failed", err)
		}

		failures := ParseFailures(result.Combined())
		if len(failures) == 0 {
			if err := s.Vault.Commit(sessionID); err != nil {
				return Outcome{Terminal: TerminalAborted, Signatures: allOutcomes}, newEngineError(ClassInvariantViolation, "commit failed", err)
			}

			return Outcome{Terminal: TerminalSuccess, Signatures: allOutcomes}, nil
		}

		passOutcomes, fatal, err := s.triage(ctx, sessionID, failures)
		allOutcomes = mergeSignatureOutcomes(allOutcomes, passOutcomes)

		if err != nil {
			if abortErr := s.Vault.AbortRestoreAll(ctx, sessionID); abortErr != nil {
				s.Log.Error().Err(abortErr).Msg("abort restore failed")
			}

			return Outcome{Terminal: TerminalAborted, Signatures: allOutcomes}, err
		}

		if fatal {
			if abortErr := s.Vault.AbortRestoreAll(ctx, sessionID); abortErr != nil {
				s.Log.Error().Err(abortErr).Msg("abort restore failed")
			}

			return Outcome{Terminal: TerminalAborted, Signatures: allOutcomes}, nil
		}

		if allCleared(passOutcomes) {
			if err := s.Vault.Commit(sessionID); err != nil {
				return Outcome{Terminal: TerminalAborted, Signatures: allOutcomes}, newEngineError(ClassInvariantViolation, "commit failed", err)
			}

			return Outcome{Terminal: TerminalSuccess, Signatures: allOutcomes}, nil
		}
	}

	return Outcome{Terminal: TerminalPartial, Signatures: allOutcomes}, nil
}

// triage processes one Triaging step: every parsed Failure, each escalated
// independently, in the order the parser produced them.
func (s *Session) triage(ctx context.Context, sessionID string, failures []Failure) ([]SignatureOutcome, bool, error) {
	var outcomes []SignatureOutcome

	for _, f := range failures {
		sig := f.Signature(f.RawLocation)

		outcome, fatal, err := s.escalate(ctx, sessionID, sig, f)
		if err != nil {
			return outcomes, fatal, err
		}

		outcomes = append(outcomes, outcome)

		if fatal {
			return outcomes, true, nil
		}
	}

	return outcomes, false, nil
}

// escalate drives one signature through Escalating -> Applying ->
// Revalidating -> (Reverting -> retry | Abandoning), in provenance order
// LEARNED -> PATTERN -> ORACLE.
func (s *Session) escalate(ctx context.Context, sessionID string, sig signature.Signature, f Failure) (SignatureOutcome, bool, error) {
	// alternates is lazily populated the first time every fresh candidate
	// source (LEARNED/PATTERN/ORACLE) comes up empty: the signature's own
	// previously-tried-and-failed patches, in reverse try order, capped at
	// MaxRetries. They are exhausted before the signature is abandoned.
	var alternates []Patch
	var altIdx int

	for {
		if !s.Confidence.ShouldRetry(sig) {
			return s.abandon(ctx, sig), false, nil
		}

		patch, provenance, err := s.findCandidate(ctx, sig, f)
		if err != nil {
			return SignatureOutcome{}, false, err
		}

		if patch == nil {
			if alternates == nil {
				alternates = s.Rollback.AlternateRetryOrder(sig)
			}

			if altIdx >= len(alternates) {
				return s.abandon(ctx, sig), false, nil
			}

			retry := alternates[altIdx]
			altIdx++
			patch = &retry
			provenance = retry.Provenance
		}

		s.Confidence.RecordAttempt(sig)
		s.Rollback.RecordTried(sig, *patch)

		rec, err := s.Confidence.Assign(sig, *patch, s.now())
		if err != nil {
			return SignatureOutcome{}, false, err
		}

		passed, applyErr := s.applyAndRevalidate(ctx, sessionID, *patch)
		if applyErr != nil {
			if eerr, ok := applyErr.(*EngineError); ok && eerr.Fatal() {
				return SignatureOutcome{}, true, eerr
			}

			if err := s.Rollback.RevertPatch(ctx, sessionID, *patch, s.now()); err != nil {
				return SignatureOutcome{}, false, err
			}

			if !s.Confidence.ShouldRetry(sig) {
				return s.abandon(ctx, sig), false, nil
			}

			continue
		}

		if !passed {
			if err := s.Rollback.RevertPatch(ctx, sessionID, *patch, s.now()); err != nil {
				return SignatureOutcome{}, false, err
			}

			if !s.Confidence.ShouldRetry(sig) {
				return s.abandon(ctx, sig), false, nil
			}

			continue
		}

		if err := s.recordSuccess(ctx, sig, *patch, provenance, rec); err != nil {
			return SignatureOutcome{}, false, err
		}

		return SignatureOutcome{Signature: sig, Status: StatusAppliedAndPassed, Reason: rec.Reason, Attempts: s.Confidence.AttemptCount(sig)}, false, nil
	}
}

// findCandidate tries LEARNED, then PATTERN, then ORACLE in order,
// returning the first patch any source produces.
func (s *Session) findCandidate(ctx context.Context, sig signature.Signature, f Failure) (*Patch, Provenance, error) {
	if s.Learned != nil {
		if patch, ok, err := s.Learned.Lookup(sig); err != nil {
			return nil, 0, err
		} else if ok {
			patch.Signature = sig
			patch.Provenance = ProvenanceLearned

			return &patch, ProvenanceLearned, nil
		}
	}

	if s.Source != nil {
		src, err := s.Source.ReadFile(f.FilePath)
		if err == nil {
			if out, applied := RunPatternFixer(src, f, s.AllowAssertionRewrite); applied {
				patch := Patch{Signature: sig, Provenance: ProvenancePattern, Files: map[string][]byte{f.FilePath: out}, Description: "pattern:" + f.ErrorKind.String()}

				return &patch, ProvenancePattern, nil
			}
		}
	}

	if s.Oracle != nil {
		codeContext := ""
		var original []byte

		if s.Source != nil {
			if b, err := s.Source.ReadFile(f.FilePath); err == nil {
				original = b
				codeContext = string(b)
			}
		}

		diff, err := s.Oracle.Suggest(ctx, sig, oracle.Prompt{ErrorMessage: f.ErrorMessage, CodeContext: codeContext, FilePath: f.FilePath}, s.Feedback, s.now())
		if err != nil {
			// Oracle unavailable is recovered locally: the oracle step is
			// skipped and the signature falls through to its alternates.
			s.Log.Warn().Err(newEngineError(ClassOracleUnavailable, "oracle invocation failed", err)).Str("signature", string(sig)).Msg("skipping oracle step")

			return nil, 0, nil
		}

		if diff != "" && original != nil {
			patched, err := applyUnifiedDiff(original, diff)
			if err == nil {
				patch := Patch{Signature: sig, Provenance: ProvenanceOracle, DiffText: diff, Files: map[string][]byte{f.FilePath: patched}, Description: "oracle"}

				return &patch, ProvenanceOracle, nil
			}
		}
	}

	return nil, 0, nil
}

// applyAndRevalidate writes patch's files (after ensuring a backup for
// each, per invariant 1) and re-runs the executor restricted to those
// files, returning whether the revalidation run passed.
func (s *Session) applyAndRevalidate(ctx context.Context, sessionID string, patch Patch) (bool, error) {
	if s.Source == nil {
		return false, newEngineError(ClassPatchApplicationFailure, "no source filesystem configured", nil)
	}

	targets := make([]string, 0, len(patch.Files))

	for path, content := range patch.Files {
		if err := s.Vault.EnsureBackup(ctx, sessionID, path); err != nil {
			return false, newEngineError(ClassInvariantViolation, "backup must exist before mutation", err)
		}

		if err := s.Source.WriteFile(path, content, 0o644); err != nil {
			return false, newEngineError(ClassPatchApplicationFailure, "write patched file", err)
		}

		targets = append(targets, path)
	}

	result, err := s.Executor.Run(ctx, targets)
	if err != nil {
		return false, newEngineError(ClassRevalidationFailure, "revalidation executor invocation failed", err)
	}

	remaining := ParseFailures(result.Combined())

	return len(remaining) == 0 && result.ExitCode == 0, nil
}

func (s *Session) recordSuccess(ctx context.Context, sig signature.Signature, patch Patch, provenance Provenance, rec ConfidenceRecord) error {
	outcome := AttemptOutcome{Signature: sig, Patch: patch, Status: StatusAppliedAndPassed, Timestamp: s.now()}

	if s.Success != nil {
		if err := s.Success.RecordSuccessfulPatch(ctx, outcome); err != nil {
			return err
		}
	}

	if s.Learned != nil {
		if err := s.Learned.Upsert(ctx, sig, patch, s.now()); err != nil {
			return err
		}
	}

	return nil
}

func (s *Session) abandon(ctx context.Context, sig signature.Signature) SignatureOutcome {
	if err := s.Rollback.Abandon(ctx, sig, s.now()); err != nil {
		s.Log.Error().Err(err).Str("signature", string(sig)).Msg("failed to record manual-review abandonment")
	}

	return SignatureOutcome{Signature: sig, Status: StatusManualReview, Reason: "retry budget exhausted", Attempts: s.Confidence.AttemptCount(sig)}
}

func (s *Session) now() int64 {
	if s.Clock == nil {
		return 0
	}

	return s.Clock()
}

func allCleared(outcomes []SignatureOutcome) bool {
	for _, o := range outcomes {
		if o.Status != StatusAppliedAndPassed {
			return false
		}
	}

	return true
}

func mergeSignatureOutcomes(all, pass []SignatureOutcome) []SignatureOutcome {
	seen := make(map[signature.Signature]int, len(all))
	for i, o := range all {
		seen[o.Signature] = i
	}

	for _, o := range pass {
		if idx, ok := seen[o.Signature]; ok {
			all[idx] = o
			continue
		}

		seen[o.Signature] = len(all)
		all = append(all, o)
	}

	return all
}

