package engine

import (
	"context"
	"fmt"

	"github.com/shde-project/shde/internal/signature"
)

// Restorer is the read/restore-only view of the Backup Vault the Rollback
// Manager is allowed to use: it consults the vault but never writes to it,
// so there is no Ensure/snapshot method here.
type Restorer interface {
	Restore(ctx context.Context, sessionID, path string) error
}

// FailedPatchRecorder is the Patch Tracker's write view for the one ledger
// the Rollback Manager appends to.
type FailedPatchRecorder interface {
	RecordFailedPatch(ctx context.Context, outcome AttemptOutcome) error
}

// RollbackManager implements C8: restoring a failed patch's touched files,
// then retrying previously failed patches for the same signature in
// reverse order before giving up.
type RollbackManager struct {
	vault      Restorer
	tracker    FailedPatchRecorder
	maxRetries int

	tried map[signature.Signature][]Patch // patches tried so far, in original order
}

// NewRollbackManager constructs a Rollback Manager bounded to maxRetries
// alternate-order passes per signature (default 3).
func NewRollbackManager(vault Restorer, tracker FailedPatchRecorder, maxRetries int) *RollbackManager {
	return &RollbackManager{
		vault:      vault,
		tracker:    tracker,
		maxRetries: maxRetries,
		tried:      make(map[signature.Signature][]Patch),
	}
}

// RecordTried registers that patch was attempted for sig, in the order it
// was tried — required to compute the reverse retry order later.
func (r *RollbackManager) RecordTried(sig signature.Signature, patch Patch) {
	r.tried[sig] = append(r.tried[sig], patch)
}

// RevertPatch restores every file the patch touched and records an
// APPLIED_AND_FAILED outcome.
func (r *RollbackManager) RevertPatch(ctx context.Context, sessionID string, patch Patch, timestamp int64) error {
	for path := range patch.Files {
		if err := r.vault.Restore(ctx, sessionID, path); err != nil {
			return fmt.Errorf("rollback: restore %q: %w", path, err)
		}
	}

	outcome := AttemptOutcome{
		Signature: patch.Signature,
		Patch:     patch,
		Status:    StatusAppliedAndFailed,
		Timestamp: timestamp,
	}

	if err := r.tracker.RecordFailedPatch(ctx, outcome); err != nil {
		return fmt.Errorf("rollback: record failed patch: %w", err)
	}

	return nil
}

// AlternateRetryOrder returns sig's previously failed patches in a
// deterministic alternate order — reverse of their original try order —
// capped at maxRetries entries.
func (r *RollbackManager) AlternateRetryOrder(sig signature.Signature) []Patch {
	tried := r.tried[sig]

	n := len(tried)
	if n > r.maxRetries {
		n = r.maxRetries
	}

	out := make([]Patch, 0, n)
	for i := len(tried) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, tried[i])
	}

	return out
}

// Abandon marks sig as exhausted, producing its terminal MANUAL_REVIEW
// outcome. No further escalation for sig is attempted after this.
func (r *RollbackManager) Abandon(ctx context.Context, sig signature.Signature, timestamp int64) error {
	outcome := AttemptOutcome{
		Signature: sig,
		Status:    StatusManualReview,
		Timestamp: timestamp,
	}

	return r.tracker.RecordFailedPatch(ctx, outcome)
}
