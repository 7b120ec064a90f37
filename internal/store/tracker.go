package store

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/shde-project/shde/internal/engine"
	"github.com/shde-project/shde/internal/ledger"
	"github.com/shde-project/shde/internal/oracle"
	"github.com/shde-project/shde/internal/signature"
	"github.com/shde-project/shde/pkg/fs"
)

var (
	_ engine.SuccessRecorder     = (*Tracker)(nil)
	_ engine.FailedPatchRecorder = (*Tracker)(nil)
	_ engine.HistoryReader       = (*Tracker)(nil)
	_ oracle.FeedbackRecorder    = (*Tracker)(nil)
)

// ImportFixTally is the per-module success/failure count the import-fix
// ledger keeps, stored at `patch_data/import_fixes.json`.
type ImportFixTally struct {
	Fixed  int `json:"fixed"`
	Failed int `json:"failed"`
}

// OracleFeedback is one Patch Oracle Adapter invocation record.
type OracleFeedback struct {
	Signature signature.Signature `json:"signature"`
	Provider  string              `json:"provider"`
	Attempt   int                 `json:"attempt"`
	Accepted  bool                `json:"accepted"`
	Reason    string              `json:"reason,omitempty"`
	Timestamp int64               `json:"timestamp"`
}

// DailyPerformance is one day's aggregate roll-up.
type DailyPerformance struct {
	TotalFixes      int     `json:"total_fixes"`
	SuccessRate     float64 `json:"success_rate"`
	FeedbackSummary string  `json:"feedback_summary,omitempty"`
}

type (
	outcomeLedgerDoc map[signature.Signature][]engine.AttemptOutcome
	importFixesDoc   map[string]ImportFixTally
	performanceDoc   map[string]DailyPerformance
)

// Tracker implements C3: the five append-only ledgers covering patch
// outcomes, import fixes, and performance. Every mutation goes through
// internal/ledger's atomic-replace or
// append-only primitives, so a crash between two writes never corrupts a
// ledger — the file is either the old content or the new content.
type Tracker struct {
	fsys fs.FS
	log  zerolog.Logger

	failed      *ledger.Document[outcomeLedgerDoc]
	successful  *ledger.Document[outcomeLedgerDoc]
	importFixes *ledger.Document[importFixesDoc]
	performance *ledger.Document[performanceDoc]

	oracleFeedbackPath string
}

// NewTracker opens all five ledgers under dataDir/patch_data, quarantining
// any that fail to parse as valid JSON and starting that one empty.
func NewTracker(fsys fs.FS, dataDir string, log zerolog.Logger) (*Tracker, error) {
	patchDataDir := filepath.Join(dataDir, "patch_data")

	failed, err := openOrQuarantine[outcomeLedgerDoc](fsys, filepath.Join(patchDataDir, "failed_patches.json"), log)
	if err != nil {
		return nil, err
	}

	successful, err := openOrQuarantine[outcomeLedgerDoc](fsys, filepath.Join(patchDataDir, "successful_patches.json"), log)
	if err != nil {
		return nil, err
	}

	importFixes, err := openOrQuarantine[importFixesDoc](fsys, filepath.Join(patchDataDir, "import_fixes.json"), log)
	if err != nil {
		return nil, err
	}

	performance, err := openOrQuarantine[performanceDoc](fsys, filepath.Join(patchDataDir, "performance.json"), log)
	if err != nil {
		return nil, err
	}

	return &Tracker{
		fsys:               fsys,
		log:                log,
		failed:             failed,
		successful:         successful,
		importFixes:        importFixes,
		performance:        performance,
		oracleFeedbackPath: filepath.Join(patchDataDir, "oracle_feedback.json"),
	}, nil
}

func openOrQuarantine[T any](fsys fs.FS, path string, log zerolog.Logger) (*ledger.Document[T], error) {
	doc := ledger.NewDocument[T](fsys, path)

	if _, _, err := doc.Load(); err != nil {
		if qerr := quarantine(fsys, path, log); qerr != nil {
			return nil, fmt.Errorf("store: quarantine %q: %w", path, qerr)
		}

		doc = ledger.NewDocument[T](fsys, path)
	}

	return doc, nil
}

// RecordFailedPatch appends outcome to the failed_patches ledger, keyed by
// signature. Satisfies engine.FailedPatchRecorder.
func (t *Tracker) RecordFailedPatch(ctx context.Context, outcome engine.AttemptOutcome) error {
	_, err := t.failed.Update(ctx, func(cur outcomeLedgerDoc, existed bool) (outcomeLedgerDoc, error) {
		if cur == nil {
			cur = make(outcomeLedgerDoc)
		}

		cur[outcome.Signature] = append(cur[outcome.Signature], outcome)

		return cur, nil
	})
	if err != nil {
		return fmt.Errorf("store: record failed patch: %w", err)
	}

	return nil
}

// RecordSuccessfulPatch appends outcome to the successful_patches ledger.
func (t *Tracker) RecordSuccessfulPatch(ctx context.Context, outcome engine.AttemptOutcome) error {
	_, err := t.successful.Update(ctx, func(cur outcomeLedgerDoc, existed bool) (outcomeLedgerDoc, error) {
		if cur == nil {
			cur = make(outcomeLedgerDoc)
		}

		cur[outcome.Signature] = append(cur[outcome.Signature], outcome)

		return cur, nil
	})
	if err != nil {
		return fmt.Errorf("store: record successful patch: %w", err)
	}

	return nil
}

// OutcomesFor returns every recorded outcome (failed and successful) for
// sig, satisfying engine.HistoryReader for the Confidence Manager.
func (t *Tracker) OutcomesFor(sig signature.Signature) ([]engine.AttemptOutcome, error) {
	failedDoc, _, err := t.failed.Load()
	if err != nil {
		return nil, fmt.Errorf("store: load failed ledger: %w", err)
	}

	successDoc, _, err := t.successful.Load()
	if err != nil {
		return nil, fmt.Errorf("store: load successful ledger: %w", err)
	}

	out := append([]engine.AttemptOutcome{}, failedDoc[sig]...)
	out = append(out, successDoc[sig]...)

	return out, nil
}

// RecordImportFix increments the fixed or failed tally for module.
func (t *Tracker) RecordImportFix(ctx context.Context, module string, fixed bool) error {
	_, err := t.importFixes.Update(ctx, func(cur importFixesDoc, existed bool) (importFixesDoc, error) {
		if cur == nil {
			cur = make(importFixesDoc)
		}

		tally := cur[module]
		if fixed {
			tally.Fixed++
		} else {
			tally.Failed++
		}

		cur[module] = tally

		return cur, nil
	})
	if err != nil {
		return fmt.Errorf("store: record import fix for %q: %w", module, err)
	}

	return nil
}

// RecordOracleFeedback appends a record to the oracle_feedback ledger,
// which is a flat list rather than a keyed map — implemented as
// line-delimited JSON via internal/ledger.AppendJSONL so a
// crash mid-append never corrupts prior entries. Takes oracle.Feedback
// directly (rather than the local OracleFeedback type) so *Tracker
// structurally satisfies oracle.FeedbackRecorder and the Controller can
// hand it straight to the Patch Oracle Adapter.
func (t *Tracker) RecordOracleFeedback(ctx context.Context, fb oracle.Feedback) error {
	record := OracleFeedback{
		Signature: fb.Signature,
		Provider:  fb.Provider,
		Attempt:   fb.Attempt,
		Accepted:  fb.Accepted,
		Reason:    fb.Reason,
		Timestamp: fb.Timestamp,
	}

	if err := ledger.AppendJSONL(ctx, t.fsys, t.oracleFeedbackPath, record); err != nil {
		return fmt.Errorf("store: record oracle feedback: %w", err)
	}

	return nil
}

// OracleFeedbackAll reads every recorded oracle invocation.
func (t *Tracker) OracleFeedbackAll() ([]OracleFeedback, error) {
	records, err := ledger.ReadJSONL[OracleFeedback](t.fsys, t.oracleFeedbackPath)
	if err != nil {
		return nil, fmt.Errorf("store: read oracle feedback: %w", err)
	}

	return records, nil
}

// RollUpPerformance upserts date's daily aggregate with the caller-supplied
// totals; success_rate is stored as given, not recomputed from the ledgers.
func (t *Tracker) RollUpPerformance(ctx context.Context, date string, totalFixes int, successRate float64, feedbackSummary string) error {
	_, err := t.performance.Update(ctx, func(cur performanceDoc, existed bool) (performanceDoc, error) {
		if cur == nil {
			cur = make(performanceDoc)
		}

		cur[date] = DailyPerformance{TotalFixes: totalFixes, SuccessRate: successRate, FeedbackSummary: feedbackSummary}

		return cur, nil
	})
	if err != nil {
		return fmt.Errorf("store: roll up performance for %q: %w", date, err)
	}

	return nil
}

// PerformanceAll returns the full performance ledger.
func (t *Tracker) PerformanceAll() (map[string]DailyPerformance, error) {
	doc, _, err := t.performance.Load()
	if err != nil {
		return nil, fmt.Errorf("store: load performance ledger: %w", err)
	}

	return doc, nil
}

// FailedSignatures returns every signature with at least one recorded
// failed-patch outcome, used by the `rollback` CLI command to list
// candidates for manual inspection.
func (t *Tracker) FailedSignatures() ([]signature.Signature, error) {
	doc, _, err := t.failed.Load()
	if err != nil {
		return nil, fmt.Errorf("store: load failed ledger: %w", err)
	}

	out := make([]signature.Signature, 0, len(doc))
	for sig := range doc {
		out = append(out, sig)
	}

	return out, nil
}
