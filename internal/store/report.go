package store

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/shde-project/shde/internal/ledger"
	"github.com/shde-project/shde/internal/signature"
	"github.com/shde-project/shde/pkg/fs"
)

// Disposition is a signature's final state for the session, as surfaced in
// the user-visible report.
type Disposition string

const (
	DispositionFixed        Disposition = "FIXED"
	DispositionManualReview Disposition = "MANUAL_REVIEW"
	DispositionAborted      Disposition = "ABORTED"
)

// SignatureReport is one signature's entry in the merged report.
type SignatureReport struct {
	Signature   signature.Signature `json:"signature"`
	Disposition Disposition         `json:"disposition"`
	Reason      string              `json:"reason,omitempty"`
	Attempts    int                 `json:"attempts"`
}

// SessionReport is C10's merged, durable view: per-signature dispositions,
// oracle rationales, and aggregate performance.
type SessionReport struct {
	SessionID   string                      `json:"session_id"`
	Signatures  []SignatureReport           `json:"signatures"`
	Oracle      []OracleFeedback            `json:"oracle_feedback"`
	Performance map[string]DailyPerformance `json:"performance"`
	ExitCode    int                         `json:"exit_code"`
}

// ArtifactSink optionally consumes a finished SessionReport (e-mail, chat,
// file). Absence must never fail the session; callers treat a nil
// ArtifactSink as "no sink configured" and skip the call entirely.
type ArtifactSink interface {
	Send(ctx context.Context, report SessionReport) error
}

// Reporter implements C10: it merges per-session artifacts into
// debugging_report.json and exposes a read view (LoadReport) for the `logs`
// CLI command. The `performance` command reads the Tracker's performance
// ledger instead.
type Reporter struct {
	doc  *ledger.Document[SessionReport]
	sink ArtifactSink
}

// NewReporter opens the report document at dataDir/debugging_report.json.
// sink may be nil.
func NewReporter(fsys fs.FS, dataDir string, sink ArtifactSink) *Reporter {
	path := filepath.Join(dataDir, "debugging_report.json")

	return &Reporter{doc: ledger.NewDocument[SessionReport](fsys, path), sink: sink}
}

// Merge writes report as the new debugging_report.json and, if a sink is
// configured, forwards it. The report is saved before Send is called; a
// Send error is returned to the caller.
func (r *Reporter) Merge(ctx context.Context, report SessionReport) error {
	if err := r.doc.Save(report); err != nil {
		return fmt.Errorf("store: save report: %w", err)
	}

	if r.sink == nil {
		return nil
	}

	return r.sink.Send(ctx, report)
}

// LoadReport returns the most recently merged report, if any.
func (r *Reporter) LoadReport() (SessionReport, bool, error) {
	report, existed, err := r.doc.Load()
	if err != nil {
		return SessionReport{}, false, fmt.Errorf("store: load report: %w", err)
	}

	return report, existed, nil
}

// BuildSessionReport assembles a SessionReport from per-signature
// dispositions, the tracker's oracle feedback, and its performance ledger —
// the Controller calls this once at session end (Success, Partial, or
// Aborted) before handing the result to Merge.
func BuildSessionReport(sessionID string, sigs []SignatureReport, tr *Tracker, exitCode int) (SessionReport, error) {
	oracle, err := tr.OracleFeedbackAll()
	if err != nil {
		return SessionReport{}, err
	}

	perf, err := tr.PerformanceAll()
	if err != nil {
		return SessionReport{}, err
	}

	return SessionReport{
		SessionID:   sessionID,
		Signatures:  sigs,
		Oracle:      oracle,
		Performance: perf,
		ExitCode:    exitCode,
	}, nil
}

