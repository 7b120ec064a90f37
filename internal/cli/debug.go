package cli

import (
	"context"
	"fmt"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/shde-project/shde/internal/config"
	"github.com/shde-project/shde/internal/engine"
	"github.com/shde-project/shde/internal/store"
)

// newDebugCommand builds `shde debug`, the entry point into the Debug Loop
// Controller: run the test suite, triage every failure, and either fix it,
// roll it back, or flag it for manual review.
func newDebugCommand(cfg config.Config) *Command {
	flags := flag.NewFlagSet("debug", flag.ContinueOnError)
	targets := flags.StringSlice("file", nil, "restrict each pass's test run to these files/targets (repeatable)")

	return &Command{
		Flags: flags,
		Usage: "debug [--file path]",
		Short: "run the test suite and self-heal any failures",
		Long: "debug runs the configured test command, classifies every failing test by\n" +
			"signature, and escalates LEARNED -> PATTERN -> ORACLE fixes until the suite\n" +
			"passes or every signature is exhausted. Exit code 0 means every failure was\n" +
			"fixed, 1 means at least one signature ended in MANUAL_REVIEW, 2 means the\n" +
			"session aborted on an invariant violation.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return runDebug(ctx, o, cfg, *targets)
		},
	}
}

func runDebug(ctx context.Context, o *IO, cfg config.Config, targets []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	session := a.newSession()
	sessionID := newSessionID()

	outcome, err := session.RunSession(ctx, sessionID, targets)
	if err != nil {
		return &AbortedError{Err: fmt.Errorf("debug: %w", err)}
	}

	exitCode := exitCodeFor(outcome.Terminal)

	sigs := make([]store.SignatureReport, 0, len(outcome.Signatures))
	for _, s := range outcome.Signatures {
		sigs = append(sigs, store.SignatureReport{
			Signature:   s.Signature,
			Disposition: dispositionFor(s.Status, outcome.Terminal),
			Reason:      s.Reason,
			Attempts:    s.Attempts,
		})
	}

	if err := rollUpPerformance(ctx, a.tracker, sigs); err != nil {
		return fmt.Errorf("debug: roll up performance: %w", err)
	}

	report, err := store.BuildSessionReport(sessionID, sigs, a.tracker, exitCode)
	if err != nil {
		return fmt.Errorf("debug: build report: %w", err)
	}

	if err := a.report.Merge(ctx, report); err != nil {
		return fmt.Errorf("debug: merge report: %w", err)
	}

	printReport(o, report)

	if outcome.Terminal == engine.TerminalAborted {
		return &AbortedError{Err: fmt.Errorf("session %s aborted: invariant violation", sessionID)}
	}

	if outcome.Terminal == engine.TerminalPartial {
		o.WarnLLM("one or more signatures ended in MANUAL_REVIEW", "inspect debugging_report.json and the backed-up originals under the data directory")
	}

	return nil
}

// rollUpPerformance aggregates this session's signature dispositions into
// today's daily performance entry, so patch_data/performance.json and the
// `performance` command reflect real sessions instead of staying empty.
func rollUpPerformance(ctx context.Context, tracker *store.Tracker, sigs []store.SignatureReport) error {
	if len(sigs) == 0 {
		return nil
	}

	fixed := 0

	for _, s := range sigs {
		if s.Disposition == store.DispositionFixed {
			fixed++
		}
	}

	successRate := float64(fixed) / float64(len(sigs))
	date := time.Now().UTC().Format("2006-01-02")
	summary := fmt.Sprintf("%d/%d signatures fixed", fixed, len(sigs))

	return tracker.RollUpPerformance(ctx, date, fixed, successRate, summary)
}

func exitCodeFor(t engine.TerminalState) int {
	switch t {
	case engine.TerminalSuccess:
		return 0
	case engine.TerminalAborted:
		return 2
	default:
		return 1
	}
}

func dispositionFor(status engine.AttemptStatus, terminal engine.TerminalState) store.Disposition {
	if terminal == engine.TerminalAborted {
		return store.DispositionAborted
	}

	if status == engine.StatusAppliedAndPassed {
		return store.DispositionFixed
	}

	return store.DispositionManualReview
}

func printReport(o *IO, report store.SessionReport) {
	o.Printf("session %s: exit %d\n", report.SessionID, report.ExitCode)

	for _, sig := range report.Signatures {
		o.Printf("  %s  %-14s attempts=%d %s\n", sig.Signature, sig.Disposition, sig.Attempts, sig.Reason)
	}
}
