package cli

import (
	"context"

	flag "github.com/spf13/pflag"
	"github.com/shde-project/shde/internal/config"
)

// newLogsCommand builds `shde logs`: print the most recently merged
// debugging_report.json plus the full oracle-feedback history, the same
// "read the durable artifact back out" shape C10 exists for.
func newLogsCommand(cfg config.Config) *Command {
	flags := flag.NewFlagSet("logs", flag.ContinueOnError)

	return &Command{
		Flags: flags,
		Usage: "logs",
		Short: "show the most recent session report and oracle feedback",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return runLogs(ctx, o, cfg)
		},
	}
}

func runLogs(ctx context.Context, o *IO, cfg config.Config) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	report, existed, err := a.report.LoadReport()
	if err != nil {
		return err
	}

	if !existed {
		o.Println("no sessions recorded yet")
		return nil
	}

	printReport(o, report)

	if len(report.Oracle) == 0 {
		return nil
	}

	o.Println()
	o.Println("oracle feedback:")

	for _, fb := range report.Oracle {
		status := "rejected"
		if fb.Accepted {
			status = "accepted"
		}

		o.Printf("  %s  provider=%s attempt=%d %s %s\n", fb.Signature, fb.Provider, fb.Attempt, status, fb.Reason)
	}

	return nil
}
