package cli

import (
	"context"
	"sort"

	flag "github.com/spf13/pflag"
	"github.com/shde-project/shde/internal/config"
)

// newPerformanceCommand builds `shde performance`: print the Patch
// Tracker's daily performance roll-ups.
func newPerformanceCommand(cfg config.Config) *Command {
	flags := flag.NewFlagSet("performance", flag.ContinueOnError)

	return &Command{
		Flags: flags,
		Usage: "performance",
		Short: "show daily fix-rate roll-ups",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return runPerformance(ctx, o, cfg)
		},
	}
}

func runPerformance(ctx context.Context, o *IO, cfg config.Config) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	perf, err := a.tracker.PerformanceAll()
	if err != nil {
		return err
	}

	if len(perf) == 0 {
		o.Println("no performance data recorded yet")
		return nil
	}

	days := make([]string, 0, len(perf))
	for day := range perf {
		days = append(days, day)
	}

	sort.Strings(days)

	for _, day := range days {
		d := perf[day]
		o.Printf("%s  fixes=%d success_rate=%.2f %s\n", day, d.TotalFixes, d.SuccessRate, d.FeedbackSummary)
	}

	return nil
}
