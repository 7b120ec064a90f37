package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"
	"github.com/shde-project/shde/internal/config"
)

// newRepairCommand builds `shde repair`. Opening the Learned-Fix Store and
// Patch Tracker (via newApp) already quarantines any corrupt ledger file it
// finds — a corrupt file is renamed with a timestamp suffix and recreated
// empty — so repair's job is to surface what got quarantined, on this run
// or a previous one, and let the operator clear the clutter once they've
// looked.
func newRepairCommand(cfg config.Config) *Command {
	flags := flag.NewFlagSet("repair", flag.ContinueOnError)
	dryRun := flags.Bool("dry-run", false, "list quarantined files without removing them")

	return &Command{
		Flags: flags,
		Usage: "repair [--dry-run]",
		Short: "surface and clean up quarantined persistence files",
		Long: "repair opens every ledger (which quarantines any corrupt file it finds)\n" +
			"then lists every *.corrupt-<timestamp> file left under the data directory.\n" +
			"Without --dry-run, those files are removed once listed.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return runRepair(ctx, o, cfg, *dryRun)
		},
	}
}

func runRepair(ctx context.Context, o *IO, cfg config.Config, dryRun bool) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	quarantined, err := findQuarantined(a, cfg.DataDirAbs)
	if err != nil {
		return err
	}

	if len(quarantined) == 0 {
		o.Println("nothing to repair")
		return nil
	}

	for _, path := range quarantined {
		if dryRun {
			o.Println("would remove:", path)
			continue
		}

		if err := a.fsys.Remove(path); err != nil {
			return fmt.Errorf("repair: remove %q: %w", path, err)
		}

		o.Println("removed:", path)
	}

	return nil
}

// findQuarantined walks dataDir and patch_data/ one level deep (the only
// two directories any ledger ever quarantines into) collecting
// "*.corrupt-<nanoseconds>" entries.
func findQuarantined(a *app, dataDir string) ([]string, error) {
	var out []string

	dirs := []string{dataDir, filepath.Join(dataDir, "patch_data")}

	for _, dir := range dirs {
		entries, err := a.fsys.ReadDir(dir)
		if err != nil {
			continue // absent directory is not an error here
		}

		for _, e := range entries {
			if strings.Contains(e.Name(), ".corrupt-") {
				out = append(out, filepath.Join(dir, e.Name()))
			}
		}
	}

	return out, nil
}
