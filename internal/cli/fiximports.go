package cli

import (
	"context"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
	"github.com/shde-project/shde/internal/config"
	"github.com/shde-project/shde/internal/engine"
)

// newFixImportsCommand builds `shde fix-imports`, a standalone escape hatch
// for C5's import handler: given a raw "No module named 'x'" message and a
// target file, apply the same prepend-import rewrite the Debug Loop
// Controller would, without running a full debug session. Useful for an
// operator who already knows the fix and just wants the tally recorded.
func newFixImportsCommand(cfg config.Config) *Command {
	flags := flag.NewFlagSet("fix-imports", flag.ContinueOnError)
	file := flags.String("file", "", "path to the source file to patch (required)")
	message := flags.String("message", "", "the raw \"No module named 'x'\" error text (required)")

	return &Command{
		Flags: flags,
		Usage: "fix-imports --file path --message text",
		Short: "apply the import pattern-fixer to one file directly",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if *file == "" || *message == "" {
				return fmt.Errorf("fix-imports: both --file and --message are required")
			}

			return runFixImports(ctx, o, cfg, *file, *message)
		},
	}
}

func runFixImports(ctx context.Context, o *IO, cfg config.Config, path, message string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("fix-imports: read %s: %w", path, err)
	}

	f := engine.Failure{
		FilePath:     path,
		ErrorKind:    engine.KindImportError,
		ErrorMessage: message,
	}

	out, applied := engine.RunPatternFixer(src, f, cfg.AllowAssertionRewrite)
	if err := a.tracker.RecordImportFix(ctx, path, applied); err != nil {
		return fmt.Errorf("fix-imports: record tally: %w", err)
	}

	if !applied {
		o.Println("no change:", path, "- message did not match the import pattern, or the import already exists")
		return nil
	}

	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("fix-imports: write %s: %w", path, err)
	}

	o.Println("fixed:", path)

	return nil
}
