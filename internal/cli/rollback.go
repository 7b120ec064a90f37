package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"
	"github.com/shde-project/shde/internal/config"
)

// newRollbackCommand builds `shde rollback`: list backed-up originals and,
// with --interactive, restore them from a readline-style REPL.
func newRollbackCommand(cfg config.Config) *Command {
	flags := flag.NewFlagSet("rollback", flag.ContinueOnError)
	interactive := flags.Bool("interactive", false, "open an interactive REPL to inspect and restore backups")
	session := flags.String("session", "", "restore every file backed up under this session id (non-interactive)")

	return &Command{
		Flags: flags,
		Usage: "rollback [--interactive] [--session id]",
		Short: "inspect or restore rollback backups",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			a, err := newApp(cfg)
			if err != nil {
				return err
			}

			if *interactive {
				return (&rollbackREPL{app: a, o: o}).run()
			}

			if *session != "" {
				return restoreSession(ctx, a, o, *session)
			}

			return listBackups(a, o)
		},
	}
}

func listBackups(a *app, o *IO) error {
	sessions, err := a.vault.ListSessions()
	if err != nil {
		return err
	}

	if len(sessions) == 0 {
		o.Println("no backups on disk")
		return nil
	}

	for _, sessionID := range sessions {
		paths, err := a.vault.ListBackups(sessionID)
		if err != nil {
			return err
		}

		o.Printf("%s  (%d files)\n", sessionID, len(paths))

		for _, p := range paths {
			o.Printf("  %s\n", p)
		}
	}

	return nil
}

func restoreSession(ctx context.Context, a *app, o *IO, sessionID string) error {
	paths, err := a.vault.ListBackups(sessionID)
	if err != nil {
		return err
	}

	if len(paths) == 0 {
		return fmt.Errorf("rollback: no backups found for session %q", sessionID)
	}

	for _, p := range paths {
		if err := a.vault.Restore(ctx, sessionID, p); err != nil {
			return fmt.Errorf("rollback: restore %q: %w", p, err)
		}

		o.Println("restored:", p)
	}

	return nil
}

// rollbackREPL is the interactive half of `shde rollback`: prompt,
// tokenize, dispatch on the first word, persist history across
// invocations.
type rollbackREPL struct {
	app *app
	o   *IO

	liner *liner.State
}

func rollbackHistoryFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".shde_rollback_history")
}

func (r *rollbackREPL) run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)

	if f, err := os.Open(rollbackHistoryFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	r.o.Println("shde rollback - interactive backup browser")
	r.o.Println("Type 'help' for available commands.")
	r.o.Println()

	for {
		line, err := r.liner.Prompt("shde rollback> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				r.o.Println("\nBye!")
				r.saveHistory()

				return nil
			}

			return fmt.Errorf("rollback: reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			r.o.Println("Bye!")
			r.saveHistory()

			return nil

		case "help", "?":
			r.printHelp()

		case "sessions", "ls":
			r.cmdSessions()

		case "show":
			r.cmdShow(args)

		case "restore":
			r.cmdRestore(args)

		default:
			r.o.Printf("unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (r *rollbackREPL) printHelp() {
	r.o.Println("commands:")
	r.o.Println("  sessions              list session ids with on-disk backups")
	r.o.Println("  show <session>        list files backed up under a session")
	r.o.Println("  restore <session>     restore every file for a session")
	r.o.Println("  restore <session> <file>  restore a single file")
	r.o.Println("  exit                  leave the REPL")
}

func (r *rollbackREPL) cmdSessions() {
	sessions, err := r.app.vault.ListSessions()
	if err != nil {
		r.o.Println("error:", err)
		return
	}

	if len(sessions) == 0 {
		r.o.Println("no backups on disk")
		return
	}

	for _, s := range sessions {
		r.o.Println(s)
	}
}

func (r *rollbackREPL) cmdShow(args []string) {
	if len(args) != 1 {
		r.o.Println("usage: show <session>")
		return
	}

	paths, err := r.app.vault.ListBackups(args[0])
	if err != nil {
		r.o.Println("error:", err)
		return
	}

	for _, p := range paths {
		r.o.Println(p)
	}
}

func (r *rollbackREPL) cmdRestore(args []string) {
	if len(args) < 1 {
		r.o.Println("usage: restore <session> [file]")
		return
	}

	sessionID := args[0]
	ctx := context.Background()

	if len(args) == 2 {
		if err := r.app.vault.Restore(ctx, sessionID, args[1]); err != nil {
			r.o.Println("error:", err)
			return
		}

		r.o.Println("restored:", args[1])

		return
	}

	paths, err := r.app.vault.ListBackups(sessionID)
	if err != nil {
		r.o.Println("error:", err)
		return
	}

	for _, p := range paths {
		if err := r.app.vault.Restore(ctx, sessionID, p); err != nil {
			r.o.Println("error:", err)
			return
		}

		r.o.Println("restored:", p)
	}
}

func (r *rollbackREPL) saveHistory() {
	path := rollbackHistoryFile()
	if path == "" {
		return
	}

	var buf bytes.Buffer
	if _, err := r.liner.WriteHistory(&buf); err != nil {
		return
	}

	_ = atomic.WriteFile(path, &buf)
}
