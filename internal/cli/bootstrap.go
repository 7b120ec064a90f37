package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shde-project/shde/internal/backup"
	"github.com/shde-project/shde/internal/config"
	"github.com/shde-project/shde/internal/engine"
	"github.com/shde-project/shde/internal/executor"
	"github.com/shde-project/shde/internal/oracle"
	"github.com/shde-project/shde/internal/store"
	"github.com/shde-project/shde/pkg/fs"
)

// Compile-time checks that the concrete collaborators newApp/newSession
// wire into engine.Session actually satisfy the narrow interfaces it
// depends on — the two packages otherwise never sit side by side in a
// single import graph that could catch a mismatch at build time.
var (
	_ engine.SourceFS        = (*fs.Real)(nil)
	_ engine.OracleSuggester = (*oracle.Adapter)(nil)
)

// app bundles every collaborator a command needs, assembled once per CLI
// invocation from the resolved Config and handed to each command's Exec
// closure (see allCommands in run.go).
type app struct {
	cfg     config.Config
	fsys    fs.FS
	learned *store.LearnedStore
	tracker *store.Tracker
	vault   *backup.Vault
	report  *store.Reporter
	log     zerolog.Logger
}

// newApp opens every persistence component rooted at cfg.DataDirAbs. Errors
// here are always usage/environment errors (e.g. an unwritable data
// directory), never a reason to retry.
func newApp(cfg config.Config) (*app, error) {
	fsys := fs.NewReal()

	if err := fsys.MkdirAll(cfg.DataDirAbs, 0o755); err != nil {
		return nil, fmt.Errorf("cli: create data dir %q: %w", cfg.DataDirAbs, err)
	}

	log := zerolog.New(os.Stderr).With().Timestamp().Str("component", "shde").Logger()

	learned, err := store.NewLearnedStore(fsys, cfg.DataDirAbs, log)
	if err != nil {
		return nil, fmt.Errorf("cli: open learned-fix store: %w", err)
	}

	tracker, err := store.NewTracker(fsys, cfg.DataDirAbs, log)
	if err != nil {
		return nil, fmt.Errorf("cli: open patch tracker: %w", err)
	}

	vault := backup.New(fsys, cfg.DataDirAbs)
	reporter := store.NewReporter(fsys, cfg.DataDirAbs, nil)

	return &app{cfg: cfg, fsys: fsys, learned: learned, tracker: tracker, vault: vault, report: reporter, log: log}, nil
}

// newSession assembles a Debug Loop Controller Session wired to a.
func (a *app) newSession() *engine.Session {
	cfg := a.cfg

	timeout := time.Duration(cfg.TestTimeoutSeconds) * time.Second
	exec := executor.NewCommand(cfg.ProjectRoot, cfg.TestCommand, timeout)

	confidenceSeed := uint64(cfg.ConfidenceSeed)
	if confidenceSeed == 0 {
		confidenceSeed = uint64(time.Now().UnixNano())
	}

	confidence := engine.NewConfidenceManager(a.tracker, cfg.ApplyThreshold, cfg.RetryThreshold, cfg.MaxAttempts, confidenceSeed)
	rollback := engine.NewRollbackManager(a.vault, a.tracker, cfg.MaxRetries)

	// No concrete Patch Oracle providers are wired: concrete LLM providers
	// are an out-of-scope external collaborator here, so the adapter runs
	// with an empty provider list, which Suggest treats as "no oracle
	// available" rather than an error.
	orc := oracle.NewAdapter(nil, cfg.OraclePromptRetries, cfg.ValidationMinScore, confidenceSeed, a.log)

	return &engine.Session{
		Executor:              exec,
		Learned:               a.learned,
		Vault:                 a.vault,
		Confidence:            confidence,
		Rollback:              rollback,
		Oracle:                orc,
		Feedback:              a.tracker,
		Success:               a.tracker,
		Failed:                a.tracker,
		Source:                a.fsys,
		Clock:                 func() int64 { return time.Now().Unix() },
		Log:                   a.log,
		AllowAssertionRewrite: cfg.AllowAssertionRewrite,
		SessionMaxRetries:     cfg.SessionMaxRetries,
	}
}

func newSessionID() string {
	return fmt.Sprintf("sess-%d", time.Now().UnixNano())
}
