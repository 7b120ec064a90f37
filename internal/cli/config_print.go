package cli

import (
	"context"
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"
	"github.com/shde-project/shde/internal/config"
)

// newConfigCommand builds `shde config`: show the resolved configuration
// and which files contributed to it.
func newConfigCommand(cfg config.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("config", flag.ContinueOnError),
		Usage: "config",
		Short: "show resolved configuration",
		Long:  "Display the effective configuration and which files it was loaded from.",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			return execPrintConfig(o, cfg)
		},
	}
}

func execPrintConfig(o *IO, cfg config.Config) error {
	o.Println("effective_cwd=" + cfg.EffectiveCwd)
	o.Println("data_dir=" + cfg.DataDirAbs)
	o.Println("test_command=" + strings.Join(cfg.TestCommand, " "))
	o.Println("test_timeout_seconds=" + strconv.Itoa(cfg.TestTimeoutSeconds))
	o.Println("apply_threshold=" + strconv.FormatFloat(cfg.ApplyThreshold, 'f', -1, 64))
	o.Println("retry_threshold=" + strconv.FormatFloat(cfg.RetryThreshold, 'f', -1, 64))
	o.Println("validation_min_score=" + strconv.FormatFloat(cfg.ValidationMinScore, 'f', -1, 64))
	o.Println("max_attempts=" + strconv.Itoa(cfg.MaxAttempts))
	o.Println("max_retries=" + strconv.Itoa(cfg.MaxRetries))
	o.Println("session_max_retries=" + strconv.Itoa(cfg.SessionMaxRetries))
	o.Println("oracle_prompt_retries=" + strconv.Itoa(cfg.OraclePromptRetries))
	o.Println("allow_assertion_rewrite=" + strconv.FormatBool(cfg.AllowAssertionRewrite))

	o.Println("")
	o.Println("# sources")

	if cfg.Sources.Global == "" && cfg.Sources.Project == "" {
		o.Println("(defaults only)")
	} else {
		if cfg.Sources.Global != "" {
			o.Println("global_config=" + cfg.Sources.Global)
		}

		if cfg.Sources.Project != "" {
			o.Println("project_config=" + cfg.Sources.Project)
		}
	}

	return nil
}
