// Package config loads and merges SHDE configuration from defaults, a global
// user config file, a project config file, and CLI overrides, in that
// layered precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

// Config holds every tunable that controls a debugging session.
type Config struct {
	// ProjectRoot is the directory whose test suite and source files SHDE
	// operates on. Defaults to the working directory.
	ProjectRoot string `json:"project_root,omitempty"`

	// DataDir is the directory holding the persistence layout (learning_db.json,
	// patch_data/, rollback_backups/, debugging_report.json). Resolved relative
	// to ProjectRoot if not absolute.
	DataDir string `json:"data_dir,omitempty"`

	ApplyThreshold        float64 `json:"apply_threshold,omitempty"`
	RetryThreshold        float64 `json:"retry_threshold,omitempty"`
	ValidationMinScore    float64 `json:"validation_min_score,omitempty"`
	MaxAttempts           int     `json:"max_attempts,omitempty"`
	MaxRetries            int     `json:"max_retries,omitempty"`
	SessionMaxRetries     int     `json:"session_max_retries,omitempty"`
	OraclePromptRetries   int     `json:"oracle_prompt_retries,omitempty"`
	AllowAssertionRewrite bool    `json:"allow_assertion_rewrite"`

	// TestCommand is the Test Executor's command line, e.g. ["pytest", "-q"].
	// Targets a revalidation run restricts to are appended verbatim.
	TestCommand []string `json:"test_command,omitempty"`

	// TestTimeoutSeconds bounds one executor invocation. Zero means no
	// per-invocation deadline beyond the session's own context.
	TestTimeoutSeconds int `json:"test_timeout_seconds,omitempty"`

	// ConfidenceSeed seeds the Confidence Manager's jitter RNG. Zero means
	// "derive from wall-clock at construction", non-zero means deterministic
	// (used by tests and by operators who want reproducible sessions).
	ConfidenceSeed int64 `json:"confidence_seed,omitempty"`

	// EffectiveCwd and DataDirAbs are resolved, not serialized.
	EffectiveCwd string `json:"-"`
	DataDirAbs   string `json:"-"`

	Sources Sources `json:"-"`
}

// Sources records which config files contributed to the effective Config,
// for the `shde config` diagnostic command.
type Sources struct {
	Global  string
	Project string
}

// ConfigFileName is the default project config file name.
const ConfigFileName = ".shde.json"

// DefaultConfig returns the baseline defaults applied before any config file
// or CLI override is layered on top.
func DefaultConfig() Config {
	return Config{
		DataDir:               ".shde",
		ApplyThreshold:        0.75,
		RetryThreshold:        0.20,
		ValidationMinScore:    0.75,
		MaxAttempts:           3,
		MaxRetries:            3,
		SessionMaxRetries:     3,
		OraclePromptRetries:   3,
		AllowAssertionRewrite: true,
		TestCommand:           []string{"pytest", "-q"},
		TestTimeoutSeconds:    120,
	}
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	WorkDirOverride string // -C/--cwd
	ConfigPath      string // -c/--config, explicit file
	DataDirOverride string // --data-dir
	Env             map[string]string
}

// Load resolves configuration with precedence (highest wins):
//  1. Defaults
//  2. Global user config ($XDG_CONFIG_HOME/shde/config.json or ~/.config/shde/config.json)
//  3. Project config file (.shde.json in the working directory)
//  4. Explicit --config file, if given
//  5. CLI overrides (--data-dir)
func Load(in LoadInput) (Config, error) {
	workDir := in.WorkDirOverride
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("load config: getwd: %w", err)
		}

		workDir = wd
	}

	cfg := DefaultConfig()
	var sources Sources

	if globalCfg, present, globalPath, err := loadIfExists(globalConfigPath(in.Env)); err != nil {
		return Config{}, err
	} else if globalPath != "" {
		cfg = merge(cfg, globalCfg, present)
		sources.Global = globalPath
	}

	projectPath := filepath.Join(workDir, ConfigFileName)
	if projectCfg, present, foundPath, err := loadIfExists(projectPath); err != nil {
		return Config{}, err
	} else if foundPath != "" {
		cfg = merge(cfg, projectCfg, present)
		sources.Project = foundPath
	}

	if in.ConfigPath != "" {
		explicitCfg, present, foundPath, err := loadIfExists(in.ConfigPath)
		if err != nil {
			return Config{}, err
		}

		if foundPath == "" {
			return Config{}, fmt.Errorf("%w: %s", ErrConfigFileNotFound, in.ConfigPath)
		}

		cfg = merge(cfg, explicitCfg, present)
	}

	if in.DataDirOverride != "" {
		cfg.DataDir = in.DataDirOverride
	}

	if cfg.ProjectRoot == "" {
		cfg.ProjectRoot = workDir
	} else if !filepath.IsAbs(cfg.ProjectRoot) {
		cfg.ProjectRoot = filepath.Join(workDir, cfg.ProjectRoot)
	}

	cfg.EffectiveCwd = workDir
	cfg.Sources = sources

	if filepath.IsAbs(cfg.DataDir) {
		cfg.DataDirAbs = filepath.Clean(cfg.DataDir)
	} else {
		cfg.DataDirAbs = filepath.Join(cfg.ProjectRoot, cfg.DataDir)
	}

	return cfg, nil
}

func globalConfigPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "shde", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "shde", "config.json")
	}

	return ""
}

// presentFields records which top-level JSON keys actually appeared in a
// parsed config file, keyed by the field's json tag name. A key present
// with its zero value (e.g. "max_attempts": 0) is still present, and must
// be distinguished from a key the file never mentioned at all — that
// distinction is what lets merge overlay an explicit zero onto a
// non-zero base.
type presentFields map[string]bool

// loadIfExists reads and parses a hujson (JSON-with-comments) config file,
// returning both the unmarshalled Config and the set of keys the raw JSON
// object actually contained. Returns ("", nil) with no error if path is
// empty or the file is absent.
func loadIfExists(path string) (Config, presentFields, string, error) {
	if path == "" {
		return Config{}, nil, "", nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil, "", nil
		}

		return Config{}, nil, "", fmt.Errorf("%w: %s: %w", ErrConfigFileRead, path, err)
	}

	standard, err := hujson.Standardize(raw)
	if err != nil {
		return Config{}, nil, "", fmt.Errorf("%w: %s: %w", ErrConfigInvalid, path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(standard, &cfg); err != nil {
		return Config{}, nil, "", fmt.Errorf("%w: %s: %w", ErrConfigInvalid, path, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(standard, &fields); err != nil {
		return Config{}, nil, "", fmt.Errorf("%w: %s: %w", ErrConfigInvalid, path, err)
	}

	present := make(presentFields, len(fields))
	for key := range fields {
		present[key] = true
	}

	return cfg, present, path, nil
}

// merge overlays override's fields onto base, one field at a time, but only
// for fields present represents as having actually appeared in the source
// file. This is presence-based, not zero-check-based: a file that sets
// "max_attempts": 0 overlays a 0 onto base, which a naive
// "if override.MaxAttempts != 0" guard could never do, and a file that
// never mentions apply_threshold at all leaves base's value (inherited
// from an earlier, lower-precedence layer) untouched instead of resetting
// it to DefaultConfig's baseline.
func merge(base, override Config, present presentFields) Config {
	if present["project_root"] {
		base.ProjectRoot = override.ProjectRoot
	}

	if present["data_dir"] {
		base.DataDir = override.DataDir
	}

	if present["apply_threshold"] {
		base.ApplyThreshold = override.ApplyThreshold
	}

	if present["retry_threshold"] {
		base.RetryThreshold = override.RetryThreshold
	}

	if present["validation_min_score"] {
		base.ValidationMinScore = override.ValidationMinScore
	}

	if present["max_attempts"] {
		base.MaxAttempts = override.MaxAttempts
	}

	if present["max_retries"] {
		base.MaxRetries = override.MaxRetries
	}

	if present["session_max_retries"] {
		base.SessionMaxRetries = override.SessionMaxRetries
	}

	if present["oracle_prompt_retries"] {
		base.OraclePromptRetries = override.OraclePromptRetries
	}

	if present["confidence_seed"] {
		base.ConfidenceSeed = override.ConfidenceSeed
	}

	if present["test_command"] {
		base.TestCommand = override.TestCommand
	}

	if present["test_timeout_seconds"] {
		base.TestTimeoutSeconds = override.TestTimeoutSeconds
	}

	if present["allow_assertion_rewrite"] {
		base.AllowAssertionRewrite = override.AllowAssertionRewrite
	}

	return base
}
