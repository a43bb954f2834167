// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// Components depend on this rather than the concrete Config so tests can
// supply fakes.
type Interface interface {
	Logger() LoggerConfig
	Zones() ZonesConfig
	Sandbox() SandboxConfig
	Bench() BenchConfig
	Repair() RepairConfig
	LLM() LLMConfig
	Ledger() LedgerConfig
	Session() SessionConfig
	Engine() EngineConfig
	Publish() PublishConfig

	// WorkspaceRoot is the tree mutations operate on. Resolved from config
	// or overridden by the --workspace flag.
	WorkspaceRoot() string
	SetWorkspaceRoot(string)

	// Flag overrides.
	SetRepairMaxAttempts(int)
	SetBenchParams(iters, warmup, trials int)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerC  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	ZonesC   ZonesConfig   `mapstructure:"zones" yaml:"zones"`
	SandboxC SandboxConfig `mapstructure:"sandbox" yaml:"sandbox"`
	BenchC   BenchConfig   `mapstructure:"bench" yaml:"bench"`
	RepairC  RepairConfig  `mapstructure:"repair" yaml:"repair"`
	LLMC     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	LedgerC  LedgerConfig  `mapstructure:"ledger" yaml:"ledger"`
	SessionC SessionConfig `mapstructure:"session" yaml:"session"`
	EngineC  EngineConfig  `mapstructure:"engine" yaml:"engine"`
	PublishC PublishConfig `mapstructure:"publish" yaml:"publish"`
}

// --- Interface Method Implementations ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerC }
func (c *Config) Zones() ZonesConfig     { return c.ZonesC }
func (c *Config) Sandbox() SandboxConfig { return c.SandboxC }
func (c *Config) Bench() BenchConfig     { return c.BenchC }
func (c *Config) Repair() RepairConfig   { return c.RepairC }
func (c *Config) LLM() LLMConfig         { return c.LLMC }
func (c *Config) Ledger() LedgerConfig   { return c.LedgerC }
func (c *Config) Session() SessionConfig { return c.SessionC }
func (c *Config) Engine() EngineConfig   { return c.EngineC }
func (c *Config) Publish() PublishConfig { return c.PublishC }

func (c *Config) WorkspaceRoot() string     { return c.EngineC.WorkspaceRoot }
func (c *Config) SetWorkspaceRoot(p string) { c.EngineC.WorkspaceRoot = p }

func (c *Config) SetRepairMaxAttempts(n int) { c.RepairC.MaxAttempts = n }
func (c *Config) SetBenchParams(iters, warmup, trials int) {
	if iters > 0 {
		c.BenchC.Iters = iters
	}
	if warmup >= 0 {
		c.BenchC.Warmup = warmup
	}
	if trials > 0 {
		c.BenchC.Trials = trials
	}
}

// LoggerConfig controls the global zap logger and its rotating file sink.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	MaxSizeMB   int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// SafeZone is one allow-listed directory, optionally narrowed to file
// patterns (e.g. "*.rs"). An empty pattern list allows any file under the
// directory.
type SafeZone struct {
	Directory    string   `mapstructure:"directory" yaml:"directory"`
	FilePatterns []string `mapstructure:"file_patterns" yaml:"file_patterns"`
}

// NoGoZones is the deny list: directories, exact files, and file patterns
// that mutations may never touch. Deny always wins over allow.
type NoGoZones struct {
	Directories  []string `mapstructure:"directories" yaml:"directories"`
	Files        []string `mapstructure:"files" yaml:"files"`
	FilePatterns []string `mapstructure:"file_patterns" yaml:"file_patterns"`
}

// ZonesConfig bounds where mutations may be applied.
type ZonesConfig struct {
	Safe []SafeZone `mapstructure:"safe" yaml:"safe"`
	NoGo NoGoZones  `mapstructure:"nogo" yaml:"nogo"`
}

// SandboxConfig controls external build/test invocations. Commands are
// selected by the target file's extension, falling back to the defaults.
type SandboxConfig struct {
	TimeoutSeconds int                 `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	BuildCommands  map[string][]string `mapstructure:"build_commands" yaml:"build_commands"`
	DefaultBuild   []string            `mapstructure:"default_build" yaml:"default_build"`
	TestCommands   map[string][]string `mapstructure:"test_commands" yaml:"test_commands"`
	DefaultTest    []string            `mapstructure:"default_test" yaml:"default_test"`
	KeepOnFailure  bool                `mapstructure:"keep_on_failure" yaml:"keep_on_failure"`
}

// Timeout returns the configured sandbox deadline as a duration.
func (s SandboxConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// BenchConfig controls the measurement protocol. Command, when set, is the
// subprocess probe invoked inside the workspace; it must print one JSON line
// with the raw trial times.
type BenchConfig struct {
	Iters           int      `mapstructure:"iters" yaml:"iters"`
	Warmup          int      `mapstructure:"warmup" yaml:"warmup"`
	Trials          int      `mapstructure:"trials" yaml:"trials"`
	GCBetweenTrials bool     `mapstructure:"gc_between_trials" yaml:"gc_between_trials"`
	Command         []string `mapstructure:"command" yaml:"command"`
}

// RepairConfig bounds the corrective re-attempt loop.
type RepairConfig struct {
	Enabled     bool `mapstructure:"enabled" yaml:"enabled"`
	MaxAttempts int  `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// LLMProvider identifies a supported model backend.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMConfig configures the corrective-candidate generator's model access.
type LLMConfig struct {
	Provider          LLMProvider `mapstructure:"provider" yaml:"provider"`
	APIKey            string      `mapstructure:"api_key" yaml:"api_key"`
	Model             string      `mapstructure:"model" yaml:"model"`
	FallbackModel     string      `mapstructure:"fallback_model" yaml:"fallback_model"`
	Temperature       float64     `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens         int         `mapstructure:"max_tokens" yaml:"max_tokens"`
	RequestsPerMinute int         `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	APITimeoutSeconds int         `mapstructure:"api_timeout_seconds" yaml:"api_timeout_seconds"`
}

// APITimeout returns the request deadline as a duration.
func (l LLMConfig) APITimeout() time.Duration {
	return time.Duration(l.APITimeoutSeconds) * time.Second
}

// ReceiptsConfig enables HS256 signing of appended ledger entries.
type ReceiptsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Secret  string `mapstructure:"secret" yaml:"secret"`
}

// PostgresConfig enables the advisory history mirror.
type PostgresConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

// LedgerConfig locates the manifest and its companions.
type LedgerConfig struct {
	Path                string         `mapstructure:"path" yaml:"path"`
	JournalPath         string         `mapstructure:"journal_path" yaml:"journal_path"`
	ArchiveAfterEntries int            `mapstructure:"archive_after_entries" yaml:"archive_after_entries"`
	Receipts            ReceiptsConfig `mapstructure:"receipts" yaml:"receipts"`
	Postgres            PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// SessionConfig controls persisted per-workspace session state.
type SessionConfig struct {
	StatePath            string `mapstructure:"state_path" yaml:"state_path"`
	MaxChangesPerSession int    `mapstructure:"max_changes_per_session" yaml:"max_changes_per_session"`
}

// PolicyConfig is the automatic accept/reject policy applied after fitness
// evaluation when the caller asks for an unattended decision.
type PolicyConfig struct {
	MaxRegressionPct float64 `mapstructure:"max_regression_pct" yaml:"max_regression_pct"`
	RequireStable    bool    `mapstructure:"require_stable" yaml:"require_stable"`
}

// EngineConfig holds cycle-level guards.
type EngineConfig struct {
	WorkspaceRoot    string       `mapstructure:"workspace_root" yaml:"workspace_root"`
	MaxFileSizeBytes int64        `mapstructure:"max_file_size_bytes" yaml:"max_file_size_bytes"`
	ApprovalPatterns []string     `mapstructure:"approval_patterns" yaml:"approval_patterns"`
	Policy           PolicyConfig `mapstructure:"policy" yaml:"policy"`
}

// GitHubConfig configures escalation publishing.
type GitHubConfig struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled"`
	Owner   string   `mapstructure:"owner" yaml:"owner"`
	Repo    string   `mapstructure:"repo" yaml:"repo"`
	Token   string   `mapstructure:"token" yaml:"token"`
	Labels  []string `mapstructure:"labels" yaml:"labels"`
}

// PublishConfig groups outbound notification targets.
type PublishConfig struct {
	GitHub GitHubConfig `mapstructure:"github" yaml:"github"`
}

// ConfigDir returns the per-user configuration directory (~/.graft),
// falling back to the working directory when the home cannot be resolved.
func ConfigDir() string {
	home, err := homedir.Dir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".graft")
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Unreachable with defaults only.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "graft-cli")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age_days", 30)
	v.SetDefault("logger.compress", true)

	// -- Sandbox --
	v.SetDefault("sandbox.timeout_seconds", 120)
	v.SetDefault("sandbox.keep_on_failure", false)

	// -- Bench --
	v.SetDefault("bench.iters", 10000)
	v.SetDefault("bench.warmup", 5000)
	v.SetDefault("bench.trials", 5)
	v.SetDefault("bench.gc_between_trials", true)

	// -- Repair --
	v.SetDefault("repair.enabled", true)
	v.SetDefault("repair.max_attempts", 3)

	// -- LLM --
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-2.5-pro")
	v.SetDefault("llm.fallback_model", "gemini-2.5-flash")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 32768)
	v.SetDefault("llm.requests_per_minute", 30)
	v.SetDefault("llm.api_timeout_seconds", 120)

	// -- Ledger --
	v.SetDefault("ledger.path", "evolution_manifest.json")
	v.SetDefault("ledger.journal_path", ".graft/evolution_journal.ndjson")
	v.SetDefault("ledger.archive_after_entries", 512)
	v.SetDefault("ledger.receipts.enabled", false)
	v.SetDefault("ledger.postgres.enabled", false)

	// -- Session --
	v.SetDefault("session.state_path", ".graft/session.json")
	v.SetDefault("session.max_changes_per_session", 25)

	// -- Engine --
	v.SetDefault("engine.workspace_root", ".")
	v.SetDefault("engine.max_file_size_bytes", 262144)
	v.SetDefault("engine.policy.max_regression_pct", 0.0)
	v.SetDefault("engine.policy.require_stable", false)

	// -- Publish --
	v.SetDefault("publish.github.enabled", false)
	v.SetDefault("publish.github.labels", []string{"graft", "manual-intervention"})
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	_ = v.BindEnv("llm.api_key", "GRAFT_LLM_API_KEY")
	_ = v.BindEnv("ledger.receipts.secret", "GRAFT_RECEIPTS_SECRET")
	_ = v.BindEnv("ledger.postgres.dsn", "GRAFT_PG_DSN")
	_ = v.BindEnv("publish.github.token", "GRAFT_GITHUB_TOKEN")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Unmarshal does not consult BindEnv for keys absent from the file, so
	// pick the secrets up directly when still empty.
	if cfg.LLMC.APIKey == "" {
		cfg.LLMC.APIKey = os.Getenv("GRAFT_LLM_API_KEY")
	}
	if cfg.LedgerC.Receipts.Secret == "" {
		cfg.LedgerC.Receipts.Secret = os.Getenv("GRAFT_RECEIPTS_SECRET")
	}
	if cfg.LedgerC.Postgres.DSN == "" {
		cfg.LedgerC.Postgres.DSN = os.Getenv("GRAFT_PG_DSN")
	}
	if cfg.PublishC.GitHub.Token == "" {
		cfg.PublishC.GitHub.Token = os.Getenv("GRAFT_GITHUB_TOKEN")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.SandboxC.TimeoutSeconds <= 0 {
		return fmt.Errorf("sandbox.timeout_seconds must be a positive integer")
	}
	if err := c.BenchC.Validate(); err != nil {
		return fmt.Errorf("bench configuration invalid: %w", err)
	}
	if c.RepairC.MaxAttempts < 0 {
		return fmt.Errorf("repair.max_attempts must not be negative")
	}
	if c.LedgerC.Path == "" {
		return fmt.Errorf("ledger.path is a required configuration field")
	}
	if c.LedgerC.ArchiveAfterEntries < 0 {
		return fmt.Errorf("ledger.archive_after_entries must not be negative")
	}
	if err := c.LedgerC.Receipts.Validate(); err != nil {
		return fmt.Errorf("ledger.receipts configuration invalid: %w", err)
	}
	if err := c.LedgerC.Postgres.Validate(); err != nil {
		return fmt.Errorf("ledger.postgres configuration invalid: %w", err)
	}
	if c.SessionC.MaxChangesPerSession <= 0 {
		return fmt.Errorf("session.max_changes_per_session must be a positive integer")
	}
	if c.EngineC.MaxFileSizeBytes <= 0 {
		return fmt.Errorf("engine.max_file_size_bytes must be a positive integer")
	}
	if err := c.PublishC.GitHub.Validate(); err != nil {
		return fmt.Errorf("publish.github configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the measurement protocol parameters.
func (b *BenchConfig) Validate() error {
	if b.Iters <= 0 {
		return fmt.Errorf("iters must be greater than 0")
	}
	if b.Warmup < 0 {
		return fmt.Errorf("warmup must not be negative")
	}
	if b.Trials <= 0 {
		return fmt.Errorf("trials must be greater than 0")
	}
	return nil
}

// Validate checks the receipt signing settings.
func (r *ReceiptsConfig) Validate() error {
	if !r.Enabled {
		return nil
	}
	if r.Secret == "" {
		return fmt.Errorf("receipts are enabled but no secret is set. Ensure GRAFT_RECEIPTS_SECRET is exported")
	}
	return nil
}

// Validate checks the mirror settings.
func (p *PostgresConfig) Validate() error {
	if !p.Enabled {
		return nil
	}
	if p.DSN == "" {
		return fmt.Errorf("postgres mirror enabled but no DSN is set. Ensure GRAFT_PG_DSN is exported")
	}
	return nil
}

// Validate checks the escalation publishing settings.
func (g *GitHubConfig) Validate() error {
	if !g.Enabled {
		return nil
	}
	if g.Owner == "" || g.Repo == "" {
		return fmt.Errorf("github.owner and github.repo are required")
	}
	if g.Token == "" {
		return fmt.Errorf("GitHub token is required but not found. Ensure GRAFT_GITHUB_TOKEN is set")
	}
	return nil
}
