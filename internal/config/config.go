// Package config loads and validates .thence/config.toml (spec §6,
// version 2), in the teacher's own config-loading idiom: typed structs,
// an explicit Validate method, and Hint-style actionable error messages.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/iambrandonn/thence/internal/domain"
)

// SupportedVersion is the only config.toml schema version this build
// accepts; spec §7 class 5 treats any other value as a configuration
// error that fails fast before a run row is created.
const SupportedVersion = 2

// Config is the parsed .thence/config.toml.
type Config struct {
	Version int           `toml:"version"`
	Checks  ChecksSection `toml:"checks"`
	Agent   AgentSection  `toml:"agent"`
	Prompts PromptsSection `toml:"prompts"`
	Worktree WorktreeSection `toml:"worktree"`
}

// ChecksSection is `[checks]`.
type ChecksSection struct {
	Commands []string `toml:"commands"`
}

// AgentSection is `[agent]`.
type AgentSection struct {
	Default           string            `toml:"default"`
	Cmd               map[string][]string `toml:"cmd"`
	ImplTimeoutSecs   int64             `toml:"impl_timeout_secs"`
	ReviewTimeoutSecs int64             `toml:"review_timeout_secs"`
	ChecksTimeoutSecs int64             `toml:"checks_timeout_secs"`
	MaxAttempts       int64             `toml:"max_attempts"`
}

// PromptsSection is `[prompts]`: optional repo-supplied context file paths.
// They are parsed but not read by any capsule builder.
type PromptsSection struct {
	AgentsMD string `toml:"agents_md"`
	ClaudeMD string `toml:"claude_md"`
}

// WorktreeSection is `[worktree]`, holding the `[[worktree.provision]]`
// array of tables.
type WorktreeSection struct {
	Provision []domain.ProvisionRule `toml:"provision"`
}

// Default timeouts (spec §5), used when [agent] omits them.
// DefaultMaxAttempts is the budget GenerateDefault writes; a loaded
// config.toml without a positive max_attempts fails Validate.
const (
	DefaultImplTimeoutSecs   = 45 * 60
	DefaultReviewTimeoutSecs = 20 * 60
	DefaultChecksTimeoutSecs = 10 * 60
	DefaultMaxAttempts       = 3
)

// GenerateDefault returns a minimal version-2 config with a stub agent.
func GenerateDefault() *Config {
	return &Config{
		Version: SupportedVersion,
		Agent: AgentSection{
			Default:           "simulate",
			Cmd:               map[string][]string{},
			ImplTimeoutSecs:   DefaultImplTimeoutSecs,
			ReviewTimeoutSecs: DefaultReviewTimeoutSecs,
			ChecksTimeoutSecs: DefaultChecksTimeoutSecs,
			MaxAttempts:       DefaultMaxAttempts,
		},
	}
}

// Validate checks the configuration for errors and returns user-friendly,
// hint-carrying messages (spec §7 class 5: configuration errors fail fast
// at `run`, before any run row is created).
func (c *Config) Validate() error {
	if c.Version == 0 {
		return fmt.Errorf("configuration error: missing required field 'version'\n\nHint: add to .thence/config.toml:\n  version = 2")
	}
	if c.Version != SupportedVersion {
		return fmt.Errorf("configuration error: unsupported config version %d (expected %d)\n\nHint: migrate .thence/config.toml to version = %d", c.Version, SupportedVersion, SupportedVersion)
	}
	if c.Agent.MaxAttempts <= 0 {
		return fmt.Errorf("configuration error: invalid 'agent.max_attempts' value: %d\n\nHint: set a positive attempt budget:\n  [agent]\n  max_attempts = 3", c.Agent.MaxAttempts)
	}
	return nil
}

// LoadFromFile loads and validates a config.toml.
func LoadFromFile(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveToFile writes the configuration as TOML with 0600 permissions.
func (c *Config) SaveToFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// AgentCmd resolves the command for agent, falling back to the default
// agent if agent is empty.
func (c *Config) AgentCmd(agent string) ([]string, error) {
	if agent == "" {
		agent = c.Agent.Default
	}
	cmd, ok := c.Agent.Cmd[agent]
	if !ok || len(cmd) == 0 {
		return nil, fmt.Errorf("configuration error: unsupported agent %q\n\nHint: add to .thence/config.toml:\n  [agent.cmd]\n  %s = [\"your-agent-binary\"]", agent, agent)
	}
	return cmd, nil
}
