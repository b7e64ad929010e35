package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
version = 2

[checks]
commands = ["true"]

[agent]
default = "codex"
max_attempts = 3

[agent.cmd]
codex = ["codex", "run"]

[[worktree.provision]]
from = "AGENTS.md"
to = "AGENTS.md"
mode = "copy"
required = true
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Version)
	require.Equal(t, []string{"true"}, cfg.Checks.Commands)
	require.Equal(t, int64(3), cfg.Agent.MaxAttempts)
	require.Len(t, cfg.Worktree.Provision, 1)
	require.Equal(t, "AGENTS.md", cfg.Worktree.Provision[0].From)

	cmd, err := cfg.AgentCmd("")
	require.NoError(t, err)
	require.Equal(t, []string{"codex", "run"}, cmd)
}

func TestRejectsUnsupportedVersion(t *testing.T) {
	path := writeConfig(t, "version = 1\n")
	_, err := LoadFromFile(path)
	require.ErrorContains(t, err, "unsupported config version")
}

func TestRejectsMissingVersion(t *testing.T) {
	path := writeConfig(t, "[agent]\nmax_attempts = 3\n")
	_, err := LoadFromFile(path)
	require.ErrorContains(t, err, "missing required field")
}

func TestAgentCmdUnknownAgent(t *testing.T) {
	cfg := GenerateDefault()
	_, err := cfg.AgentCmd("nonexistent")
	require.ErrorContains(t, err, "unsupported agent")
}
