// Package checks runs the deterministic check-command list against a
// worktree and persists the resolved command list, grounded on
// original_source's checks/runner.rs and checks/config.rs.
package checks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/iambrandonn/thence/internal/fsutil"
)

// CommandResult is one command's outcome, recorded in full on
// checks_reported.
type CommandResult struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Report is the aggregate outcome of running every command.
type Report struct {
	Passed  bool            `json:"passed"`
	Results []CommandResult `json:"results"`
}

// Run executes each command with `sh -lc <command>` in dir, honoring a
// per-invocation timeout. It returns after the first failure only in the
// sense that Passed becomes false; every command still runs so the full
// per-command record is available for findings synthesis.
func Run(ctx context.Context, dir string, commands []string, timeout time.Duration) Report {
	report := Report{Passed: true}

	for _, command := range commands {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		cmd := exec.CommandContext(cctx, "sh", "-lc", command)
		cmd.Dir = dir

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err := cmd.Run()
		result := CommandResult{Command: command, Stdout: stdout.String(), Stderr: stderr.String()}

		if cctx.Err() == context.DeadlineExceeded {
			result.TimedOut = true
			result.ExitCode = 124
			report.Passed = false
		} else if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				result.ExitCode = exitErr.ExitCode()
			} else {
				result.ExitCode = -1
			}
			report.Passed = false
		}
		cancel()

		report.Results = append(report.Results, result)
	}

	return report
}

// FindingsFromReport synthesizes review-style finding strings from a
// failed or timed-out report, used to populate review_found_issues when
// the checks gate rejects an attempt.
func FindingsFromReport(report Report) []string {
	var findings []string
	for _, r := range report.Results {
		if r.TimedOut {
			findings = append(findings, fmt.Sprintf("check timed out: %s", r.Command))
		} else if r.ExitCode != 0 {
			findings = append(findings, fmt.Sprintf("check failed (exit %d): %s", r.ExitCode, r.Command))
		}
	}
	return findings
}

// Config is the persisted .thence/runs/<id>/checks.json cache: the
// resolved command list plus where it came from.
type Config struct {
	Version  int      `json:"version"`
	Source   string   `json:"source"` // "cli" | "config_file"
	Commands []string `json:"commands"`
}

// ErrNoChecksConfigured is the configuration-error surfaced fast at `run`
// (spec §7 class 5) when neither --checks nor config.toml's [checks]
// section supplies any commands.
var ErrNoChecksConfigured = fmt.Errorf("configuration error: no checks configured\n\nHint: pass --checks \"cmd1;cmd2\" or set [checks].commands in .thence/config.toml")

// Resolve picks the effective check list: CLI flag first, then config
// file, else a configuration error.
func Resolve(cliChecks, configChecks []string) (Config, error) {
	if len(cliChecks) > 0 {
		return Config{Version: 1, Source: "cli", Commands: cliChecks}, nil
	}
	if len(configChecks) > 0 {
		return Config{Version: 1, Source: "config_file", Commands: configChecks}, nil
	}
	return Config{}, ErrNoChecksConfigured
}

// Save persists the resolved checks configuration atomically.
func Save(path string, cfg Config) error {
	return fsutil.AtomicWriteJSON(path, cfg)
}

// Load reads a previously persisted checks configuration, if present.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checks config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse checks config: %w", err)
	}
	if len(cfg.Commands) == 0 {
		return nil, fmt.Errorf("checks config at %s has no commands", path)
	}
	return &cfg, nil
}
