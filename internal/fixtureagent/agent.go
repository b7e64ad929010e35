// Package fixtureagent implements the scripted stand-in for a real agent
// subprocess: it satisfies the one-shot env-var contract from spec §6
// (ROLE, TASK_ID, ATTEMPT, WORKTREE, PROMPT_FILE, RESULT_FILE,
// TIMEOUT_SECS) driven by internal/agent/script, for use in integration
// tests that want to exec a real process rather than drive
// provider.Simulated in-process.
package fixtureagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/iambrandonn/thence/internal/agent/script"
)

// Invocation is the parsed env-var contract for one call.
type Invocation struct {
	Role          string
	TaskID        string
	Attempt       int64
	Worktree      string
	PromptFile    string
	ResultFile    string
	TimeoutSecs   int64
	CapsuleFile   string
	CapsuleSHA256 string
}

// InvocationFromEnv parses the env-var contract the supervisor's
// provider.Subprocess sets on every agent invocation.
func InvocationFromEnv() (Invocation, error) {
	attempt, err := strconv.ParseInt(os.Getenv("ATTEMPT"), 10, 64)
	if err != nil {
		return Invocation{}, fmt.Errorf("invalid ATTEMPT: %w", err)
	}
	timeout, _ := strconv.ParseInt(os.Getenv("TIMEOUT_SECS"), 10, 64)

	inv := Invocation{
		Role:          os.Getenv("ROLE"),
		TaskID:        os.Getenv("TASK_ID"),
		Attempt:       attempt,
		Worktree:      os.Getenv("WORKTREE"),
		PromptFile:    os.Getenv("PROMPT_FILE"),
		ResultFile:    os.Getenv("RESULT_FILE"),
		TimeoutSecs:   timeout,
		CapsuleFile:   os.Getenv("CAPSULE_FILE"),
		CapsuleSHA256: os.Getenv("CAPSULE_SHA256"),
	}
	if inv.Role == "" || inv.TaskID == "" || inv.ResultFile == "" {
		return Invocation{}, fmt.Errorf("missing required env vars: ROLE=%q TASK_ID=%q RESULT_FILE=%q", inv.Role, inv.TaskID, inv.ResultFile)
	}
	return inv, nil
}

// Run executes one scripted invocation: looks up the matching response,
// optionally sleeps, writes the structured result to RESULT_FILE, and
// returns the exit code the process should exit with.
func Run(ctx context.Context, inv Invocation, s *script.Script, logger *slog.Logger) (int, error) {
	tmpl, ok := s.Lookup(inv.Role, inv.TaskID, inv.Attempt)
	if !ok {
		return 0, fmt.Errorf("no scripted response for role=%s task_id=%s attempt=%d", inv.Role, inv.TaskID, inv.Attempt)
	}

	if tmpl.DelayMs > 0 {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Duration(tmpl.DelayMs) * time.Millisecond):
		}
	}

	if tmpl.Error != "" {
		logger.Error("scripted error", "role", inv.Role, "task_id", inv.TaskID, "error", tmpl.Error)
		return 1, fmt.Errorf("scripted error: %s", tmpl.Error)
	}

	data, err := json.MarshalIndent(tmpl.Result, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("marshal scripted result: %w", err)
	}
	if err := os.WriteFile(inv.ResultFile, data, 0600); err != nil {
		return 0, fmt.Errorf("write result file: %w", err)
	}

	logger.Info("scripted invocation complete", "role", inv.Role, "task_id", inv.TaskID, "attempt", inv.Attempt, "exit_code", tmpl.ExitCode)
	return tmpl.ExitCode, nil
}
