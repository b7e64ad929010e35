// Package provider implements the agent subprocess contract from spec §6:
// one invocation per (role, task, attempt), env-var addressed, returning
// structured JSON via a result file or stdout. The interface mirrors the
// teacher's own AgentSupervisor in spirit (exec.CommandContext, captured
// stdout/stderr, a hard timeout) but the contract itself is one-shot
// request/response rather than the teacher's long-lived NDJSON pipe,
// matching original_source's workers::provider::Provider trait.
package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/iambrandonn/thence/internal/domain"
)

// Request is everything a provider invocation needs.
type Request struct {
	Role           domain.ActorRole
	TaskID         string
	Attempt        int64
	Worktree       string
	PromptFile     string
	ResultFile     string
	Timeout        time.Duration
	CapsuleFile    string
	CapsuleSHA256  string
	CapsuleRole    string
}

// Result is what a provider invocation yields.
type Result struct {
	ExitCode   int
	TimedOut   bool
	Stdout     string
	Stderr     string
	Structured map[string]any
}

// Provider is the single-method polymorphism point over agent backends
// (spec §9: "absent runtime polymorphism, use a tagged variant and a
// single run function branching on variant" — Go has runtime polymorphism
// via interfaces, so this is the idiomatic equivalent).
type Provider interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// Subprocess is the real provider: it execs cmd with the env-var contract
// from spec §6 and reads RESULT_FILE (falling back to the last JSON line
// on stdout) for the structured output.
type Subprocess struct {
	Cmd    []string
	Logger *slog.Logger
}

// NewSubprocess constructs a Subprocess provider.
func NewSubprocess(cmd []string, logger *slog.Logger) *Subprocess {
	return &Subprocess{Cmd: cmd, Logger: logger}
}

func (p *Subprocess) Run(ctx context.Context, req Request) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.Cmd[0], p.Cmd[1:]...)
	cmd.Env = append(os.Environ(),
		"ROLE="+string(req.Role),
		"TASK_ID="+req.TaskID,
		fmt.Sprintf("ATTEMPT=%d", req.Attempt),
		"WORKTREE="+req.Worktree,
		"PROMPT_FILE="+req.PromptFile,
		"RESULT_FILE="+req.ResultFile,
		fmt.Sprintf("TIMEOUT_SECS=%d", int64(req.Timeout.Seconds())),
		"CAPSULE_FILE="+req.CapsuleFile,
		"CAPSULE_SHA256="+req.CapsuleSHA256,
		"CAPSULE_ROLE="+req.CapsuleRole,
	)
	cmd.Dir = req.Worktree

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = 124
		return result, nil
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return result, fmt.Errorf("failed to run provider command: %w", err)
		}
	}

	structured, err := readStructuredOutput(req.ResultFile, stdout.String())
	if err != nil {
		p.Logger.Warn("provider output did not parse as JSON", "role", req.Role, "task_id", req.TaskID, "error", err)
	}
	result.Structured = structured

	return result, nil
}

func readStructuredOutput(resultFile, stdout string) (map[string]any, error) {
	if resultFile != "" {
		if data, err := os.ReadFile(resultFile); err == nil {
			var out map[string]any
			if jerr := json.Unmarshal(data, &out); jerr == nil {
				return out, nil
			}
		}
	}
	return lastJSONLine(stdout)
}

func lastJSONLine(stdout string) (map[string]any, error) {
	scanner := bufio.NewScanner(bytes.NewReader([]byte(stdout)))
	var last string
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			last = line
		}
	}
	if last == "" {
		return nil, fmt.Errorf("no output produced")
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(last), &out); err != nil {
		return nil, fmt.Errorf("failed to parse last stdout line as JSON: %w", err)
	}
	return out, nil
}

// Simulated is the stub provider used by tests and --agent simulate. It
// never execs anything; it inspects the task objective for embedded marker
// tokens (mirroring original_source's workers::codex stub-path behavior)
// to drive deterministic outcomes without a real subprocess.
type Simulated struct {
	// Objectives maps task id to the markdown objective string, used to
	// look up marker tokens.
	Objectives map[string]string
}

const (
	markerImplFail = "[impl-fail]"
	markerNeedsFix = "[needs-fix]"
)

func (p *Simulated) Run(ctx context.Context, req Request) (Result, error) {
	objective := p.Objectives[req.TaskID]

	switch req.Role {
	case domain.ActorImplementer:
		if strings.Contains(objective, markerImplFail) && req.Attempt == 1 {
			return Result{ExitCode: 2, Structured: map[string]any{"submitted": false}}, nil
		}
		return Result{ExitCode: 0, Structured: map[string]any{"submitted": true}}, nil

	case domain.ActorReviewer:
		if strings.Contains(objective, markerNeedsFix) && req.Attempt == 1 {
			return Result{ExitCode: 0, Structured: map[string]any{
				"approved": false,
				"findings": []any{"must-handle-edge-case", "add-regression-test"},
			}}, nil
		}
		return Result{ExitCode: 0, Structured: map[string]any{"approved": true, "findings": []any{}}}, nil
	}

	return Result{}, fmt.Errorf("simulated provider: unsupported role %q", req.Role)
}

// WritePromptFile writes the capsule payload to the prompt file path the
// provider will be invoked with, ensuring the parent directory exists.
func WritePromptFile(path string, payload []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create prompt directory: %w", err)
	}
	return os.WriteFile(path, payload, 0600)
}
