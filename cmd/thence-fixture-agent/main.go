// Command thence-fixture-agent is a scripted stand-in for a real agent
// binary, driven by a JSON response script, satisfying the one-shot
// env-var contract from spec §6. It is wired up via
// [agent.cmd] in .thence/config.toml for integration tests that want a
// real subprocess rather than provider.Simulated.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/iambrandonn/thence/internal/agent/script"
	"github.com/iambrandonn/thence/internal/fixtureagent"
)

func main() {
	scriptFile := flag.String("script", "", "Path to response script file (JSON)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	level, levelName, err := fixtureagent.ParseLogLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *scriptFile == "" {
		logger.Error("missing required flag", "flag", "-script")
		os.Exit(1)
	}

	s, err := script.Load(*scriptFile)
	if err != nil {
		logger.Error("failed to load script", "error", err)
		os.Exit(1)
	}

	inv, err := fixtureagent.InvocationFromEnv()
	if err != nil {
		logger.Error("failed to read invocation contract", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("fixture agent invoked", "log_level", levelName, "role", inv.Role, "task_id", inv.TaskID, "attempt", inv.Attempt)

	code, err := fixtureagent.Run(ctx, inv, s, logger)
	if err != nil {
		logger.Error("invocation failed", "error", err)
	}
	os.Exit(code)
}
