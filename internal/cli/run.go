package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iambrandonn/thence/internal/domain"
	"github.com/iambrandonn/thence/internal/run"
)

var runCmd = &cobra.Command{
	Use:   "run <spec.md>",
	Short: "Start a new supervised run from a spec file",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

var (
	runAgent                  string
	runWorkers                int
	runReviewers              int
	runChecks                 string
	runLogPath                string
	runRunID                  string
	runStateDir               string
	runAllowPartialCompletion bool
	runAttemptTimeoutSecs     int64
)

func init() {
	runCmd.Flags().StringVar(&runAgent, "agent", "simulate", "agent backend name, resolved via .thence/config.toml [agent.cmd]")
	runCmd.Flags().IntVar(&runWorkers, "workers", 1, "implementer concurrency hint (accepted for interface compatibility; this build drives one attempt at a time)")
	runCmd.Flags().IntVar(&runReviewers, "reviewers", 1, "reviewer concurrency hint (same caveat as --workers)")
	runCmd.Flags().StringVar(&runChecks, "checks", "", "semicolon-separated check commands, overriding .thence/config.toml [checks]")
	runCmd.Flags().StringVar(&runLogPath, "log", "", "path to write structured logs (stderr if empty)")
	runCmd.Flags().StringVar(&runRunID, "run-id", "", "explicit run id (random uuid if empty)")
	runCmd.Flags().StringVar(&runStateDir, "state-db", "", "state directory root (defaults to $XDG_STATE_HOME/thence)")
	runCmd.Flags().BoolVar(&runAllowPartialCompletion, "allow-partial-completion", false, "treat run_completed as success even if some tasks failed terminally")
	runCmd.Flags().Int64Var(&runAttemptTimeoutSecs, "attempt-timeout-secs", 0, "override every per-attempt timeout (implementer, reviewer, checks)")
}

func runRun(cmd *cobra.Command, args []string) error {
	l, err := openLogger(runLogPath)
	if err != nil {
		return err
	}

	opts := run.Options{
		SpecPath:               args[0],
		RepoRoot:               ".",
		Agent:                  runAgent,
		Workers:                runWorkers,
		Reviewers:              runReviewers,
		Checks:                 splitChecks(runChecks),
		LogPath:                runLogPath,
		RunID:                  runRunID,
		StateDir:               stateDirOr(runStateDir),
		AllowPartialCompletion: runAllowPartialCompletion,
		AttemptTimeoutSecs:     runAttemptTimeoutSecs,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tag, err := run.Start(ctx, opts, l)
	return reportOutcome(tag, err)
}

func splitChecks(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func stateDirOr(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return run.DefaultStateDir()
}

// reportOutcome maps a run.Start/run.Resume result onto the process exit
// code contract from spec §6: zero on run_completed, non-zero on
// run_failed or a hard error, non-zero with guidance printed to stderr on a
// pause.
func reportOutcome(tag domain.EventType, err error) error {
	if pe, ok := err.(*run.PausedError); ok {
		printPauseGuidance(pe)
		os.Exit(1)
		return nil
	}
	if err != nil {
		return err
	}
	if tag == domain.RunFailed {
		os.Exit(1)
	}
	return nil
}

func printPauseGuidance(pe *run.PausedError) {
	logger.Warn("run paused", "run_id", pe.RunID)
	fmt.Fprintln(os.Stderr, pe.Hint)
}
