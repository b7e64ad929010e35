package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iambrandonn/thence/internal/run"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused or interrupted run",
	Args:  cobra.NoArgs,
	RunE:  runResume,
}

var (
	resumeRunID    string
	resumeStateDir string
	resumeChecks   string
)

func init() {
	resumeCmd.Flags().StringVar(&resumeRunID, "run", "", "run id to resume (required)")
	resumeCmd.Flags().StringVar(&resumeStateDir, "state-db", "", "state directory root (defaults to $XDG_STATE_HOME/thence)")
	resumeCmd.Flags().StringVar(&resumeChecks, "checks", "", "semicolon-separated check commands, overriding the run's frozen checks")
	_ = resumeCmd.MarkFlagRequired("run")
}

func runResume(cmd *cobra.Command, args []string) error {
	opts := run.Options{
		RepoRoot: ".",
		RunID:    resumeRunID,
		StateDir: stateDirOr(resumeStateDir),
		Checks:   splitChecks(resumeChecks),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tag, err := run.Resume(ctx, opts, logger)
	if la, ok := err.(*run.LikelyActiveError); ok {
		fail(la)
		return nil
	}
	return reportOutcome(tag, err)
}
