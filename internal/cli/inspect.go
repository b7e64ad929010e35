package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/iambrandonn/thence/internal/run"
	"github.com/iambrandonn/thence/internal/transcript"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print a point-in-time snapshot of a run",
	Args:  cobra.NoArgs,
	RunE:  runInspect,
}

var (
	inspectRunID    string
	inspectStateDir string
)

func init() {
	inspectCmd.Flags().StringVar(&inspectRunID, "run", "", "run id (required)")
	inspectCmd.Flags().StringVar(&inspectStateDir, "state-db", "", "state directory root (defaults to $XDG_STATE_HOME/thence)")
	_ = inspectCmd.MarkFlagRequired("run")
}

func runInspect(cmd *cobra.Command, args []string) error {
	opts := run.Options{
		RepoRoot: ".",
		RunID:    inspectRunID,
		StateDir: stateDirOr(inspectStateDir),
	}

	snap, err := run.Inspect(opts)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "run:            %s\n", snap.RunID)
	fmt.Fprintf(os.Stdout, "status:         %s\n", snap.Status)
	fmt.Fprintf(os.Stdout, "phase:          %s\n", snap.Phase)
	fmt.Fprintf(os.Stdout, "spec approved:  %t\n", snap.SpecApproved)
	fmt.Fprintf(os.Stdout, "checks approved: %t\n", snap.ChecksApproved)
	fmt.Fprintf(os.Stdout, "paused:         %t\n", snap.Paused)

	if len(snap.OpenQuestions) > 0 {
		fmt.Fprintln(os.Stdout, "\nopen questions:")
		for id, text := range snap.OpenQuestions {
			fmt.Fprintf(os.Stdout, "  %s: %s\n", id, text)
		}
	}

	if len(snap.Tasks) > 0 {
		formatter := transcript.NewFormatter()
		fmt.Fprintln(os.Stdout, "\ntasks:")
		for _, t := range snap.Tasks {
			fmt.Fprintf(os.Stdout, "  %s\n", formatter.FormatSnapshot(t.ID, t.Attempts, t.LatestAttempt, t.Closed, t.TerminalFailed, t.Claimed))
		}
	}

	return nil
}
