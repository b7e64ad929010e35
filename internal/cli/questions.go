package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/iambrandonn/thence/internal/run"
)

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "List a run's unresolved open questions",
	Args:  cobra.NoArgs,
	RunE:  runQuestions,
}

var (
	questionsRunID    string
	questionsStateDir string
)

func init() {
	questionsCmd.Flags().StringVar(&questionsRunID, "run", "", "run id (required)")
	questionsCmd.Flags().StringVar(&questionsStateDir, "state-db", "", "state directory root (defaults to $XDG_STATE_HOME/thence)")
	_ = questionsCmd.MarkFlagRequired("run")
}

func runQuestions(cmd *cobra.Command, args []string) error {
	opts := run.Options{
		RepoRoot: ".",
		RunID:    questionsRunID,
		StateDir: stateDirOr(questionsStateDir),
	}

	open, err := run.Questions(opts)
	if err != nil {
		return err
	}
	if len(open) == 0 {
		fmt.Fprintln(os.Stdout, "no open questions")
		return nil
	}

	ids := make([]string, 0, len(open))
	for id := range open {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(os.Stdout, "%s: %s\n", id, open[id])
	}
	return nil
}
