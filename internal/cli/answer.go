package cli

import (
	"github.com/spf13/cobra"

	"github.com/iambrandonn/thence/internal/run"
)

var answerCmd = &cobra.Command{
	Use:   "answer",
	Short: "Answer an open question on a paused run",
	Args:  cobra.NoArgs,
	RunE:  runAnswer,
}

var (
	answerRunID      string
	answerQuestionID string
	answerText       string
	answerStateDir   string
)

func init() {
	answerCmd.Flags().StringVar(&answerRunID, "run", "", "run id (required)")
	answerCmd.Flags().StringVar(&answerQuestionID, "question", "", "question id to resolve (required)")
	answerCmd.Flags().StringVar(&answerText, "text", "", "answer text (required)")
	answerCmd.Flags().StringVar(&answerStateDir, "state-db", "", "state directory root (defaults to $XDG_STATE_HOME/thence)")
	_ = answerCmd.MarkFlagRequired("run")
	_ = answerCmd.MarkFlagRequired("question")
	_ = answerCmd.MarkFlagRequired("text")
}

func runAnswer(cmd *cobra.Command, args []string) error {
	opts := run.Options{
		RepoRoot: ".",
		RunID:    answerRunID,
		StateDir: stateDirOr(answerStateDir),
	}
	return run.Answer(opts, answerQuestionID, answerText)
}
