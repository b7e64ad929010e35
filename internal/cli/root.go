// Package cli wires the cobra command surface from spec §6 onto
// internal/run's lifecycle façade.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

var rootCmd = &cobra.Command{
	Use:           "thence",
	Short:         "Event-sourced supervisor for long-horizon coding runs",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(runCmd, resumeCmd, questionsCmd, answerCmd, inspectCmd)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

// openLogger returns the shared stderr logger, or a file-backed logger when
// --log names a path.
func openLogger(path string) (*slog.Logger, error) {
	if path == "" {
		return logger, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo})), nil
}
