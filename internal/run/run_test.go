package run

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iambrandonn/thence/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestStartPausesOnDuplicateSanitizedTaskIDs exercises the translation
// failure path end to end: "task-a" and "task_a" sanitize to the same
// identifier, so TranslateLocal rejects the plan and Start must open
// spec-q-translate and return a PausedError rather than registering two
// distinct tasks (original_source/tests/e2e.rs
// duplicate_sanitized_task_ids_pause_translation).
func TestStartPausesOnDuplicateSanitizedTaskIDs(t *testing.T) {
	dir := t.TempDir()
	specPath := filepath.Join(dir, "spec.md")
	require.NoError(t, os.WriteFile(specPath, []byte("- [ ] task-a: one\n- [ ] task_a: two\n"), 0644))

	opts := Options{
		SpecPath: specPath,
		RepoRoot: dir,
		Agent:    "simulate",
		Checks:   []string{"true"},
		RunID:    "run-dup-sanitized",
		StateDir: filepath.Join(dir, "state"),
	}

	tag, err := Start(context.Background(), opts, testLogger())
	require.Equal(t, domain.RunPaused, tag)
	var pe *PausedError
	require.ErrorAs(t, err, &pe)
	require.Contains(t, pe.Hint, "spec-q-translate")
}
