package supervisor

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iambrandonn/thence/internal/domain"
	"github.com/iambrandonn/thence/internal/eventstore"
	"github.com/iambrandonn/thence/internal/provider"
)

func newTestLoop(t *testing.T, objectives map[string]string, maxAttempts int64) (*Loop, *eventstore.Store) {
	t.Helper()
	store, err := eventstore.Open(t.TempDir())
	require.NoError(t, err)

	runID := "run-1"
	require.NoError(t, store.CreateRun(domain.RunRow{ID: runID, CreatedAt: time.Now().UTC(), Status: domain.RunStatusRunning}))

	loop := &Loop{
		Store:    store,
		RunID:    runID,
		RunDir:   t.TempDir(),
		RepoRoot: t.TempDir(),
		Config: domain.RunConfig{
			MaxAttempts:       maxAttempts,
			ImplTimeoutSecs:   30,
			ReviewTimeoutSecs: 30,
			ChecksTimeoutSecs: 30,
		},
		Provider: &provider.Simulated{Objectives: objectives},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return loop, store
}

func bootstrapRun(t *testing.T, store *eventstore.Store, runID string, tasks []domain.NewEvent) {
	t.Helper()
	_, err := store.AppendEvent(runID, domain.NewEvent{EventType: domain.RunStarted})
	require.NoError(t, err)
	for _, ev := range tasks {
		_, err := store.AppendEvent(runID, ev)
		require.NoError(t, err)
	}
	_, err = store.AppendEvent(runID, domain.NewEvent{EventType: domain.SpecApproved})
	require.NoError(t, err)
	_, err = store.AppendEvent(runID, domain.NewEvent{
		EventType: domain.ChecksApproved,
		Payload:   map[string]any{"commands": []any{"true"}},
	})
	require.NoError(t, err)
}

func runToTerminal(t *testing.T, loop *Loop, maxSteps int) domain.EventType {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < maxSteps; i++ {
		tag, err := loop.Step(ctx)
		require.NoError(t, err)
		if tag != "" && tag != "run_paused" {
			return tag
		}
	}
	t.Fatalf("run did not reach a terminal event within %d steps", maxSteps)
	return ""
}

func TestHappyPathTwoTasksCompletes(t *testing.T) {
	loop, store := newTestLoop(t, map[string]string{
		"task-a": "implement the thing",
		"task-b": "verify it",
	}, 3)

	bootstrapRun(t, store, loop.RunID, []domain.NewEvent{
		{EventType: domain.TaskRegistered, TaskID: "task-a", Payload: map[string]any{"objective": "implement the thing"}},
		{EventType: domain.TaskRegistered, TaskID: "task-b", Payload: map[string]any{"objective": "verify it", "dependencies": []any{"task-a"}}},
	})

	tag := runToTerminal(t, loop, 20)
	require.Equal(t, domain.RunCompleted, tag)

	events, err := store.ListEvents(loop.RunID)
	require.NoError(t, err)

	closed := map[string]bool{}
	for _, ev := range events {
		if ev.EventType == domain.TaskClosed {
			closed[ev.TaskID] = true
		}
	}
	require.True(t, closed["task-a"])
	require.True(t, closed["task-b"])
}

func TestFindingsForwardedRecyclesThenCompletes(t *testing.T) {
	loop, store := newTestLoop(t, map[string]string{
		"task-a": "implement it [needs-fix]",
	}, 3)

	bootstrapRun(t, store, loop.RunID, []domain.NewEvent{
		{EventType: domain.TaskRegistered, TaskID: "task-a", Payload: map[string]any{"objective": "implement it [needs-fix]"}},
	})

	tag := runToTerminal(t, loop, 20)
	require.Equal(t, domain.RunCompleted, tag)

	events, err := store.ListEvents(loop.RunID)
	require.NoError(t, err)

	var foundIssues, approved int
	for _, ev := range events {
		switch ev.EventType {
		case domain.ReviewFoundIssues:
			foundIssues++
		case domain.ReviewApproved:
			approved++
		}
	}
	require.Equal(t, 1, foundIssues)
	require.Equal(t, 1, approved)

	// Attempt 1's reviewer findings reach attempt 2's implementer capsule.
	capsule, err := os.ReadFile(filepath.Join(loop.RunDir, "capsules", "task-a", "attempt2", "implementer.json"))
	require.NoError(t, err)
	require.Contains(t, string(capsule), "must-handle-edge-case")
}

func TestImplementerHardFailureExhaustsAttemptsAndFails(t *testing.T) {
	loop, store := newTestLoop(t, map[string]string{
		"task-a": "implement it [impl-fail]",
	}, 1)

	bootstrapRun(t, store, loop.RunID, []domain.NewEvent{
		{EventType: domain.TaskRegistered, TaskID: "task-a", Payload: map[string]any{"objective": "implement it [impl-fail]"}},
	})

	tag := runToTerminal(t, loop, 20)
	require.Equal(t, domain.RunFailed, tag)

	events, err := store.ListEvents(loop.RunID)
	require.NoError(t, err)

	var terminalFailed bool
	for _, ev := range events {
		if ev.EventType == domain.TaskFailedTerminal && ev.TaskID == "task-a" {
			terminalFailed = true
		}
	}
	require.True(t, terminalFailed)
}
