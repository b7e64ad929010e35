package transcript

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iambrandonn/thence/internal/domain"
)

func TestFormatEventTaskRegistered(t *testing.T) {
	formatter := NewFormatter()
	ev := domain.Event{
		Seq:       1,
		EventType: domain.TaskRegistered,
		TaskID:    "task-a",
		ActorRole: domain.ActorSupervisor,
		Payload:   map[string]any{"objective": "implement the thing"},
	}
	require.Equal(t, "[0001] [supervisor] task=task-a task_registered: objective: implement the thing", formatter.FormatEvent(ev))
}

func TestFormatEventReviewFoundIssues(t *testing.T) {
	formatter := NewFormatter()
	ev := domain.Event{
		Seq:       5,
		EventType: domain.ReviewFoundIssues,
		TaskID:    "task-a",
		ActorRole: domain.ActorSupervisor,
		Attempt:   1,
		Payload:   map[string]any{"source": "reviewer", "findings": []string{"missing test"}},
	}
	require.Equal(t, "[0005] [supervisor] task=task-a review_found_issues: source: reviewer, findings: 1", formatter.FormatEvent(ev))
}

func TestFormatEventRunCompletedNoReason(t *testing.T) {
	formatter := NewFormatter()
	ev := domain.Event{Seq: 9, EventType: domain.RunCompleted, ActorRole: domain.ActorSupervisor}
	require.Equal(t, "[0009] [supervisor] run_completed", formatter.FormatEvent(ev))
}

func TestFormatEventDefaultsActorToSystem(t *testing.T) {
	formatter := NewFormatter()
	ev := domain.Event{Seq: 2, EventType: domain.RunStarted}
	require.Equal(t, "[0002] [system] run_started", formatter.FormatEvent(ev))
}

func TestFormatSnapshot(t *testing.T) {
	formatter := NewFormatter()
	require.Equal(t, "task-a                   attempts=2/2 closed", formatter.FormatSnapshot("task-a", 2, 2, true, false, false))
	require.Equal(t, "task-b                   attempts=1/1 failed", formatter.FormatSnapshot("task-b", 1, 1, false, true, false))
	require.Equal(t, "task-c                   attempts=0/0 claimed", formatter.FormatSnapshot("task-c", 0, 0, false, false, true))
	require.Equal(t, "task-d                   attempts=0/0 pending", formatter.FormatSnapshot("task-d", 0, 0, false, false, false))
}

func TestFormatArtifactSize(t *testing.T) {
	formatter := NewFormatter()
	require.Equal(t, "capsules/task-a/attempt1/implementer.json (1.4 KiB)", formatter.FormatArtifactSize("capsules/task-a/attempt1/implementer.json", 1432))
}
