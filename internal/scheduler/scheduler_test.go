package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iambrandonn/thence/internal/domain"
	"github.com/iambrandonn/thence/internal/policy"
	"github.com/iambrandonn/thence/internal/projector"
)

func projectFrom(events []domain.Event) *domain.RunProjection {
	return projector.Fold(events)
}

func TestNextClaimableTaskLexicographicTieBreak(t *testing.T) {
	events := []domain.Event{
		{Seq: 1, EventType: domain.SpecApproved},
		{Seq: 2, EventType: domain.ChecksApproved, Payload: map[string]any{"commands": []any{"true"}}},
		{Seq: 3, EventType: domain.TaskRegistered, TaskID: "task-b"},
		{Seq: 4, EventType: domain.TaskRegistered, TaskID: "task-a"},
		{Seq: 5, EventType: domain.TaskRegistered, TaskID: "task-c"},
	}
	run := projectFrom(events)
	sets := policy.Derive(run)

	id, ok := NextClaimableTask(run, sets, 3)
	require.True(t, ok)
	require.Equal(t, "task-a", id)
}

func TestNextClaimableTaskSkipsExhaustedAttemptBudget(t *testing.T) {
	events := []domain.Event{
		{Seq: 1, EventType: domain.SpecApproved},
		{Seq: 2, EventType: domain.ChecksApproved, Payload: map[string]any{"commands": []any{"true"}}},
		{Seq: 3, EventType: domain.TaskRegistered, TaskID: "task-a"},
		{Seq: 4, EventType: domain.TaskClaimed, TaskID: "task-a", Attempt: 1},
		{Seq: 5, EventType: domain.ReviewFoundIssues, TaskID: "task-a", Attempt: 1},
		{Seq: 6, EventType: domain.TaskRegistered, TaskID: "task-b"},
	}
	run := projectFrom(events)
	sets := policy.Derive(run)

	id, ok := NextClaimableTask(run, sets, 1)
	require.True(t, ok)
	require.Equal(t, "task-b", id, "task-a exhausted its single attempt budget")
}

func TestNextClaimableTaskNoneEligible(t *testing.T) {
	run := domain.NewRunProjection()
	sets := policy.Derive(run)

	_, ok := NextClaimableTask(run, sets, 3)
	require.False(t, ok)
}
