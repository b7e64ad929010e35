package translator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTranslateLocalParsesChecklistWithDeps(t *testing.T) {
	plan, err := TranslateLocal("- [ ] task-a: implement\n- [ ] task-b: verify | deps=task-a")
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 2)
	require.Equal(t, "task_a", plan.Tasks[0].ID)
	require.Equal(t, "implement", plan.Tasks[0].Objective)
	require.Equal(t, "Complete objective: implement", plan.Tasks[0].Acceptance)
	require.Equal(t, []string{"task_a"}, plan.Tasks[1].Dependencies)
}

func TestTranslateLocalParsesChecksClause(t *testing.T) {
	plan, err := TranslateLocal("- [ ] task-a: implement | checks=go test ./...,go vet ./...")
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 1)
	require.Equal(t, []string{"go test ./...", "go vet ./..."}, plan.Tasks[0].Checks)
}

func TestSanitizeIdentCollapsesPunctuationToUnderscore(t *testing.T) {
	require.Equal(t, "task_a", sanitizeIdent("task-a"))
	require.Equal(t, "task_a", sanitizeIdent("task_a"))
	require.Equal(t, "task", sanitizeIdent("???"))
}

// TestTranslateLocalRejectsDuplicateSanitizedIDs mirrors
// original_source/tests/e2e.rs duplicate_sanitized_task_ids_pause_translation:
// "task-a" and "task_a" are distinct checklist entries but sanitize to the
// same identifier, so translation must fail rather than silently register
// two tasks.
func TestTranslateLocalRejectsDuplicateSanitizedIDs(t *testing.T) {
	_, err := TranslateLocal("- [ ] task-a: one\n- [ ] task_a: two")
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate task ID after sanitization")
	require.Contains(t, err.Error(), "task_a")
}

func TestReviewSpecFlagsAmbiguityMarker(t *testing.T) {
	markdown := "- [ ] task-a: unclear ???"
	plan, err := TranslateLocal(markdown)
	require.NoError(t, err)

	result := ReviewSpec(markdown, plan)
	require.False(t, result.Approved)
	require.Equal(t, "spec-q-1", result.QuestionID)
}

func TestReviewSpecApprovesCleanSpec(t *testing.T) {
	markdown := "- [ ] task-a: implement\n- [ ] task-b: verify | deps=task-a"
	plan, err := TranslateLocal(markdown)
	require.NoError(t, err)

	result := ReviewSpec(markdown, plan)
	require.True(t, result.Approved)
}

func TestSanityCheckRejectsZeroTasks(t *testing.T) {
	require.Error(t, SanityCheck(Plan{}))
}

func TestSanityCheckRejectsNoInitiallyReadyTask(t *testing.T) {
	plan := Plan{Tasks: []Task{
		{ID: "a", Objective: "x", Dependencies: []string{"b"}},
		{ID: "b", Objective: "y", Dependencies: []string{"a"}},
	}}
	require.Error(t, SanityCheck(plan))
}

func TestSanityCheckPassesHappyPath(t *testing.T) {
	plan, err := TranslateLocal("- [ ] task-a: implement\n- [ ] task-b: verify | deps=task-a")
	require.NoError(t, err)
	require.NoError(t, SanityCheck(plan))
}
