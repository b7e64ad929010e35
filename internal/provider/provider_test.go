package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iambrandonn/thence/internal/domain"
)

func TestSimulatedImplementerFailsOnFirstAttemptWithMarker(t *testing.T) {
	p := &Simulated{Objectives: map[string]string{"task-a": "do it [impl-fail]"}}

	res, err := p.Run(context.Background(), Request{Role: domain.ActorImplementer, TaskID: "task-a", Attempt: 1})
	require.NoError(t, err)
	require.Equal(t, 2, res.ExitCode)
	require.Equal(t, false, res.Structured["submitted"])

	res2, err := p.Run(context.Background(), Request{Role: domain.ActorImplementer, TaskID: "task-a", Attempt: 2})
	require.NoError(t, err)
	require.Equal(t, 0, res2.ExitCode)
	require.Equal(t, true, res2.Structured["submitted"])
}

func TestSimulatedReviewerReturnsFindingsOnFirstAttemptWithMarker(t *testing.T) {
	p := &Simulated{Objectives: map[string]string{"task-a": "do it [needs-fix]"}}

	res, err := p.Run(context.Background(), Request{Role: domain.ActorReviewer, TaskID: "task-a", Attempt: 1})
	require.NoError(t, err)
	require.Equal(t, false, res.Structured["approved"])
	findings := res.Structured["findings"].([]any)
	require.Contains(t, findings, "must-handle-edge-case")

	res2, err := p.Run(context.Background(), Request{Role: domain.ActorReviewer, TaskID: "task-a", Attempt: 2})
	require.NoError(t, err)
	require.Equal(t, true, res2.Structured["approved"])
}
