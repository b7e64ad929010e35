// Package packet builds the capsule prompt payloads handed to the agent
// provider, grounded on original_source's run/packet.rs. Each builder
// returns a JSON-serializable value; the caller (internal/supervisor) is
// responsible for writing it to a content-addressed capsule file via
// internal/checksum.
package packet

import (
	"sort"

	"github.com/iambrandonn/thence/internal/domain"
)

// ImplementerPrompt is the payload for role=implementer.
type ImplementerPrompt struct {
	Role             string           `json:"role"`
	TaskID           string           `json:"task_id"`
	Attempt          int64            `json:"attempt"`
	Objective        string           `json:"objective"`
	Acceptance       string           `json:"acceptance"`
	DependencyOutcomes []DependencyOutcome `json:"dependency_outcomes"`
	UnresolvedFindings []Finding       `json:"unresolved_findings"`
	RequiredChecks   []string         `json:"required_checks"`
	ArtifactRefs     []ArtifactRef    `json:"artifact_refs"`
}

// ReviewerPrompt is the payload for role=reviewer.
type ReviewerPrompt struct {
	Role            string        `json:"role"`
	TaskID          string        `json:"task_id"`
	Attempt         int64         `json:"attempt"`
	Objective       string        `json:"objective"`
	Acceptance      string        `json:"acceptance"`
	SubmissionRefs  map[string]any `json:"submission_refs"`
	PriorFindings   []Finding     `json:"prior_findings"`
	RequiredChecks  []string      `json:"required_checks"`
	ArtifactRefs    []ArtifactRef `json:"artifact_refs"`
}

// ChecksProposerPrompt is the payload for the interactive checks-proposal
// flow (spec §9 supplemented feature).
type ChecksProposerPrompt struct {
	Role        string   `json:"role"`
	Instruction string   `json:"instruction"`
	RepoRoot    string   `json:"repo_root"`
	PlanFile    string   `json:"plan_file"`
	PlanExcerpt string   `json:"plan_excerpt"`
	TaskIDs     []string `json:"task_ids"`
}

// DependencyOutcome reports whether one dependency of a task has closed.
type DependencyOutcome struct {
	TaskID         string `json:"task_id"`
	Closed         bool   `json:"closed"`
	TerminalFailed bool   `json:"terminal_failed"`
}

// Finding is one unresolved-findings entry for a given attempt.
type Finding struct {
	Attempt int64    `json:"attempt"`
	Reasons []string `json:"reasons"`
}

// ArtifactRef is a replayable reference to a prior event touching this task.
type ArtifactRef struct {
	Event   domain.EventType `json:"event"`
	Attempt int64            `json:"attempt"`
	Payload map[string]any   `json:"payload"`
}

// BuildImplementerPrompt assembles the implementer capsule payload.
func BuildImplementerPrompt(run *domain.RunProjection, events []domain.Event, task *domain.TaskProjection, attempt int64, runChecks []string) ImplementerPrompt {
	return ImplementerPrompt{
		Role:               "implementer",
		TaskID:             task.ID,
		Attempt:            attempt,
		Objective:          task.Objective,
		Acceptance:         task.Acceptance,
		DependencyOutcomes: dependencyOutcomes(run, task),
		UnresolvedFindings: unresolvedFindings(events, task.ID),
		RequiredChecks:     runChecks,
		ArtifactRefs:       artifactRefs(events, task.ID, attempt),
	}
}

// BuildReviewerPrompt assembles the reviewer capsule payload.
func BuildReviewerPrompt(events []domain.Event, task *domain.TaskProjection, attempt int64, runChecks []string, submissionRefs map[string]any) ReviewerPrompt {
	return ReviewerPrompt{
		Role:           "reviewer",
		TaskID:         task.ID,
		Attempt:        attempt,
		Objective:      task.Objective,
		Acceptance:     task.Acceptance,
		SubmissionRefs: submissionRefs,
		PriorFindings:  unresolvedFindings(events, task.ID),
		RequiredChecks: runChecks,
		ArtifactRefs:   artifactRefs(events, task.ID, attempt),
	}
}

// BuildChecksProposerPrompt assembles the checks-proposer capsule payload.
func BuildChecksProposerPrompt(repoRoot, planFile, planExcerpt string, taskIDs []string) ChecksProposerPrompt {
	return ChecksProposerPrompt{
		Role:        "checks-proposer",
		Instruction: "Propose objective, deterministic check commands for this repo. Output JSON with key 'commands' as non-empty list of shell commands.",
		RepoRoot:    repoRoot,
		PlanFile:    planFile,
		PlanExcerpt: planExcerpt,
		TaskIDs:     taskIDs,
	}
}

func dependencyOutcomes(run *domain.RunProjection, task *domain.TaskProjection) []DependencyOutcome {
	out := make([]DependencyOutcome, 0, len(task.Dependencies))
	for _, dep := range task.Dependencies {
		depTask, ok := run.Tasks[dep]
		out = append(out, DependencyOutcome{
			TaskID:         dep,
			Closed:         ok && depTask.Closed,
			TerminalFailed: ok && depTask.TerminalFailed,
		})
	}
	return out
}

func unresolvedFindings(events []domain.Event, taskID string) []Finding {
	byAttempt := map[int64][]string{}
	resolved := map[int64]bool{}
	var attempts []int64

	for _, ev := range events {
		if ev.TaskID != taskID {
			continue
		}
		switch ev.EventType {
		case domain.ReviewFoundIssues:
			var reasons []string
			switch fs := ev.Payload["findings"].(type) {
			case []string:
				reasons = append(reasons, fs...)
			case []any:
				for _, f := range fs {
					if s, ok := f.(string); ok {
						reasons = append(reasons, s)
					}
				}
			}
			if len(reasons) == 0 {
				reason, _ := ev.Payload["reason"].(string)
				if reason == "" {
					reason = "review findings"
				}
				reasons = []string{reason}
			}
			if _, seen := byAttempt[ev.Attempt]; !seen {
				attempts = append(attempts, ev.Attempt)
			}
			byAttempt[ev.Attempt] = append(byAttempt[ev.Attempt], reasons...)
			resolved[ev.Attempt] = false
		case domain.ReviewApproved:
			resolved[ev.Attempt] = true
		}
	}

	sort.Slice(attempts, func(i, j int) bool { return attempts[i] < attempts[j] })

	var out []Finding
	for _, a := range attempts {
		if resolved[a] {
			continue
		}
		out = append(out, Finding{Attempt: a, Reasons: byAttempt[a]})
	}
	return out
}

var artifactRefEvents = map[domain.EventType]bool{
	domain.WorkSubmitted:     true,
	domain.ReviewFoundIssues: true,
	domain.ReviewApproved:    true,
	domain.ChecksReported:    true,
}

func artifactRefs(events []domain.Event, taskID string, currentAttempt int64) []ArtifactRef {
	var matched []ArtifactRef
	for _, ev := range events {
		if ev.TaskID != taskID || ev.Attempt > currentAttempt || !artifactRefEvents[ev.EventType] {
			continue
		}
		matched = append(matched, ArtifactRef{Event: ev.EventType, Attempt: ev.Attempt, Payload: ev.Payload})
	}

	// Keep only the most recent 8, newest first, mirroring the original's
	// rev().take(8).
	if len(matched) > 8 {
		matched = matched[len(matched)-8:]
	}
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	return matched
}
