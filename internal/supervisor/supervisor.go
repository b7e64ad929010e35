// Package supervisor implements the outer driver loop from spec §4.7: per
// iteration, read state, select work, run one attempt (implement, review,
// checks, merge), and append the resulting burst of events.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iambrandonn/thence/internal/checks"
	"github.com/iambrandonn/thence/internal/checksum"
	"github.com/iambrandonn/thence/internal/domain"
	"github.com/iambrandonn/thence/internal/eventstore"
	"github.com/iambrandonn/thence/internal/idempotency"
	"github.com/iambrandonn/thence/internal/lease"
	"github.com/iambrandonn/thence/internal/packet"
	"github.com/iambrandonn/thence/internal/policy"
	"github.com/iambrandonn/thence/internal/projector"
	"github.com/iambrandonn/thence/internal/provider"
	"github.com/iambrandonn/thence/internal/scheduler"
	"github.com/iambrandonn/thence/internal/transitions"
	"github.com/iambrandonn/thence/internal/worktree"
)

// Loop drives a single run's supervisor iteration, per spec §4.7-§4.8.
type Loop struct {
	Store    *eventstore.Store
	RunID    string
	RunDir   string
	RepoRoot string
	Config   domain.RunConfig
	Provider provider.Provider
	Logger   *slog.Logger
}

// appendEvent validates ev against the current projection before
// appending, matching the pre-append guard in spec §4.3. A rejected event
// is a fatal invariant violation: no event is appended and the caller
// aborts the run with the diagnostic.
func (l *Loop) appendEvent(run *domain.RunProjection, ev domain.NewEvent) (*domain.RunProjection, error) {
	if err := transitions.Validate(run, ev); err != nil {
		return run, err
	}
	if _, err := l.Store.AppendEvent(l.RunID, ev); err != nil {
		return run, fmt.Errorf("failed to append %s: %w", ev.EventType, err)
	}
	events, err := l.Store.ListEvents(l.RunID)
	if err != nil {
		return run, fmt.Errorf("failed to reload events after append: %w", err)
	}
	return projector.Fold(events), nil
}

// Step performs exactly one top-level iteration of spec §4.7. It returns
// the terminal event type once the run has reached one, "run_paused" while
// the run is paused or has open questions, or "" to signal the caller should
// invoke Step again.
func (l *Loop) Step(ctx context.Context) (domain.EventType, error) {
	events, err := l.Store.ListEvents(l.RunID)
	if err != nil {
		return "", err
	}
	run := projector.Fold(events)

	if run.Terminal != "" {
		return run.Terminal, nil
	}
	if run.Paused || len(run.OpenQuestions) > 0 {
		return "run_paused", nil
	}

	sets := policy.Derive(run)
	taskID, ok := scheduler.NextClaimableTask(run, sets, l.Config.MaxAttempts)
	if !ok {
		return l.handleNoSchedulableTask(run)
	}

	return "", l.runAttempt(ctx, run, taskID)
}

func (l *Loop) handleNoSchedulableTask(run *domain.RunProjection) (domain.EventType, error) {
	allResolved := true
	anyBudget := false
	anyTerminalFailure := false
	deadlock := true

	for _, t := range run.Tasks {
		if !t.Closed && !t.TerminalFailed {
			allResolved = false
		}
		if t.TerminalFailed {
			anyTerminalFailure = true
		}
		if !t.Closed && !t.TerminalFailed && t.Attempts < l.Config.MaxAttempts {
			anyBudget = true
		}
		if !t.Closed && !t.TerminalFailed {
			depDeadlocked := false
			for _, dep := range t.Dependencies {
				depTask, ok := run.Tasks[dep]
				if !ok || depTask.TerminalFailed {
					depDeadlocked = true
					break
				}
			}
			if !depDeadlocked {
				deadlock = false
			}
		}
	}

	if allResolved {
		tag := domain.RunCompleted
		if anyTerminalFailure && !l.Config.AllowPartial {
			tag = domain.RunFailed
		}
		return l.terminate(run, tag, "")
	}
	if !anyBudget {
		return l.terminate(run, domain.RunFailed, "no schedulable tasks and no attempt budget")
	}
	if deadlock {
		return l.terminate(run, domain.RunFailed, "dependency deadlock")
	}
	return l.terminate(run, domain.RunFailed, "unschedulable state")
}

func (l *Loop) terminate(run *domain.RunProjection, tag domain.EventType, reason string) (domain.EventType, error) {
	payload := map[string]any{}
	if reason != "" {
		payload["reason"] = reason
	}
	if _, err := l.appendEvent(run, domain.NewEvent{EventType: tag, ActorRole: domain.ActorSupervisor, Payload: payload}); err != nil {
		return "", err
	}
	status := domain.RunStatusCompleted
	switch tag {
	case domain.RunFailed:
		status = domain.RunStatusFailed
	case domain.RunCancelled:
		status = domain.RunStatusCancelled
	}
	if err := l.Store.UpdateRunStatus(l.RunID, status); err != nil {
		return "", err
	}
	return tag, nil
}

// runAttempt executes steps (a)-(m) of spec §4.7 for one claimed attempt.
func (l *Loop) runAttempt(ctx context.Context, run *domain.RunProjection, taskID string) error {
	task := run.Tasks[taskID]
	attempt := task.Attempts + 1

	run, err := l.appendEvent(run, domain.NewEvent{
		EventType: domain.TaskClaimed,
		TaskID:    taskID,
		ActorRole: domain.ActorImplementer,
		Attempt:   attempt,
	})
	if err != nil {
		return err
	}

	workerID := uuid.NewString()
	wtDir := worktree.Path(l.RunDir, taskID, attempt, workerID)
	if err := worktree.Provision(wtDir, l.RepoRoot, l.Config.WorktreeProvision); err != nil {
		return fmt.Errorf("failed to provision worktree: %w", err)
	}

	implResult, implCapsulePath, implSHA, err := l.callProvider(ctx, run, task, attempt, domain.ActorImplementer, wtDir)
	if err != nil {
		return err
	}

	submitted := truthy(implResult.Structured, "submitted")
	run, err = l.appendEvent(run, domain.NewEvent{
		EventType: domain.WorkSubmitted,
		TaskID:    taskID,
		ActorRole: domain.ActorImplementer,
		Attempt:   attempt,
		Payload: map[string]any{
			"exit_code":    implResult.ExitCode,
			"timed_out":    implResult.TimedOut,
			"capsule_path": implCapsulePath,
			"capsule_sha256": implSHA,
			"valid":        submitted,
		},
	})
	if err != nil {
		return err
	}

	if implResult.ExitCode != 0 || !submitted {
		return l.recycleOrFail(run, task, taskID, attempt, "implementer-exit-gate", []string{"implementer did not submit"})
	}

	revCapsulePath, revSHA, err := l.buildCapsule(run, task, attempt, domain.ActorReviewer)
	if err != nil {
		return err
	}

	run, err = l.appendEvent(run, domain.NewEvent{
		EventType: domain.ReviewRequested,
		TaskID:    taskID,
		ActorRole: domain.ActorSupervisor,
		Attempt:   attempt,
		Payload: map[string]any{
			"capsule_path":   revCapsulePath,
			"capsule_sha256": revSHA,
		},
	})
	if err != nil {
		return err
	}

	reviewResult, err := l.invokeCapsule(ctx, task, attempt, domain.ActorReviewer, wtDir, revCapsulePath, revSHA)
	if err != nil {
		return err
	}

	approved, findings, validOutput := reviewerOutcome(reviewResult)
	if !validOutput {
		return l.recycleOrFail(run, task, taskID, attempt, "reviewer-gate", []string{"reviewer produced invalid output"})
	}
	if !approved {
		return l.recycleOrFail(run, task, taskID, attempt, "reviewer", findings)
	}

	run, err = l.appendEvent(run, domain.NewEvent{
		EventType: domain.ReviewApproved,
		TaskID:    taskID,
		ActorRole: domain.ActorReviewer,
		Attempt:   attempt,
	})
	if err != nil {
		return err
	}

	effectiveChecks := l.effectiveChecks(task)
	report := checks.Run(ctx, wtDir, effectiveChecks, time.Duration(l.Config.ChecksTimeoutSecs)*time.Second)
	run, err = l.appendEvent(run, domain.NewEvent{
		EventType: domain.ChecksReported,
		TaskID:    taskID,
		ActorRole: domain.ActorSupervisor,
		Attempt:   attempt,
		Payload:   map[string]any{"passed": report.Passed, "results": resultsToAny(report.Results)},
	})
	if err != nil {
		return err
	}

	if !report.Passed {
		return l.recycleOrFail(run, task, taskID, attempt, "checks-gate", checks.FindingsFromReport(report))
	}

	// Re-project and re-derive policy: races and rule changes are honored.
	events, err := l.Store.ListEvents(l.RunID)
	if err != nil {
		return err
	}
	run = projector.Fold(events)
	sets := policy.Derive(run)
	if !sets.MergeReady[taskID] {
		return nil
	}

	return l.mergeTask(run, taskID, attempt)
}

func (l *Loop) mergeTask(run *domain.RunProjection, taskID string, attempt int64) error {
	// The merge stub always succeeds: this module has no real VCS backend
	// to integrate against, matching spec's "side-effect stub" scoping of
	// worktree provisioning and VCS merge.
	run, err := l.appendEvent(run, domain.NewEvent{
		EventType: domain.MergeSucceeded,
		TaskID:    taskID,
		ActorRole: domain.ActorSupervisor,
		Attempt:   attempt,
	})
	if err != nil {
		return err
	}
	_, err = l.appendEvent(run, domain.NewEvent{
		EventType: domain.TaskClosed,
		TaskID:    taskID,
		ActorRole: domain.ActorSupervisor,
		Attempt:   attempt,
	})
	return err
}

func (l *Loop) recycleOrFail(run *domain.RunProjection, task *domain.TaskProjection, taskID string, attempt int64, source string, findings []string) error {
	run, err := l.appendEvent(run, domain.NewEvent{
		EventType: domain.ReviewFoundIssues,
		TaskID:    taskID,
		ActorRole: domain.ActorSupervisor,
		Attempt:   attempt,
		Payload:   map[string]any{"source": source, "findings": findings},
	})
	if err != nil {
		return err
	}
	if attempt >= l.Config.MaxAttempts {
		_, err = l.appendEvent(run, domain.NewEvent{
			EventType: domain.TaskFailedTerminal,
			TaskID:    taskID,
			ActorRole: domain.ActorSupervisor,
			Attempt:   attempt,
			Payload:   map[string]any{"reason": "max attempts exhausted", "source": source},
		})
	}
	return err
}

func (l *Loop) effectiveChecks(task *domain.TaskProjection) []string {
	if len(l.Config.ChecksCommands) > 0 {
		return l.Config.ChecksCommands
	}
	if len(task.RequiredChecks) > 0 {
		return task.RequiredChecks
	}
	return []string{"true"}
}

// buildCapsule builds and writes the prompt artifact for one (task, attempt,
// role) to disk and returns its path and content-addressed SHA-256, so
// callers can record the capsule reference on a triggering event (e.g.
// review_requested) before the provider is actually invoked.
func (l *Loop) buildCapsule(run *domain.RunProjection, task *domain.TaskProjection, attempt int64, role domain.ActorRole) (string, string, error) {
	events, err := l.Store.ListEvents(l.RunID)
	if err != nil {
		return "", "", err
	}

	var payloadBytes []byte
	if role == domain.ActorImplementer {
		prompt := packet.BuildImplementerPrompt(run, events, task, attempt, l.effectiveChecks(task))
		payloadBytes = mustMarshal(prompt)
	} else {
		prompt := packet.BuildReviewerPrompt(events, task, attempt, l.effectiveChecks(task), map[string]any{"attempt": attempt})
		payloadBytes = mustMarshal(prompt)
	}

	capsulePath := filepath.Join(l.RunDir, "capsules", task.ID, fmt.Sprintf("attempt%d", attempt), roleDirName(role)+".json")
	if err := provider.WritePromptFile(capsulePath, payloadBytes); err != nil {
		return "", "", err
	}
	// Hash the canonical form (sorted map keys), not the pretty-printed
	// bytes on disk, so re-ordering struct fields never changes a capsule's
	// identity.
	canonicalBytes, err := canonicalizeForHash(payloadBytes)
	if err != nil {
		return "", "", fmt.Errorf("failed to canonicalize capsule for hashing: %w", err)
	}
	return capsulePath, checksum.SHA256Bytes(canonicalBytes), nil
}

func roleDirName(role domain.ActorRole) string {
	if role == domain.ActorReviewer {
		return "reviewer"
	}
	return "implementer"
}

// invokeCapsule runs the provider against an already-built capsule.
func (l *Loop) invokeCapsule(ctx context.Context, task *domain.TaskProjection, attempt int64, role domain.ActorRole, wtDir, capsulePath, sha string) (provider.Result, error) {
	timeout := time.Duration(l.Config.ImplTimeoutSecs) * time.Second
	if role == domain.ActorReviewer {
		timeout = time.Duration(l.Config.ReviewTimeoutSecs) * time.Second
	}

	ticker, err := lease.StartTicker(lease.Path(l.RunDir, task.ID, attempt, role), lease.Tick)
	if err != nil {
		return provider.Result{}, err
	}
	defer ticker.StopAndRelease()

	req := provider.Request{
		Role:          role,
		TaskID:        task.ID,
		Attempt:       attempt,
		Worktree:      wtDir,
		PromptFile:    capsulePath,
		ResultFile:    filepath.Join(filepath.Dir(capsulePath), roleDirName(role)+"_result.json"),
		Timeout:       timeout,
		CapsuleFile:   capsulePath,
		CapsuleSHA256: sha,
		CapsuleRole:   string(role),
	}
	return l.Provider.Run(ctx, req)
}

// callProvider builds the capsule for (task, attempt, role) and invokes the
// provider against it in one step, for call sites that don't need the
// capsule reference before the call (the implementer path — there is no
// triggering event ahead of it the way review_requested precedes the
// reviewer call).
func (l *Loop) callProvider(ctx context.Context, run *domain.RunProjection, task *domain.TaskProjection, attempt int64, role domain.ActorRole, wtDir string) (provider.Result, string, string, error) {
	capsulePath, sha, err := l.buildCapsule(run, task, attempt, role)
	if err != nil {
		return provider.Result{}, "", "", err
	}
	res, err := l.invokeCapsule(ctx, task, attempt, role, wtDir, capsulePath, sha)
	return res, capsulePath, sha, err
}

func truthy(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	b, _ := m[key].(bool)
	return b
}

func reviewerOutcome(res provider.Result) (approved bool, findings []string, valid bool) {
	if res.Structured == nil {
		return false, nil, false
	}
	approvedVal, hasApproved := res.Structured["approved"]
	if !hasApproved {
		return false, nil, false
	}
	approved, ok := approvedVal.(bool)
	if !ok {
		return false, nil, false
	}

	raw, _ := res.Structured["findings"].([]any)
	for _, f := range raw {
		if s, ok := f.(string); ok {
			s = strings.TrimSpace(s)
			if s != "" {
				findings = append(findings, s)
			}
		}
	}
	if !approved && len(findings) == 0 {
		findings = []string{"reviewer rejected without specific findings"}
	}
	return approved, findings, true
}

func resultsToAny(results []checks.CommandResult) []map[string]any {
	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]any{
			"command":   r.Command,
			"exit_code": r.ExitCode,
			"timed_out": r.TimedOut,
		})
	}
	return out
}

func mustMarshal(v any) []byte {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		panic(fmt.Sprintf("packet marshal: %v", err))
	}
	return data
}

// canonicalizeForHash reparses pretty-printed JSON into generic values and
// re-serializes it through idempotency.CanonicalJSON, so two logically
// identical capsules always hash the same regardless of struct field order
// or indentation.
func canonicalizeForHash(payload []byte) ([]byte, error) {
	var generic any
	if err := json.Unmarshal(payload, &generic); err != nil {
		return nil, err
	}
	return idempotency.CanonicalJSON(generic)
}
