// Package projector folds an ordered event log into a RunProjection. The
// fold is a pure, total function: replaying any prefix of a valid log
// yields a valid (if incomplete) projection, and two invocations over the
// same slice always agree.
package projector

import "github.com/iambrandonn/thence/internal/domain"

// Fold computes the RunProjection for an ordered event slice. Events must
// be sorted by Seq; the transition validator is responsible for rejecting
// illegal events before they ever reach the log, so Fold does not re-derive
// legality — it applies every event's effect unconditionally.
func Fold(events []domain.Event) *domain.RunProjection {
	run := domain.NewRunProjection()
	for _, ev := range events {
		apply(run, ev)
	}
	return run
}

func apply(run *domain.RunProjection, ev domain.Event) {
	switch ev.EventType {
	case domain.TaskRegistered:
		if _, exists := run.Tasks[ev.TaskID]; exists {
			return // first write wins
		}
		t := &domain.TaskProjection{
			ID:                         ev.TaskID,
			Objective:                  stringField(ev.Payload, "objective"),
			Acceptance:                 stringField(ev.Payload, "acceptance"),
			Dependencies:               stringSliceField(ev.Payload, "dependencies"),
			RequiredChecks:             stringSliceField(ev.Payload, "required_checks"),
			ReviewApprovedAttempts:     map[int64]struct{}{},
			ChecksPassedAttempts:       map[int64]struct{}{},
			UnresolvedFindingsAttempts: map[int64]struct{}{},
			MergedAttempts:             map[int64]struct{}{},
		}
		run.Tasks[ev.TaskID] = t
		run.TaskOrder = append(run.TaskOrder, ev.TaskID)

	case domain.TaskClaimed:
		t := run.Tasks[ev.TaskID]
		if t == nil {
			return
		}
		t.Attempts++
		t.Claimed = true
		t.LatestAttempt = ev.Attempt

	case domain.ReviewFoundIssues:
		t := run.Tasks[ev.TaskID]
		if t == nil {
			return
		}
		t.Claimed = false
		t.UnresolvedFindingsAttempts[ev.Attempt] = struct{}{}

	case domain.ReviewApproved:
		t := run.Tasks[ev.TaskID]
		if t == nil {
			return
		}
		t.ReviewApprovedAttempts[ev.Attempt] = struct{}{}
		delete(t.UnresolvedFindingsAttempts, ev.Attempt)

	case domain.ChecksReported:
		t := run.Tasks[ev.TaskID]
		if t == nil {
			return
		}
		if boolField(ev.Payload, "passed") {
			t.ChecksPassedAttempts[ev.Attempt] = struct{}{}
		} else {
			delete(t.ChecksPassedAttempts, ev.Attempt)
		}

	case domain.MergeSucceeded:
		t := run.Tasks[ev.TaskID]
		if t == nil {
			return
		}
		t.MergedAttempts[ev.Attempt] = struct{}{}

	case domain.TaskClosed:
		t := run.Tasks[ev.TaskID]
		if t == nil {
			return
		}
		t.Closed = true
		t.Claimed = false

	case domain.TaskFailedTerminal:
		t := run.Tasks[ev.TaskID]
		if t == nil {
			return
		}
		t.TerminalFailed = true
		t.Claimed = false

	case domain.AttemptInterrupted:
		t := run.Tasks[ev.TaskID]
		if t == nil {
			return
		}
		t.Claimed = false

	case domain.SpecApproved:
		run.SpecApproved = true

	case domain.ChecksApproved:
		run.ChecksApproved = true
		run.ChecksCommands = stringSliceField(ev.Payload, "commands")

	case domain.RunPaused, domain.HumanInputRequested:
		run.Paused = true

	case domain.RunResumed:
		run.Paused = false

	case domain.SpecQuestionOpened:
		run.OpenQuestions[stringField(ev.Payload, "question_id")] = stringField(ev.Payload, "text")

	case domain.SpecQuestionResolved:
		delete(run.OpenQuestions, stringField(ev.Payload, "question_id"))

	// checks_question_opened / checks_question_resolved deliberately do not
	// touch open_questions — see the question-routing asymmetry design note.

	case domain.RunCompleted, domain.RunFailed, domain.RunCancelled:
		run.Terminal = ev.EventType
	}
}

func stringField(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	s, _ := payload[key].(string)
	return s
}

func boolField(payload map[string]any, key string) bool {
	if payload == nil {
		return false
	}
	b, _ := payload[key].(bool)
	return b
}

func stringSliceField(payload map[string]any, key string) []string {
	if payload == nil {
		return nil
	}
	raw, ok := payload[key].([]any)
	if !ok {
		if strs, ok := payload[key].([]string); ok {
			return strs
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
