// Package transitions implements the pre-append guard from spec §4.3: the
// state machine that decides whether a NewEvent may legally land on top of
// a given projection. It is evaluated before every append; nothing illegal
// ever reaches the log.
package transitions

import (
	"errors"
	"fmt"

	"github.com/iambrandonn/thence/internal/domain"
)

// ViolationError is returned for a rejected transition. It is always fatal
// at the call site: no event is appended and the run aborts with this
// diagnostic (spec §7, class 1).
type ViolationError struct {
	Reason string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("invariant violation: %s", e.Reason)
}

func reject(format string, args ...any) error {
	return &ViolationError{Reason: fmt.Sprintf(format, args...)}
}

// Validate rejects ev if appending it on top of run would violate the
// legal state machine. run must be the projection of every event already
// appended to this run, in order.
func Validate(run *domain.RunProjection, ev domain.NewEvent) error {
	if run.Terminal != "" && !domain.TerminalEvents[ev.EventType] {
		return reject("run %q is terminal, rejecting non-terminal event %q", run.Terminal, ev.EventType)
	}
	if domain.TerminalEvents[ev.EventType] && run.Terminal != "" {
		return reject("run already has terminal event %q, rejecting second terminal event %q", run.Terminal, ev.EventType)
	}

	switch ev.EventType {
	case domain.TaskClaimed:
		if run.Paused || len(run.OpenQuestions) > 0 {
			return reject("task_claimed rejected: run is paused or has open questions")
		}
		if !run.SpecApproved || !run.ChecksApproved {
			return reject("task_claimed rejected: spec_approved=%v checks_approved=%v", run.SpecApproved, run.ChecksApproved)
		}
		t, ok := run.Tasks[ev.TaskID]
		if !ok {
			return reject("task_claimed rejected: unknown task %q", ev.TaskID)
		}
		if t.Closed {
			return reject("task_claimed rejected: task %q is closed", ev.TaskID)
		}
		if t.TerminalFailed {
			return reject("task_claimed rejected: task %q is terminal_failed", ev.TaskID)
		}

	case domain.MergeSucceeded:
		if run.Paused || len(run.OpenQuestions) > 0 {
			return reject("merge_succeeded rejected: run is paused or has open questions")
		}
		if ev.ActorRole == domain.ActorReviewer {
			return reject("merge_succeeded rejected: actor_role=reviewer is not permitted (role purity)")
		}

	case domain.ReviewApproved:
		if ev.ActorRole == domain.ActorImplementer {
			return reject("review_approved rejected: actor_role=implementer is not permitted (role purity)")
		}

	case domain.TaskClosed:
		t, ok := run.Tasks[ev.TaskID]
		if !ok {
			return reject("task_closed rejected: unknown task %q", ev.TaskID)
		}
		if _, merged := t.MergedAttempts[ev.Attempt]; !merged {
			return reject("task_closed rejected: no prior merge_succeeded for (%s, attempt=%d)", ev.TaskID, ev.Attempt)
		}

	case domain.ChecksApproved:
		commands, _ := ev.Payload["commands"].([]any)
		if len(commands) == 0 {
			if strs, ok := ev.Payload["commands"].([]string); !ok || len(strs) == 0 {
				return reject("checks_approved rejected: payload.commands must be non-empty")
			}
		}
	}

	return nil
}

// AsViolation unwraps err into a *ViolationError if it is one.
func AsViolation(err error) (*ViolationError, bool) {
	var v *ViolationError
	ok := errors.As(err, &v)
	return v, ok
}
