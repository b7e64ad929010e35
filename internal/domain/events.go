// Package domain holds the event-sourced data model shared by every
// component of the supervisor: the closed event-type tag set, the
// append-only Event record, and the durable Run row.
package domain

import "time"

// ActorRole identifies which logical role produced an event.
type ActorRole string

const (
	ActorImplementer ActorRole = "implementer"
	ActorReviewer    ActorRole = "reviewer"
	ActorSupervisor  ActorRole = "supervisor"
)

// EventType is the closed tag set from spec §6. No other value is legal.
type EventType string

const (
	RunStarted             EventType = "run_started"
	PlanTranslated          EventType = "plan_translated"
	PlanValidated           EventType = "plan_validated"
	SpecApproved            EventType = "spec_approved"
	SpecQuestionOpened      EventType = "spec_question_opened"
	SpecQuestionResolved    EventType = "spec_question_resolved"
	ChecksProposed          EventType = "checks_proposed"
	ChecksApproved          EventType = "checks_approved"
	ChecksQuestionOpened    EventType = "checks_question_opened"
	ChecksQuestionResolved  EventType = "checks_question_resolved"
	HumanInputRequested     EventType = "human_input_requested"
	HumanInputProvided      EventType = "human_input_provided"
	RunPaused               EventType = "run_paused"
	RunResumed              EventType = "run_resumed"
	TaskRegistered          EventType = "task_registered"
	TaskClaimed             EventType = "task_claimed"
	WorkSubmitted           EventType = "work_submitted"
	ReviewRequested         EventType = "review_requested"
	ReviewFoundIssues       EventType = "review_found_issues"
	ReviewApproved          EventType = "review_approved"
	ChecksReported          EventType = "checks_reported"
	MergeSucceeded          EventType = "merge_succeeded"
	MergeConflict           EventType = "merge_conflict"
	AttemptInterrupted      EventType = "attempt_interrupted"
	TaskClosed              EventType = "task_closed"
	TaskFailedTerminal      EventType = "task_failed_terminal"
	RunCompleted            EventType = "run_completed"
	RunFailed               EventType = "run_failed"
	RunCancelled            EventType = "run_cancelled"
)

// TerminalEvents is the set of at-most-one-per-run terminal tags.
var TerminalEvents = map[EventType]bool{
	RunCompleted: true,
	RunFailed:    true,
	RunCancelled: true,
}

// NewEvent is the write-side request to append one event; Seq and Ts are
// assigned by the store.
type NewEvent struct {
	EventType  EventType      `json:"event_type"`
	TaskID     string         `json:"task_id,omitempty"`
	ActorRole  ActorRole      `json:"actor_role,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	Attempt    int64          `json:"attempt,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	DedupeKey  string         `json:"dedupe_key,omitempty"`
}

// Event is the durable, immutable record of one appended NewEvent.
type Event struct {
	Seq       int64          `json:"seq"`
	RunID     string         `json:"run_id"`
	Ts        time.Time      `json:"ts"`
	EventType EventType      `json:"event_type"`
	TaskID    string         `json:"task_id,omitempty"`
	ActorRole ActorRole      `json:"actor_role,omitempty"`
	ActorID   string         `json:"actor_id,omitempty"`
	Attempt   int64          `json:"attempt,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	DedupeKey string         `json:"dedupe_key,omitempty"`
}

// RunStatus is the durable run-row status, updated only at terminal events.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunConfig is the subset of a run's configuration frozen at start.
// eventstore.Store.UpdateRunConfig can overwrite it, but internal/run never
// calls it, so every resume uses the config frozen by Start.
type RunConfig struct {
	Agent              string            `json:"agent"`
	AgentCmd           []string          `json:"agent_cmd"`
	ChecksCommands     []string          `json:"checks_commands,omitempty"`
	WorktreeProvision  []ProvisionRule   `json:"worktree_provision,omitempty"`
	AllowPartial       bool              `json:"allow_partial_completion"`
	MaxAttempts        int64             `json:"max_attempts"`
	ImplTimeoutSecs    int64             `json:"impl_timeout_secs"`
	ReviewTimeoutSecs  int64             `json:"review_timeout_secs"`
	ChecksTimeoutSecs  int64             `json:"checks_timeout_secs"`
}

// ProvisionRule describes one file to materialize into a fresh worktree.
type ProvisionRule struct {
	From     string `toml:"from" json:"from"`
	To       string `toml:"to" json:"to"`
	Mode     string `toml:"mode" json:"mode"` // "copy" | "symlink"
	Required bool   `toml:"required" json:"required"`
}

// RunRow is the durable metadata record for one run.
type RunRow struct {
	ID           string    `json:"id"`
	PlanPath     string    `json:"plan_path"`
	PlanSHA256   string    `json:"plan_sha256"`
	SPLPlanPath  string    `json:"spl_plan_path"`
	CreatedAt    time.Time `json:"created_at"`
	Status       RunStatus `json:"status"`
	Config       RunConfig `json:"config"`
}
