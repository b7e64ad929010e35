// Package run implements the run lifecycle façade from spec §4.8: start,
// resume, answer-question and inspect, the thin layer the CLI drives. It
// wires together every core package — config, translator, policydoc,
// eventstore, worktree, checks, lease, and supervisor — without adding any
// orchestration logic of its own; everything here is sequencing.
package run

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/iambrandonn/thence/internal/checks"
	"github.com/iambrandonn/thence/internal/config"
	"github.com/iambrandonn/thence/internal/domain"
	"github.com/iambrandonn/thence/internal/eventstore"
	"github.com/iambrandonn/thence/internal/fsutil"
	"github.com/iambrandonn/thence/internal/lease"
	"github.com/iambrandonn/thence/internal/policydoc"
	"github.com/iambrandonn/thence/internal/projector"
	"github.com/iambrandonn/thence/internal/provider"
	"github.com/iambrandonn/thence/internal/supervisor"
	"github.com/iambrandonn/thence/internal/translator"
)

// Options is the full CLI `run` surface from spec §6.
type Options struct {
	SpecPath               string
	RepoRoot               string
	Agent                  string
	Workers                int
	Reviewers              int
	Checks                 []string
	LogPath                string
	RunID                  string
	StateDir               string
	AllowPartialCompletion bool
	AttemptTimeoutSecs     int64
}

// DefaultStateDir returns $XDG_STATE_HOME/thence, falling back to
// ~/.local/state/thence, per spec §6.
func DefaultStateDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "thence")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".thence-state")
	}
	return filepath.Join(home, ".local", "state", "thence")
}

func runDir(repoRoot, runID string) string {
	return filepath.Join(repoRoot, ".thence", "runs", runID)
}

// PausedError is returned when Start/Resume leaves the run paused rather
// than reaching a terminal event; the CLI exits non-zero and prints Hint.
type PausedError struct {
	RunID string
	Hint  string
}

func (e *PausedError) Error() string {
	return fmt.Sprintf("run %s is paused\n\n%s", e.RunID, e.Hint)
}

// LikelyActiveError is returned by Resume when a lease looks like a
// concurrent process may still own the attempt (spec §7 class 4).
type LikelyActiveError struct {
	TaskID  string
	Attempt int64
	Reason  string
}

func (e *LikelyActiveError) Error() string {
	return fmt.Sprintf("refusing to resume: task %s attempt %d has a lease that looks active (%s); wait past the stale window and retry", e.TaskID, e.Attempt, e.Reason)
}

func loadConfig(opts Options) (*config.Config, error) {
	path := filepath.Join(opts.RepoRoot, ".thence", "config.toml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.GenerateDefault(), nil
	}
	return config.LoadFromFile(path)
}

func buildRunConfig(opts Options, cfg *config.Config, resolvedChecks checks.Config) (domain.RunConfig, error) {
	rc := domain.RunConfig{
		Agent:             opts.Agent,
		ChecksCommands:    resolvedChecks.Commands,
		WorktreeProvision: cfg.Worktree.Provision,
		AllowPartial:      opts.AllowPartialCompletion,
		MaxAttempts:       cfg.Agent.MaxAttempts,
		ImplTimeoutSecs:   valueOr(cfg.Agent.ImplTimeoutSecs, config.DefaultImplTimeoutSecs),
		ReviewTimeoutSecs: valueOr(cfg.Agent.ReviewTimeoutSecs, config.DefaultReviewTimeoutSecs),
		ChecksTimeoutSecs: valueOr(cfg.Agent.ChecksTimeoutSecs, config.DefaultChecksTimeoutSecs),
	}
	if opts.AttemptTimeoutSecs > 0 {
		rc.ImplTimeoutSecs = opts.AttemptTimeoutSecs
		rc.ReviewTimeoutSecs = opts.AttemptTimeoutSecs
		rc.ChecksTimeoutSecs = opts.AttemptTimeoutSecs
	}
	if rc.MaxAttempts <= 0 {
		rc.MaxAttempts = config.DefaultMaxAttempts
	}

	if opts.Agent == "simulate" {
		rc.AgentCmd = nil
		return rc, nil
	}
	cmd, err := cfg.AgentCmd(opts.Agent)
	if err != nil {
		return rc, err
	}
	rc.AgentCmd = cmd
	return rc, nil
}

func valueOr(v, fallback int64) int64 {
	if v <= 0 {
		return fallback
	}
	return v
}

func buildProvider(rc domain.RunConfig, objectives map[string]string, logger *slog.Logger) provider.Provider {
	if rc.Agent == "simulate" || len(rc.AgentCmd) == 0 {
		return &provider.Simulated{Objectives: objectives}
	}
	return provider.NewSubprocess(rc.AgentCmd, logger)
}

// Start begins a brand-new run: translate, register tasks, approve spec and
// checks, then drive the supervisor loop until a terminal event or a pause.
func Start(ctx context.Context, opts Options, logger *slog.Logger) (domain.EventType, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return "", err
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	resolvedChecks, err := checks.Resolve(opts.Checks, cfg.Checks.Commands)
	if err != nil {
		return "", err
	}

	rc, err := buildRunConfig(opts, cfg, resolvedChecks)
	if err != nil {
		return "", err
	}

	specBytes, err := os.ReadFile(opts.SpecPath)
	if err != nil {
		return "", fmt.Errorf("failed to read spec file %s: %w", opts.SpecPath, err)
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	dir := runDir(opts.RepoRoot, runID)
	if err := ensureRunLayout(dir); err != nil {
		return "", err
	}

	specCopyPath := filepath.Join(dir, "spec.md")
	if err := fsutil.AtomicWrite(specCopyPath, specBytes); err != nil {
		return "", fmt.Errorf("failed to freeze spec copy: %w", err)
	}

	store, err := eventstore.Open(opts.StateDir)
	if err != nil {
		return "", err
	}
	defer store.Close()

	row := domain.RunRow{
		ID:          runID,
		PlanPath:    specCopyPath,
		SPLPlanPath: filepath.Join(dir, "plan.spl"),
		CreatedAt:   time.Now().UTC(),
		Status:      domain.RunStatusRunning,
		Config:      rc,
	}
	if err := store.CreateRun(row); err != nil {
		return "", err
	}

	if _, err := store.AppendEvent(runID, domain.NewEvent{EventType: domain.RunStarted}); err != nil {
		return "", err
	}

	plan, translateErr := translatePlan(string(specBytes))
	if translateErr != nil {
		return openSpecQuestion(store, runID, "spec-q-translate", translateErr.Error())
	}
	if err := translator.SanityCheck(plan); err != nil {
		return openSpecQuestion(store, runID, "spec-q-validate", err.Error())
	}
	review := translator.ReviewSpec(string(specBytes), plan)
	if !review.Approved {
		return openSpecQuestion(store, runID, review.QuestionID, review.Text)
	}

	if err := freezeAndRegister(store, runID, dir, plan); err != nil {
		return "", err
	}

	if _, err := store.AppendEvent(runID, domain.NewEvent{
		EventType: domain.ChecksApproved,
		Payload:   map[string]any{"commands": toAny(resolvedChecks.Commands), "source": resolvedChecks.Source},
	}); err != nil {
		return "", err
	}

	objectives := objectivesOf(plan)
	loop := &supervisor.Loop{
		Store:    store,
		RunID:    runID,
		RunDir:   dir,
		RepoRoot: opts.RepoRoot,
		Config:   rc,
		Provider: buildProvider(rc, objectives, logger),
		Logger:   logger,
	}

	return driveToTerminalOrPause(ctx, store, runID, loop)
}

// Resume implements spec §4.8's seven-step resume sequence.
func Resume(ctx context.Context, opts Options, logger *slog.Logger) (domain.EventType, error) {
	runID := opts.RunID
	if runID == "" {
		return "", fmt.Errorf("resume requires --run")
	}
	store, err := eventstore.Open(opts.StateDir)
	if err != nil {
		return "", err
	}
	defer store.Close()

	dir := runDir(opts.RepoRoot, runID)
	events, err := store.ListEvents(runID)
	if err != nil {
		return "", err
	}
	proj := projector.Fold(events)

	// Step 1: reconcile every open (task, attempt) against its lease.
	for _, dec := range unresolvedAttempts(events) {
		orphan, err := lease.EvaluateOrphan(dir, dec.taskID, dec.attempt)
		if err != nil {
			return "", err
		}
		if !orphan.Interrupt {
			return "", &LikelyActiveError{TaskID: dec.taskID, Attempt: dec.attempt, Reason: orphan.Reason}
		}
		if _, err := store.AppendEvent(runID, domain.NewEvent{
			EventType: domain.AttemptInterrupted,
			TaskID:    dec.taskID,
			Attempt:   dec.attempt,
			ActorRole: domain.ActorSupervisor,
			DedupeKey: fmt.Sprintf("attempt_interrupted:%s:%d", dec.taskID, dec.attempt),
		}); err != nil {
			return "", err
		}
	}

	// Step 2: open questions keep the run paused; the caller must answer.
	events, err = store.ListEvents(runID)
	if err != nil {
		return "", err
	}
	proj = projector.Fold(events)
	if len(proj.OpenQuestions) > 0 {
		return "run_paused", &PausedError{RunID: runID, Hint: lowestQuestionHint(proj.OpenQuestions)}
	}

	row, err := store.GetRun(runID)
	if err != nil {
		return "", err
	}

	// Step 3: re-run translate + review if the spec was never approved.
	if !proj.SpecApproved {
		specPath := filepath.Join(dir, "spec.md")
		var specSource []byte
		if frozen, err := os.ReadFile(filepath.Join(dir, "translated_plan.json")); err == nil && len(frozen) > 0 {
			specSource, _ = os.ReadFile(specPath)
		} else {
			specSource, err = os.ReadFile(opts.SpecPath)
			if err != nil {
				specSource, _ = os.ReadFile(specPath)
			}
		}
		plan, translateErr := translatePlan(string(specSource))
		if translateErr != nil {
			return openSpecQuestion(store, runID, "spec-q-translate", translateErr.Error())
		}
		if err := translator.SanityCheck(plan); err != nil {
			return openSpecQuestion(store, runID, "spec-q-validate", err.Error())
		}
		review := translator.ReviewSpec(string(specSource), plan)
		// A review question the human has already answered does not block
		// approval a second time.
		answered := false
		for _, ev := range events {
			if ev.EventType == domain.SpecQuestionResolved && ev.Payload["question_id"] == review.QuestionID {
				answered = true
			}
		}
		if !review.Approved && !answered {
			return openSpecQuestion(store, runID, review.QuestionID, review.Text)
		}
		if err := freezeAndRegister(store, runID, dir, plan); err != nil {
			return "", err
		}
	}

	// Step 4: replay the checks approval from the frozen config/CLI.
	events, err = store.ListEvents(runID)
	if err != nil {
		return "", err
	}
	proj = projector.Fold(events)
	if !proj.ChecksApproved {
		resolvedChecks, err := checks.Resolve(opts.Checks, row.Config.ChecksCommands)
		if err != nil {
			return "", err
		}
		if _, err := store.AppendEvent(runID, domain.NewEvent{
			EventType: domain.ChecksApproved,
			Payload:   map[string]any{"commands": toAny(resolvedChecks.Commands), "source": resolvedChecks.Source},
		}); err != nil {
			return "", err
		}
	}

	// Step 5: register tasks now if they never were.
	events, err = store.ListEvents(runID)
	if err != nil {
		return "", err
	}
	proj = projector.Fold(events)
	if len(proj.Tasks) == 0 {
		if plan, err := loadFrozenPlan(dir); err == nil {
			if err := registerTasks(store, runID, plan); err != nil {
				return "", err
			}
		}
	}

	// Step 6: regenerate the SPL artifact if missing.
	splPath := filepath.Join(dir, "plan.spl")
	if _, err := os.Stat(splPath); os.IsNotExist(err) {
		if plan, err := loadFrozenPlan(dir); err == nil {
			_ = fsutil.AtomicWrite(splPath, []byte(policydoc.Render(plan)))
		}
	}

	objectives, _ := loadObjectives(dir)
	loop := &supervisor.Loop{
		Store:    store,
		RunID:    runID,
		RunDir:   dir,
		RepoRoot: opts.RepoRoot,
		Config:   row.Config,
		Provider: buildProvider(row.Config, objectives, logger),
		Logger:   logger,
	}

	if _, err := store.AppendEvent(runID, domain.NewEvent{EventType: domain.RunResumed, ActorRole: domain.ActorSupervisor}); err != nil {
		return "", err
	}

	// Step 7: enter the supervisor loop.
	return driveToTerminalOrPause(ctx, store, runID, loop)
}

// Answer appends human_input_provided and spec_question_resolved for qid,
// followed by run_resumed, then returns — the caller is expected to call
// Resume next.
func Answer(opts Options, questionID, text string) error {
	store, err := eventstore.Open(opts.StateDir)
	if err != nil {
		return err
	}
	defer store.Close()

	if _, err := store.AppendEvent(opts.RunID, domain.NewEvent{
		EventType: domain.HumanInputProvided,
		ActorRole: domain.ActorSupervisor,
		Payload:   map[string]any{"question_id": questionID, "text": text},
	}); err != nil {
		return err
	}
	if _, err := store.AppendEvent(opts.RunID, domain.NewEvent{
		EventType: domain.SpecQuestionResolved,
		ActorRole: domain.ActorSupervisor,
		Payload:   map[string]any{"question_id": questionID},
	}); err != nil {
		return err
	}
	_, err = store.AppendEvent(opts.RunID, domain.NewEvent{EventType: domain.RunResumed, ActorRole: domain.ActorSupervisor})
	return err
}

// Questions lists unresolved open questions for a run, lowest id first.
func Questions(opts Options) (map[string]string, error) {
	store, err := eventstore.Open(opts.StateDir)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.UnresolvedQuestions(opts.RunID)
}

// Snapshot is the output shape for `thence inspect`.
type Snapshot struct {
	RunID          string            `json:"run_id"`
	Status         domain.RunStatus  `json:"status"`
	Phase          string            `json:"phase"`
	SpecApproved   bool              `json:"spec_approved"`
	ChecksApproved bool              `json:"checks_approved"`
	Paused         bool              `json:"paused"`
	OpenQuestions  map[string]string `json:"open_questions,omitempty"`
	Tasks          []TaskSnapshot    `json:"tasks"`
}

// TaskSnapshot is one task's row in Inspect output.
type TaskSnapshot struct {
	ID             string `json:"id"`
	Attempts       int64  `json:"attempts"`
	LatestAttempt  int64  `json:"latest_attempt"`
	Closed         bool   `json:"closed"`
	TerminalFailed bool   `json:"terminal_failed"`
	Claimed        bool   `json:"claimed"`
}

// Inspect returns a point-in-time snapshot of a run's projection, with a
// supplemented `phase` classification (spec §9 open-question precedent:
// inspect needs a single human-readable status beyond the raw booleans).
func Inspect(opts Options) (Snapshot, error) {
	store, err := eventstore.Open(opts.StateDir)
	if err != nil {
		return Snapshot{}, err
	}
	defer store.Close()

	row, err := store.GetRun(opts.RunID)
	if err != nil {
		return Snapshot{}, err
	}
	events, err := store.ListEvents(opts.RunID)
	if err != nil {
		return Snapshot{}, err
	}
	proj := projector.Fold(events)

	snap := Snapshot{
		RunID:          opts.RunID,
		Status:         row.Status,
		SpecApproved:   proj.SpecApproved,
		ChecksApproved: proj.ChecksApproved,
		Paused:         proj.Paused,
		OpenQuestions:  proj.OpenQuestions,
		Phase:          classifyPhase(proj),
	}
	for _, id := range proj.TaskOrder {
		t := proj.Tasks[id]
		snap.Tasks = append(snap.Tasks, TaskSnapshot{
			ID: t.ID, Attempts: t.Attempts, LatestAttempt: t.LatestAttempt,
			Closed: t.Closed, TerminalFailed: t.TerminalFailed, Claimed: t.Claimed,
		})
	}
	return snap, nil
}

func classifyPhase(proj *domain.RunProjection) string {
	switch {
	case proj.Terminal != "":
		return string(proj.Terminal)
	case len(proj.OpenQuestions) > 0:
		return "blocked_on_questions"
	case proj.Paused:
		return "paused"
	case !proj.SpecApproved:
		return "awaiting_spec_approval"
	case !proj.ChecksApproved:
		return "awaiting_checks_approval"
	default:
		return "running"
	}
}

func driveToTerminalOrPause(ctx context.Context, store *eventstore.Store, runID string, loop *supervisor.Loop) (domain.EventType, error) {
	for {
		tag, err := loop.Step(ctx)
		if err != nil {
			return "", err
		}
		if tag == "run_paused" {
			open, _ := store.UnresolvedQuestions(runID)
			return "run_paused", &PausedError{RunID: runID, Hint: lowestQuestionHint(open)}
		}
		if tag != "" {
			return tag, nil
		}
	}
}

func lowestQuestionHint(open map[string]string) string {
	if len(open) == 0 {
		return "run is paused; use `thence resume --run <id>` once unblocked"
	}
	ids := make([]string, 0, len(open))
	for id := range open {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	lowest := ids[0]
	return fmt.Sprintf("open question %s: %s\n\nRun:\n  thence answer --run <id> --question %s --text \"…\"\n  thence resume --run <id>", lowest, open[lowest], lowest)
}

func openSpecQuestion(store *eventstore.Store, runID, questionID, text string) (domain.EventType, error) {
	if _, err := store.AppendEvent(runID, domain.NewEvent{
		EventType: domain.SpecQuestionOpened,
		ActorRole: domain.ActorSupervisor,
		Payload:   map[string]any{"question_id": questionID, "text": text},
	}); err != nil {
		return "", err
	}
	if _, err := store.AppendEvent(runID, domain.NewEvent{
		EventType: domain.HumanInputRequested,
		ActorRole: domain.ActorSupervisor,
		Payload:   map[string]any{"question_id": questionID},
	}); err != nil {
		return "", err
	}
	return "run_paused", &PausedError{RunID: runID, Hint: lowestQuestionHint(map[string]string{questionID: text})}
}

func translatePlan(markdown string) (translator.Plan, error) {
	return translator.TranslateLocal(markdown)
}

func freezeAndRegister(store *eventstore.Store, runID, dir string, plan translator.Plan) error {
	if _, err := store.AppendEvent(runID, domain.NewEvent{EventType: domain.PlanTranslated, ActorRole: domain.ActorSupervisor}); err != nil {
		return err
	}
	if _, err := store.AppendEvent(runID, domain.NewEvent{EventType: domain.PlanValidated, ActorRole: domain.ActorSupervisor}); err != nil {
		return err
	}
	if _, err := store.AppendEvent(runID, domain.NewEvent{EventType: domain.SpecApproved, ActorRole: domain.ActorSupervisor}); err != nil {
		return err
	}

	if err := savePlan(dir, plan); err != nil {
		return err
	}
	if err := fsutil.AtomicWrite(filepath.Join(dir, "plan.spl"), []byte(policydoc.Render(plan))); err != nil {
		return err
	}

	return registerTasks(store, runID, plan)
}

func registerTasks(store *eventstore.Store, runID string, plan translator.Plan) error {
	for _, t := range plan.Tasks {
		if _, err := store.AppendEvent(runID, domain.NewEvent{
			EventType: domain.TaskRegistered,
			TaskID:    t.ID,
			ActorRole: domain.ActorSupervisor,
			Payload: map[string]any{
				"objective":       t.Objective,
				"acceptance":      t.Acceptance,
				"dependencies":    toAny(t.Dependencies),
				"required_checks": toAny(t.Checks),
			},
		}); err != nil {
			return err
		}
	}
	return nil
}

func savePlan(dir string, plan translator.Plan) error {
	return fsutil.AtomicWriteJSON(filepath.Join(dir, "translated_plan.json"), plan)
}

func loadFrozenPlan(dir string) (translator.Plan, error) {
	data, err := os.ReadFile(filepath.Join(dir, "translated_plan.json"))
	if err != nil {
		return translator.Plan{}, err
	}
	var plan translator.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return translator.Plan{}, err
	}
	return plan, nil
}

func loadObjectives(dir string) (map[string]string, error) {
	plan, err := loadFrozenPlan(dir)
	if err != nil {
		return nil, err
	}
	return objectivesOf(plan), nil
}

func objectivesOf(plan translator.Plan) map[string]string {
	out := make(map[string]string, len(plan.Tasks))
	for _, t := range plan.Tasks {
		out[t.ID] = t.Objective
	}
	return out
}

func toAny(strs []string) []any {
	out := make([]any, len(strs))
	for i, s := range strs {
		out[i] = s
	}
	return out
}

func ensureRunLayout(dir string) error {
	dirs := []string{
		filepath.Join(dir, "capsules"),
		filepath.Join(dir, "leases"),
		filepath.Join(dir, "worktrees"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return fmt.Errorf("failed to create %s: %w", d, err)
		}
	}
	return nil
}

type unresolvedAttempt struct {
	taskID  string
	attempt int64
}

// unresolvedAttempts finds every (task, attempt) with a task_claimed that
// has no subsequent resolving event for that same pair.
func unresolvedAttempts(events []domain.Event) []unresolvedAttempt {
	type key struct {
		task    string
		attempt int64
	}
	claimed := map[key]bool{}
	resolved := map[key]bool{}
	var order []key

	for _, ev := range events {
		k := key{ev.TaskID, ev.Attempt}
		switch ev.EventType {
		case domain.TaskClaimed:
			if !claimed[k] {
				order = append(order, k)
			}
			claimed[k] = true
		case domain.ReviewFoundIssues, domain.MergeSucceeded, domain.TaskClosed, domain.TaskFailedTerminal, domain.AttemptInterrupted:
			resolved[k] = true
		}
	}

	var out []unresolvedAttempt
	for _, k := range order {
		if !resolved[k] {
			out = append(out, unresolvedAttempt{taskID: k.task, attempt: k.attempt})
		}
	}
	return out
}
