package domain

// TaskProjection is the derived per-task view folded from the event log.
type TaskProjection struct {
	ID              string
	Objective       string
	Acceptance      string
	Dependencies    []string
	RequiredChecks  []string
	Attempts        int64
	LatestAttempt   int64
	Claimed         bool
	Closed          bool
	TerminalFailed  bool

	ReviewApprovedAttempts      map[int64]struct{}
	ChecksPassedAttempts        map[int64]struct{}
	UnresolvedFindingsAttempts  map[int64]struct{}
	MergedAttempts              map[int64]struct{}
}

// DependenciesClosed reports whether every dependency id is closed in run.
func (t *TaskProjection) DependenciesClosed(run *RunProjection) bool {
	for _, dep := range t.Dependencies {
		depTask, ok := run.Tasks[dep]
		if !ok || !depTask.Closed {
			return false
		}
	}
	return true
}

// RunProjection is the pure fold of a run's event log into current state.
type RunProjection struct {
	SpecApproved   bool
	ChecksApproved bool
	ChecksCommands []string
	Paused         bool
	Terminal       EventType // zero value means "not terminal"
	Tasks          map[string]*TaskProjection
	TaskOrder      []string // order of first task_registered, for deterministic output
	OpenQuestions  map[string]string
}

// NewRunProjection returns an empty, initial projection (the fold's zero state).
func NewRunProjection() *RunProjection {
	return &RunProjection{
		Tasks:         map[string]*TaskProjection{},
		OpenQuestions: map[string]string{},
	}
}

// RunActive reports whether the run has not yet reached a terminal event.
func (r *RunProjection) RunActive() bool {
	return r.Terminal == ""
}
