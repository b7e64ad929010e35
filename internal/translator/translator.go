// Package translator turns a markdown spec into a task graph with a
// deterministic local checklist parser (TranslateLocal); no agent is called
// for translation. It also supplies the sanity check and the spec-review
// gate, grounded on original_source's plan/translator.rs, plan/sanity.rs and
// plan/review_loop.rs.
package translator

import (
	"fmt"
	"regexp"
	"strings"
)

// Task is one translated task.
type Task struct {
	ID           string
	Objective    string
	Acceptance   string
	Dependencies []string
	Checks       []string
}

// Plan is the translated task graph.
type Plan struct {
	Tasks []Task
}

var checklistLine = regexp.MustCompile(`^-\s*\[\s*\]\s*([^:]+):\s*(.*)$`)

// sanitizeIdent maps every non-alphanumeric, non-underscore rune to '_',
// matching original_source's plan/translator.rs::sanitize_ident exactly:
// "task-a" and "task_a" both collapse to "task_a". An all-punctuation (or
// empty) input becomes "task".
func sanitizeIdent(input string) string {
	var b strings.Builder
	for _, r := range input {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if strings.Trim(b.String(), "_") == "" {
		return "task"
	}
	return b.String()
}

// TranslateLocal parses a simple markdown checklist:
//
//	- [ ] task-a: implement the thing
//	- [ ] task-b: verify it | deps=task-a; checks=go test ./...
//
// into a Plan. Clauses after the first "|" are separated by ";". This is
// the only translator: internal/run uses it for every agent, simulated or
// subprocess. Task ids and dependency ids are
// sanitized (see sanitizeIdent) before being compared or stored, so two
// checklist entries that sanitize to the same id fail translation —
// callers should surface this as the spec-q-translate pause, not a
// successfully registered duplicate.
func TranslateLocal(markdown string) (Plan, error) {
	var plan Plan
	seenBy := map[string]string{}

	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimSpace(line)
		m := checklistLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		rawID := strings.TrimSpace(m[1])
		rest := m[2]

		objective := rest
		var deps []string
		var checks []string
		if idx := strings.Index(rest, "|"); idx >= 0 {
			objective = strings.TrimSpace(rest[:idx])
			for _, clause := range strings.Split(rest[idx+1:], ";") {
				clause = strings.TrimSpace(clause)
				switch {
				case strings.HasPrefix(clause, "deps="):
					for _, dep := range strings.Split(strings.TrimPrefix(clause, "deps="), ",") {
						dep = strings.TrimSpace(dep)
						if dep != "" {
							deps = append(deps, sanitizeIdent(dep))
						}
					}
				case strings.HasPrefix(clause, "checks="):
					for _, check := range strings.Split(strings.TrimPrefix(clause, "checks="), ",") {
						check = strings.TrimSpace(check)
						if check != "" {
							checks = append(checks, check)
						}
					}
				}
			}
		}

		id := sanitizeIdent(rawID)
		if prev, ok := seenBy[id]; ok {
			return Plan{}, fmt.Errorf("duplicate task ID after sanitization: %q (from %q and %q)", id, prev, rawID)
		}
		seenBy[id] = rawID

		plan.Tasks = append(plan.Tasks, Task{
			ID:           id,
			Objective:    objective,
			Acceptance:   fmt.Sprintf("Complete objective: %s", objective),
			Dependencies: deps,
			Checks:       checks,
		})
	}

	return plan, nil
}

// Ambiguity markers that block spec approval (original's plan/review_loop.rs).
var ambiguityMarkers = []string{"???", "[QUESTION]"}

// ReviewResult is the outcome of the spec review gate.
type ReviewResult struct {
	Approved   bool
	QuestionID string
	Text       string
}

// ReviewSpec scans the markdown and translated plan for ambiguity, in the
// order original_source applies them: a marker anywhere in the markdown
// first, then an empty objective on any task. Only the first issue found is
// reported, so the question id of a rejected spec is always spec-q-1.
func ReviewSpec(markdown string, plan Plan) ReviewResult {
	n := 0
	nextID := func() string {
		n++
		return fmt.Sprintf("spec-q-%d", n)
	}

	for _, marker := range ambiguityMarkers {
		if strings.Contains(markdown, marker) {
			return ReviewResult{
				Approved:   false,
				QuestionID: nextID(),
				Text:       fmt.Sprintf("ambiguity marker %q found in spec; please clarify", marker),
			}
		}
	}

	for _, t := range plan.Tasks {
		if strings.TrimSpace(t.Objective) == "" {
			return ReviewResult{
				Approved:   false,
				QuestionID: nextID(),
				Text:       fmt.Sprintf("task %q has an empty objective; please clarify", t.ID),
			}
		}
	}

	return ReviewResult{Approved: true}
}

// SanityCheck rejects plans with zero tasks or no task that is initially
// ready to claim (a dependency cycle covering every task), mirroring
// original_source's plan/sanity.rs.
func SanityCheck(plan Plan) error {
	if len(plan.Tasks) == 0 {
		return fmt.Errorf("translated plan has zero tasks")
	}

	byID := map[string]Task{}
	for _, t := range plan.Tasks {
		byID[t.ID] = t
	}

	anyReady := false
	for _, t := range plan.Tasks {
		if len(t.Dependencies) == 0 {
			anyReady = true
			break
		}
	}
	if !anyReady {
		return fmt.Errorf("translated plan has no initially-ready task (every task has a dependency)")
	}

	for _, t := range plan.Tasks {
		for _, dep := range t.Dependencies {
			if _, ok := byID[dep]; !ok {
				return fmt.Errorf("task %q depends on unknown task %q", t.ID, dep)
			}
		}
	}

	return nil
}
