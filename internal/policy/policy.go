// Package policy implements the pure predicate functions from spec §4.4.
// The reference system delegates claimable/closable/merge-ready to a rule
// engine; no Datalog-style logic engine exists anywhere in the example
// corpus, and the spec's own design notes say a reimplementation does not
// need one — "the set definitions in §4.4 are the spec." These are exactly
// those set definitions, encoded directly as Go predicates.
package policy

import "github.com/iambrandonn/thence/internal/domain"

// Sets is the three claimable/closable/merge_ready task-id sets derived
// from one projection.
type Sets struct {
	Claimable  map[string]bool
	Closable   map[string]bool
	MergeReady map[string]bool
}

// Derive computes the three eligibility sets for every task registered in
// run.
func Derive(run *domain.RunProjection) Sets {
	sets := Sets{
		Claimable:  map[string]bool{},
		Closable:   map[string]bool{},
		MergeReady: map[string]bool{},
	}

	runEligible := run.RunActive() &&
		run.SpecApproved &&
		run.ChecksApproved &&
		len(run.OpenQuestions) == 0 &&
		!run.Paused

	for id, t := range run.Tasks {
		if runEligible &&
			!t.Claimed &&
			!t.Closed &&
			!t.TerminalFailed &&
			t.DependenciesClosed(run) {
			sets.Claimable[id] = true
		}

		if isClosable(t) {
			sets.Closable[id] = true
			if len(run.OpenQuestions) == 0 && run.RunActive() {
				sets.MergeReady[id] = true
			}
		}
	}

	return sets
}

func isClosable(t *domain.TaskProjection) bool {
	a := t.LatestAttempt
	if a <= 0 {
		return false
	}
	if _, ok := t.ReviewApprovedAttempts[a]; !ok {
		return false
	}
	if _, ok := t.ChecksPassedAttempts[a]; !ok {
		return false
	}
	if _, ok := t.UnresolvedFindingsAttempts[a]; ok {
		return false
	}
	return true
}
