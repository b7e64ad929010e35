// Package scheduler picks the next task to attempt, per spec §4.5.
package scheduler

import (
	"sort"

	"github.com/iambrandonn/thence/internal/domain"
	"github.com/iambrandonn/thence/internal/policy"
)

// NextClaimableTask iterates task ids in deterministic sorted order and
// returns the first one that is in sets.Claimable and still has attempt
// budget remaining. The lexicographic tie-break is observable behavior —
// callers and tests may depend on it.
func NextClaimableTask(run *domain.RunProjection, sets policy.Sets, maxAttempts int64) (string, bool) {
	ids := make([]string, 0, len(run.Tasks))
	for id := range run.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if !sets.Claimable[id] {
			continue
		}
		t := run.Tasks[id]
		if t.Attempts >= maxAttempts {
			continue
		}
		return id, true
	}
	return "", false
}
