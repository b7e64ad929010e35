// Package policydoc renders the plan's dependency graph as a textual
// logic-fact notation (plan.spl), an explanatory artifact only — per spec
// §9, its only required semantic content is the dependency graph, and
// nothing in this repository parses it back; the executable semantics
// live entirely in internal/policy.
package policydoc

import (
	"fmt"
	"sort"
	"strings"

	"github.com/iambrandonn/thence/internal/translator"
)

// Render produces the SPL-style fact listing for plan, grounded on
// original_source's policy/spindle_bridge.rs fact shapes: one
// `(given (task id))` per task and one `(given (depends-on id dep))` per
// dependency edge, sorted for stable output.
func Render(plan translator.Plan) string {
	var b strings.Builder
	ids := make([]string, 0, len(plan.Tasks))
	byID := map[string]translator.Task{}
	for _, t := range plan.Tasks {
		ids = append(ids, t.ID)
		byID[t.ID] = t
	}
	sort.Strings(ids)

	for _, id := range ids {
		fmt.Fprintf(&b, "(given (task %s))\n", id)
	}
	for _, id := range ids {
		deps := append([]string(nil), byID[id].Dependencies...)
		sort.Strings(deps)
		for _, dep := range deps {
			fmt.Fprintf(&b, "(given (depends-on %s %s))\n", id, dep)
		}
	}

	return b.String()
}
