package analysis

import (
	"fmt"

	"github.com/nicktill/ldmon/pkg/selection"
	"github.com/nicktill/ldmon/pkg/table"
)

// applyCuts filters t by each boolean cut in order. Cuts on unknown columns
// are skipped and reported as warnings.
func applyCuts(t *table.Table, cuts []string) (*table.Table, []Warning) {
	var warnings []Warning
	for _, cut := range cuts {
		col, want := selection.ParseCut(cut)
		if !t.HasFlag(col) {
			warnings = append(warnings, Warning{
				Code: WarnUnknownCutColumn,
				Message: fmt.Sprintf("cut %q is not available (misspelled, or absent from this data); keeping every row", cut),
			})
			continue
		}
		t = t.Filter(func(r table.Row) bool {
			v, ok := r.Flag(col)
			return ok && v == want
		})
	}
	return t, warnings
}
