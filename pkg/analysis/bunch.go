package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/nicktill/ldmon/pkg/selection"
	"github.com/nicktill/ldmon/pkg/table"
)

// Bunches splits t into consecutive slices of width w starting at its
// earliest event. Slices without events are skipped.
func Bunches(t *table.Table, w time.Duration) []*table.Table {
	first, last, ok := t.TimeSpan()
	if !ok || w <= 0 {
		return []*table.Table{t}
	}

	n := int(last.Sub(first)/w) + 1
	out := make([]*table.Table, 0, n)
	for k := 0; k < n; k++ {
		start := first.Add(time.Duration(k) * w)
		end := start.Add(w)
		b := t.Filter(func(r table.Row) bool {
			return !r.Datetime.Before(start) && r.Datetime.Before(end)
		})
		if !b.Empty() {
			out = append(out, b)
		}
	}
	return out
}

// RunBunched analyses the events in consecutive slices of width w. The first
// slice overwrites the persisted baseline and the following ones append to
// it, whatever output mode sel asks for.
func (a *Analyzer) RunBunched(ctx context.Context, events *table.Table, sel selection.Selection, w time.Duration) ([]*Result, error) {
	if a.store == nil {
		return nil, fmt.Errorf("%w: bunched runs persist their baseline", ErrNoStorage)
	}

	bunches := Bunches(events, w)
	results := make([]*Result, 0, len(bunches))
	for i, b := range bunches {
		mode := selection.OutputAppend
		if i == 0 {
			mode = selection.OutputOverwrite
		}
		a.logf("bunch %d/%d: %d events, output %s", i+1, len(bunches), b.Len(), mode)

		res, err := a.Run(ctx, b, sel.WithOutput(mode))
		if err != nil {
			return results, fmt.Errorf("bunch %d: %w", i+1, err)
		}
		results = append(results, res)
	}
	return results, nil
}
