package analysis

import (
	"fmt"

	"github.com/nicktill/ldmon/pkg/selection"
	"github.com/nicktill/ldmon/pkg/table"
)

// selectEvents keeps the rows matching the event type.
func selectEvents(t *table.Table, evt selection.EventType) (*table.Table, error) {
	if flag, ok := evt.RequiredFlag(); ok && !t.HasFlag(flag) {
		return nil, fmt.Errorf("%w: event type %s needs column %s; flag the %s events before running the analysis",
			ErrMissingFlagColumn, evt, flag, evt)
	}

	switch evt {
	case selection.EventAll:
		return t, nil

	case selection.EventPulser:
		return t.Filter(flagSet(selection.FlagPulser)), nil

	case selection.EventFCBaseline:
		return t.Filter(flagSet(selection.FlagFCBaseline)), nil

	case selection.EventMuon:
		return t.Filter(flagSet(selection.FlagMuon)), nil

	case selection.EventPhysical:
		return t.Filter(func(r table.Row) bool {
			for _, f := range selection.EventFlags {
				if v, _ := r.Flag(f); v {
					return false
				}
			}
			return true
		}), nil

	case selection.EventKLines:
		if !t.HasValue(selection.KLinesEnergy) {
			return nil, fmt.Errorf("%w: event type %s needs column %s", ErrMissingColumn, evt, selection.KLinesEnergy)
		}
		lo, hi := selection.KLinesRange[0], selection.KLinesRange[1]
		return t.Filter(func(r table.Row) bool {
			if pulser, _ := r.Flag(selection.FlagPulser); pulser {
				return false
			}
			e := r.Value(selection.KLinesEnergy)
			return e >= lo && e <= hi
		}), nil
	}

	return nil, fmt.Errorf("%w: event type %q", selection.ErrInvalidSelection, evt)
}

func flagSet(flag string) func(table.Row) bool {
	return func(r table.Row) bool {
		v, _ := r.Flag(flag)
		return v
	}
}
