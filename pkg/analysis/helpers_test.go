package analysis

import (
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/nicktill/ldmon/pkg/selection"
	"github.com/nicktill/ldmon/pkg/table"
)

var t0 = time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return t0.Add(time.Duration(sec) * time.Second)
}

func gedRow(ch, sec int, values map[string]float64, flags map[string]bool) table.Row {
	return table.Row{
		Datetime: at(sec),
		Channel:  ch,
		Name:     fmt.Sprintf("V%05d", ch),
		Location: table.IntGeometry(1),
		Position: table.IntGeometry(ch%8 + 1),
		Flags:    flags,
		Values:   values,
	}
}

func newTestAnalyzer(opts ...Option) *Analyzer {
	opts = append([]Option{WithLogger(log.New(io.Discard, "", 0))}, opts...)
	return New(opts...)
}

func mustSelection(t *testing.T, spec selection.Spec) selection.Selection {
	t.Helper()
	sel, err := selection.New(spec, nil)
	if err != nil {
		t.Fatalf("Failed to build selection: %v", err)
	}
	return sel
}

// uniformEvents returns n events of channel ch every step seconds from offset.
func uniformEvents(ch, n, step, offset int) []table.Row {
	rows := make([]table.Row, n)
	for i := range rows {
		rows[i] = gedRow(ch, offset+i*step, map[string]float64{"baseline": 14000}, map[string]bool{selection.FlagPulser: false})
	}
	return rows
}
