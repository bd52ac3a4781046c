package table

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const eventsCSV = `datetime,channel,name,location,position,flag_pulser,is_valid_0vbb,baseline,wf_max
2023-03-01T00:00:00Z,1104000,V02160A,1,1,true,1,14000.5,
1677628860,1104000,V02160A,1,1,false,0,14001,320
2023-03-01T00:02:00Z,1052803,S002,IB-008,top,0,1,nan,12
`

func TestReadCSV(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader(eventsCSV), nil)
	require.NoError(t, err)
	require.Equal(t, 3, tbl.Len())

	require.Equal(t, []string{"flag_pulser", "is_valid_0vbb"}, tbl.FlagColumns())
	require.Equal(t, []string{"baseline", "wf_max"}, tbl.ValueColumns())

	first := tbl.Rows[0]
	require.Equal(t, 1104000, first.Channel)
	require.Equal(t, "V02160A", first.Name)
	require.Equal(t, IntGeometry(1), first.Location)
	require.Equal(t, 14000.5, first.Value("baseline"))
	require.True(t, math.IsNaN(first.Value("wf_max")))

	// Unix seconds
	require.True(t, tbl.Rows[1].Datetime.Equal(first.Datetime.Add(60e9)))

	sipm := tbl.Rows[2]
	require.Equal(t, StringGeometry("IB-008"), sipm.Location)
	require.True(t, math.IsNaN(sipm.Value("baseline")))
	v, ok := sipm.Flag("flag_pulser")
	require.True(t, ok)
	require.False(t, v)
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "missing channel", input: "datetime,baseline\n2023-03-01T00:00:00Z,1\n", expected: "datetime and channel"},
		{name: "bad channel", input: "datetime,channel\n2023-03-01T00:00:00Z,abc\n", expected: "invalid channel"},
		{name: "bad datetime", input: "datetime,channel\nyesterday,1\n", expected: "invalid datetime"},
		{name: "bad flag", input: "datetime,channel,flag_muon\n2023-03-01T00:00:00Z,1,maybe\n", expected: "flag_muon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.input), nil)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.expected)
		})
	}
}

func TestWriteCSV_ReadsBack(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader(eventsCSV), nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, tbl))
	require.Contains(t, buf.String(), "datetime,channel,name,location,position,flag_pulser,is_valid_0vbb,baseline,wf_max\n")

	again, err := ReadCSV(&buf, nil)
	require.NoError(t, err)
	require.Equal(t, tbl.Len(), again.Len())
	require.Equal(t, tbl.Rows[1].Value("wf_max"), again.Rows[1].Value("wf_max"))
	require.True(t, math.IsNaN(again.Rows[0].Value("wf_max")))
}
