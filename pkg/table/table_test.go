package table

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)

func sampleTable() *Table {
	rows := []Row{
		{Datetime: t0.Add(2 * time.Minute), Channel: 2, Values: map[string]float64{"baseline": 3}, Flags: map[string]bool{"flag_pulser": true}},
		{Datetime: t0, Channel: 2, Values: map[string]float64{"baseline": 1}, Flags: map[string]bool{"flag_pulser": false}},
		{Datetime: t0.Add(time.Minute), Channel: 1, Values: map[string]float64{"baseline": 2, "wf_max": 9}, Flags: map[string]bool{"flag_pulser": true}},
	}
	return New([]string{"flag_pulser"}, []string{"baseline", "wf_max"}, rows)
}

func TestTable_Columns(t *testing.T) {
	tbl := sampleTable()

	require.True(t, tbl.HasFlag("flag_pulser"))
	require.True(t, tbl.HasValue("wf_max"))
	require.True(t, tbl.HasColumn(ColDatetime))
	require.False(t, tbl.HasColumn("is_valid"))

	tbl.AddValueColumn("baseline")
	require.Equal(t, []string{"baseline", "wf_max"}, tbl.ValueColumns())

	tbl.DropValueColumn("wf_max")
	require.False(t, tbl.HasValue("wf_max"))
	require.True(t, math.IsNaN(tbl.Rows[2].Value("wf_max")))
}

func TestTable_ProjectIsDeepCopy(t *testing.T) {
	tbl := sampleTable()
	proj := tbl.Project([]string{"baseline", "missing"})

	require.Equal(t, []string{"baseline"}, proj.ValueColumns())
	require.Equal(t, []string{"flag_pulser"}, proj.FlagColumns())
	_, ok := proj.Rows[2].Values["wf_max"]
	require.False(t, ok)

	proj.Rows[0].SetValue("baseline", 100)
	proj.Rows[0].Flags["flag_pulser"] = false
	require.Equal(t, 3.0, tbl.Rows[0].Value("baseline"))
	v, _ := tbl.Rows[0].Flag("flag_pulser")
	require.True(t, v)
}

func TestTable_FilterAndSort(t *testing.T) {
	tbl := sampleTable()

	pulser := tbl.Filter(func(r Row) bool {
		v, _ := r.Flag("flag_pulser")
		return v
	})
	require.Equal(t, 2, pulser.Len())
	require.True(t, pulser.HasValue("wf_max"))

	tbl.SortByChannelTime()
	require.Equal(t, []float64{2, 1, 3}, tbl.Column("baseline"))
	require.Equal(t, []int{1, 2}, tbl.Channels())

	min, max, ok := tbl.TimeSpan()
	require.True(t, ok)
	require.True(t, min.Equal(t0))
	require.True(t, max.Equal(t0.Add(2*time.Minute)))

	_, _, ok = New(nil, nil, nil).TimeSpan()
	require.False(t, ok)
}

func TestGeometry(t *testing.T) {
	require.Equal(t, IntGeometry(-1), ParseGeometry("-1"))
	require.Equal(t, StringGeometry("IB-008"), ParseGeometry("IB-008"))
	require.True(t, IntGeometry(0).Equal(0))
	require.False(t, StringGeometry("0").Equal(0))
	require.Equal(t, "top", StringGeometry("top").String())
}
