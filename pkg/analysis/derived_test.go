package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/ldmon/pkg/metadata"
	"github.com/nicktill/ldmon/pkg/selection"
	"github.com/nicktill/ldmon/pkg/table"
)

func exposureEvents() *table.Table {
	var rows []table.Row
	for i := 0; i < 10; i++ {
		rows = append(rows, gedRow(1, i*10, nil, map[string]bool{selection.FlagPulser: i < 4}))
		rows = append(rows, gedRow(2, i*10, nil, map[string]bool{selection.FlagPulser: false}))
	}
	return table.New([]string{selection.FlagPulser}, nil, rows)
}

func TestRun_ExposureWithPULS01(t *testing.T) {
	meta := metadata.NewStatic(
		[]metadata.Validity{{ValidFrom: t0.Add(-time.Hour), Channels: []metadata.ChannelInfo{
			{Name: "PULS01", Rawid: 1027203, System: "puls"},
		}}},
		[]metadata.Diode{{Name: "V00001", MassInG: 2000}, {Name: "V00002", MassInG: 1500}},
	)

	res, err := newTestAnalyzer(WithMetadata(meta)).Run(context.Background(), exposureEvents(),
		mustSelection(t, selection.Spec{Parameters: []string{"exposure"}, EventType: "all"}))
	require.NoError(t, err)

	byChannel := res.Data.GroupByChannel()
	// 4 pulser events at 0.05 Hz
	require.InDelta(t, 80, byChannel[1][0].Value(ColLivetime), 1e-12)
	require.InDelta(t, 2*80/secondsPerYear, byChannel[1][0].Value("exposure"), 1e-18)
	// No pulser events, no exposure
	require.Equal(t, 0.0, byChannel[2][0].Value("exposure"))
	require.True(t, res.Data.HasValue("exposure_mean"))
}

func TestRun_ExposureWithAUX00Rate(t *testing.T) {
	meta := metadata.NewStatic(
		[]metadata.Validity{{ValidFrom: t0.Add(-time.Hour), Channels: []metadata.ChannelInfo{
			{Name: "AUX00", Rawid: 1, System: "auxs", PulserRateHz: 0.1},
		}}},
		[]metadata.Diode{{Name: "V00001", MassInG: 2000}, {Name: "V00002", MassInG: 1500}},
	)

	res, err := newTestAnalyzer(WithMetadata(meta)).Run(context.Background(), exposureEvents(),
		mustSelection(t, selection.Spec{Parameters: []string{"exposure"}, EventType: "all"}))
	require.NoError(t, err)
	require.InDelta(t, 40, res.Data.GroupByChannel()[1][0].Value(ColLivetime), 1e-12)
}

func TestRun_ExposureErrors(t *testing.T) {
	sel := mustSelection(t, selection.Spec{Parameters: []string{"exposure"}, EventType: "all"})

	_, err := newTestAnalyzer().Run(context.Background(), exposureEvents(), sel)
	require.ErrorIs(t, err, ErrNoMetadata)

	meta := metadata.NewStatic(nil, nil)
	noFlags := table.New(nil, nil, []table.Row{gedRow(1, 0, nil, nil)})
	_, err = newTestAnalyzer(WithMetadata(meta)).Run(context.Background(), noFlags, sel)
	require.ErrorIs(t, err, ErrMissingFlagColumn)

	_, err = newTestAnalyzer(WithMetadata(meta)).Run(context.Background(), exposureEvents(), sel)
	require.ErrorIs(t, err, metadata.ErrNotFound)
}

func TestEventRate_BucketCountsSumToKeptEvents(t *testing.T) {
	var rows []table.Row
	secs := []int{0, 3, 7, 12, 13, 14, 29, 31, 58, 59, 60, 61, 150}
	for _, s := range secs {
		rows = append(rows, gedRow(1, s, nil, nil))
	}
	out, err := eventRate(table.New(nil, nil, rows), 30*time.Second)
	require.NoError(t, err)

	// Buckets [0,30) [30,60) [60,90) [90,120) [120,150) [150,180), the last dropped
	counts := []float64{7, 3, 2, 0, 0}
	require.Equal(t, len(counts), out.Len())
	var total float64
	for i, r := range out.Rows {
		require.InDelta(t, counts[i], r.Value(selection.ParamEventRate)*30, 1e-9)
		total += r.Value(selection.ParamEventRate) * 30
	}
	require.InDelta(t, float64(len(secs)-1), total, 1e-9)
}

func TestEventRate_RejectsTooManyBuckets(t *testing.T) {
	threeDays := 3 * 24 * 3600
	events := table.New(nil, nil, []table.Row{gedRow(1, 0, nil, nil), gedRow(1, threeDays, nil, nil)})

	sel := mustSelection(t, selection.Spec{Parameters: []string{"event_rate"}, EventType: "all", TimeWindow: "1ns"})
	_, err := newTestAnalyzer().Run(context.Background(), events, sel)
	require.ErrorIs(t, err, selection.ErrInvalidWindow)

	// Sparse events over a long span still emit the empty buckets in between
	out, err := eventRate(events, time.Hour)
	require.NoError(t, err)
	require.Equal(t, 72, out.Len())
	require.InDelta(t, 1/3600.0, out.Rows[0].Value(selection.ParamEventRate), 1e-12)
	require.Zero(t, out.Rows[71].Value(selection.ParamEventRate))
}
