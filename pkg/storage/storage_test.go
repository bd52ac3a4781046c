package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKey_StringAndParse(t *testing.T) {
	k := Key{EventType: "pulser", Parameter: "baseline", Subsystem: "geds"}
	require.Equal(t, "monitoring/pulser/baseline/df_geds", k.String())

	parsed, err := ParseKey(k.String())
	require.NoError(t, err)
	require.Equal(t, k, parsed)

	for _, bad := range []string{"", "monitoring/pulser/baseline", "other/pulser/baseline/df_geds", "monitoring/pulser/baseline/geds", "monitoring//baseline/df_geds"} {
		_, err := ParseKey(bad)
		require.ErrorIs(t, err, ErrInvalidKey, bad)
	}
}

func TestMerge_NewValuesWin(t *testing.T) {
	t0 := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	old := []Sample{
		{Channel: 2, Datetime: t0, Value: 1},
		{Channel: 1, Datetime: t0, Value: 1},
		{Channel: 1, Datetime: t0.Add(time.Minute), Value: 1},
	}
	fresh := []Sample{
		{Channel: 1, Datetime: t0.Add(time.Minute), Value: 5},
		{Channel: 1, Datetime: t0.Add(2 * time.Minute), Value: 6},
	}

	merged := Merge(old, fresh)
	require.Equal(t, []Sample{
		{Channel: 1, Datetime: t0, Value: 1},
		{Channel: 1, Datetime: t0.Add(time.Minute), Value: 5},
		{Channel: 1, Datetime: t0.Add(2 * time.Minute), Value: 6},
		{Channel: 2, Datetime: t0, Value: 1},
	}, merged)
}

func TestMerge_KeepsDuplicatesWithinEachSide(t *testing.T) {
	t0 := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	old := []Sample{
		{Channel: 1, Datetime: t0, Value: 10},
		{Channel: 1, Datetime: t0, Value: 20},
		{Channel: 1, Datetime: t0.Add(time.Minute), Value: 1},
		{Channel: 1, Datetime: t0.Add(time.Minute), Value: 2},
	}
	fresh := []Sample{
		{Channel: 1, Datetime: t0.Add(time.Minute), Value: 7},
		{Channel: 1, Datetime: t0.Add(time.Hour), Value: 5},
		{Channel: 1, Datetime: t0.Add(time.Hour), Value: 6},
	}

	merged := Merge(old, fresh)
	require.Equal(t, []Sample{
		{Channel: 1, Datetime: t0, Value: 10},
		{Channel: 1, Datetime: t0, Value: 20},
		{Channel: 1, Datetime: t0.Add(time.Minute), Value: 7},
		{Channel: 1, Datetime: t0.Add(time.Hour), Value: 5},
		{Channel: 1, Datetime: t0.Add(time.Hour), Value: 6},
	}, merged)
}

func TestSnapshot_CodecKeepsKey(t *testing.T) {
	t0 := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	snap := &Snapshot{
		Key:       Key{EventType: "phy", Parameter: "wf_max", Subsystem: "spms"},
		Samples:   []Sample{{Channel: 7, Datetime: t0, Value: 3.5}},
		UpdatedAt: t0,
	}
	data, err := EncodeSnapshot(snap)
	require.NoError(t, err)

	got, err := DecodeSnapshot(data)
	require.NoError(t, err)
	require.Equal(t, snap.Key, got.Key)
	require.True(t, got.Samples[0].Datetime.Equal(t0))
}
