package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/ldmon/pkg/storage"
)

var testKey = storage.Key{EventType: "pulser", Parameter: "baseline", Subsystem: "geds"}

func TestMemoryStorage_SaveAndLoad(t *testing.T) {
	store := New()
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	snap := &storage.Snapshot{
		Key: testKey,
		Samples: []storage.Sample{
			{Channel: 1, Datetime: now, Value: 10},
			{Channel: 2, Datetime: now, Value: 20},
		},
		UpdatedAt: now,
	}

	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Load(ctx, testKey)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	require.Equal(t, snap.Samples, got.Samples)

	// Returned snapshots must not alias stored ones
	got.Samples[0].Value = 99
	again, err := store.Load(ctx, testKey)
	require.NoError(t, err)
	require.Equal(t, 10.0, again.Samples[0].Value)
}

func TestMemoryStorage_LoadMissing(t *testing.T) {
	store := New()

	_, err := store.Load(context.Background(), testKey)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStorage_ListDeleteStats(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now().UTC()

	other := storage.Key{EventType: "phy", Parameter: "wf_max", Subsystem: "spms"}
	require.NoError(t, store.Save(ctx, &storage.Snapshot{Key: testKey, Samples: []storage.Sample{{Channel: 1, Datetime: now, Value: 1}}}))
	require.NoError(t, store.Save(ctx, &storage.Snapshot{Key: other, Samples: []storage.Sample{
		{Channel: 1, Datetime: now.Add(-time.Hour), Value: 1},
		{Channel: 1, Datetime: now.Add(time.Hour), Value: 2},
	}}))

	keys, err := store.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []storage.Key{other, testKey}, keys)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), stats.TotalSnapshots)
	require.Equal(t, uint64(3), stats.TotalSamples)
	require.True(t, stats.OldestSample.Equal(now.Add(-time.Hour)))
	require.True(t, stats.NewestSample.Equal(now.Add(time.Hour)))

	require.NoError(t, store.Delete(ctx, testKey))
	require.NoError(t, store.Delete(ctx, testKey))
	keys, err = store.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []storage.Key{other}, keys)
}

func TestMemoryStorage_RejectsInvalidKey(t *testing.T) {
	store := New()
	err := store.Save(context.Background(), &storage.Snapshot{Key: storage.Key{EventType: "pulser"}})
	require.ErrorIs(t, err, storage.ErrInvalidKey)
}
