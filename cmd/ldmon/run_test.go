package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/ldmon/pkg/storage"
)

// writeEventsCSV writes hourly pulser events of one germanium channel over two days.
func writeEventsCSV(t *testing.T, dir string) string {
	t.Helper()
	t0 := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)

	var b strings.Builder
	b.WriteString("datetime,channel,name,location,position,flag_pulser,baseline\n")
	for i := 0; i < 48; i++ {
		fmt.Fprintf(&b, "%s,1104000,V02160A,1,1,true,%d\n", t0.Add(time.Duration(i)*time.Hour).Format(time.RFC3339), 14000+i%3)
	}

	path := filepath.Join(dir, "events.csv")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatalf("Failed to write events: %v", err)
	}
	return path
}

func TestRunCommand_BunchedWritesEveryBunchAndPersists(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "store")
	outDir := filepath.Join(dir, "out")
	t.Setenv("LDMON_STORAGE_BACKEND", "badger")
	t.Setenv("LDMON_DATA_DIR", dataDir)

	ctx := context.Background()
	err := runCommand(ctx, []string{
		"-input", writeEventsCSV(t, dir),
		"-out", outDir,
		"-parameters", "baseline",
		"-event-type", "pulser",
		"-bunch-window", "24h",
		"-report", "md",
	})
	require.NoError(t, err)

	for _, name := range []string{
		"pulser-geds-baseline-bunch001.csv",
		"pulser-geds-baseline-bunch002.csv",
		"pulser-geds-baseline-bunch001.md",
		"pulser-geds-baseline-bunch002.md",
	} {
		_, err := os.Stat(filepath.Join(outDir, name))
		require.NoError(t, err, name)
	}

	// Reopen the store: the second bunch appended to the first
	e, err := setup(ctx, "")
	require.NoError(t, err)
	defer e.Close()

	key := storage.Key{EventType: "pulser", Parameter: "baseline", Subsystem: "geds"}
	keys, err := e.store.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []storage.Key{key}, keys)

	snap, err := e.store.Load(ctx, key)
	require.NoError(t, err)
	require.Len(t, snap.Samples, 48)
}

func TestRunCommand_RejectsBadFlags(t *testing.T) {
	t.Setenv("LDMON_STORAGE_BACKEND", "memory")
	ctx := context.Background()

	require.Error(t, runCommand(ctx, []string{"-parameters", "baseline"}))
	require.Error(t, runCommand(ctx, []string{"-input", "events.csv", "-export", "hdf5"}))
	require.Error(t, runCommand(ctx, []string{"-input", "events.csv", "-report", "pdf"}))

	dir := t.TempDir()
	err := runCommand(ctx, []string{
		"-input", writeEventsCSV(t, dir),
		"-out", dir,
		"-parameters", "baseline",
		"-event-type", "pulser",
		"-bunch-window", "24h",
		"-saving", "sometimes",
	})
	require.Error(t, err)
}
