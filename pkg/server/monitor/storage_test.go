package monitor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStorageMonitor_Usage(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "000001.vlog"), make([]byte, 64*1024), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	sm := NewStorageMonitor(tmpDir, 1024*1024*1024)
	usage, err := sm.Usage()
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	require.Greater(t, usage.UsedBytes, int64(0))
	require.Equal(t, int64(1024*1024*1024), usage.MaxBytes)
	require.False(t, usage.OverLimit)
}

func TestStorageMonitor_OverLimit(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "MANIFEST"), make([]byte, 8192), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	usage, err := NewStorageMonitor(tmpDir, 10).Usage()
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	require.True(t, usage.OverLimit)
	require.Greater(t, usage.Percent, 100.0)
}

func TestStorageMonitor_Caching(t *testing.T) {
	tmpDir := t.TempDir()
	sm := NewStorageMonitor(tmpDir, 1024)

	first, err := sm.Usage()
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(tmpDir, "late"), make([]byte, 8192), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	second, err := sm.Usage()
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	require.Equal(t, first.UsedBytes, second.UsedBytes)
}

func TestStorageMonitor_NoDataDir(t *testing.T) {
	usage, err := NewStorageMonitor("", 1024).Usage()
	require.NoError(t, err)
	require.Zero(t, usage.UsedBytes)
}

func TestStorageMonitor_InvalidDir(t *testing.T) {
	_, err := NewStorageMonitor("/nonexistent/path/12345", 1024).Usage()
	require.Error(t, err)
}
