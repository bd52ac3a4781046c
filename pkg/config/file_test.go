package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/ldmon/pkg/selection"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	require.Equal(t, BackendBadger, cfg.Storage.Backend)
	require.Equal(t, DefaultDataDir, cfg.Storage.Path)
	require.Equal(t, DefaultPort, cfg.Server.Port)
	require.Equal(t, BadgerGCInterval, cfg.Server.GetGCInterval())
	require.Equal(t, int64(DefaultMaxStorageGB)*1024*1024*1024, cfg.MaxStorageBytes())
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "ldmon.yaml", `
selections:
  - parameters: baseline
    event_type: pulser
    cuts: is_valid_bl
    saving: append
  - parameters: [wf_max, bl_std]
    event_type: phy
storage:
  backend: memory
server:
  port: "9090"
  gc_interval: 2m
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	require.Equal(t, BackendMemory, cfg.Storage.Backend)
	require.Equal(t, "9090", cfg.Server.Port)
	require.Equal(t, 2*time.Minute, cfg.Server.GetGCInterval())
	require.Equal(t, DefaultMaxMemoryMB, int(cfg.Storage.MaxMemoryMB))

	reg, err := cfg.LoadRegistry()
	if err != nil {
		t.Fatalf("Failed to load registry: %v", err)
	}
	sels, err := cfg.BuildSelections(reg)
	if err != nil {
		t.Fatalf("Failed to build selections: %v", err)
	}
	require.Len(t, sels, 2)
	require.Equal(t, []string{"baseline"}, sels[0].Parameters())
	require.Equal(t, []string{"is_valid_bl"}, sels[0].Cuts())
	require.Equal(t, selection.OutputAppend, sels[0].Output())
	require.Equal(t, []string{"wf_max", "bl_std"}, sels[1].Parameters())
}

func TestLoadRejectsBadSelection(t *testing.T) {
	path := writeFile(t, "ldmon.yaml", `
selections:
  - parameters: not_a_parameter
    event_type: pulser
storage:
  backend: memory
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	_, err = cfg.BuildSelections(selection.DefaultRegistry())
	require.ErrorIs(t, err, selection.ErrUnknownParameter)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown backend", "storage:\n  backend: s3\n"},
		{"minio without endpoint", "storage:\n  backend: minio\n"},
		{"badger without path", "storage:\n  backend: badger\n  path: \"\"\n"},
		{"invalid yaml", "storage: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "ldmon.yaml", tt.content))
			require.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("LDMON_STORAGE_BACKEND", BackendMinio)
	t.Setenv("LDMON_MINIO_ENDPOINT", "localhost:9000")
	t.Setenv("LDMON_MINIO_SECURE", "true")
	t.Setenv("LDMON_MAX_MEMORY_MB", "128")
	t.Setenv("LDMON_METADATA_FILE", "metadata.yaml")
	t.Setenv("LDMON_PORT", "7070")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	require.Equal(t, BackendMinio, cfg.Storage.Backend)
	require.Equal(t, "localhost:9000", cfg.Storage.Minio.Endpoint)
	require.Equal(t, DefaultBucket, cfg.Storage.Minio.Bucket)
	require.True(t, cfg.Storage.Minio.Secure)
	require.Equal(t, int64(128), cfg.Storage.MaxMemoryMB)
	require.Equal(t, "metadata.yaml", cfg.Metadata.File)
	require.Equal(t, "7070", cfg.Server.Port)
}

func TestApplyEnvInvalidNumber(t *testing.T) {
	t.Setenv("LDMON_MAX_MEMORY_MB", "lots")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	require.Equal(t, int64(DefaultMaxMemoryMB), cfg.Storage.MaxMemoryMB)
}

func TestLoadDotEnv(t *testing.T) {
	const key = "LDMON_DOTENV_TEST"
	t.Cleanup(func() { os.Unsetenv(key) })

	path := writeFile(t, ".env", key+"=from-dotenv\n")
	LoadDotEnv(path, filepath.Join(t.TempDir(), "absent.env"))
	require.Equal(t, "from-dotenv", os.Getenv(key))
}
