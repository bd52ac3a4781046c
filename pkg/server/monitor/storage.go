// Package monitor tracks store disk usage and the health of background jobs.
package monitor

import (
	"io/fs"
	"path/filepath"
	"sync"
	"time"
)

// DefaultCacheDuration is how long a disk usage measurement is reused.
const DefaultCacheDuration = 10 * time.Second

// StorageMonitor reports disk usage of a store directory, cached to avoid
// walking the directory on every request.
type StorageMonitor struct {
	dataDir       string
	maxBytes      int64
	cacheDuration time.Duration

	mu          sync.Mutex
	cachedUsage int64
	lastCheck   time.Time
}

// NewStorageMonitor creates a monitor for dataDir. An empty dataDir (memory
// or object-store backends) always reports zero usage.
func NewStorageMonitor(dataDir string, maxBytes int64) *StorageMonitor {
	return &StorageMonitor{
		dataDir:       dataDir,
		maxBytes:      maxBytes,
		cacheDuration: DefaultCacheDuration,
	}
}

// StorageUsage is the disk usage reported by /v1/storage.
type StorageUsage struct {
	UsedBytes int64   `json:"used_bytes"`
	MaxBytes  int64   `json:"max_bytes"`
	Percent   float64 `json:"percent"`
	OverLimit bool    `json:"over_limit"`
}

// Usage returns current disk usage.
func (sm *StorageMonitor) Usage() (StorageUsage, error) {
	used, err := sm.usedBytes()
	if err != nil {
		return StorageUsage{}, err
	}

	u := StorageUsage{UsedBytes: used, MaxBytes: sm.maxBytes}
	if sm.maxBytes > 0 {
		u.Percent = float64(used) / float64(sm.maxBytes) * 100
		u.OverLimit = used > sm.maxBytes
	}
	return u, nil
}

// Limit returns the configured storage limit in bytes.
func (sm *StorageMonitor) Limit() int64 {
	return sm.maxBytes
}

func (sm *StorageMonitor) usedBytes() (int64, error) {
	if sm.dataDir == "" {
		return 0, nil
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.lastCheck.IsZero() && time.Since(sm.lastCheck) < sm.cacheDuration {
		return sm.cachedUsage, nil
	}

	usage, err := dirSize(sm.dataDir)
	if err != nil {
		return 0, err
	}
	sm.cachedUsage = usage
	sm.lastCheck = time.Now()
	return usage, nil
}

// dirSize sums the allocated size of every file under path.
func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += diskUsage(p, info)
		return nil
	})
	return size, err
}
