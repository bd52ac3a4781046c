package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/nicktill/ldmon/pkg/storage"
)

// Storage stores snapshots in memory. Data is lost on restart.
// Useful for testing and one-shot runs.
type Storage struct {
	snapshots map[string]*storage.Snapshot
	mu        sync.RWMutex
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		snapshots: make(map[string]*storage.Snapshot),
	}
}

// Load returns a copy of the snapshot stored under key
func (s *Storage) Load(ctx context.Context, key storage.Key) (*storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[key.String()]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	return snap.Clone(), nil
}

// Save replaces the snapshot stored under snap.Key
func (s *Storage) Save(ctx context.Context, snap *storage.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := snap.Key.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[snap.Key.String()] = snap.Clone()
	return nil
}

// Delete removes the snapshot stored under key
func (s *Storage) Delete(ctx context.Context, key storage.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.snapshots, key.String())
	return nil
}

// List returns every stored key
func (s *Storage) List(ctx context.Context) ([]storage.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]storage.Key, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		keys = append(keys, snap.Key)
	}
	storage.SortKeys(keys)
	return keys, nil
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{}
	for _, snap := range s.snapshots {
		stats.Add(snap)
	}

	// Rough size estimate (each sample ~40 bytes)
	stats.SizeBytes = stats.TotalSamples * 40

	return stats, nil
}
