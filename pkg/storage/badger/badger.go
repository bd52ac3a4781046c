package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/nicktill/ldmon/pkg/storage"
)

// snapshotPrefix namespaces snapshot entries inside the database
var snapshotPrefix = []byte("snap:")

// Storage implements storage.Storage using BadgerDB (LSM tree)
type Storage struct {
	db *badger.DB
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = use defaults)
	MaxMemoryMB int64
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	// BadgerDB defaults: 64 MB memtable, 5 x 64 MB = 320 MB total.
	// Baseline snapshots are small, 16 MB memtable is plenty.
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024). // small snapshots stay in the LSM, large ones go to the vlog
		WithNumCompactors(2).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Storage{db: db}, nil
}

// Load returns the snapshot stored under key
// Enforces context timeout/cancellation like every other operation here
func (s *Storage) Load(ctx context.Context, key storage.Key) (*storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type loadResult struct {
		snap *storage.Snapshot
		err  error
	}
	done := make(chan loadResult, 1)

	go func() {
		var res loadResult
		res.err = s.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get(makeKey(key))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
			}
			if err != nil {
				return fmt.Errorf("failed to read snapshot %s: %w", key, err)
			}
			return item.Value(func(val []byte) error {
				snap, err := storage.DecodeSnapshot(val)
				if err != nil {
					return err
				}
				// Guard against the unlikely hash collision
				if snap.Key != key {
					return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
				}
				res.snap = snap
				return nil
			})
		})
		done <- res
	}()

	select {
	case res := <-done:
		return res.snap, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("load operation cancelled: %w", ctx.Err())
	}
}

// Save replaces the snapshot stored under snap.Key
func (s *Storage) Save(ctx context.Context, snap *storage.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := snap.Key.Validate(); err != nil {
		return err
	}

	value, err := storage.EncodeSnapshot(snap)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.db.Update(func(txn *badger.Txn) error {
			if err := txn.Set(makeKey(snap.Key), value); err != nil {
				return fmt.Errorf("failed to write snapshot %s: %w", snap.Key, err)
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("save operation cancelled: %w", ctx.Err())
	}
}

// Delete removes the snapshot stored under key
func (s *Storage) Delete(ctx context.Context, key storage.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(makeKey(key))
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("delete operation cancelled: %w", ctx.Err())
	}
}

// List returns every stored key
func (s *Storage) List(ctx context.Context) ([]storage.Key, error) {
	var keys []storage.Key
	err := s.scan(ctx, func(snap *storage.Snapshot) {
		keys = append(keys, snap.Key)
	})
	if err != nil {
		return nil, err
	}
	storage.SortKeys(keys)
	return keys, nil
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection
// discardRatio: run GC if this fraction of file can be discarded (0.5 = 50%)
// Returns badger.ErrNoRewrite when there was nothing to collect
func (s *Storage) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{}
	err := s.scan(ctx, func(snap *storage.Snapshot) {
		stats.Add(snap)
	})
	if err != nil {
		return nil, err
	}

	lsmSize, vlogSize := s.db.Size()
	stats.SizeBytes = uint64(lsmSize + vlogSize)
	return stats, nil
}

// scan decodes every snapshot in key order
func (s *Storage) scan(ctx context.Context, fn func(snap *storage.Snapshot)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchSize = 100
			opts.Prefix = snapshotPrefix

			it := txn.NewIterator(opts)
			defer it.Close()

			var iterCount int
			for it.Seek(snapshotPrefix); it.ValidForPrefix(snapshotPrefix); it.Next() {
				iterCount++

				// Check context periodically (every 100 snapshots)
				if iterCount%100 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				item := it.Item()
				err := item.Value(func(val []byte) error {
					snap, err := storage.DecodeSnapshot(val)
					if err != nil {
						return err
					}
					fn(snap)
					return nil
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("scan operation cancelled: %w", ctx.Err())
	}
}

// makeKey creates a fixed-size key: prefix + xxhash of the key string
// Format: [snap:][hash (8 bytes)]
func makeKey(k storage.Key) []byte {
	key := make([]byte, len(snapshotPrefix)+8)
	copy(key, snapshotPrefix)
	binary.BigEndian.PutUint64(key[len(snapshotPrefix):], xxhash.Sum64String(k.String()))
	return key
}
