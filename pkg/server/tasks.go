package server

import (
	"context"
	"errors"
	"log"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/nicktill/ldmon/pkg/config"
	"github.com/nicktill/ldmon/pkg/server/monitor"
	"github.com/nicktill/ldmon/pkg/storage"
	"github.com/nicktill/ldmon/pkg/storage/badger"
)

// RunBadgerGC runs value log garbage collection every interval until ctx is done.
// Stores other than badger return immediately.
func RunBadgerGC(ctx context.Context, store storage.Storage, interval time.Duration, jm *monitor.JobMonitor) error {
	badgerStore, ok := store.(*badger.Storage)
	if !ok {
		log.Println("⚠️  Storage is not BadgerDB, skipping GC")
		return nil
	}
	if interval <= 0 {
		interval = config.BadgerGCInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Printf("🗑️  BadgerDB GC scheduler started (runs every %v)", interval)

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			err := badgerStore.RunGC(config.BadgerDiscardRatio)
			switch {
			case err == nil:
				log.Printf("✅ GC completed in %v (disk space reclaimed)", time.Since(start).Round(time.Millisecond))
				jm.RecordSuccess()
			case errors.Is(err, badgerdb.ErrNoRewrite):
				log.Printf("🗑️  GC completed in %v (no rewrite needed)", time.Since(start).Round(time.Millisecond))
				jm.RecordSuccess()
			default:
				log.Printf("❌ GC failed: %v", err)
				jm.RecordFailure(err)
			}
		case <-ctx.Done():
			log.Println("🛑 Stopping BadgerDB GC scheduler")
			return nil
		}
	}
}
