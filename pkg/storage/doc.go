/*
Package storage persists the absolute parameter values that baseline means
are computed from, so that later runs can append to them.

# Keys

Each series is stored under

	monitoring/<event_type>/<parameter>/df_<subsystem>

for example monitoring/pulser/baseline/df_geds. The value is a Snapshot: the
key plus a list of (channel, datetime, value) samples.

# Backends

  - memory: In-memory storage for testing
  - badger: BadgerDB for local persistent storage
  - objectstore: S3-compatible buckets (MinIO) shared between hosts

All backends implement the Storage interface:

	type Storage interface {
	    Load(ctx context.Context, key Key) (*Snapshot, error)
	    Save(ctx context.Context, snap *Snapshot) error
	    Delete(ctx context.Context, key Key) error
	    List(ctx context.Context) ([]Key, error)
	    Stats(ctx context.Context) (*Stats, error)
	    Close() error
	}

# Usage Example

	store, err := badger.New(badger.Config{Path: "./data"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	key := storage.Key{EventType: "pulser", Parameter: "baseline", Subsystem: "geds"}
	old, err := store.Load(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
	    old = &storage.Snapshot{Key: key}
	}
	merged := storage.Merge(old.Samples, fresh)
	err = store.Save(ctx, &storage.Snapshot{Key: key, Samples: merged, UpdatedAt: time.Now()})

Save replaces the whole snapshot. Callers that append must serialize their
Load/Merge/Save sequences per key.
*/
package storage
