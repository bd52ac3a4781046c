package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned by Load when nothing is persisted under the key.
var ErrNotFound = errors.New("snapshot not found")

// ErrInvalidKey is returned when a key string does not follow the layout.
var ErrInvalidKey = errors.New("invalid storage key")

const (
	keyRoot         = "monitoring"
	subsystemPrefix = "df_"
)

// Storage defines the interface for baseline storage backends.
// Implementations: memory (testing), badger (local), objectstore (shared)
type Storage interface {
	// Load returns the snapshot stored under key, or ErrNotFound
	Load(ctx context.Context, key Key) (*Snapshot, error)

	// Save replaces the snapshot stored under snap.Key
	Save(ctx context.Context, snap *Snapshot) error

	// Delete removes the snapshot stored under key. Deleting a missing key is not an error
	Delete(ctx context.Context, key Key) error

	// List returns every stored key in sorted order
	List(ctx context.Context) ([]Key, error)

	// Close cleanly shuts down the storage
	Close() error

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)
}

// Key identifies a persisted baseline series.
type Key struct {
	EventType string `json:"event_type"`
	Parameter string `json:"parameter"`
	Subsystem string `json:"subsystem"`
}

// String returns the key in its stored layout: monitoring/<event_type>/<parameter>/df_<subsystem>.
func (k Key) String() string {
	return keyRoot + "/" + k.EventType + "/" + k.Parameter + "/" + subsystemPrefix + k.Subsystem
}

// Validate reports whether every component is set and free of separators.
func (k Key) Validate() error {
	for _, part := range []string{k.EventType, k.Parameter, k.Subsystem} {
		if part == "" || strings.Contains(part, "/") {
			return fmt.Errorf("%w: %q", ErrInvalidKey, k.String())
		}
	}
	return nil
}

// ParseKey parses a key written by Key.String.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 4 || parts[0] != keyRoot || !strings.HasPrefix(parts[3], subsystemPrefix) {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	k := Key{EventType: parts[1], Parameter: parts[2], Subsystem: strings.TrimPrefix(parts[3], subsystemPrefix)}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// Sample is one persisted absolute parameter value.
type Sample struct {
	Channel  int       `json:"channel"`
	Datetime time.Time `json:"datetime"`
	Value    float64   `json:"value"`
}

// Snapshot is everything persisted under one key.
type Snapshot struct {
	Key       Key       `json:"key"`
	Samples   []Sample  `json:"samples"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TimeSpan returns the earliest and latest sample timestamps.
func (s *Snapshot) TimeSpan() (oldest, newest time.Time) {
	for i, smp := range s.Samples {
		if i == 0 || smp.Datetime.Before(oldest) {
			oldest = smp.Datetime
		}
		if i == 0 || smp.Datetime.After(newest) {
			newest = smp.Datetime
		}
	}
	return oldest, newest
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	out := *s
	out.Samples = append([]Sample(nil), s.Samples...)
	return &out
}

// Stats provides storage health and usage info
type Stats struct {
	// Stored keys
	TotalSnapshots uint64 `json:"total_snapshots"`

	// Samples across all keys
	TotalSamples uint64 `json:"total_samples"`

	// Storage size in bytes
	SizeBytes uint64 `json:"size_bytes"`

	// Oldest and newest sample timestamps
	OldestSample time.Time `json:"oldest_sample"`
	NewestSample time.Time `json:"newest_sample"`
}

// Add folds a snapshot into the totals.
func (st *Stats) Add(snap *Snapshot) {
	st.TotalSnapshots++
	st.TotalSamples += uint64(len(snap.Samples))
	if len(snap.Samples) == 0 {
		return
	}
	oldest, newest := snap.TimeSpan()
	if st.OldestSample.IsZero() || oldest.Before(st.OldestSample) {
		st.OldestSample = oldest
	}
	if st.NewestSample.IsZero() || newest.After(st.NewestSample) {
		st.NewestSample = newest
	}
}

// Merge combines persisted and new samples. Persisted samples sharing a
// channel and datetime with any new sample are replaced by the new ones;
// duplicates within either side are kept. The result is sorted by channel,
// then datetime.
func Merge(old, fresh []Sample) []Sample {
	type id struct {
		channel int
		ts      int64
	}
	replaced := make(map[id]bool, len(fresh))
	for _, s := range fresh {
		replaced[id{s.Channel, s.Datetime.UnixNano()}] = true
	}

	out := make([]Sample, 0, len(old)+len(fresh))
	for _, s := range old {
		if !replaced[id{s.Channel, s.Datetime.UnixNano()}] {
			out = append(out, s)
		}
	}
	out = append(out, fresh...)
	SortSamples(out)
	return out
}

// SortSamples sorts by channel, then datetime.
func SortSamples(samples []Sample) {
	sort.SliceStable(samples, func(i, j int) bool {
		if samples[i].Channel != samples[j].Channel {
			return samples[i].Channel < samples[j].Channel
		}
		return samples[i].Datetime.Before(samples[j].Datetime)
	})
}

// SortKeys sorts keys by their string form.
func SortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
}
