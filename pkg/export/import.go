package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/nicktill/ldmon/pkg/storage"
)

// ImportMode controls how imported snapshots combine with stored ones
type ImportMode string

const (
	// ImportMerge merges imported samples into stored ones, imported values winning
	ImportMerge ImportMode = "merge"

	// ImportReplace overwrites stored snapshots
	ImportReplace ImportMode = "replace"
)

// Importer restores snapshots from backup files
type Importer struct {
	storage storage.Storage
}

// NewImporter creates a new importer
func NewImporter(store storage.Storage) *Importer {
	return &Importer{storage: store}
}

// ImportResult contains stats about the import operation
type ImportResult struct {
	SnapshotsImported int       `json:"snapshots_imported"`
	SamplesImported   int       `json:"samples_imported"`
	Mode              string    `json:"mode"`
	ImportedAt        time.Time `json:"imported_at"`
	Errors            []string  `json:"errors,omitempty"`
}

// ImportFromJSON imports snapshots from a JSON backup. Invalid snapshots are
// skipped and reported in the result.
func (im *Importer) ImportFromJSON(ctx context.Context, r io.Reader, mode ImportMode) (*ImportResult, error) {
	if mode == "" {
		mode = ImportMerge
	}
	if mode != ImportMerge && mode != ImportReplace {
		return nil, fmt.Errorf("invalid import mode %q", mode)
	}

	var backup Backup
	if err := json.NewDecoder(r).Decode(&backup); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}

	result := &ImportResult{Mode: string(mode), ImportedAt: time.Now()}
	for i, snap := range backup.Snapshots {
		if err := validateSnapshot(snap); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("snapshot %d: %v", i, err))
			continue
		}

		samples := snap.Samples
		if mode == ImportMerge {
			old, err := im.storage.Load(ctx, snap.Key)
			switch {
			case errors.Is(err, storage.ErrNotFound):
			case err != nil:
				return nil, fmt.Errorf("failed to load %s: %w", snap.Key, err)
			default:
				samples = storage.Merge(old.Samples, snap.Samples)
			}
		}

		err := im.storage.Save(ctx, &storage.Snapshot{Key: snap.Key, Samples: samples, UpdatedAt: result.ImportedAt})
		if err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", snap.Key, err)
		}
		result.SnapshotsImported++
		result.SamplesImported += len(snap.Samples)
	}

	return result, nil
}

// validateSnapshot validates a snapshot before import
func validateSnapshot(s *storage.Snapshot) error {
	if s == nil {
		return errors.New("snapshot cannot be null")
	}
	if err := s.Key.Validate(); err != nil {
		return err
	}
	for j, smp := range s.Samples {
		if smp.Datetime.IsZero() {
			return fmt.Errorf("sample %d: timestamp cannot be zero", j)
		}
		if math.IsNaN(smp.Value) || math.IsInf(smp.Value, 0) {
			return fmt.Errorf("sample %d: value must be finite", j)
		}
	}
	return nil
}
