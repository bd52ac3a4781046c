package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nicktill/ldmon/pkg/storage"
)

// BackupVersion is written into every JSON backup
const BackupVersion = "1.0"

// Exporter handles exporting stored baselines to various formats
type Exporter struct {
	storage storage.Storage
}

// NewExporter creates a new exporter
func NewExporter(store storage.Storage) *Exporter {
	return &Exporter{storage: store}
}

// ExportOptions configures the export operation
type ExportOptions struct {
	// Filter by event type and parameter (empty = all)
	EventType string
	Parameter string

	// Format: "json" or "csv"
	Format string
}

func (o ExportOptions) matches(k storage.Key) bool {
	return (o.EventType == "" || o.EventType == k.EventType) &&
		(o.Parameter == "" || o.Parameter == k.Parameter)
}

// ExportResult contains stats about the export
type ExportResult struct {
	SnapshotsExported int       `json:"snapshots_exported"`
	SamplesExported   int       `json:"samples_exported"`
	Format            string    `json:"format"`
	ExportedAt        time.Time `json:"exported_at"`
}

// Backup is the JSON backup layout, read back by the importer
type Backup struct {
	Metadata struct {
		ExportedAt    time.Time `json:"exported_at"`
		SnapshotCount int       `json:"snapshot_count"`
		SampleCount   int       `json:"sample_count"`
		Format        string    `json:"format"`
		Version       string    `json:"version"`
	} `json:"metadata"`
	Snapshots []*storage.Snapshot `json:"snapshots"`
}

// collect loads every snapshot matching opts
func (e *Exporter) collect(ctx context.Context, opts ExportOptions) ([]*storage.Snapshot, int, error) {
	keys, err := e.storage.List(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list snapshots: %w", err)
	}

	var snaps []*storage.Snapshot
	var samples int
	for _, k := range keys {
		if !opts.matches(k) {
			continue
		}
		snap, err := e.storage.Load(ctx, k)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to load %s: %w", k, err)
		}
		snaps = append(snaps, snap)
		samples += len(snap.Samples)
	}
	return snaps, samples, nil
}

// ExportToJSON writes a backup of the matching snapshots
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	snaps, samples, err := e.collect(ctx, opts)
	if err != nil {
		return nil, err
	}

	backup := Backup{Snapshots: snaps}
	if backup.Snapshots == nil {
		backup.Snapshots = []*storage.Snapshot{}
	}
	backup.Metadata.ExportedAt = time.Now()
	backup.Metadata.SnapshotCount = len(snaps)
	backup.Metadata.SampleCount = samples
	backup.Metadata.Format = "json"
	backup.Metadata.Version = BackupVersion

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(backup); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return &ExportResult{
		SnapshotsExported: len(snaps),
		SamplesExported:   samples,
		Format:            "json",
		ExportedAt:        backup.Metadata.ExportedAt,
	}, nil
}

// ExportToCSV writes one row per stored sample
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	snaps, samples, err := e.collect(ctx, opts)
	if err != nil {
		return nil, err
	}

	writer := csv.NewWriter(w)
	defer writer.Flush()

	header := []string{"event_type", "parameter", "subsystem", "channel", "datetime", "value"}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, snap := range snaps {
		for _, s := range snap.Samples {
			row := []string{
				snap.Key.EventType,
				snap.Key.Parameter,
				snap.Key.Subsystem,
				strconv.Itoa(s.Channel),
				s.Datetime.Format(time.RFC3339Nano),
				strconv.FormatFloat(s.Value, 'f', -1, 64),
			}
			if err := writer.Write(row); err != nil {
				return nil, fmt.Errorf("failed to write CSV row: %w", err)
			}
		}
	}

	return &ExportResult{
		SnapshotsExported: len(snaps),
		SamplesExported:   samples,
		Format:            "csv",
		ExportedAt:        time.Now(),
	}, nil
}
