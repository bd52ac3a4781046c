// Package export backs up and restores the baseline store, and writes
// analysis results for external tools.
//
// # Store backups
//
// JSON backups hold every stored snapshot with its key and samples and can
// be imported again. CSV backups hold one row per sample:
//
//	event_type,parameter,subsystem,channel,datetime,value
//	phy,baseline,geds,1,2023-03-01T00:00:00Z,14210
//
// Imports run in one of two modes:
//   - merge (default): imported samples are merged into stored ones, imported values win
//   - replace: imported snapshots overwrite stored ones
//
// Invalid snapshots are skipped and reported in ImportResult.Errors.
//
// HTTP endpoints:
//
//	curl "http://localhost:8080/v1/store/export?format=json&event_type=phy" -o backup.json
//	curl -X POST "http://localhost:8080/v1/store/import?mode=merge" \
//	  -H "Content-Type: application/json" -d @backup.json
//
// # Results
//
// WriteResult writes an analysis result as CSV, JSON or an XLSX workbook.
// The workbook has a "data" sheet with the result table and a "selection"
// sheet describing the run and its warnings.
//
//	f, _ := os.Create(export.FileName(res, export.FormatXLSX))
//	defer f.Close()
//	if err := export.WriteResult(f, res, export.FormatXLSX); err != nil {
//	    log.Fatal(err)
//	}
package export
