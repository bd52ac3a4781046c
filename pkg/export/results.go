package export

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/nicktill/ldmon/pkg/analysis"
	"github.com/nicktill/ldmon/pkg/table"
)

// Format is an output format for analysis results
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a format name
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatCSV, FormatJSON, FormatXLSX:
		return f, nil
	}
	return "", fmt.Errorf("invalid format %q, use csv, json or xlsx", s)
}

// ContentType returns the MIME type of the format
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/json"
}

// FileName returns the default file name of a result in this format:
// <event_type>-<subsystem>-<parameters>.<ext>
func FileName(res *analysis.Result, f Format) string {
	return fmt.Sprintf("%s-%s-%s.%s", res.Selection.EventType(), res.SubsystemKey,
		strings.Join(res.Selection.Parameters(), "_"), f)
}

// WriteResult writes the result table in the given format
func WriteResult(w io.Writer, res *analysis.Result, f Format) error {
	switch f {
	case FormatCSV:
		return table.WriteCSV(w, res.Data)
	case FormatJSON:
		return writeResultJSON(w, res)
	case FormatXLSX:
		return writeResultXLSX(w, res)
	}
	return fmt.Errorf("invalid format %q", f)
}

func writeResultJSON(w io.Writer, res *analysis.Result) error {
	out := struct {
		Metadata struct {
			ExportedAt time.Time `json:"exported_at"`
			Rows       int       `json:"rows"`
			Channels   int       `json:"channels"`
			Version    string    `json:"version"`
		} `json:"metadata"`
		Result *analysis.Result `json:"result"`
	}{Result: res}
	out.Metadata.ExportedAt = time.Now()
	out.Metadata.Rows = res.Data.Len()
	out.Metadata.Channels = len(res.Data.Channels())
	out.Metadata.Version = BackupVersion

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(out); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// Sheet names of the XLSX workbook
const (
	SheetData      = "data"
	SheetSelection = "selection"
)

func writeResultXLSX(w io.Writer, res *analysis.Result) error {
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(SheetData); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetSelection); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to delete default sheet: %w", err)
	}

	t := res.Data
	header := []interface{}{table.ColDatetime, table.ColChannel, table.ColName, table.ColLocation, table.ColPosition}
	for _, c := range t.FlagColumns() {
		header = append(header, c)
	}
	for _, c := range t.ValueColumns() {
		header = append(header, c)
	}
	if err := f.SetSheetRow(SheetData, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, r := range t.Rows {
		row := []interface{}{r.Datetime, r.Channel, r.Name, geometryCell(r.Location), geometryCell(r.Position)}
		for _, c := range t.FlagColumns() {
			row = append(row, r.Flags[c])
		}
		for _, c := range t.ValueColumns() {
			// Empty cell for NaN, excelize cannot store it
			if v := r.Value(c); !math.IsNaN(v) && !math.IsInf(v, 0) {
				row = append(row, v)
			} else {
				row = append(row, nil)
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetData, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}

	info := [][]interface{}{
		{"id", res.ID.String()},
		{"subsystem", res.SubsystemKey},
		{"event_type", string(res.Selection.EventType())},
		{"parameters", strings.Join(res.Selection.Parameters(), ", ")},
		{"cuts", strings.Join(res.Selection.Cuts(), ", ")},
		{"time_window", res.Selection.WindowSpec()},
		{"saving", string(res.Selection.Output())},
		{"created_at", res.CreatedAt.Format(time.RFC3339)},
	}
	for _, warn := range res.Warnings {
		info = append(info, []interface{}{"warning", warn.String()})
	}
	for i := range info {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(SheetSelection, cell, &info[i]); err != nil {
			return fmt.Errorf("failed to write selection: %w", err)
		}
	}

	if idx, err := f.GetSheetIndex(SheetData); err == nil {
		f.SetActiveSheet(idx)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func geometryCell(g table.Geometry) interface{} {
	if g.IsString {
		return g.Str
	}
	return g.Int
}
