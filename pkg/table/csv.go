package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// CSVOptions holds options for CSV loading.
type CSVOptions struct {
	TimeFormat string // Layout for the datetime column (default: RFC3339Nano). Numeric values are read as unix seconds.
	Delimiter  rune   // Field delimiter (default: ',')
}

// DefaultCSVOptions returns default options for CSV loading.
func DefaultCSVOptions() *CSVOptions {
	return &CSVOptions{
		TimeFormat: time.RFC3339Nano,
		Delimiter:  ',',
	}
}

// IsFlagColumn reports whether a column holds booleans: event flags and quality cuts.
func IsFlagColumn(name string) bool {
	return strings.HasPrefix(name, "flag_") || strings.HasPrefix(name, "is_")
}

// LoadCSV loads an event table from a CSV file.
func LoadCSV(filename string, opts *CSVOptions) (*Table, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ReadCSV(file, opts)
}

// ReadCSV reads an event table with a header row. The datetime and channel
// columns are required; name, location and position are optional.
func ReadCSV(r io.Reader, opts *CSVOptions) (*Table, error) {
	if opts == nil {
		opts = DefaultCSVOptions()
	}

	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.Trim(h, "\""))
	}

	dtIdx, chIdx := indexOf(header, ColDatetime), indexOf(header, ColChannel)
	if dtIdx < 0 || chIdx < 0 {
		return nil, errors.New("CSV header must contain datetime and channel columns")
	}

	t := &Table{}
	for _, h := range header {
		switch h {
		case ColDatetime, ColChannel, ColName, ColLocation, ColPosition:
		default:
			if IsFlagColumn(h) {
				t.AddFlagColumn(h)
			} else {
				t.AddValueColumn(h)
			}
		}
	}

	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line+1, err)
		}
		line++

		row := Row{
			Flags:  make(map[string]bool),
			Values: make(map[string]float64),
		}
		for i, raw := range record {
			if i >= len(header) {
				break
			}
			col := header[i]
			raw = strings.TrimSpace(raw)

			switch col {
			case ColDatetime:
				ts, err := parseTime(raw, opts.TimeFormat)
				if err != nil {
					return nil, fmt.Errorf("line %d: invalid datetime %q: %w", line, raw, err)
				}
				row.Datetime = ts
			case ColChannel:
				ch, err := strconv.Atoi(raw)
				if err != nil {
					return nil, fmt.Errorf("line %d: invalid channel %q: %w", line, raw, err)
				}
				row.Channel = ch
			case ColName:
				row.Name = raw
			case ColLocation:
				row.Location = ParseGeometry(raw)
			case ColPosition:
				row.Position = ParseGeometry(raw)
			default:
				if IsFlagColumn(col) {
					b, err := parseBool(raw)
					if err != nil {
						return nil, fmt.Errorf("line %d: column %s: %w", line, col, err)
					}
					row.Flags[col] = b
					continue
				}
				v, err := parseFloat(raw)
				if err != nil {
					return nil, fmt.Errorf("line %d: column %s: %w", line, col, err)
				}
				row.Values[col] = v
			}
		}
		t.Rows = append(t.Rows, row)
	}

	return t, nil
}

// WriteCSV writes the table with a header of base, boolean and value columns.
// NaN values are written as empty cells.
func WriteCSV(w io.Writer, t *Table) error {
	writer := csv.NewWriter(w)

	header := []string{ColDatetime, ColChannel, ColName, ColLocation, ColPosition}
	header = append(header, t.flagCols...)
	header = append(header, t.valueCols...)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, r := range t.Rows {
		record := []string{
			r.Datetime.Format(time.RFC3339Nano),
			strconv.Itoa(r.Channel),
			r.Name,
			r.Location.String(),
			r.Position.String(),
		}
		for _, c := range t.flagCols {
			record = append(record, strconv.FormatBool(r.Flags[c]))
		}
		for _, c := range t.valueCols {
			record = append(record, FormatFloat(r.Value(c)))
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// FormatFloat formats a value for text output, empty for NaN.
func FormatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseTime(raw, layout string) (time.Time, error) {
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		whole, frac := math.Modf(secs)
		return time.Unix(int64(whole), int64(frac*1e9)).UTC(), nil
	}
	if layout == "" {
		layout = time.RFC3339Nano
	}
	return time.Parse(layout, raw)
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes":
		return true, nil
	case "0", "false", "f", "no", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", raw)
}

func parseFloat(raw string) (float64, error) {
	switch strings.ToLower(raw) {
	case "", "nan", "null", "none":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(raw, 64)
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
