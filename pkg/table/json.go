package table

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// MarshalJSON writes an integer geometry as a JSON number and a string geometry as a JSON string.
func (g Geometry) MarshalJSON() ([]byte, error) {
	if g.IsString {
		return json.Marshal(g.Str)
	}
	return json.Marshal(g.Int)
}

// UnmarshalJSON accepts a JSON number or string.
func (g *Geometry) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*g = IntGeometry(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("geometry must be a number or a string: %w", err)
	}
	*g = StringGeometry(s)
	return nil
}

// jsonRow is the wire form of Row. NaN values are omitted since JSON has no NaN.
type jsonRow struct {
	Datetime time.Time          `json:"datetime"`
	Channel  int                `json:"channel"`
	Name     string             `json:"name,omitempty"`
	Location Geometry           `json:"location"`
	Position Geometry           `json:"position"`
	Flags    map[string]bool    `json:"flags,omitempty"`
	Values   map[string]float64 `json:"values,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (r Row) MarshalJSON() ([]byte, error) {
	out := jsonRow{
		Datetime: r.Datetime,
		Channel:  r.Channel,
		Name:     r.Name,
		Location: r.Location,
		Position: r.Position,
		Flags:    r.Flags,
	}
	if len(r.Values) > 0 {
		out.Values = make(map[string]float64, len(r.Values))
		for k, v := range r.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			out.Values[k] = v
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Row) UnmarshalJSON(data []byte) error {
	var in jsonRow
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = Row{
		Datetime: in.Datetime,
		Channel:  in.Channel,
		Name:     in.Name,
		Location: in.Location,
		Position: in.Position,
		Flags:    in.Flags,
		Values:   in.Values,
	}
	return nil
}

type jsonTable struct {
	FlagColumns  []string `json:"flag_columns"`
	ValueColumns []string `json:"value_columns"`
	Rows         []Row    `json:"rows"`
}

// MarshalJSON implements json.Marshaler.
func (t *Table) MarshalJSON() ([]byte, error) {
	rows := t.Rows
	if rows == nil {
		rows = []Row{}
	}
	return json.Marshal(jsonTable{
		FlagColumns:  t.FlagColumns(),
		ValueColumns: t.ValueColumns(),
		Rows:         rows,
	})
}

// UnmarshalJSON implements json.Unmarshaler. When column lists are omitted
// they are inferred from the keys present in the rows.
func (t *Table) UnmarshalJSON(data []byte) error {
	var in jsonTable
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	flagCols, valueCols := in.FlagColumns, in.ValueColumns
	if flagCols == nil {
		flagCols = inferColumns(in.Rows, func(r Row) []string { return boolKeys(r.Flags) })
	}
	if valueCols == nil {
		valueCols = inferColumns(in.Rows, func(r Row) []string { return floatKeys(r.Values) })
	}

	*t = *New(flagCols, valueCols, in.Rows)
	return nil
}

func inferColumns(rows []Row, keys func(Row) []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rows {
		for _, k := range keys(r) {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	sort.Strings(out)
	return out
}

func boolKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func floatKeys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// String implements fmt.Stringer for debug logging.
func (t *Table) String() string {
	return "table(" + strconv.Itoa(len(t.Rows)) + " rows, " + strconv.Itoa(len(t.valueCols)) + " value columns)"
}

// ReadJSON reads a table object or a bare array of rows.
func ReadJSON(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read JSON: %w", err)
	}

	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		data = append(append([]byte(`{"rows":`), trimmed...), '}')
	}

	var t Table
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode JSON table: %w", err)
	}
	return &t, nil
}

// LoadFile loads an event table, picking the codec from the file extension:
// .json for JSON, anything else for CSV.
func LoadFile(filename string, opts *CSVOptions) (*Table, error) {
	if filepath.Ext(filename) != ".json" {
		return LoadCSV(filename, opts)
	}

	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadJSON(file)
}
