package table

import (
	"math"
	"sort"
	"strconv"
	"time"
)

// Base columns present on every row.
const (
	ColDatetime = "datetime"
	ColChannel  = "channel"
	ColName     = "name"
	ColLocation = "location"
	ColPosition = "position"
)

// Geometry is a location or position value. Germanium strings and positions
// are integers, SiPM fibers and positions are strings.
type Geometry struct {
	Int      int
	Str      string
	IsString bool
}

// IntGeometry returns an integer geometry value.
func IntGeometry(v int) Geometry {
	return Geometry{Int: v}
}

// StringGeometry returns a string geometry value.
func StringGeometry(s string) Geometry {
	return Geometry{Str: s, IsString: true}
}

// ParseGeometry returns an integer geometry when s parses as one, a string geometry otherwise.
func ParseGeometry(s string) Geometry {
	if v, err := strconv.Atoi(s); err == nil {
		return IntGeometry(v)
	}
	return StringGeometry(s)
}

// Equal reports whether g is the integer v.
func (g Geometry) Equal(v int) bool {
	return !g.IsString && g.Int == v
}

func (g Geometry) String() string {
	if g.IsString {
		return g.Str
	}
	return strconv.Itoa(g.Int)
}

// Row is a single detector event, or a single time bucket after event-rate resampling.
type Row struct {
	Datetime time.Time
	Channel  int
	Name     string
	Location Geometry
	Position Geometry

	// Flags holds boolean columns: flag_pulser, flag_fc_bsln, flag_muon and is_* quality cuts
	Flags map[string]bool

	// Values holds parameter columns. Missing values are NaN.
	Values map[string]float64
}

// Value returns the named parameter value, NaN if absent.
func (r Row) Value(col string) float64 {
	v, ok := r.Values[col]
	if !ok {
		return math.NaN()
	}
	return v
}

// Flag returns the named boolean column and whether it was present.
func (r Row) Flag(col string) (bool, bool) {
	v, ok := r.Flags[col]
	return v, ok
}

// SetValue sets a parameter value, allocating the map if needed.
func (r *Row) SetValue(col string, v float64) {
	if r.Values == nil {
		r.Values = make(map[string]float64)
	}
	r.Values[col] = v
}

// Clone returns a deep copy of the row.
func (r Row) Clone() Row {
	out := r
	if r.Flags != nil {
		out.Flags = make(map[string]bool, len(r.Flags))
		for k, v := range r.Flags {
			out.Flags[k] = v
		}
	}
	if r.Values != nil {
		out.Values = make(map[string]float64, len(r.Values))
		for k, v := range r.Values {
			out.Values[k] = v
		}
	}
	return out
}

// Table is an ordered set of rows with declared boolean and value columns.
// Declared columns make a missing column observable even when the table is empty.
type Table struct {
	Rows []Row

	flagCols  []string
	valueCols []string
}

// New creates a table. Column lists are copied.
func New(flagCols, valueCols []string, rows []Row) *Table {
	t := &Table{Rows: rows}
	for _, c := range flagCols {
		t.AddFlagColumn(c)
	}
	for _, c := range valueCols {
		t.AddValueColumn(c)
	}
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Empty reports whether the table has no rows.
func (t *Table) Empty() bool {
	return len(t.Rows) == 0
}

// FlagColumns returns the declared boolean columns.
func (t *Table) FlagColumns() []string {
	return append([]string(nil), t.flagCols...)
}

// ValueColumns returns the declared value columns.
func (t *Table) ValueColumns() []string {
	return append([]string(nil), t.valueCols...)
}

// HasFlag reports whether the boolean column is declared.
func (t *Table) HasFlag(name string) bool {
	return contains(t.flagCols, name)
}

// HasValue reports whether the value column is declared.
func (t *Table) HasValue(name string) bool {
	return contains(t.valueCols, name)
}

// HasColumn reports whether name is a base, boolean or value column.
func (t *Table) HasColumn(name string) bool {
	switch name {
	case ColDatetime, ColChannel, ColName, ColLocation, ColPosition:
		return true
	}
	return t.HasFlag(name) || t.HasValue(name)
}

// AddFlagColumn declares a boolean column.
func (t *Table) AddFlagColumn(name string) {
	if !t.HasFlag(name) {
		t.flagCols = append(t.flagCols, name)
	}
}

// AddValueColumn declares a value column.
func (t *Table) AddValueColumn(name string) {
	if !t.HasValue(name) {
		t.valueCols = append(t.valueCols, name)
	}
}

// DropValueColumn removes a value column from the declaration and from every row.
func (t *Table) DropValueColumn(name string) {
	for i, c := range t.valueCols {
		if c == name {
			t.valueCols = append(t.valueCols[:i], t.valueCols[i+1:]...)
			break
		}
	}
	for i := range t.Rows {
		delete(t.Rows[i].Values, name)
	}
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	rows := make([]Row, len(t.Rows))
	for i, r := range t.Rows {
		rows[i] = r.Clone()
	}
	return New(t.flagCols, t.valueCols, rows)
}

// Filter returns a table holding the rows for which keep returns true.
// Rows are shared with t, not copied.
func (t *Table) Filter(keep func(Row) bool) *Table {
	rows := make([]Row, 0, len(t.Rows))
	for _, r := range t.Rows {
		if keep(r) {
			rows = append(rows, r)
		}
	}
	return New(t.flagCols, t.valueCols, rows)
}

// Project returns a deep copy restricted to the named value columns.
// Boolean columns are kept.
func (t *Table) Project(valueCols []string) *Table {
	keep := make([]string, 0, len(valueCols))
	for _, c := range valueCols {
		if t.HasValue(c) && !contains(keep, c) {
			keep = append(keep, c)
		}
	}

	rows := make([]Row, len(t.Rows))
	for i, r := range t.Rows {
		out := r.Clone()
		out.Values = make(map[string]float64, len(keep))
		for _, c := range keep {
			if v, ok := r.Values[c]; ok {
				out.Values[c] = v
			}
		}
		rows[i] = out
	}
	return New(t.flagCols, keep, rows)
}

// Channels returns the distinct channels in ascending order.
func (t *Table) Channels() []int {
	seen := make(map[int]bool)
	var out []int
	for _, r := range t.Rows {
		if !seen[r.Channel] {
			seen[r.Channel] = true
			out = append(out, r.Channel)
		}
	}
	sort.Ints(out)
	return out
}

// TimeSpan returns the earliest and latest timestamps. ok is false for an empty table.
func (t *Table) TimeSpan() (min, max time.Time, ok bool) {
	if len(t.Rows) == 0 {
		return time.Time{}, time.Time{}, false
	}
	min, max = t.Rows[0].Datetime, t.Rows[0].Datetime
	for _, r := range t.Rows[1:] {
		if r.Datetime.Before(min) {
			min = r.Datetime
		}
		if r.Datetime.After(max) {
			max = r.Datetime
		}
	}
	return min, max, true
}

// Column returns the named value column in row order.
func (t *Table) Column(name string) []float64 {
	out := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Value(name)
	}
	return out
}

// GroupByChannel returns the rows of each channel, preserving row order within a channel.
func (t *Table) GroupByChannel() map[int][]Row {
	groups := make(map[int][]Row)
	for _, r := range t.Rows {
		groups[r.Channel] = append(groups[r.Channel], r)
	}
	return groups
}

// SortByChannelTime sorts rows by channel, then datetime. The sort is stable.
func (t *Table) SortByChannelTime() {
	sort.SliceStable(t.Rows, func(i, j int) bool {
		a, b := t.Rows[i], t.Rows[j]
		if a.Channel != b.Channel {
			return a.Channel < b.Channel
		}
		return a.Datetime.Before(b.Datetime)
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
