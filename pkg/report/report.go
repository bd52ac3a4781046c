// Package report summarises an analysis result per channel and parameter and
// flags channels whose values crossed the registered limits.
package report

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/google/uuid"

	"github.com/nicktill/ldmon/pkg/analysis"
	"github.com/nicktill/ldmon/pkg/selection"
	"github.com/nicktill/ldmon/pkg/table"
)

// ChannelStatus is the state of one parameter on one channel.
type ChannelStatus struct {
	Channel   int    `json:"channel"`
	Name      string `json:"name"`
	Location  string `json:"location"`
	Position  string `json:"position"`
	Parameter string `json:"parameter"`
	Units     string `json:"units,omitempty"`

	Samples  int       `json:"samples"`
	Mean     float64   `json:"mean"`
	Latest   float64   `json:"latest"`
	LatestAt time.Time `json:"latest_at"`
	MinVar   float64   `json:"min_var"`
	MaxVar   float64   `json:"max_var"`

	// OutOfLimits counts values outside the parameter's registry limits
	OutOfLimits int  `json:"out_of_limits"`
	Alarm       bool `json:"alarm"`
}

// MarshalJSON encodes NaN statistics as null.
func (s ChannelStatus) MarshalJSON() ([]byte, error) {
	type plain ChannelStatus
	return json.Marshal(struct {
		plain
		Mean   *float64 `json:"mean"`
		Latest *float64 `json:"latest"`
		MinVar *float64 `json:"min_var"`
		MaxVar *float64 `json:"max_var"`
	}{
		plain:  plain(s),
		Mean:   finite(s.Mean),
		Latest: finite(s.Latest),
		MinVar: finite(s.MinVar),
		MaxVar: finite(s.MaxVar),
	})
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Report is the per-channel summary of one analysis result.
type Report struct {
	ResultID    uuid.UUID       `json:"result_id"`
	EventType   string          `json:"event_type"`
	Subsystem   string          `json:"subsystem"`
	Parameters  []string        `json:"parameters"`
	Cuts        []string        `json:"cuts,omitempty"`
	Warnings    []string        `json:"warnings,omitempty"`
	GeneratedAt time.Time       `json:"generated_at"`
	Channels    []ChannelStatus `json:"channels"`
}

// Build summarises res. Limits and units come from reg, the default registry when nil.
func Build(res *analysis.Result, reg *selection.Registry) *Report {
	if reg == nil {
		reg = selection.DefaultRegistry()
	}

	r := &Report{
		ResultID:    res.ID,
		EventType:   string(res.Selection.EventType()),
		Subsystem:   res.SubsystemKey,
		Parameters:  res.Selection.Parameters(),
		Cuts:        res.Selection.Cuts(),
		GeneratedAt: time.Now(),
		Channels:    []ChannelStatus{},
	}
	for _, w := range res.Warnings {
		r.Warnings = append(r.Warnings, w.String())
	}
	if res.Empty() {
		return r
	}

	groups := res.Data.GroupByChannel()
	channels := make([]int, 0, len(groups))
	for ch := range groups {
		channels = append(channels, ch)
	}
	sort.Ints(channels)

	for _, p := range r.Parameters {
		param, _ := reg.Lookup(p)
		for _, ch := range channels {
			r.Channels = append(r.Channels, channelStatus(groups[ch], param, p))
		}
	}
	return r
}

// Alarms returns the statuses with at least one value out of limits.
func (r *Report) Alarms() []ChannelStatus {
	var out []ChannelStatus
	for _, s := range r.Channels {
		if s.Alarm {
			out = append(out, s)
		}
	}
	return out
}

func channelStatus(rows []table.Row, param selection.Parameter, name string) ChannelStatus {
	first := rows[0]
	s := ChannelStatus{
		Channel:   first.Channel,
		Name:      first.Name,
		Location:  first.Location.String(),
		Position:  first.Position.String(),
		Parameter: name,
		Units:     param.Units,
		Mean:      first.Value(name + analysis.SuffixMean),
		Latest:    math.NaN(),
		MinVar:    math.NaN(),
		MaxVar:    math.NaN(),
	}

	for _, row := range rows {
		v := row.Value(name)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		s.Samples++
		if s.LatestAt.IsZero() || !row.Datetime.Before(s.LatestAt) {
			s.Latest, s.LatestAt = v, row.Datetime
		}
		if param.Limits.Outside(v) {
			s.OutOfLimits++
		}

		dv := row.Value(name + analysis.SuffixVar)
		if math.IsNaN(dv) || math.IsInf(dv, 0) {
			continue
		}
		if math.IsNaN(s.MinVar) || dv < s.MinVar {
			s.MinVar = dv
		}
		if math.IsNaN(s.MaxVar) || dv > s.MaxVar {
			s.MaxVar = dv
		}
	}
	s.Alarm = s.OutOfLimits > 0
	return s
}

// Title returns the report heading.
func (r *Report) Title() string {
	return fmt.Sprintf("ldmon report: %s events, %s", r.EventType, r.Subsystem)
}

// Markdown renders the report with one table per parameter.
func (r *Report) Markdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", r.Title())
	fmt.Fprintf(&b, "- Run: `%s`\n", r.ResultID)
	fmt.Fprintf(&b, "- Generated: %s\n", r.GeneratedAt.UTC().Format(time.RFC3339))
	if len(r.Cuts) > 0 {
		fmt.Fprintf(&b, "- Cuts: %s\n", strings.Join(r.Cuts, ", "))
	}
	fmt.Fprintf(&b, "- Alarms: %d\n", len(r.Alarms()))
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "- Warning: %s\n", w)
	}

	if len(r.Channels) == 0 {
		b.WriteString("\nNo events survived the selection.\n")
		return b.String()
	}

	for _, p := range r.Parameters {
		b.WriteString("\n## " + p)
		var rows []ChannelStatus
		for _, s := range r.Channels {
			if s.Parameter == p {
				rows = append(rows, s)
			}
		}
		if len(rows) > 0 && rows[0].Units != "" {
			fmt.Fprintf(&b, " (%s)", rows[0].Units)
		}
		b.WriteString("\n\n")

		b.WriteString("| Channel | Name | Location | Position | Samples | Mean | Latest | Min var % | Max var % | Status |\n")
		b.WriteString("|---|---|---|---|---|---|---|---|---|---|\n")
		for _, s := range rows {
			status := "OK"
			if s.Alarm {
				status = fmt.Sprintf("**ALARM** (%d out of limits)", s.OutOfLimits)
			}
			fmt.Fprintf(&b, "| %d | %s | %s | %s | %d | %s | %s | %s | %s | %s |\n",
				s.Channel, s.Name, s.Location, s.Position, s.Samples,
				formatValue(s.Mean), formatValue(s.Latest), formatValue(s.MinVar), formatValue(s.MaxVar), status)
		}
	}
	return b.String()
}

// HTML renders the Markdown report as a complete page.
func (r *Report) HTML() []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	renderer := html.NewRenderer(html.RendererOptions{
		Title: r.Title(),
		Flags: html.CommonFlags | html.CompletePage,
	})
	return markdown.ToHTML([]byte(r.Markdown()), p, renderer)
}

// Format names a report rendering.
type Format string

const (
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
)

// Render returns the report in the given format.
func (r *Report) Render(f Format) ([]byte, error) {
	switch f {
	case FormatMarkdown, "markdown":
		return []byte(r.Markdown()), nil
	case FormatHTML:
		return r.HTML(), nil
	}
	return nil, fmt.Errorf("invalid report format %q, use md or html", f)
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.4g", v)
}
