package analysis

import (
	"context"
	"fmt"

	"github.com/nicktill/ldmon/pkg/channel"
	"github.com/nicktill/ldmon/pkg/metadata"
	"github.com/nicktill/ldmon/pkg/selection"
	"github.com/nicktill/ldmon/pkg/table"
)

// Column suffixes of the pulser-monitor values loaded next to a parameter p:
// p_pulser01ana holds the monitor channel's own value, the others the geds
// value relative to it.
const (
	AuxSuffix      = "_pulser01ana"
	AuxRatioSuffix = "_pulser01anaRatio"
	AuxDiffSuffix  = "_pulser01anaDiff"
)

// Store subsystems of the ratio and difference series.
const (
	AuxRatioSubsystem = "pulser01anaRatio"
	AuxDiffSubsystem  = "pulser01anaDiff"
)

// AuxResults holds the pulser-monitor analyses of one parameter.
type AuxResults struct {
	// Aux is the monitor channel itself
	Aux *Result

	// Ratio and Diff are the per-detector values divided by and minus the monitor value
	Ratio *Result
	Diff  *Result
}

// RunAux analyses the pulser-monitor columns of a single-parameter selection.
// It returns nil results when the analysis does not apply: several parameters,
// a hit-tier or derived parameter, or no monitor columns in the table.
func (a *Analyzer) RunAux(ctx context.Context, events *table.Table, sel selection.Selection) (*AuxResults, error) {
	params := sel.Parameters()
	if len(params) > 1 {
		a.logf("WARNING the aux ratio/difference is not implemented for multiple parameters, skipping it for %v", params)
		return nil, nil
	}

	p := params[0]
	param, ok := a.registry.Lookup(p)
	if !ok {
		return nil, fmt.Errorf("%w: %q", selection.ErrUnknownParameter, p)
	}
	if param.Tier == "hit" || param.Derived {
		return nil, nil
	}
	for _, suffix := range []string{AuxSuffix, AuxRatioSuffix, AuxDiffSuffix} {
		if !events.HasValue(p + suffix) {
			a.logf("no %s column, skipping aux analysis of %s", p+suffix, p)
			return nil, nil
		}
	}

	auxTable, err := a.auxChannelTable(ctx, withColumnFrom(events, p, p+AuxSuffix))
	if err != nil {
		return nil, err
	}

	out := &AuxResults{}
	if out.Aux, err = a.run(ctx, auxTable, sel, ""); err != nil {
		return nil, fmt.Errorf("aux channel: %w", err)
	}
	if out.Ratio, err = a.run(ctx, withColumnFrom(events, p, p+AuxRatioSuffix), sel, AuxRatioSubsystem); err != nil {
		return nil, fmt.Errorf("aux ratio: %w", err)
	}
	if out.Diff, err = a.run(ctx, withColumnFrom(events, p, p+AuxDiffSuffix), sel, AuxDiffSubsystem); err != nil {
		return nil, fmt.Errorf("aux difference: %w", err)
	}
	return out, nil
}

// withColumnFrom returns a copy of t where param holds the values of src and
// the monitor columns are dropped.
func withColumnFrom(t *table.Table, param, src string) *table.Table {
	out := t.Clone()
	out.AddValueColumn(param)
	for i := range out.Rows {
		out.Rows[i].SetValue(param, out.Rows[i].Value(src))
	}
	for _, suffix := range []string{AuxSuffix, AuxRatioSuffix, AuxDiffSuffix} {
		out.DropValueColumn(param + suffix)
	}
	return out
}

// auxChannelTable keeps the first channel's rows, whose monitor values repeat
// on every detector, and relabels them as the monitor channel. Configurations
// without PULS01ANA fall back to PULS01.
func (a *Analyzer) auxChannelTable(ctx context.Context, t *table.Table) (*table.Table, error) {
	if t.Empty() {
		return t, nil
	}
	if a.meta == nil {
		return nil, ErrNoMetadata
	}

	first := t.Rows[0].Channel
	t = t.Filter(func(r table.Row) bool { return r.Channel == first })

	start, _, _ := t.TimeSpan()
	chmap, err := a.meta.ChannelMap(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("failed to get channel map: %w", err)
	}

	name, kind := metadata.ChannelPulserMonitor, channel.PulserMonitor
	info, ok := chmap[name]
	if !ok {
		name, kind = metadata.ChannelPulser, channel.Pulser
		if info, ok = chmap[name]; !ok {
			return nil, fmt.Errorf("%w: channel map has neither %s nor %s", metadata.ErrNotFound, metadata.ChannelPulserMonitor, metadata.ChannelPulser)
		}
	}
	sentinel, _ := kind.Sentinel()

	for i := range t.Rows {
		t.Rows[i].Channel = info.Rawid
		t.Rows[i].Name = name
		t.Rows[i].Location = table.IntGeometry(sentinel)
		t.Rows[i].Position = table.IntGeometry(sentinel)
	}
	return t, nil
}
