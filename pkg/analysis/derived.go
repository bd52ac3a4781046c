package analysis

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/nicktill/ldmon/pkg/metadata"
	"github.com/nicktill/ldmon/pkg/selection"
	"github.com/nicktill/ldmon/pkg/table"
)

// ColLivetime is added next to exposure.
const ColLivetime = "livetime_in_s"

// fwhmFactor converts a Gaussian standard deviation to its full width at half maximum.
const fwhmFactor = 2.355

// secondsPerYear uses the Julian year.
const secondsPerYear = 60 * 60 * 24 * 365.25

// MaxRateBuckets bounds the buckets event_rate may emit per channel.
const MaxRateBuckets = 1_000_000

// eventRate resamples each channel's events into buckets of width w starting
// at the channel's first event. The last bucket of every channel is dropped
// since it usually covers less than w. Rows carry the bucket midpoint.
func eventRate(t *table.Table, w time.Duration) (*table.Table, error) {
	if w <= 0 {
		return nil, fmt.Errorf("%w: event_rate needs a positive window", selection.ErrInvalidWindow)
	}

	groups := t.GroupByChannel()
	channels := make([]int, 0, len(groups))
	for ch := range groups {
		channels = append(channels, ch)
	}
	sort.Ints(channels)

	var out []table.Row
	for _, ch := range channels {
		rows := groups[ch]
		first := rows[0]
		last := rows[0].Datetime
		for _, r := range rows[1:] {
			if r.Datetime.Before(first.Datetime) {
				first = r
			}
			if r.Datetime.After(last) {
				last = r.Datetime
			}
		}

		lastBucket := int64(last.Sub(first.Datetime) / w)
		if lastBucket > MaxRateBuckets {
			return nil, fmt.Errorf("%w: %v over %v gives more than %d buckets on channel %d",
				selection.ErrInvalidWindow, w, last.Sub(first.Datetime), MaxRateBuckets, ch)
		}

		counts := make(map[int64]int)
		for _, r := range rows {
			counts[int64(r.Datetime.Sub(first.Datetime)/w)]++
		}

		for k := int64(0); k < lastBucket; k++ {
			out = append(out, table.Row{
				Datetime: first.Datetime.Add(time.Duration(k)*w + w/2),
				Channel:  ch,
				Name:     first.Name,
				Location: first.Location,
				Position: first.Position,
				Values:   map[string]float64{selection.ParamEventRate: float64(counts[k]) / w.Seconds()},
			})
		}
	}

	return table.New(nil, []string{selection.ParamEventRate}, out), nil
}

// fwhm writes 2.355 times the population standard deviation of each
// channel's calibrated energy onto all of the channel's rows.
func fwhm(t *table.Table) error {
	perChannel := make(map[int]stats.Float64Data)
	for _, r := range t.Rows {
		if v := r.Value(selection.KLinesEnergy); isFinite(v) {
			perChannel[r.Channel] = append(perChannel[r.Channel], v)
		}
	}

	widths := make(map[int]float64, len(perChannel))
	for ch, data := range perChannel {
		sd, err := stats.StandardDeviationPopulation(data)
		if err != nil {
			return fmt.Errorf("FWHM of channel %d: %w", ch, err)
		}
		widths[ch] = fwhmFactor * sd
	}

	t.AddValueColumn(selection.ParamFWHM)
	for i := range t.Rows {
		w, ok := widths[t.Rows[i].Channel]
		if !ok {
			w = math.NaN()
		}
		t.Rows[i].SetValue(selection.ParamFWHM, w)
	}
	return nil
}

// exposure estimates each detector's live time from its pulser event count
// and converts it to exposure in kg yr using the detector mass.
func exposure(ctx context.Context, t *table.Table, provider metadata.Provider) error {
	if provider == nil {
		return ErrNoMetadata
	}
	if !t.HasFlag(selection.FlagPulser) {
		return fmt.Errorf("%w: exposure needs %s to count pulser events", ErrMissingFlagColumn, selection.FlagPulser)
	}

	first, _, ok := t.TimeSpan()
	if !ok {
		return nil
	}

	chmap, err := provider.ChannelMap(ctx, first)
	if err != nil {
		return fmt.Errorf("failed to get channel map: %w", err)
	}
	rate, err := chmap.PulserRate()
	if err != nil {
		return err
	}

	pulserEvents := make(map[string]int)
	for _, r := range t.Rows {
		if v, _ := r.Flag(selection.FlagPulser); v {
			pulserEvents[r.Name]++
		}
	}

	masses := make(map[string]float64)
	t.AddValueColumn(ColLivetime)
	t.AddValueColumn(selection.ParamExposure)
	for i := range t.Rows {
		name := t.Rows[i].Name
		mass, ok := masses[name]
		if !ok {
			d, err := provider.Diode(ctx, name)
			if err != nil {
				return fmt.Errorf("failed to get mass of %s: %w", name, err)
			}
			mass = d.MassKg()
			masses[name] = mass
		}

		livetime := float64(pulserEvents[name]) / rate
		t.Rows[i].SetValue(ColLivetime, livetime)
		t.Rows[i].SetValue(selection.ParamExposure, mass*livetime/secondsPerYear)
	}
	return nil
}

// combine writes op(a, b) into column out for every row.
func combine(t *table.Table, out, a, b string, op func(x, y float64) float64) {
	t.AddValueColumn(out)
	for i := range t.Rows {
		t.Rows[i].SetValue(out, op(t.Rows[i].Value(a), t.Rows[i].Value(b)))
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
