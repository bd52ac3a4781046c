package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/nicktill/ldmon/pkg/selection"
	"github.com/nicktill/ldmon/pkg/storage"
	"github.com/nicktill/ldmon/pkg/table"
)

// BaselineFraction is the leading fraction of the time span the baseline mean is taken over.
const BaselineFraction = 0.1

// Column suffixes added for every requested parameter.
const (
	SuffixMean = "_mean"
	SuffixVar  = "_var"
)

// BaselineThreshold returns min + BaselineFraction*(max-min) over the sample timestamps.
// Samples strictly before it form the baseline window.
func BaselineThreshold(samples []storage.Sample) (time.Time, bool) {
	if len(samples) == 0 {
		return time.Time{}, false
	}
	min, max := samples[0].Datetime, samples[0].Datetime
	for _, s := range samples[1:] {
		if s.Datetime.Before(min) {
			min = s.Datetime
		}
		if s.Datetime.After(max) {
			max = s.Datetime
		}
	}
	return min.Add(time.Duration(float64(max.Sub(min)) * BaselineFraction)), true
}

// BaselineMeans returns each channel's mean over the baseline window.
// Channels without samples in the window are absent from the map.
func BaselineMeans(samples []storage.Sample) map[int]float64 {
	threshold, ok := BaselineThreshold(samples)
	if !ok {
		return map[int]float64{}
	}

	window := make(map[int][]float64)
	for _, s := range samples {
		if s.Datetime.Before(threshold) {
			window[s.Channel] = append(window[s.Channel], s.Value)
		}
	}

	means := make(map[int]float64, len(window))
	for ch, values := range window {
		means[ch] = stat.Mean(values, nil)
	}
	return means
}

// samplesOf extracts the finite values of a column.
func samplesOf(t *table.Table, param string) []storage.Sample {
	out := make([]storage.Sample, 0, len(t.Rows))
	for _, r := range t.Rows {
		if v := r.Value(param); isFinite(v) {
			out = append(out, storage.Sample{Channel: r.Channel, Datetime: r.Datetime, Value: v})
		}
	}
	storage.SortSamples(out)
	return out
}

// baseline computes the mean of one parameter, persisting its samples as the output mode asks.
func (a *Analyzer) baseline(ctx context.Context, t *table.Table, key storage.Key, mode selection.OutputMode) (map[int]float64, error) {
	fresh := samplesOf(t, key.Parameter)

	switch mode {
	case selection.OutputNone:
		return BaselineMeans(fresh), nil

	case selection.OutputOverwrite:
		if err := a.save(ctx, key, fresh); err != nil {
			return nil, err
		}
		return BaselineMeans(fresh), nil

	case selection.OutputAppend:
		merged := fresh
		old, err := a.store.Load(ctx, key)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			a.logf("no stored values under %s, starting a new baseline", key)
		case err != nil:
			return nil, fmt.Errorf("failed to load %s: %w", key, err)
		default:
			merged = storage.Merge(old.Samples, fresh)
		}
		if err := a.save(ctx, key, merged); err != nil {
			return nil, err
		}
		return BaselineMeans(merged), nil
	}

	return nil, fmt.Errorf("%w: output mode %q", selection.ErrInvalidSelection, mode)
}

func (a *Analyzer) save(ctx context.Context, key storage.Key, samples []storage.Sample) error {
	snap := &storage.Snapshot{Key: key, Samples: samples, UpdatedAt: a.now().UTC()}
	if err := a.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// attachMean writes <param>_mean from the per-channel means. nil means leaves NaN everywhere.
func attachMean(t *table.Table, param string, means map[int]float64) {
	col := param + SuffixMean
	t.AddValueColumn(col)
	for i := range t.Rows {
		m, ok := means[t.Rows[i].Channel]
		if !ok {
			m = math.NaN()
		}
		t.Rows[i].SetValue(col, m)
	}
}

// attachVariation writes <param>_var = (value/mean - 1) * 100.
func attachVariation(t *table.Table, param string) {
	col := param + SuffixVar
	t.AddValueColumn(col)
	for i := range t.Rows {
		r := &t.Rows[i]
		r.SetValue(col, (r.Value(param)/r.Value(param+SuffixMean)-1)*100)
	}
}

