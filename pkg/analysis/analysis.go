// Package analysis turns an event table into monitored parameter series:
// event selection, quality cuts, derived parameters, per-channel baseline
// means over the first 10% of the time span and percentage variations.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/nicktill/ldmon/pkg/channel"
	"github.com/nicktill/ldmon/pkg/metadata"
	"github.com/nicktill/ldmon/pkg/selection"
	"github.com/nicktill/ldmon/pkg/storage"
	"github.com/nicktill/ldmon/pkg/table"
)

// Analyzer runs selections against event tables.
// It holds no per-run state, but callers must serialize append runs on the same store key.
type Analyzer struct {
	registry *selection.Registry
	store    storage.Storage
	meta     metadata.Provider
	logger   *log.Logger
	now      func() time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithStorage sets the store baseline samples are loaded from and saved to.
func WithStorage(s storage.Storage) Option {
	return func(a *Analyzer) { a.store = s }
}

// WithMetadata sets the provider used for exposure and aux channel lookups.
func WithMetadata(p metadata.Provider) Option {
	return func(a *Analyzer) { a.meta = p }
}

// WithRegistry replaces the default parameter registry.
func WithRegistry(r *selection.Registry) Option {
	return func(a *Analyzer) { a.registry = r }
}

// WithLogger replaces the standard logger.
func WithLogger(l *log.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// New creates an analyzer.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		registry: selection.DefaultRegistry(),
		logger:   log.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Registry returns the parameter registry.
func (a *Analyzer) Registry() *selection.Registry {
	return a.registry
}

// Result is the output of one analysis run.
type Result struct {
	ID        uuid.UUID           `json:"id"`
	Selection selection.Selection `json:"selection"`

	// Subsystem is the classified kind of the selected channels.
	// SubsystemKey names it in store keys and differs from it for aux ratio/diff results.
	Subsystem    channel.Kind `json:"kind"`
	SubsystemKey string       `json:"subsystem"`

	// Data holds <p>, <p>_mean and <p>_var for every requested parameter, sorted by channel and datetime
	Data *table.Table `json:"data"`

	Warnings  []Warning `json:"warnings,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Empty reports whether no rows survived the selection.
func (r *Result) Empty() bool {
	return r.Data == nil || r.Data.Empty()
}

// Baseline returns each channel's <param>_mean. NaN means are included.
func (r *Result) Baseline(param string) map[int]float64 {
	out := make(map[int]float64)
	if r.Data == nil {
		return out
	}
	for _, row := range r.Data.Rows {
		if _, ok := out[row.Channel]; !ok {
			out[row.Channel] = row.Value(param + SuffixMean)
		}
	}
	return out
}

// Key returns the store key the parameter's samples are persisted under.
func (r *Result) Key(param string) storage.Key {
	return storage.Key{
		EventType: string(r.Selection.EventType()),
		Parameter: param,
		Subsystem: r.SubsystemKey,
	}
}

// Run analyses the events. The input table is not modified.
// An empty selection is logged and returned as an empty result, not an error.
func (a *Analyzer) Run(ctx context.Context, events *table.Table, sel selection.Selection) (*Result, error) {
	return a.run(ctx, events, sel, "")
}

func (a *Analyzer) run(ctx context.Context, events *table.Table, sel selection.Selection, subsystemKey string) (*Result, error) {
	if events == nil {
		return nil, errors.New("nil event table")
	}
	if sel.Output() != selection.OutputNone && a.store == nil {
		return nil, fmt.Errorf("%w: output mode %s", ErrNoStorage, sel.Output())
	}

	params := sel.Parameters()
	if len(params) == 0 {
		return nil, fmt.Errorf("%w: no parameters requested", selection.ErrInvalidSelection)
	}

	res := &Result{ID: uuid.New(), Selection: sel, CreatedAt: a.now().UTC()}
	start := time.Now()

	columns, err := a.requiredColumns(events, sel)
	if err != nil {
		return nil, err
	}
	data := events.Project(columns)

	data, err = selectEvents(data, sel.EventType())
	if err != nil {
		return nil, err
	}

	data, res.Warnings = applyCuts(data, sel.Cuts())
	for _, w := range res.Warnings {
		a.logf("[%s] WARNING %s", shortID(res.ID), w)
	}

	res.Subsystem = channel.Subsystem(data)
	res.SubsystemKey = res.Subsystem.String()
	if subsystemKey != "" {
		res.SubsystemKey = subsystemKey
	}

	if data.Empty() {
		a.logf("[%s] ERROR for '%s' there are no selected events (empty table), nothing to analyse", shortID(res.ID), sel.EventType())
		for _, p := range params {
			data.AddValueColumn(p)
			data.AddValueColumn(p + SuffixMean)
			data.AddValueColumn(p + SuffixVar)
		}
		res.Data = data
		return res, nil
	}

	data, err = a.derive(ctx, data, sel)
	if err != nil {
		return nil, err
	}

	for _, p := range params {
		param, _ := a.registry.Lookup(p)
		var means map[int]float64
		if !param.NoBaseline {
			means, err = a.baseline(ctx, data, res.Key(p), sel.Output())
			if err != nil {
				return nil, err
			}
		}
		attachMean(data, p, means)
		attachVariation(data, p)
	}

	data.SortByChannelTime()
	res.Data = data

	a.logf("[%s] %s %s: %d rows, %d channels, output %s (%v)",
		shortID(res.ID), res.SubsystemKey, sel.EventType(), data.Len(), len(data.Channels()), sel.Output(), time.Since(start))
	return res, nil
}

// requiredColumns checks the table has every column the parameters need.
func (a *Analyzer) requiredColumns(events *table.Table, sel selection.Selection) ([]string, error) {
	var cols []string
	for _, p := range sel.Parameters() {
		param, ok := a.registry.Lookup(p)
		if !ok {
			return nil, fmt.Errorf("%w: %q", selection.ErrUnknownParameter, p)
		}
		for _, c := range param.Columns() {
			if !events.HasValue(c) {
				return nil, fmt.Errorf("%w: %s needs column %q", ErrMissingColumn, p, c)
			}
			cols = append(cols, c)
		}
	}
	if sel.EventType() == selection.EventKLines {
		cols = append(cols, selection.KLinesEnergy)
	}
	return cols, nil
}

// derive computes the derived parameters. event_rate replaces the table.
func (a *Analyzer) derive(ctx context.Context, t *table.Table, sel selection.Selection) (*table.Table, error) {
	for _, p := range sel.Parameters() {
		switch p {
		case selection.ParamEventRate:
			rated, err := eventRate(t, sel.Window())
			if err != nil {
				return nil, err
			}
			t = rated
		case selection.ParamFWHM:
			if err := fwhm(t); err != nil {
				return nil, err
			}
		case selection.ParamExposure:
			if err := exposure(ctx, t, a.meta); err != nil {
				return nil, err
			}
		case selection.ParamWfMaxRel:
			combine(t, p, "wf_max", "baseline", func(x, y float64) float64 { return x - y })
		case selection.ParamAoECustom:
			combine(t, p, "A_max", "cuspEmax", func(x, y float64) float64 { return x / y })
		default:
			if param, _ := a.registry.Lookup(p); param.Derived {
				return nil, fmt.Errorf("%w: no derivation for %q", selection.ErrUnknownParameter, p)
			}
		}
	}
	return t, nil
}

func (a *Analyzer) logf(format string, args ...any) {
	a.logger.Printf(format, args...)
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
