package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nicktill/ldmon/pkg/analysis"
	"github.com/nicktill/ldmon/pkg/export"
	"github.com/nicktill/ldmon/pkg/report"
	"github.com/nicktill/ldmon/pkg/selection"
	"github.com/nicktill/ldmon/pkg/table"
)

type runFlags struct {
	config      string
	input       string
	out         string
	export      string
	report      string
	bunchWindow time.Duration
	aux         bool

	// Ad-hoc selection, used when the config file has none
	parameters string
	eventType  string
	cuts       string
	timeWindow string
	saving     string
}

func runCommand(ctx context.Context, args []string) error {
	var f runFlags
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	fs.StringVar(&f.config, "config", "", "config file")
	fs.StringVar(&f.input, "input", "", "event table, .csv or .json")
	fs.StringVar(&f.out, "out", ".", "output directory")
	fs.StringVar(&f.export, "export", "csv", "result format: csv, json or xlsx")
	fs.StringVar(&f.report, "report", "", "also write a report: md or html")
	fs.DurationVar(&f.bunchWindow, "bunch-window", 0, "split the events into time slices of this width")
	fs.BoolVar(&f.aux, "aux", false, "also analyse the pulser monitor channel")
	fs.StringVar(&f.parameters, "parameters", "", "comma separated parameters")
	fs.StringVar(&f.eventType, "event-type", "", "phy, pulser, FCbsln, K_events or all")
	fs.StringVar(&f.cuts, "cuts", "", "comma separated cuts, ~ negates")
	fs.StringVar(&f.timeWindow, "time-window", "", "event rate window, e.g. 10S or 1T")
	fs.StringVar(&f.saving, "saving", "", "store mode: append or overwrite")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if f.input == "" {
		return errors.New("-input is required")
	}
	format, err := export.ParseFormat(f.export)
	if err != nil {
		return err
	}
	switch report.Format(f.report) {
	case "", report.FormatMarkdown, report.FormatHTML:
	default:
		return fmt.Errorf("invalid report format %q, use md or html", f.report)
	}

	e, err := setup(ctx, f.config)
	if err != nil {
		return err
	}
	defer e.Close()

	sels, err := f.selections(e)
	if err != nil {
		return err
	}

	log.Printf("📁 Loading events from %s...", f.input)
	events, err := table.LoadFile(f.input, table.DefaultCSVOptions())
	if err != nil {
		return fmt.Errorf("failed to load events: %w", err)
	}
	log.Printf("✅ Loaded %d events, %d value columns", events.Len(), len(events.ValueColumns()))

	if err := os.MkdirAll(f.out, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	a := e.analyzer()
	written := 0
	for _, sel := range sels {
		outputs, err := f.runSelection(ctx, a, events, sel)
		if err != nil {
			return fmt.Errorf("selection %s: %w", sel, err)
		}
		for _, o := range outputs {
			if o.res.Empty() {
				log.Printf("⚠️  %s: no events survived, nothing written", sel)
				continue
			}
			if err := o.write(f.out, e.registry, format, report.Format(f.report)); err != nil {
				return err
			}
			written++
		}
	}

	log.Printf("✅ %d selections done, %d results written to %s", len(sels), written, f.out)
	return nil
}

func (f *runFlags) selections(e *env) ([]selection.Selection, error) {
	if f.parameters != "" || len(e.cfg.Selections) == 0 {
		sel, err := selection.New(selection.Spec{
			Parameters: splitList(f.parameters),
			EventType:  f.eventType,
			Cuts:       splitList(f.cuts),
			TimeWindow: f.timeWindow,
			Output:     f.saving,
		}, e.registry)
		if err != nil {
			return nil, err
		}
		return []selection.Selection{sel}, nil
	}
	return e.cfg.BuildSelections(e.registry)
}

// output is a result and the suffix that tells its files apart from the
// other results of the same selection.
type output struct {
	res    *analysis.Result
	suffix string
}

func (f *runFlags) runSelection(ctx context.Context, a *analysis.Analyzer, events *table.Table, sel selection.Selection) ([]output, error) {
	var results []output

	if f.bunchWindow > 0 {
		bunched, err := a.RunBunched(ctx, events, sel, f.bunchWindow)
		if err != nil {
			return nil, err
		}
		for i, res := range bunched {
			results = append(results, output{res: res, suffix: fmt.Sprintf("-bunch%03d", i+1)})
		}
	} else {
		res, err := a.Run(ctx, events, sel)
		if err != nil {
			return nil, err
		}
		results = append(results, output{res: res})
	}

	if f.aux {
		aux, err := a.RunAux(ctx, events, sel)
		if err != nil {
			return nil, err
		}
		if aux != nil {
			for _, r := range []*analysis.Result{aux.Aux, aux.Ratio, aux.Diff} {
				if r != nil {
					results = append(results, output{res: r})
				}
			}
		}
	}
	return results, nil
}

func (o output) write(dir string, reg *selection.Registry, format export.Format, rf report.Format) error {
	name := export.FileName(o.res, format)
	name = strings.TrimSuffix(name, "."+string(format)) + o.suffix + "." + string(format)

	path := filepath.Join(dir, name)
	if err := writeFile(path, func(file *os.File) error {
		return export.WriteResult(file, o.res, format)
	}); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	log.Printf("💾 Wrote %s (%d rows)", path, o.res.Data.Len())

	if rf == "" {
		return nil
	}

	rep := report.Build(o.res, reg)
	body, err := rep.Render(rf)
	if err != nil {
		return err
	}
	reportPath := strings.TrimSuffix(path, filepath.Ext(path)) + "." + string(rf)
	if err := os.WriteFile(reportPath, body, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", reportPath, err)
	}
	if alarms := rep.Alarms(); len(alarms) > 0 {
		log.Printf("⚠️  %s: %d channels out of limits", rep.Title(), len(alarms))
	}
	log.Printf("💾 Wrote %s", reportPath)
	return nil
}

func writeFile(path string, write func(*os.File) error) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
