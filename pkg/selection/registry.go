package selection

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Parameters computed by the analysis instead of loaded from files.
const (
	ParamEventRate = "event_rate"
	ParamFWHM      = "FWHM"
	ParamExposure  = "exposure"
	ParamWfMaxRel  = "wf_max_rel"
	ParamAoECustom = "AoE_Custom"
)

// KLinesEnergy is the calibrated energy column used by the K_events selection.
const KLinesEnergy = "cuspEmax_ctc_cal"

// KLinesRange is the closed energy interval, in keV, selected by K_events.
var KLinesRange = [2]float64{1430, 1575}

// Limits bounds the expected absolute value of a parameter. Nil means unbounded.
type Limits struct {
	Low  *float64 `yaml:"low" json:"low,omitempty"`
	High *float64 `yaml:"high" json:"high,omitempty"`
}

// Outside reports whether v crosses either limit.
func (l Limits) Outside(v float64) bool {
	return (l.Low != nil && v < *l.Low) || (l.High != nil && v > *l.High)
}

// Parameter describes a monitorable parameter.
type Parameter struct {
	Name  string `yaml:"name" json:"name"`
	Label string `yaml:"label" json:"label,omitempty"`
	Units string `yaml:"units" json:"units,omitempty"`

	// Tier is the processing tier the column is read from: raw, dsp or hit
	Tier string `yaml:"tier" json:"tier,omitempty"`

	// Derived parameters are computed by the analysis; Requires lists the columns they read
	Derived  bool     `yaml:"derived" json:"derived,omitempty"`
	Requires []string `yaml:"requires" json:"requires,omitempty"`

	// NoBaseline excludes the parameter from the baseline mean, for aggregates such as FWHM
	NoBaseline bool `yaml:"no_baseline" json:"no_baseline,omitempty"`

	Limits Limits `yaml:"limits" json:"limits"`
}

// Columns returns the value columns that must be present to compute the parameter.
func (p Parameter) Columns() []string {
	if p.Derived {
		return append([]string(nil), p.Requires...)
	}
	return []string{p.Name}
}

// Registry holds the known parameters. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	params map[string]Parameter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{params: make(map[string]Parameter)}
}

// DefaultRegistry returns the built-in parameter set.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, p := range defaultParameters {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a parameter.
func (r *Registry) Register(p Parameter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.params[p.Name] = p
}

// Lookup returns a parameter by name.
func (r *Registry) Lookup(name string) (Parameter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.params[name]
	return p, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.params))
	for n := range r.params {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LoadRegistry reads parameter definitions from a YAML file on top of the defaults.
//
//	parameters:
//	  - name: baseline
//	    units: ADC
//	    tier: dsp
//	    limits: {low: 10000, high: 16000}
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parameter file: %w", err)
	}

	var doc struct {
		Parameters []Parameter `yaml:"parameters"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse parameter file: %w", err)
	}

	r := DefaultRegistry()
	for _, p := range doc.Parameters {
		if p.Name == "" {
			return nil, fmt.Errorf("parameter file %s: entry without name", path)
		}
		r.Register(p)
	}
	return r, nil
}

var defaultParameters = []Parameter{
	{Name: "baseline", Label: "FPGA baseline", Units: "ADC", Tier: "raw"},
	{Name: "wf_max", Label: "Waveform maximum", Units: "ADC", Tier: "dsp"},
	{Name: "bl_mean", Label: "Baseline mean", Units: "ADC", Tier: "dsp"},
	{Name: "bl_std", Label: "Baseline stddev", Units: "ADC", Tier: "dsp"},
	{Name: "bl_slope", Label: "Baseline slope", Units: "ADC", Tier: "dsp"},
	{Name: "tp_0_est", Label: "Start time", Units: "ns", Tier: "dsp"},
	{Name: "trapTmax", Label: "Trap max", Units: "ADC", Tier: "dsp"},
	{Name: "trapEmax", Label: "Trap energy", Units: "ADC", Tier: "dsp"},
	{Name: "zacEmax", Label: "ZAC energy", Units: "ADC", Tier: "dsp"},
	{Name: "cuspEmax", Label: "Cusp energy", Units: "ADC", Tier: "dsp"},
	{Name: "A_max", Label: "Current maximum", Units: "ADC", Tier: "dsp"},
	{Name: "AoE_Corrected", Label: "A/E corrected", Tier: "hit"},
	{Name: "AoE_Classifier", Label: "A/E classifier", Tier: "hit"},
	{Name: "cuspEmax_ctc_cal", Label: "Calibrated energy", Units: "keV", Tier: "hit"},
	{Name: "energy_in_pe", Label: "Energy", Units: "PE", Tier: "hit"},
	{Name: "trigger_pos", Label: "Trigger position", Units: "ns", Tier: "hit"},

	{Name: ParamEventRate, Label: "Event rate", Units: "Hz", Derived: true},
	{Name: ParamFWHM, Label: "FWHM", Units: "keV", Derived: true, Requires: []string{KLinesEnergy}, NoBaseline: true},
	{Name: ParamExposure, Label: "Exposure", Units: "kg yr", Derived: true, NoBaseline: true},
	{Name: ParamWfMaxRel, Label: "wf_max - baseline", Units: "ADC", Derived: true, Requires: []string{"wf_max", "baseline"}},
	{Name: ParamAoECustom, Label: "A_max / cuspEmax", Derived: true, Requires: []string{"A_max", "cuspEmax"}},
}
