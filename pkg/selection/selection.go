package selection

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidSelection is returned for an unknown event type or output mode.
	ErrInvalidSelection = errors.New("invalid selection")

	// ErrIncompatibleParameters is returned when event_rate is combined with
	// other parameters or requested without a time window.
	ErrIncompatibleParameters = errors.New("incompatible parameters")

	// ErrUnknownParameter is returned for a parameter missing from the registry.
	ErrUnknownParameter = errors.New("unknown parameter")

	// ErrInvalidWindow is returned for an unparseable time window.
	ErrInvalidWindow = errors.New("invalid time window")
)

// EventType selects which events enter the analysis.
type EventType string

const (
	EventAll        EventType = "all"
	EventPhysical   EventType = "phy"
	EventPulser     EventType = "pulser"
	EventFCBaseline EventType = "FCbsln"
	EventMuon       EventType = "muon"
	EventKLines     EventType = "K_events"
)

// Event flag columns computed upstream.
const (
	FlagPulser     = "flag_pulser"
	FlagFCBaseline = "flag_fc_bsln"
	FlagMuon       = "flag_muon"
)

// EventFlags lists every event flag column.
var EventFlags = []string{FlagPulser, FlagFCBaseline, FlagMuon}

// ParseEventType validates an event type name.
func ParseEventType(s string) (EventType, error) {
	switch e := EventType(s); e {
	case EventAll, EventPhysical, EventPulser, EventFCBaseline, EventMuon, EventKLines:
		return e, nil
	}
	return "", fmt.Errorf("%w: event type %q does not exist, use one of all, phy, pulser, FCbsln, muon, K_events", ErrInvalidSelection, s)
}

// RequiredFlag returns the flag column an event type needs, if any.
func (e EventType) RequiredFlag() (string, bool) {
	switch e {
	case EventPulser, EventKLines:
		return FlagPulser, true
	case EventFCBaseline:
		return FlagFCBaseline, true
	case EventMuon:
		return FlagMuon, true
	}
	return "", false
}

// OutputMode controls persistence of the baseline values.
type OutputMode string

const (
	OutputNone      OutputMode = "none"
	OutputOverwrite OutputMode = "overwrite"
	OutputAppend    OutputMode = "append"
)

// ParseOutputMode validates an output mode. The empty string means none.
func ParseOutputMode(s string) (OutputMode, error) {
	switch m := OutputMode(s); m {
	case "", OutputNone:
		return OutputNone, nil
	case OutputOverwrite, OutputAppend:
		return m, nil
	}
	return "", fmt.Errorf("%w: output mode %q, use none, overwrite or append", ErrInvalidSelection, s)
}

// NegationPrefix marks a cut that keeps rows where the column is false.
const NegationPrefix = "~"

// ParseCut splits a cut name into its column and expected value.
func ParseCut(cut string) (column string, want bool) {
	if strings.HasPrefix(cut, NegationPrefix) {
		return strings.TrimPrefix(cut, NegationPrefix), false
	}
	return cut, true
}

// StringList decodes from either a single string or a list of strings.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*l = StringList{node.Value}
		return nil
	}
	var list []string
	if err := node.Decode(&list); err != nil {
		return err
	}
	*l = list
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = StringList{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*l = list
	return nil
}

// Spec is the decoded, unvalidated form of a selection, as found in config files and API requests.
type Spec struct {
	Parameters StringList `yaml:"parameters" json:"parameters"`
	EventType  string     `yaml:"event_type" json:"event_type"`
	Cuts       StringList `yaml:"cuts" json:"cuts,omitempty"`
	TimeWindow string     `yaml:"time_window" json:"time_window,omitempty"`
	Output     string     `yaml:"saving" json:"saving,omitempty"`
}

// Selection is a validated analysis request. It is immutable once built.
type Selection struct {
	parameters []string
	eventType  EventType
	cuts       []string
	windowSpec string
	window     time.Duration
	output     OutputMode
}

// New validates a spec against the registry.
func New(spec Spec, reg *Registry) (Selection, error) {
	if reg == nil {
		reg = DefaultRegistry()
	}

	evt, err := ParseEventType(spec.EventType)
	if err != nil {
		return Selection{}, err
	}
	mode, err := ParseOutputMode(spec.Output)
	if err != nil {
		return Selection{}, err
	}

	if len(spec.Parameters) == 0 {
		return Selection{}, fmt.Errorf("%w: no parameters requested", ErrInvalidSelection)
	}
	params := dedupe(spec.Parameters)
	for _, p := range params {
		if _, ok := reg.Lookup(p); !ok {
			return Selection{}, fmt.Errorf("%w: %q is not a known parameter (it may be misspelled, absent from the processed files, or a quality cut rather than a parameter)", ErrUnknownParameter, p)
		}
	}

	sel := Selection{
		parameters: params,
		eventType:  evt,
		cuts:       append([]string(nil), spec.Cuts...),
		windowSpec: spec.TimeWindow,
		output:     mode,
	}

	if spec.TimeWindow != "" {
		w, err := ParseWindow(spec.TimeWindow)
		if err != nil {
			return Selection{}, err
		}
		sel.window = w
	}

	if sel.Has(ParamEventRate) {
		if len(params) > 1 {
			return Selection{}, fmt.Errorf("%w: event_rate is computed in time windows and cannot be combined with %v", ErrIncompatibleParameters, without(params, ParamEventRate))
		}
		if sel.window == 0 {
			return Selection{}, fmt.Errorf("%w: event_rate needs a time_window", ErrIncompatibleParameters)
		}
	}

	return sel, nil
}

// MustNew is New that panics on error. Intended for tests and static tables.
func MustNew(spec Spec, reg *Registry) Selection {
	sel, err := New(spec, reg)
	if err != nil {
		panic(err)
	}
	return sel
}

// Parameters returns the requested parameters.
func (s Selection) Parameters() []string { return append([]string(nil), s.parameters...) }

// EventType returns the event type.
func (s Selection) EventType() EventType { return s.eventType }

// Cuts returns the requested quality cuts.
func (s Selection) Cuts() []string { return append([]string(nil), s.cuts...) }

// Window returns the event-rate time window, zero if none.
func (s Selection) Window() time.Duration { return s.window }

// WindowSpec returns the time window as written.
func (s Selection) WindowSpec() string { return s.windowSpec }

// Output returns the output mode.
func (s Selection) Output() OutputMode { return s.output }

// Has reports whether a parameter was requested.
func (s Selection) Has(param string) bool {
	for _, p := range s.parameters {
		if p == param {
			return true
		}
	}
	return false
}

// WithOutput returns a copy with a different output mode.
func (s Selection) WithOutput(mode OutputMode) Selection {
	out := s
	out.parameters = s.Parameters()
	out.cuts = s.Cuts()
	out.output = mode
	return out
}

// Spec returns the spec this selection was built from.
func (s Selection) Spec() Spec {
	return Spec{
		Parameters: s.Parameters(),
		EventType:  string(s.eventType),
		Cuts:       s.Cuts(),
		TimeWindow: s.windowSpec,
		Output:     string(s.output),
	}
}

// MarshalJSON encodes the selection as its spec.
func (s Selection) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Spec())
}

func (s Selection) String() string {
	return fmt.Sprintf("%v/%s cuts=%v window=%q output=%s", s.parameters, s.eventType, s.cuts, s.windowSpec, s.output)
}

func dedupe(list []string) []string {
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, v := range list {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func without(list []string, drop string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != drop {
			out = append(out, v)
		}
	}
	return out
}
