// Package channel classifies detector channels and subsystems.
//
// Auxiliary monitoring channels carry sentinel integer geometry values
// (location == position == 0, -1, -2 or -3). Classify turns those values
// into an explicit Kind so that callers never compare magic numbers.
package channel

import (
	"fmt"

	"github.com/nicktill/ldmon/pkg/table"
)

// Kind identifies the subsystem a channel belongs to.
type Kind int

const (
	Germanium Kind = iota
	SiPM
	Pulser
	PulserMonitor
	FCBaseline
	Muon
)

// Sentinel location/position values of the auxiliary pseudo-channels.
const (
	PulserSentinel        = 0
	PulserMonitorSentinel = -1
	FCBaselineSentinel    = -2
	MuonSentinel          = -3
)

// String returns the subsystem name used in store keys and output file names.
func (k Kind) String() string {
	switch k {
	case Germanium:
		return "geds"
	case SiPM:
		return "spms"
	case Pulser:
		return "pulser"
	case PulserMonitor:
		return "pulser01ana"
	case FCBaseline:
		return "FCbsln"
	case Muon:
		return "muon"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsAux reports whether the kind is a synthetic monitoring channel rather than a physical detector.
func (k Kind) IsAux() bool {
	switch k {
	case Pulser, PulserMonitor, FCBaseline, Muon:
		return true
	}
	return false
}

// Sentinel returns the geometry value identifying an auxiliary kind.
func (k Kind) Sentinel() (int, bool) {
	switch k {
	case Pulser:
		return PulserSentinel, true
	case PulserMonitor:
		return PulserMonitorSentinel, true
	case FCBaseline:
		return FCBaselineSentinel, true
	case Muon:
		return MuonSentinel, true
	}
	return 0, false
}

// ParseKind parses a subsystem name as returned by Kind.String.
func ParseKind(s string) (Kind, error) {
	for _, k := range []Kind{Germanium, SiPM, Pulser, PulserMonitor, FCBaseline, Muon} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown subsystem %q", s)
}

// Classify returns the kind of a channel from its location and position.
func Classify(location, position table.Geometry) Kind {
	if location.IsString && position.IsString {
		return SiPM
	}
	if location.IsString || position.IsString || location.Int != position.Int {
		return Germanium
	}
	switch location.Int {
	case PulserSentinel:
		return Pulser
	case PulserMonitorSentinel:
		return PulserMonitor
	case FCBaselineSentinel:
		return FCBaseline
	case MuonSentinel:
		return Muon
	}
	return Germanium
}

// Subsystem classifies a table by its first row. An empty table is germanium.
func Subsystem(t *table.Table) Kind {
	if t == nil || t.Empty() {
		return Germanium
	}
	first := t.Rows[0]
	return Classify(first.Location, first.Position)
}

// MarshalText encodes the kind as its subsystem name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a subsystem name.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
