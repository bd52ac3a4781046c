package metadata

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Validity is a channel map valid from a given time until the next one.
type Validity struct {
	ValidFrom time.Time     `yaml:"valid_from"`
	Channels  []ChannelInfo `yaml:"channels"`
}

// Static serves metadata from memory, usually loaded from a YAML file.
type Static struct {
	periods []Validity
	diodes  map[string]Diode
}

// NewStatic creates a provider from validity periods and diodes.
func NewStatic(periods []Validity, diodes []Diode) *Static {
	s := &Static{
		periods: append([]Validity(nil), periods...),
		diodes:  make(map[string]Diode, len(diodes)),
	}
	sort.Slice(s.periods, func(i, j int) bool {
		return s.periods[i].ValidFrom.Before(s.periods[j].ValidFrom)
	})
	for _, d := range diodes {
		s.diodes[d.Name] = d
	}
	return s
}

// LoadStatic reads a metadata file:
//
//	channelmaps:
//	  - valid_from: 2023-03-01T00:00:00Z
//	    channels:
//	      - {name: PULS01, rawid: 1027203, system: puls}
//	      - {name: V02160A, rawid: 1104000, system: geds}
//	diodes:
//	  - {name: V02160A, mass_in_g: 1751}
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata file: %w", err)
	}

	var doc struct {
		ChannelMaps []Validity `yaml:"channelmaps"`
		Diodes      []Diode    `yaml:"diodes"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse metadata file: %w", err)
	}

	return NewStatic(doc.ChannelMaps, doc.Diodes), nil
}

// ChannelMap returns the latest map whose validity starts at or before at.
func (s *Static) ChannelMap(ctx context.Context, at time.Time) (ChannelMap, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx := sort.Search(len(s.periods), func(i int) bool {
		return s.periods[i].ValidFrom.After(at)
	}) - 1
	if idx < 0 {
		return nil, fmt.Errorf("no channel map valid at %s: %w", at.Format(time.RFC3339), ErrNotFound)
	}

	m := make(ChannelMap, len(s.periods[idx].Channels))
	for _, ch := range s.periods[idx].Channels {
		m[ch.Name] = ch
	}
	return m, nil
}

// Diode returns production data for the named detector.
func (s *Static) Diode(ctx context.Context, name string) (Diode, error) {
	if err := ctx.Err(); err != nil {
		return Diode{}, err
	}
	d, ok := s.diodes[name]
	if !ok {
		return Diode{}, fmt.Errorf("detector %q: %w", name, ErrNotFound)
	}
	return d, nil
}
