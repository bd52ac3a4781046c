// Package metadata resolves hardware configuration: the channel map valid at
// a given time and per-detector production data.
package metadata

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no channel map or detector matches the lookup.
var ErrNotFound = errors.New("metadata not found")

// Well-known auxiliary channel names.
const (
	ChannelPulser        = "PULS01"
	ChannelPulserMonitor = "PULS01ANA"
	ChannelAux           = "AUX00"
)

// DefaultPulserRateHz is the pulser rate used when PULS01 is in the channel map.
const DefaultPulserRateHz = 0.05

// ChannelInfo describes one entry of the channel map.
type ChannelInfo struct {
	Name   string `yaml:"name" json:"name" db:"name"`
	Rawid  int    `yaml:"rawid" json:"rawid" db:"rawid"`
	System string `yaml:"system" json:"system" db:"system"`

	// PulserRateHz is set on the auxiliary channel that carries the pulser rate. Zero when unknown.
	PulserRateHz float64 `yaml:"pulser_rate_hz" json:"pulser_rate_hz,omitempty" db:"pulser_rate_hz"`
}

// ChannelMap maps channel names to their info.
type ChannelMap map[string]ChannelInfo

// PulserRate returns the pulser rate in Hz for this configuration.
func (m ChannelMap) PulserRate() (float64, error) {
	if _, ok := m[ChannelPulser]; ok {
		return DefaultPulserRateHz, nil
	}
	aux, ok := m[ChannelAux]
	if !ok || aux.PulserRateHz <= 0 {
		return 0, errors.New("channel map has neither PULS01 nor an AUX00 pulser rate")
	}
	return aux.PulserRateHz, nil
}

// Diode holds production data of a germanium detector.
type Diode struct {
	Name    string  `yaml:"name" json:"name" db:"name"`
	MassInG float64 `yaml:"mass_in_g" json:"mass_in_g" db:"mass_in_g"`
}

// MassKg returns the detector mass in kilograms.
func (d Diode) MassKg() float64 {
	return d.MassInG / 1000
}

// Provider looks up hardware metadata.
// Implementations: Static (YAML file), Postgres (hardware configuration database)
type Provider interface {
	// ChannelMap returns the channel map valid at the given time
	ChannelMap(ctx context.Context, at time.Time) (ChannelMap, error)

	// Diode returns production data for the named detector
	Diode(ctx context.Context, name string) (Diode, error)
}
