// Package strategy implements the momentum breakout detector, the per
// instrument trade simulator and the parallel backtester, plus a Registry
// of named parameter presets.
package strategy

import (
	"fmt"
	"sort"
)

// Preset names shipped with the registry.
const (
	PresetV3        = "v3"
	PresetV4        = "v4"
	PresetMinervini = "minervini"
)

// Registry holds named parameter presets. Strategy variants are parameter
// sets, not separate engines.
type Registry struct {
	presets map[string]Params
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		presets: make(map[string]Params),
	}
}

// DefaultRegistry returns a Registry with the built-in presets.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	v3 := Params{
		VolumeAvgDays:   10,
		VolumeRatioMin:  2.0,
		ConsolMinDays:   10,
		ConsolMaxDays:   130,
		MaxDropPct:      50,
		RiseMinPct:      100,
		StopLossPct:     7,
		TrailingStopPct: 15,
		StartDate:       "2016-01-01",
	}
	r.Register(PresetV3, v3)

	v4 := v3
	v4.RiseLookbackDays = 252
	v4.MAExitDays = 50
	r.Register(PresetV4, v4)

	mv := v3
	mv.VolumeAvgDays = 20
	mv.BreakoutLookbackDays = 60
	mv.MinHistoryDays = 262
	mv.TrailingStopPct = 20
	mv.TrendTemplate = &TrendTemplate{
		MA200TrendDays: 20,
		Week52Days:     252,
		LowMultiple:    1.30,
		HighMultiple:   0.75,
		MinRS:          70,
		RSPeriod:       "1m",
	}
	r.Register(PresetMinervini, mv)

	return r
}

// Register stores a preset under name, replacing any previous one.
func (r *Registry) Register(name string, p Params) {
	r.presets[name] = p.Clone()
}

// Get returns a copy of the named preset.
func (r *Registry) Get(name string) (Params, bool) {
	p, ok := r.presets[name]
	if !ok {
		return Params{}, false
	}
	return p.Clone(), true
}

// Lookup is Get with an ErrInvalidParams error for unknown names.
func (r *Registry) Lookup(name string) (Params, error) {
	p, ok := r.Get(name)
	if !ok {
		return Params{}, fmt.Errorf("%w: unknown preset %q (have %v)", ErrInvalidParams, name, r.List())
	}
	return p, nil
}

// List returns a sorted slice of all preset names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.presets))
	for name := range r.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
