// Package atmos provides gaseous attenuation models for reflectivity
// correction.
package atmos

import "math"

// None applies no attenuation.
type None struct{}

// AttenuationDb always returns 0.
func (None) AttenuationDb(elevationDeg, rangeKm float64) float64 { return 0 }

// DoviakZrnic is the two-way gaseous attenuation model from Doviak and
// Zrnić, Doppler Radar and Weather Observations, for S- to X-band.
// Results are cached per (elevation, range) pair since rays within a
// scan share elevations.
type DoviakZrnic struct {
	cache map[[2]float64]float64
}

// NewDoviakZrnic returns the model with an empty cache.
func NewDoviakZrnic() *DoviakZrnic {
	return &DoviakZrnic{cache: make(map[[2]float64]float64)}
}

// maxCache bounds the memo so a continuously varying elevation does not
// grow it without limit.
const maxCache = 1 << 16

// AttenuationDb returns the two-way attenuation in dB accumulated to
// rangeKm along a beam at elevationDeg. Negative elevations are treated
// as horizontal.
func (m *DoviakZrnic) AttenuationDb(elevationDeg, rangeKm float64) float64 {
	if rangeKm <= 0 {
		return 0
	}
	key := [2]float64{elevationDeg, rangeKm}
	if v, ok := m.cache[key]; ok {
		return v
	}
	v := doviakZrnic(elevationDeg, rangeKm)
	if len(m.cache) >= maxCache {
		clear(m.cache)
	}
	m.cache[key] = v
	return v
}

func doviakZrnic(elevationDeg, rangeKm float64) float64 {
	el := math.Max(elevationDeg, 0)
	a := 0.4 + 3.45*math.Exp(-el/1.8)
	b := 27.8 + 154.0*math.Exp(-el/2.2)
	return a * (1 - math.Exp(-rangeKm/b))
}
