package moments

import "math"

// RangeTable caches the range and range correction for each gate.
type RangeTable struct {
	nGates    int
	startKm   float64
	spacingKm float64
	built     bool

	RangeKm []float64
	CorrDb  []float64
}

// Update rebuilds the table if the gate geometry changed and reports
// whether it did.
func (t *RangeTable) Update(nGates int, startKm, spacingKm float64) bool {
	if t.built && t.nGates == nGates && t.startKm == startKm && t.spacingKm == spacingKm {
		return false
	}
	t.nGates, t.startKm, t.spacingKm, t.built = nGates, startKm, spacingKm, true
	t.RangeKm = make([]float64, nGates)
	t.CorrDb = make([]float64, nGates)
	for g := range t.RangeKm {
		km := startKm + float64(g)*spacingKm
		t.RangeKm[g] = km
		if km >= 0.001 {
			t.CorrDb[g] = 20 * math.Log10(km)
		}
	}
	return true
}
