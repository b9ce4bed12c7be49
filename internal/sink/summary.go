package sink

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/xpol2mom/internal/moments"
)

// FieldSummary describes the valid gates of one field along a ray.
type FieldSummary struct {
	Valid int     `json:"valid"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// RaySummary is a compact view of a ray for dashboards and the archive.
type RaySummary struct {
	Time          time.Time               `json:"time"`
	AzDeg         float64                 `json:"az_deg"`
	ElDeg         float64                 `json:"el_deg"`
	ArchiveIndex  int32                   `json:"archive_index"`
	BlockIndex    int64                   `json:"block_index"`
	ProcMode      string                  `json:"proc_mode"`
	NGates        int                     `json:"n_gates"`
	NyquistMps    float64                 `json:"nyquist_mps"`
	VelocityUnits string                  `json:"velocity_units"`
	Fields        map[string]FieldSummary `json:"fields"`
}

// Summarize reduces every field of ray to its valid-gate statistics.
// Fields with no valid gate report zeros.
func Summarize(ray *moments.Ray, unit string) *RaySummary {
	s := &RaySummary{
		Time:          ray.Time,
		AzDeg:         ray.AzDeg,
		ElDeg:         ray.ElDeg,
		ArchiveIndex:  ray.ArchiveIndex,
		BlockIndex:    ray.BlockIndex,
		ProcMode:      ray.ProcMode.String(),
		NGates:        ray.NGates,
		NyquistMps:    ray.NyquistMps,
		VelocityUnits: unit,
		Fields:        make(map[string]FieldSummary, moments.NumFields),
	}
	vals := make([]float64, 0, len(ray.Gates))
	for _, k := range moments.AllFields() {
		vals = vals[:0]
		for _, v := range ray.Column(k, unit) {
			f := float64(v)
			if v == moments.Missing || math.IsNaN(f) || math.IsInf(f, 0) {
				continue
			}
			vals = append(vals, f)
		}
		s.Fields[k.String()] = summarizeValues(vals)
	}
	return s
}

func summarizeValues(vals []float64) FieldSummary {
	if len(vals) == 0 {
		return FieldSummary{}
	}
	return FieldSummary{
		Valid: len(vals),
		Mean:  stat.Mean(vals, nil),
		Min:   floats.Min(vals),
		Max:   floats.Max(vals),
	}
}
