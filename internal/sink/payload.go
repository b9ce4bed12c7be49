package sink

import (
	"math"
	"time"

	"github.com/banshee-data/xpol2mom/internal/moments"
)

// FieldColumn is one moment across every gate of a ray.
type FieldColumn struct {
	Name   string    `json:"name"`
	Values []float32 `json:"values"`
}

// RayPayload is the JSON form of a ray published downstream. Fields
// keep the order they were requested in, which by default is the
// moments.AllFields order.
type RayPayload struct {
	Time          time.Time     `json:"time"`
	AzDeg         float64       `json:"az_deg"`
	ElDeg         float64       `json:"el_deg"`
	ArchiveIndex  int32         `json:"archive_index"`
	BlockIndex    int64         `json:"block_index"`
	ProcMode      string        `json:"proc_mode"`
	NGates        int           `json:"n_gates"`
	StartRangeKm  float64       `json:"start_range_km"`
	GateSpacingKm float64       `json:"gate_spacing_km"`
	NyquistMps    float64       `json:"nyquist_mps"`
	VelocityUnits string        `json:"velocity_units"`
	Missing       float32       `json:"missing"`
	Fields        []FieldColumn `json:"fields"`
}

// NewRayPayload converts ray. Fields lists the moments to include; nil
// includes all of them. Speed fields are converted to unit and values
// that are not finite are published as missing.
func NewRayPayload(ray *moments.Ray, unit string, fields []moments.FieldKind) *RayPayload {
	if fields == nil {
		fields = moments.AllFields()
	}
	p := &RayPayload{
		Time:          ray.Time,
		AzDeg:         ray.AzDeg,
		ElDeg:         ray.ElDeg,
		ArchiveIndex:  ray.ArchiveIndex,
		BlockIndex:    ray.BlockIndex,
		ProcMode:      ray.ProcMode.String(),
		NGates:        ray.NGates,
		StartRangeKm:  ray.StartRangeKm,
		GateSpacingKm: ray.GateSpacingKm,
		NyquistMps:    ray.NyquistMps,
		VelocityUnits: unit,
		Missing:       moments.Missing,
		Fields:        make([]FieldColumn, 0, len(fields)),
	}
	for _, k := range fields {
		col := ray.Column(k, unit)
		for i, v := range col {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				col[i] = moments.Missing
			}
		}
		p.Fields = append(p.Fields, FieldColumn{Name: k.String(), Values: col})
	}
	return p
}

// Field returns the values of the named field, or nil if the payload
// does not carry it.
func (p *RayPayload) Field(name string) []float32 {
	for _, f := range p.Fields {
		if f.Name == name {
			return f.Values
		}
	}
	return nil
}
