// Package moments turns demultiplexed covariances into per-gate radar
// moments.
package moments

import (
	"fmt"

	"github.com/banshee-data/xpol2mom/internal/units"
)

// Missing marks a moment that could not be computed for a gate.
const Missing float32 = -9999

// FieldKind identifies one output moment. Values follow publishing order.
type FieldKind int

const (
	DBMHC FieldKind = iota
	DBMVC
	SNRHC
	SNRVC
	DBZNAA
	DBZ
	VEL
	WIDTH
	ZDRM
	ZDR
	PHIDP
	PHIDP0
	RHOHV
	NCP
	LAG1HCDB
	LAG1HCPhase
	LAG1VCDB
	LAG1VCPhase
	RVVHH0DB
	RVVHH0Phase
	VELDiff
	VELPrtShort
	VELPrtLong
	VELUnfoldInterval

	NumFields int = iota
)

// AllFields lists every kind in publishing order.
func AllFields() []FieldKind {
	out := make([]FieldKind, NumFields)
	for i := range out {
		out[i] = FieldKind(i)
	}
	return out
}

// Policy bounds a field before it is published. Missing values are
// never clamped.
type Policy struct {
	Min, Max       float64
	HasMin, HasMax bool
	// Speed fields are stored in m/s and may be converted on output.
	Speed bool
}

// Clamp applies the policy to v.
func (p Policy) Clamp(v float32) float32 {
	if v == Missing {
		return v
	}
	if p.HasMin && float64(v) < p.Min {
		return float32(p.Min)
	}
	if p.HasMax && float64(v) > p.Max {
		return float32(p.Max)
	}
	return v
}

// Convert clamps v and, for speed fields, converts it from m/s to unit.
func (p Policy) Convert(v float32, unit string) float32 {
	v = p.Clamp(v)
	if v == Missing || !p.Speed {
		return v
	}
	return float32(units.ConvertSpeed(float64(v), unit))
}

// FieldSpec describes a field for publishing.
type FieldSpec struct {
	Name     string
	Units    string
	LongName string
	Policy   Policy
}

var (
	unitRange = Policy{Min: 0, Max: 1, HasMin: true, HasMax: true}
	phase     = Policy{Min: -180, Max: 180, HasMin: true, HasMax: true}
	speed     = Policy{Speed: true}
	width     = Policy{Min: 0, HasMin: true, Speed: true}
)

// Spec returns the description of k.
func (k FieldKind) Spec() FieldSpec {
	switch k {
	case DBMHC:
		return FieldSpec{"DBMHC", "dBm", "power_h_channel", Policy{}}
	case DBMVC:
		return FieldSpec{"DBMVC", "dBm", "power_v_channel", Policy{}}
	case SNRHC:
		return FieldSpec{"SNRHC", "dB", "snr_h_channel", Policy{}}
	case SNRVC:
		return FieldSpec{"SNRVC", "dB", "snr_v_channel", Policy{}}
	case DBZNAA:
		return FieldSpec{"DBZ_NAA", "dBZ", "reflectivity_no_atmos_atten", Policy{}}
	case DBZ:
		return FieldSpec{"DBZ", "dBZ", "reflectivity", Policy{}}
	case VEL:
		return FieldSpec{"VEL", "m/s", "radial_velocity", speed}
	case WIDTH:
		return FieldSpec{"WIDTH", "m/s", "spectrum_width", width}
	case ZDRM:
		return FieldSpec{"ZDRM", "dB", "zdr_measured", Policy{}}
	case ZDR:
		return FieldSpec{"ZDR", "dB", "zdr_corrected", Policy{}}
	case PHIDP:
		return FieldSpec{"PHIDP", "deg", "differential_phase", phase}
	case PHIDP0:
		return FieldSpec{"PHIDP0", "deg", "differential_phase_uncorrected", phase}
	case RHOHV:
		return FieldSpec{"RHOHV", "", "cross_correlation", unitRange}
	case NCP:
		return FieldSpec{"NCP", "", "normalized_coherent_power", unitRange}
	case LAG1HCDB:
		return FieldSpec{"LAG1_HC_DB", "dBm", "lag1_h_channel_power", Policy{}}
	case LAG1HCPhase:
		return FieldSpec{"LAG1_HC_PHASE", "deg", "lag1_h_channel_phase", phase}
	case LAG1VCDB:
		return FieldSpec{"LAG1_VC_DB", "dBm", "lag1_v_channel_power", Policy{}}
	case LAG1VCPhase:
		return FieldSpec{"LAG1_VC_PHASE", "deg", "lag1_v_channel_phase", phase}
	case RVVHH0DB:
		return FieldSpec{"RVVHH0_DB", "dBm", "lag0_vh_correlation_power", Policy{}}
	case RVVHH0Phase:
		return FieldSpec{"RVVHH0_PHASE", "deg", "lag0_vh_correlation_phase", phase}
	case VELDiff:
		return FieldSpec{"VEL_DIFF", "m/s", "velocity_short_minus_long", speed}
	case VELPrtShort:
		return FieldSpec{"VEL_PRT_SHORT", "m/s", "velocity_short_prt", speed}
	case VELPrtLong:
		return FieldSpec{"VEL_PRT_LONG", "m/s", "velocity_long_prt", speed}
	case VELUnfoldInterval:
		return FieldSpec{"VEL_UNFOLD_INTERVAL", "", "velocity_unfold_interval", Policy{}}
	}
	panic(fmt.Sprintf("moments: unknown field kind %d", int(k)))
}

func (k FieldKind) String() string {
	if k < 0 || int(k) >= NumFields {
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
	return k.Spec().Name
}

// ParseFieldKind maps a field name such as "DBZ_NAA" to its kind.
func ParseFieldKind(name string) (FieldKind, error) {
	for _, k := range AllFields() {
		if k.Spec().Name == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown moment field %q", name)
}

// MomentsFields holds every output moment for one gate, indexed by
// FieldKind.
type MomentsFields [NumFields]float32

// Init resets every field to Missing.
func (f *MomentsFields) Init() {
	for i := range f {
		f[i] = Missing
	}
}

// Get returns field k.
func (f *MomentsFields) Get(k FieldKind) float32 { return f[k] }

// Set stores v as field k.
func (f *MomentsFields) Set(k FieldKind, v float64) { f[k] = float32(v) }
