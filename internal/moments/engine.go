package moments

import (
	"fmt"
	"math"
	"math/cmplx"
	"time"

	"github.com/banshee-data/xpol2mom/internal/covar"
	"github.com/banshee-data/xpol2mom/internal/xpol"
)

// PhidpReferenceDeg is the phase the system PHIDP is referenced to.
const PhidpReferenceDeg = -160.0

// Calibration holds the receiver calibration used by the engine.
type Calibration struct {
	WavelengthM float64 `json:"wavelength_m"`

	NoiseDbmHc float64 `json:"noise_dbm_hc"`
	NoiseDbmVc float64 `json:"noise_dbm_vc"`

	ReceiverGainDbHc float64 `json:"receiver_gain_db_hc"`
	ReceiverGainDbVc float64 `json:"receiver_gain_db_vc"`

	BaseDbz1kmHc float64 `json:"base_dbz_1km_hc"`
	BaseDbz1kmVc float64 `json:"base_dbz_1km_vc"`

	ZdrCorrectionDb float64 `json:"zdr_correction_db"`
	SystemPhidpDeg  float64 `json:"system_phidp_deg"`
	DbzCorrection   float64 `json:"dbz_correction"`
}

// NoisePowerHc returns the H-channel noise power in mW.
func (c *Calibration) NoisePowerHc() float64 { return math.Pow(10, c.NoiseDbmHc/10) }

// NoisePowerVc returns the V-channel noise power in mW.
func (c *Calibration) NoisePowerVc() float64 { return math.Pow(10, c.NoiseDbmVc/10) }

// Attenuator returns the two-way atmospheric attenuation in dB to a
// range along a beam at an elevation.
type Attenuator interface {
	AttenuationDb(elevationDeg, rangeKm float64) float64
}

// Params tunes moment computation.
type Params struct {
	// VelSign multiplies velocities so that motion away from the radar
	// is positive.
	VelSign float64
	// PhidpSign multiplies the system PHIDP correction phase.
	PhidpSign float64
	// MinSnr is the linear signal-to-noise ratio below which a channel's
	// noise-subtracted power is treated as invalid.
	MinSnr float64
	// CorrectSystemPhidp rotates PHIDP by the calibrated system phase.
	CorrectSystemPhidp bool
	// StartRangeKm overrides the start range derived from the conf.
	StartRangeKm *float64
}

// DefaultParams returns the parameters used when none are configured.
func DefaultParams() Params {
	return Params{
		VelSign:            -1,
		PhidpSign:          1,
		MinSnr:             0.01,
		CorrectSystemPhidp: true,
	}
}

// Ray is the moments output for one data block.
type Ray struct {
	Time          time.Time     `json:"time"`
	AzDeg         float64       `json:"az_deg"`
	ElDeg         float64       `json:"el_deg"`
	ArchiveIndex  int32         `json:"archive_index"`
	BlockIndex    int64         `json:"block_index"`
	ProcMode      xpol.ProcMode `json:"proc_mode"`
	NGates        int           `json:"n_gates"`
	StartRangeKm  float64       `json:"start_range_km"`
	GateSpacingKm float64       `json:"gate_spacing_km"`
	NyquistMps    float64       `json:"nyquist_mps"`

	Gates []MomentsFields `json:"-"`
}

// Column returns field k for every gate after the field's clamp policy
// and, for speed fields, conversion to unit.
func (r *Ray) Column(k FieldKind, unit string) []float32 {
	p := k.Spec().Policy
	out := make([]float32, len(r.Gates))
	for g := range r.Gates {
		out[g] = p.Convert(r.Gates[g][k], unit)
	}
	return out
}

// Clone returns a deep copy of r.
func (r *Ray) Clone() *Ray {
	c := *r
	c.Gates = append([]MomentsFields(nil), r.Gates...)
	return &c
}

// Engine computes moments for successive rays. It owns its output and
// lookup tables and is used from a single goroutine.
type Engine struct {
	params Params
	cal    Calibration
	atten  Attenuator

	noiseH, noiseV float64
	phidpOffset    complex128

	ranges  RangeTable
	stagger *Stagger
	gates   []MomentsFields
	ray     Ray
}

// NewEngine returns an engine. A nil atten applies no attenuation.
func NewEngine(p Params, cal Calibration, atten Attenuator) *Engine {
	if p.VelSign == 0 {
		p.VelSign = -1
	}
	if p.PhidpSign == 0 {
		p.PhidpSign = 1
	}
	e := &Engine{
		params:      p,
		cal:         cal,
		atten:       atten,
		noiseH:      cal.NoisePowerHc(),
		noiseV:      cal.NoisePowerVc(),
		phidpOffset: 1,
	}
	if p.CorrectSystemPhidp {
		rad := (cal.SystemPhidpDeg - PhidpReferenceDeg) * math.Pi / 180 * p.PhidpSign
		e.phidpOffset = cmplx.Rect(1, rad)
	}
	return e
}

// Ranges returns the current range table.
func (e *Engine) Ranges() *RangeTable { return &e.ranges }

// Stagger returns the staggered-PRT state, or nil before the first
// dual-PRT ray.
func (e *Engine) Stagger() *Stagger { return e.stagger }

// ComputeRay fills the engine's ray from one block of covariances. The
// returned Ray and its Gates are overwritten by the next call.
func (e *Engine) ComputeRay(conf *xpol.Conf, resp *xpol.DataResponse, bufs *covar.Buffers) (*Ray, error) {
	n := int(conf.NGates)
	if bufs.NGates != n {
		return nil, fmt.Errorf("covariances have %d gates, conf has %d", bufs.NGates, n)
	}
	if e.cal.WavelengthM <= 0 {
		return nil, fmt.Errorf("invalid wavelength %g", e.cal.WavelengthM)
	}
	if len(e.gates) != n {
		e.gates = make([]MomentsFields, n)
	}

	startKm := conf.StartRangeKm()
	if e.params.StartRangeKm != nil {
		startKm = *e.params.StartRangeKm
	}
	e.ranges.Update(n, startKm, conf.GateSpacingKm())

	prtShort, prtLong := conf.PrtSecs()
	if prtShort <= 0 {
		return nil, fmt.Errorf("invalid prt %g", prtShort)
	}
	nyquist := e.cal.WavelengthM / (4 * prtShort)
	staggered := bufs.Layout.Staggered()
	if staggered {
		if e.stagger == nil || !e.stagger.Matches(prtShort, prtLong, e.cal.WavelengthM) {
			e.stagger = NewStagger(prtShort, prtLong, e.cal.WavelengthM)
		}
		nyquist = e.stagger.Nyquist
	}

	el := resp.Pedestal.ElPosDeg
	for g := range e.gates {
		f := &e.gates[g]
		f.Init()
		if staggered {
			e.gateDual(g, bufs, el, f)
		} else {
			e.gatePP(g, bufs, el, nyquist, f)
		}
	}

	e.ray = Ray{
		Time:          resp.Time(),
		AzDeg:         resp.Pedestal.AzPosDeg,
		ElDeg:         el,
		ArchiveIndex:  resp.ArchiveIndex,
		BlockIndex:    resp.BlockIndex,
		ProcMode:      bufs.Layout.ProcMode(),
		NGates:        n,
		StartRangeKm:  startKm,
		GateSpacingKm: conf.GateSpacingKm(),
		NyquistMps:    nyquist,
		Gates:         e.gates,
	}
	return &e.ray, nil
}

// channelPower holds the power-derived quantities shared by every mode.
type channelPower struct {
	nsH, nsV float64
	okH, okV bool
}

func (e *Engine) power(g int, lag0H, lag0V float64, el float64, f *MomentsFields) channelPower {
	if lag0H > 0 {
		f.Set(DBMHC, 10*math.Log10(lag0H)-e.cal.ReceiverGainDbHc)
	}
	if lag0V > 0 {
		f.Set(DBMVC, 10*math.Log10(lag0V)-e.cal.ReceiverGainDbVc)
	}

	var p channelPower
	p.nsH = lag0H - e.noiseH
	p.nsV = lag0V - e.noiseV
	p.okH = p.nsH > 0 && p.nsH >= e.noiseH*e.params.MinSnr
	p.okV = p.nsV > 0 && p.nsV >= e.noiseV*e.params.MinSnr

	if p.okH {
		snr := 10 * math.Log10(p.nsH/e.noiseH)
		f.Set(SNRHC, snr)
		dbz := snr + e.cal.BaseDbz1kmHc + e.ranges.CorrDb[g] + e.cal.DbzCorrection
		f.Set(DBZNAA, dbz)
		if e.atten != nil {
			dbz += e.atten.AttenuationDb(el, e.ranges.RangeKm[g])
		}
		f.Set(DBZ, dbz)
	}
	if p.okV {
		f.Set(SNRVC, 10*math.Log10(p.nsV/e.noiseV))
	}
	if p.okH && p.okV {
		zdrm := 10 * math.Log10(p.nsH/p.nsV)
		f.Set(ZDRM, zdrm)
		f.Set(ZDR, zdrm+e.cal.ZdrCorrectionDb)
	}
	return p
}

// correlation sets the lag-1 and cross-polar fields shared by every mode.
func (e *Engine) correlation(p channelPower, lag1H, lag1V, rvvhh0 complex128, lag0H, lag0V float64, f *MomentsFields) {
	setDbPhase(f, LAG1HCDB, LAG1HCPhase, lag1H)
	setDbPhase(f, LAG1VCDB, LAG1VCPhase, lag1V)
	setDbPhase(f, RVVHH0DB, RVVHH0Phase, rvvhh0)

	if den := lag0H + lag0V; den > 0 {
		f.Set(NCP, constrain(cmplx.Abs(lag1H+lag1V)/den, 0, 1))
	}

	f.Set(PHIDP0, argDeg(rvvhh0))
	f.Set(PHIDP, argDeg(rvvhh0*cmplx.Conj(e.phidpOffset)))
	if p.okH && p.okV {
		f.Set(RHOHV, constrain(cmplx.Abs(rvvhh0)/math.Sqrt(p.nsH*p.nsV), 0, 1))
	}
}

func (e *Engine) gatePP(g int, b *covar.Buffers, el, nyquist float64, f *MomentsFields) {
	lag0H, lag0V := b.Lag0H()[g], b.Lag0V()[g]
	lag1H, lag1V := b.Lag1H[0][g], b.Lag1V[0][g]
	p := e.power(g, lag0H, lag0V, el, f)
	e.correlation(p, lag1H, lag1V, b.Cross[g], lag0H, lag0V, f)

	f.Set(VEL, cmplx.Phase(lag1H+lag1V)/math.Pi*nyquist*e.params.VelSign)

	if p.okH && p.okV {
		wH := constrain(StagWidth(p.nsH, cmplx.Abs(lag1H), 0, 1, 1), 0, 1)
		wV := constrain(StagWidth(p.nsV, cmplx.Abs(lag1V), 0, 1, 1), 0, 1)
		f.Set(WIDTH, constrain((wH+wV)/2*nyquist, 0.01, nyquist))
	}
}

func (e *Engine) gateDual(g int, b *covar.Buffers, el float64, f *MomentsFields) {
	s := e.stagger
	lag0H, lag0V := b.Lag0H()[g], b.Lag0V()[g]
	shortH, shortV := b.Lag1H[0][g], b.Lag1V[0][g]
	longH, longV := b.Lag1H[1][g], b.Lag1V[1][g]
	p := e.power(g, lag0H, lag0V, el, f)
	e.correlation(p, shortH, shortV, b.Cross[g], lag0H, lag0V, f)

	velShort := cmplx.Phase(shortH+shortV) / math.Pi * s.NyquistShort * e.params.VelSign
	velLong := cmplx.Phase(longH+longV) / math.Pi * s.NyquistLong * e.params.VelSign
	u := s.Unfold(velShort, velLong)
	f.Set(VELPrtShort, velShort)
	f.Set(VELPrtLong, velLong)
	f.Set(VELDiff, u.Diff)
	f.Set(VELUnfoldInterval, float64(u.Interval))
	f.Set(VEL, u.Vel)

	if p.okH && p.okV {
		wH := StagWidth(p.nsH, cmplx.Abs(longH), 0, s.M, 1)
		wV := StagWidth(p.nsV, cmplx.Abs(longV), 0, s.M, 1)
		f.Set(WIDTH, constrain((wH+wV)/2*s.Nyquist, 0.01, s.NyquistShort))
	}
}

func setDbPhase(f *MomentsFields, db, phase FieldKind, v complex128) {
	if mag := cmplx.Abs(v); mag > 0 {
		f.Set(db, 20*math.Log10(mag))
		f.Set(phase, argDeg(v))
	}
}

func argDeg(v complex128) float64 { return cmplx.Phase(v) * 180 / math.Pi }

func constrain(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
