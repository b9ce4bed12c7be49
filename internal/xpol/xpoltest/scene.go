package xpoltest

import (
	"math"
	"math/cmplx"

	"github.com/banshee-data/xpol2mom/internal/covar"
	"github.com/banshee-data/xpol2mom/internal/wire"
	"github.com/banshee-data/xpol2mom/internal/xpol"
)

// Gate is the full covariance set for one gate. Lag1H[0] is the product
// of pulses 0 and 1, Lag1H[1] of pulses 1 and 2.
type Gate struct {
	PowerH, PowerV [3]float64
	Lag1H, Lag1V   [2]complex128
	Cross          complex128
}

// Scene returns the covariances for a gate.
type Scene func(gate int) Gate

// Block encodes conf.NGates gates of scene in the layout selected by the
// conf's server mode and sum-powers flag.
func Block(conf *xpol.Conf, scene Scene) ([]byte, error) {
	layout, err := covar.LayoutFor(conf.Mode(), conf.PowersSummed())
	if err != nil {
		return nil, err
	}
	n := int(conf.NGates)
	gates := make([]Gate, n)
	for g := range gates {
		gates[g] = scene(g)
	}

	b := wire.NewBuffer(n * layout.GateBytes)
	putC := func(v complex128) {
		b.PutF32(float32(real(v)))
		b.PutF32(float32(imag(v)))
	}
	for _, q := range layout.Order {
		for g := range gates {
			gt := &gates[g]
			switch q {
			case covar.PowerH0, covar.PowerH1, covar.PowerH2:
				b.PutF32(float32(gt.PowerH[q-covar.PowerH0]))
			case covar.PowerV0, covar.PowerV1, covar.PowerV2:
				b.PutF32(float32(gt.PowerV[q-covar.PowerV0]))
			case covar.TotalPowerH:
				b.PutF32(float32(sumTaps(gt.PowerH, layout.Taps)))
			case covar.TotalPowerV:
				b.PutF32(float32(sumTaps(gt.PowerV, layout.Taps)))
			case covar.Lag1H01:
				putC(gt.Lag1H[0])
			case covar.Lag1H12:
				putC(gt.Lag1H[1])
			case covar.Lag1V01:
				putC(gt.Lag1V[0])
			case covar.Lag1V12:
				putC(gt.Lag1V[1])
			case covar.CrossVH:
				putC(gt.Cross)
			}
		}
	}
	return b.Bytes(), nil
}

func sumTaps(p [3]float64, taps int) float64 {
	var s float64
	for i := 0; i < taps; i++ {
		s += p[i]
	}
	return s
}

// Rain is a uniform echo between two gates over a noise floor. Lag-1
// phases follow the default velocity sign, so a receding target has a
// negative lag-1 phase.
type Rain struct {
	NoiseH, NoiseV      float64 // linear noise power per pulse
	SNRDb               float64
	FirstGate, LastGate int
	VelocityMps         float64
	WavelengthM         float64
	PrtShort, PrtLong   float64 // seconds, equal for uniform PRT
	Coherence           float64 // |lag1| as a fraction of signal power
	Rhohv               float64
	PhidpDeg            float64
}

// Scene returns the covariances for r.
func (r Rain) Scene() Scene {
	nyqShort := r.WavelengthM / (4 * r.PrtShort)
	nyqLong := r.WavelengthM / (4 * r.PrtLong)
	phaseShort := -r.VelocityMps / nyqShort * math.Pi
	phaseLong := -r.VelocityMps / nyqLong * math.Pi
	signal := math.Sqrt(r.NoiseH*r.NoiseV) * math.Pow(10, r.SNRDb/10)

	return func(g int) Gate {
		var gt Gate
		for i := range gt.PowerH {
			gt.PowerH[i] = r.NoiseH
			gt.PowerV[i] = r.NoiseV
		}
		if g < r.FirstGate || g > r.LastGate {
			return gt
		}
		for i := range gt.PowerH {
			gt.PowerH[i] += signal
			gt.PowerV[i] += signal
		}
		mag := signal * r.Coherence
		gt.Lag1H[0] = cmplx.Rect(mag, phaseShort)
		gt.Lag1V[0] = cmplx.Rect(mag, phaseShort)
		gt.Lag1H[1] = cmplx.Rect(mag, phaseLong)
		gt.Lag1V[1] = cmplx.Rect(mag, phaseLong)
		gt.Cross = cmplx.Rect(signal*r.Rhohv, r.PhidpDeg*math.Pi/180)
		return gt
	}
}
