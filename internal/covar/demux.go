package covar

import (
	"errors"
	"fmt"

	"github.com/banshee-data/xpol2mom/internal/wire"
	"github.com/banshee-data/xpol2mom/internal/xpol"
)

// ErrSizeMismatch is returned when a block is larger than its layout,
// which means the reported mode does not describe the data.
var ErrSizeMismatch = errors.New("block size does not match layout")

// Buffers holds the demultiplexed covariances for one ray. Every array
// has NGates elements. Arrays not carried by the current layout are
// zero.
type Buffers struct {
	NGates int
	Layout Layout

	// Generation increments each time the arrays are reallocated.
	Generation int

	PowerH [3][]float64
	PowerV [3][]float64
	TotalH []float64
	TotalV []float64

	// Lag1H[0] is lag1(H0,H1), Lag1H[1] is lag1(H1,H2). Same for V.
	Lag1H [2][]complex128
	Lag1V [2][]complex128
	Cross []complex128

	lag0H []float64
	lag0V []float64
}

// Lag0H returns the mean H-channel power per pulse for each gate.
func (b *Buffers) Lag0H() []float64 { return b.lag0H }

// Lag0V returns the mean V-channel power per pulse for each gate.
func (b *Buffers) Lag0V() []float64 { return b.lag0V }

func (b *Buffers) alloc(nGates int) {
	b.NGates = nGates
	b.Generation++
	for i := range b.PowerH {
		b.PowerH[i] = make([]float64, nGates)
		b.PowerV[i] = make([]float64, nGates)
	}
	b.TotalH = make([]float64, nGates)
	b.TotalV = make([]float64, nGates)
	for i := range b.Lag1H {
		b.Lag1H[i] = make([]complex128, nGates)
		b.Lag1V[i] = make([]complex128, nGates)
	}
	b.Cross = make([]complex128, nGates)
	b.lag0H = make([]float64, nGates)
	b.lag0V = make([]float64, nGates)
}

// clearUnused zeroes every array the layout does not carry.
func (b *Buffers) clearUnused(l Layout) {
	for q := Quantity(0); q < numQuantities; q++ {
		if l.Has(q) {
			continue
		}
		if q.Complex() {
			clear(b.complexArray(q))
		} else {
			clear(b.realArray(q))
		}
	}
}

func (b *Buffers) realArray(q Quantity) []float64 {
	switch q {
	case PowerH0, PowerH1, PowerH2:
		return b.PowerH[q-PowerH0]
	case PowerV0, PowerV1, PowerV2:
		return b.PowerV[q-PowerV0]
	case TotalPowerH:
		return b.TotalH
	case TotalPowerV:
		return b.TotalV
	}
	return nil
}

func (b *Buffers) complexArray(q Quantity) []complex128 {
	switch q {
	case Lag1H01:
		return b.Lag1H[0]
	case Lag1H12:
		return b.Lag1H[1]
	case Lag1V01:
		return b.Lag1V[0]
	case Lag1V12:
		return b.Lag1V[1]
	case CrossVH:
		return b.Cross
	}
	return nil
}

// Demux owns the covariance buffers and refills them for each ray.
type Demux struct {
	bufs Buffers
	rd   *wire.Buffer
}

// NewDemux returns a demultiplexer with no buffers allocated.
func NewDemux() *Demux {
	return &Demux{rd: wire.NewBuffer(0)}
}

// Buffers returns the current buffers.
func (d *Demux) Buffers() *Buffers { return &d.bufs }

// Load reinterprets raw as the layout for mode and summed, upcasting
// each float32 to float64. Buffers are reallocated when nGates changes.
func (d *Demux) Load(raw []byte, nGates int, mode xpol.ServerMode, summed bool) (*Buffers, error) {
	layout, err := LayoutFor(mode, summed)
	if err != nil {
		return nil, err
	}
	if nGates <= 0 {
		return nil, fmt.Errorf("%w: nGates %d", wire.ErrBufferTooSmall, nGates)
	}
	need := nGates * layout.GateBytes
	switch {
	case len(raw) < need:
		return nil, fmt.Errorf("%w: %s needs %d bytes for %d gates, have %d",
			wire.ErrBufferTooSmall, layout.ProcMode(), need, nGates, len(raw))
	case len(raw) > need:
		return nil, fmt.Errorf("%w: %s expects %d bytes for %d gates, have %d (%s)",
			ErrSizeMismatch, layout.ProcMode(), need, nGates, len(raw),
			xpol.ProcModeForBytesPerGate(len(raw)/nGates))
	}

	b := &d.bufs
	switch {
	case b.NGates != nGates:
		b.alloc(nGates)
	case b.Layout.Mode != layout.Mode || b.Layout.Summed != layout.Summed:
		b.clearUnused(layout)
	}
	b.Layout = layout

	d.rd.Wrap(raw)
	for _, q := range layout.Order {
		if q.Complex() {
			dst := b.complexArray(q)
			for g := range dst {
				re, _ := d.rd.F32()
				im, _ := d.rd.F32()
				dst[g] = complex(float64(re), float64(im))
			}
			continue
		}
		dst := b.realArray(q)
		for g := range dst {
			v, _ := d.rd.F32()
			dst[g] = float64(v)
		}
	}

	taps := float64(layout.Taps)
	for g := 0; g < nGates; g++ {
		if layout.Summed {
			b.lag0H[g] = b.TotalH[g] / taps
			b.lag0V[g] = b.TotalV[g] / taps
			continue
		}
		var sh, sv float64
		for i := 0; i < layout.Taps; i++ {
			sh += b.PowerH[i][g]
			sv += b.PowerV[i][g]
		}
		b.lag0H[g] = sh / taps
		b.lag0V[g] = sv / taps
	}
	return b, nil
}
