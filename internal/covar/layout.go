// Package covar reshapes the raw covariance block returned by get-data
// into one array per physical quantity.
package covar

import (
	"errors"
	"fmt"

	"github.com/banshee-data/xpol2mom/internal/xpol"
)

// ErrModeNotSupported is returned for server modes with no known layout.
var ErrModeNotSupported = errors.New("mode not supported")

// Quantity names one array in the covariance block.
type Quantity int

const (
	PowerH0 Quantity = iota
	PowerH1
	PowerH2
	PowerV0
	PowerV1
	PowerV2
	TotalPowerH
	TotalPowerV
	Lag1H01
	Lag1H12
	Lag1V01
	Lag1V12
	CrossVH
	numQuantities
)

var quantityNames = [numQuantities]string{
	"H0", "H1", "H2", "V0", "V1", "V2", "Htot", "Vtot",
	"lag1(H0,H1)", "lag1(H1,H2)", "lag1(V0,V1)", "lag1(V1,V2)", "cross(V,H)",
}

func (q Quantity) String() string {
	if q >= 0 && q < numQuantities {
		return quantityNames[q]
	}
	return fmt.Sprintf("Quantity(%d)", int(q))
}

// Complex reports whether q is stored as interleaved re,im pairs.
func (q Quantity) Complex() bool { return q >= Lag1H01 }

// Layout is the ordered list of arrays in a block.
type Layout struct {
	Mode      xpol.ServerMode
	Summed    bool
	Taps      int // pulses per channel contributing to lag0
	Order     []Quantity
	GateBytes int
}

func newLayout(mode xpol.ServerMode, summed bool, taps int, order ...Quantity) Layout {
	n := 0
	for _, q := range order {
		if q.Complex() {
			n += 8
		} else {
			n += 4
		}
	}
	return Layout{Mode: mode, Summed: summed, Taps: taps, Order: order, GateBytes: n}
}

var layouts = []Layout{
	newLayout(xpol.ServerModePP, false, 2,
		PowerH0, PowerH1, PowerV0, PowerV1, Lag1H01, Lag1V01, CrossVH),
	newLayout(xpol.ServerModePP, true, 2,
		TotalPowerH, TotalPowerV, Lag1H01, Lag1V01, CrossVH),
	newLayout(xpol.ServerModeDualPP, false, 3,
		PowerH0, PowerH1, PowerH2, PowerV0, PowerV1, PowerV2,
		Lag1H01, Lag1H12, Lag1V01, Lag1V12, CrossVH),
	newLayout(xpol.ServerModeDualPP, true, 3,
		TotalPowerH, TotalPowerV, Lag1H01, Lag1H12, Lag1V01, Lag1V12, CrossVH),
}

// LayoutFor returns the block layout for a server mode and sum-powers flag.
func LayoutFor(mode xpol.ServerMode, summed bool) (Layout, error) {
	for _, l := range layouts {
		if l.Mode == mode && l.Summed == summed {
			return l, nil
		}
	}
	return Layout{}, fmt.Errorf("%w: %s summed=%t", ErrModeNotSupported, mode, summed)
}

// Has reports whether the layout carries q.
func (l Layout) Has(q Quantity) bool {
	for _, o := range l.Order {
		if o == q {
			return true
		}
	}
	return false
}

// Staggered reports whether the layout carries long-lag products.
func (l Layout) Staggered() bool { return l.Mode == xpol.ServerModeDualPP }

// ProcMode returns the byte-size classification this layout matches.
func (l Layout) ProcMode() xpol.ProcMode {
	return xpol.ProcModeForBytesPerGate(l.GateBytes)
}
