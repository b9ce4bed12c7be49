package covar_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/xpol2mom/internal/covar"
	"github.com/banshee-data/xpol2mom/internal/wire"
	"github.com/banshee-data/xpol2mom/internal/xpol"
	"github.com/banshee-data/xpol2mom/internal/xpol/xpoltest"
)

func TestLayoutGateBytes(t *testing.T) {
	tests := []struct {
		mode   xpol.ServerMode
		summed bool
		bytes  int
		proc   xpol.ProcMode
	}{
		{xpol.ServerModePP, false, 40, xpol.ProcModePP},
		{xpol.ServerModePP, true, 32, xpol.ProcModePPSum},
		{xpol.ServerModeDualPP, false, 64, xpol.ProcModeDualPP},
		{xpol.ServerModeDualPP, true, 48, xpol.ProcModeDualPPSum},
	}
	for _, tt := range tests {
		l, err := covar.LayoutFor(tt.mode, tt.summed)
		require.NoError(t, err)
		assert.Equal(t, tt.bytes, l.GateBytes, "%s summed=%t", tt.mode, tt.summed)
		assert.Equal(t, tt.proc, l.ProcMode())
		assert.Equal(t, tt.mode == xpol.ServerModeDualPP, l.Staggered())
	}

	_, err := covar.LayoutFor(xpol.ServerModeFFT, false)
	assert.ErrorIs(t, err, covar.ErrModeNotSupported)
}

func TestLayoutOrderIsHorizontalFirst(t *testing.T) {
	l, err := covar.LayoutFor(xpol.ServerModeDualPP, false)
	require.NoError(t, err)
	assert.Equal(t, []covar.Quantity{
		covar.PowerH0, covar.PowerH1, covar.PowerH2,
		covar.PowerV0, covar.PowerV1, covar.PowerV2,
		covar.Lag1H01, covar.Lag1H12, covar.Lag1V01, covar.Lag1V12, covar.CrossVH,
	}, l.Order)
	assert.True(t, l.Has(covar.Lag1V12))

	pp, err := covar.LayoutFor(xpol.ServerModePP, true)
	require.NoError(t, err)
	assert.False(t, pp.Has(covar.Lag1H12))
	assert.False(t, pp.Has(covar.PowerH0))
}

// indexScene gives every quantity of every gate a distinct value so a
// misplaced array shows up.
func indexScene(g int) xpoltest.Gate {
	f := float64(g)
	return xpoltest.Gate{
		PowerH: [3]float64{1000 + f, 2000 + f, 3000 + f},
		PowerV: [3]float64{4000 + f, 5000 + f, 6000 + f},
		Lag1H:  [2]complex128{complex(7000+f, -f), complex(8000+f, -2*f)},
		Lag1V:  [2]complex128{complex(9000+f, f), complex(10000+f, 2*f)},
		Cross:  complex(11000+f, 3*f),
	}
}

func loadScene(t *testing.T, d *covar.Demux, mode xpol.ServerMode, summed bool, nGates int) *covar.Buffers {
	t.Helper()
	conf := xpoltest.DefaultConf()
	conf.ServerMode = int32(mode)
	conf.NGates = int32(nGates)
	if summed {
		conf.SumPowers = 1
	}
	raw, err := xpoltest.Block(&conf, indexScene)
	require.NoError(t, err)
	b, err := d.Load(raw, nGates, mode, summed)
	require.NoError(t, err)
	return b
}

func TestDemuxPulsePair(t *testing.T) {
	d := covar.NewDemux()
	b := loadScene(t, d, xpol.ServerModePP, false, 16)

	require.Equal(t, 16, b.NGates)
	for g := 0; g < 16; g++ {
		f := float64(g)
		assert.Equal(t, 1000+f, b.PowerH[0][g])
		assert.Equal(t, 2000+f, b.PowerH[1][g])
		assert.Equal(t, 4000+f, b.PowerV[0][g])
		assert.Equal(t, 5000+f, b.PowerV[1][g])
		assert.Equal(t, complex(7000+f, -f), b.Lag1H[0][g])
		assert.Equal(t, complex(9000+f, f), b.Lag1V[0][g])
		assert.Equal(t, complex(11000+f, 3*f), b.Cross[g])
		assert.Equal(t, 1500+f, b.Lag0H()[g])
		assert.Equal(t, 4500+f, b.Lag0V()[g])
	}
}

func TestDemuxDualSummed(t *testing.T) {
	d := covar.NewDemux()
	b := loadScene(t, d, xpol.ServerModeDualPP, true, 8)

	for g := 0; g < 8; g++ {
		f := float64(g)
		assert.Equal(t, 6000+3*f, b.TotalH[g])
		assert.Equal(t, 15000+3*f, b.TotalV[g])
		assert.Equal(t, 2000+f, b.Lag0H()[g])
		assert.Equal(t, 5000+f, b.Lag0V()[g])
		assert.Equal(t, complex(8000+f, -2*f), b.Lag1H[1][g])
		assert.Equal(t, complex(10000+f, 2*f), b.Lag1V[1][g])
	}
}

func TestDemuxReallocatesOnGateChange(t *testing.T) {
	d := covar.NewDemux()
	b := loadScene(t, d, xpol.ServerModePP, false, 512)
	gen := b.Generation
	assert.Len(t, b.Lag0H(), 512)

	b = loadScene(t, d, xpol.ServerModePP, false, 512)
	assert.Equal(t, gen, b.Generation, "same gate count reuses buffers")

	b = loadScene(t, d, xpol.ServerModeDualPP, false, 1024)
	assert.Equal(t, gen+1, b.Generation)
	assert.Len(t, b.Lag0H(), 1024)
	assert.Len(t, b.Cross, 1024)
	assert.Equal(t, 1023+2000.0, b.Lag0H()[1023])
}

func TestDemuxClearsArraysOnLayoutChange(t *testing.T) {
	d := covar.NewDemux()
	b := loadScene(t, d, xpol.ServerModeDualPP, false, 64)
	gen := b.Generation
	require.NotZero(t, b.Lag1H[1][10])
	require.NotZero(t, b.PowerH[2][10])

	b = loadScene(t, d, xpol.ServerModePP, false, 64)
	assert.Equal(t, gen, b.Generation, "same gate count keeps the allocation")
	for g := 0; g < 64; g++ {
		assert.Zero(t, b.Lag1H[1][g], "lag1(H1,H2) gate %d", g)
		assert.Zero(t, b.Lag1V[1][g], "lag1(V1,V2) gate %d", g)
		assert.Zero(t, b.PowerH[2][g], "H2 gate %d", g)
		assert.Zero(t, b.PowerV[2][g], "V2 gate %d", g)
		assert.Zero(t, b.TotalH[g], "Htot gate %d", g)
	}
	assert.NotZero(t, b.Lag1H[0][10])

	b = loadScene(t, d, xpol.ServerModePP, true, 64)
	for g := 0; g < 64; g++ {
		assert.Zero(t, b.PowerH[0][g], "H0 gate %d", g)
		assert.Zero(t, b.PowerV[1][g], "V1 gate %d", g)
	}
	assert.NotZero(t, b.TotalH[10])
}

func TestDemuxSizeErrors(t *testing.T) {
	d := covar.NewDemux()

	_, err := d.Load(make([]byte, 39), 1, xpol.ServerModePP, false)
	assert.ErrorIs(t, err, wire.ErrBufferTooSmall)

	_, err = d.Load(make([]byte, 64), 1, xpol.ServerModePP, false)
	assert.ErrorIs(t, err, covar.ErrSizeMismatch)

	_, err = d.Load(make([]byte, 40), 0, xpol.ServerModePP, false)
	assert.ErrorIs(t, err, wire.ErrBufferTooSmall)

	_, err = d.Load(make([]byte, 1024), 1, xpol.ServerModeFFT, false)
	assert.ErrorIs(t, err, covar.ErrModeNotSupported)
}
