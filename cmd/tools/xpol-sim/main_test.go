package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/xpol2mom/internal/calib"
	"github.com/banshee-data/xpol2mom/internal/covar"
	"github.com/banshee-data/xpol2mom/internal/moments"
	"github.com/banshee-data/xpol2mom/internal/xpol"
)

func TestSimConf(t *testing.T) {
	tests := []struct {
		mode      string
		sum       bool
		wantMode  xpol.ServerMode
		wantPri2  int32
		wantTotal int32
	}{
		{"pp", false, xpol.ServerModePP, 500, 500},
		{"DUAL_PP", false, xpol.ServerModeDualPP, 750, 1250},
		{"dual_pp", true, xpol.ServerModeDualPP, 750, 1250},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			o := defaultSimOptions()
			o.Mode = tt.mode
			o.SumPowers = tt.sum
			conf, err := simConf(o)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMode, conf.Mode())
			assert.Equal(t, tt.wantPri2, conf.PriUsecUnit2)
			assert.Equal(t, tt.wantTotal, conf.PriUsecUnitTotal)
			assert.Equal(t, tt.sum, conf.PowersSummed())
			assert.Equal(t, int32(500), conf.NGates)
		})
	}

	o := defaultSimOptions()
	o.Mode = "fft"
	_, err := simConf(o)
	assert.Error(t, err)
}

func TestPointing(t *testing.T) {
	o := defaultSimOptions()
	o.RPM = 1

	p := pointing(o, 15*time.Second)
	assert.InDelta(t, 90.0, p.AzPosDeg, 1e-9)
	assert.Equal(t, o.ElevDeg, p.ElPosDeg)
	assert.InDelta(t, 6.0, p.AzVelDegPerSec, 1e-9)

	p = pointing(o, 75*time.Second)
	assert.InDelta(t, 90.0, p.AzPosDeg, 1e-9, "wraps at 360")
}

func TestSimServesRain(t *testing.T) {
	o := defaultSimOptions()
	o.Addr = "127.0.0.1:0"
	o.Gates = 200
	o.Mode = "dual_pp"
	o.Interval = 0
	o.FirstGate, o.LastGate = 20, 120

	_, err := newSim(simOptions{Gates: 0})
	require.Error(t, err)

	srv, err := newSim(o)
	require.NoError(t, err)
	defer srv.Close()

	ctx := context.Background()
	c := xpol.NewClient(xpol.Options{Addr: srv.Addr()})
	defer c.Close()

	resp, err := c.ReadData(ctx, xpol.FusedProductsProcData)
	require.NoError(t, err)
	conf, ok := c.Conf()
	require.True(t, ok)
	assert.Equal(t, "xpol-sim", conf.SiteInfo)
	assert.Equal(t, xpol.ProcModeDualPP, c.ProcMode())
	assert.InDelta(t, o.ElevDeg, resp.Pedestal.ElPosDeg, 1e-9)

	d := covar.NewDemux()
	bufs, err := d.Load(c.Data(), int(conf.NGates), conf.Mode(), conf.PowersSummed())
	require.NoError(t, err)

	var cf *calib.File
	e := moments.NewEngine(moments.DefaultParams(), cf.Resolve(&conf), nil)
	ray, err := e.ComputeRay(&conf, resp, bufs)
	require.NoError(t, err)
	assert.Equal(t, 200, ray.NGates)
	assert.InDelta(t, o.VelocityMps, ray.Gates[70].Get(moments.VEL), 0.5)
	assert.Equal(t, moments.Missing, ray.Gates[150].Get(moments.DBZ))
}

func TestRotateStopsOnCancel(t *testing.T) {
	o := defaultSimOptions()
	o.Addr = "127.0.0.1:0"
	o.RPM = 60
	srv, err := newSim(o)
	require.NoError(t, err)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rotate(ctx, srv, o, time.Millisecond)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("rotate did not stop")
	}
}
