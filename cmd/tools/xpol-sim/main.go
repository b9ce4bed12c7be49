// xpol-sim serves synthetic rain over the xpol protocol so the daemon
// can be run without a radar.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/banshee-data/xpol2mom/internal/xpol"
	"github.com/banshee-data/xpol2mom/internal/xpol/xpoltest"
)

// simOptions describes the simulated radar and weather.
type simOptions struct {
	Addr        string
	Gates       int
	Mode        string // "pp" or "dual_pp"
	PriUsec     int32  // short PRI in units of the server clock
	PriUsec2    int32  // long PRI for dual_pp
	Interval    time.Duration
	RPM         float64
	ElevDeg     float64
	SNRDb       float64
	VelocityMps float64
	FirstGate   int
	LastGate    int
	SumPowers   bool
}

func defaultSimOptions() simOptions {
	return simOptions{
		Addr:        "localhost:3000",
		Gates:       500,
		Mode:        "pp",
		PriUsec:     500,
		PriUsec2:    750,
		Interval:    100 * time.Millisecond,
		RPM:         2,
		ElevDeg:     1,
		SNRDb:       20,
		VelocityMps: 5,
		FirstGate:   50,
		LastGate:    300,
	}
}

// simConf builds the server configuration for o.
func simConf(o simOptions) (xpol.Conf, error) {
	conf := xpoltest.DefaultConf()
	conf.SiteInfo = "xpol-sim"
	conf.NGates = int32(o.Gates)
	conf.PriUsecUnit1 = o.PriUsec
	conf.PriUsecUnit2 = o.PriUsec
	conf.PriUsecUnitTotal = o.PriUsec
	switch strings.ToLower(o.Mode) {
	case "pp":
		conf.ServerMode = int32(xpol.ServerModePP)
	case "dual_pp":
		conf.ServerMode = int32(xpol.ServerModeDualPP)
		conf.PriUsecUnit2 = o.PriUsec2
		conf.PriUsecUnitTotal = o.PriUsec + o.PriUsec2
	default:
		return xpol.Conf{}, fmt.Errorf("unsupported mode %q (want pp or dual_pp)", o.Mode)
	}
	if o.SumPowers {
		conf.SumPowers = 1
	}
	conf.MaxSampledRangeM = float64(o.Gates) * conf.GateSpacingM
	return conf, nil
}

// newSim starts a fake server configured from o.
func newSim(o simOptions) (*xpoltest.Server, error) {
	if o.Gates <= 0 {
		return nil, fmt.Errorf("gates must be positive, got %d", o.Gates)
	}
	conf, err := simConf(o)
	if err != nil {
		return nil, err
	}
	srv, err := xpoltest.NewServer(o.Addr)
	if err != nil {
		return nil, err
	}
	srv.SetConf(conf)
	srv.SetBlockInterval(o.Interval)

	prtShort, prtLong := conf.PrtSecs()
	noise := math.Pow(10, conf.HNoisePowerDbm/10)
	srv.SetScene(xpoltest.Rain{
		NoiseH:      noise,
		NoiseV:      noise,
		SNRDb:       o.SNRDb,
		FirstGate:   o.FirstGate,
		LastGate:    o.LastGate,
		VelocityMps: o.VelocityMps,
		WavelengthM: 0.0319,
		PrtShort:    prtShort,
		PrtLong:     prtLong,
		Coherence:   0.9,
		Rhohv:       0.98,
		PhidpDeg:    30,
	}.Scene())
	srv.SetPointing(pointing(o, 0), xpol.Georef{LatDeg: 51.5, LonDeg: -0.1, AltMeters: 30})
	return srv, nil
}

// pointing is the antenna position elapsed into the scan.
func pointing(o simOptions, elapsed time.Duration) xpol.Pedestal {
	rate := o.RPM * 6 // deg/s
	az := math.Mod(rate*elapsed.Seconds(), 360)
	return xpol.Pedestal{AzPosDeg: az, ElPosDeg: o.ElevDeg, AzVelDegPerSec: rate}
}

// rotate sweeps the antenna until ctx is done.
func rotate(ctx context.Context, srv *xpoltest.Server, o simOptions, tick time.Duration) {
	start := time.Now()
	georef := xpol.Georef{LatDeg: 51.5, LonDeg: -0.1, AltMeters: 30}
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			srv.SetPointing(pointing(o, time.Since(start)), georef)
		}
	}
}

func main() {
	o := defaultSimOptions()
	flag.StringVar(&o.Addr, "listen", o.Addr, "address to serve the xpol protocol on")
	flag.IntVar(&o.Gates, "gates", o.Gates, "number of range gates")
	flag.StringVar(&o.Mode, "mode", o.Mode, "server mode: pp or dual_pp")
	flag.DurationVar(&o.Interval, "interval", o.Interval, "time between data blocks")
	flag.Float64Var(&o.RPM, "rpm", o.RPM, "antenna rotation rate")
	flag.Float64Var(&o.ElevDeg, "elevation", o.ElevDeg, "antenna elevation in degrees")
	flag.Float64Var(&o.SNRDb, "snr", o.SNRDb, "rain SNR in dB")
	flag.Float64Var(&o.VelocityMps, "velocity", o.VelocityMps, "rain radial velocity in m/s")
	flag.IntVar(&o.FirstGate, "first-gate", o.FirstGate, "first gate with rain")
	flag.IntVar(&o.LastGate, "last-gate", o.LastGate, "last gate with rain")
	flag.BoolVar(&o.SumPowers, "sum-powers", o.SumPowers, "serve summed co-polar powers")
	flag.Parse()

	srv, err := newSim(o)
	if err != nil {
		log.Fatalf("failed to start simulator: %v", err)
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("xpol-sim serving %d gates (%s) on %s", o.Gates, o.Mode, srv.Addr())
	rotate(ctx, srv, o, 50*time.Millisecond)
	log.Print("xpol-sim stopped")
}
