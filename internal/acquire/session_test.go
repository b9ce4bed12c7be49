package acquire

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/xpol2mom/internal/atmos"
	"github.com/banshee-data/xpol2mom/internal/covar"
	"github.com/banshee-data/xpol2mom/internal/moments"
	"github.com/banshee-data/xpol2mom/internal/monitoring"
	"github.com/banshee-data/xpol2mom/internal/sink"
	"github.com/banshee-data/xpol2mom/internal/testutil"
	"github.com/banshee-data/xpol2mom/internal/timeutil"
	"github.com/banshee-data/xpol2mom/internal/xpol"
	"github.com/banshee-data/xpol2mom/internal/xpol/xpoltest"
)

// recordingSink keeps a copy of everything published to it.
type recordingSink struct {
	name string
	err  error

	mu    sync.Mutex
	metas []sink.Meta
	rays  []*moments.Ray
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) PublishMeta(ctx context.Context, meta *sink.Meta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metas = append(r.metas, *meta)
	return r.err
}

func (r *recordingSink) PublishRay(ctx context.Context, ray *moments.Ray) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rays = append(r.rays, ray.Clone())
	return r.err
}

func (r *recordingSink) Close() error { return nil }

func (r *recordingSink) counts() (metas, rays int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.metas), len(r.rays)
}

func newServer(t *testing.T) *xpoltest.Server {
	t.Helper()
	return testutil.StartRainServer(t)
}

func newSession(t *testing.T, srv *xpoltest.Server, opts Options) (*Session, *recordingSink) {
	t.Helper()
	rec := &recordingSink{name: "recorder"}
	if opts.Sink == nil {
		opts.Sink = &sink.Multi{Sinks: []sink.Sink{rec}}
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.NewMockClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	}
	opts.Params = moments.DefaultParams()
	opts.Attenuator = atmos.None{}
	client := xpol.NewClient(xpol.Options{Addr: srv.Addr()})
	s := NewSession(client, opts)
	t.Cleanup(func() { _ = s.Close() })
	return s, rec
}

func TestStepPublishesMetaThenRays(t *testing.T) {
	srv := newServer(t)
	s, rec := newSession(t, srv, Options{RunID: "run-1"})
	ctx := context.Background()

	require.NoError(t, s.Step(ctx))
	require.NoError(t, s.Step(ctx))

	metas, rays := rec.counts()
	assert.Equal(t, 1, metas, "metadata is published once per archive")
	assert.Equal(t, 2, rays)
	assert.Equal(t, "test site", rec.metas[0].Conf.SiteInfo)
	assert.Equal(t, "xpoltest", rec.metas[0].ServerInfo.ProjectName)
	assert.Equal(t, rec.rays[0].ArchiveIndex, rec.metas[0].ArchiveIndex)

	ray := rec.rays[1]
	assert.Equal(t, 100, ray.NGates)
	assert.Equal(t, xpol.ProcModePP, ray.ProcMode)
	assert.Equal(t, rec.rays[0].BlockIndex+1, ray.BlockIndex)
	assert.NotEqual(t, moments.Missing, ray.Gates[30][moments.DBZ])
	assert.Equal(t, moments.Missing, ray.Gates[90][moments.DBZ], "noise gates are missing")

	m := s.Metrics()
	assert.Equal(t, 2.0, promtest.ToFloat64(m.Rays))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ArchiveChanges))
	assert.Equal(t, 100.0, promtest.ToFloat64(m.Gates))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Connected))

	h := s.Health()
	assert.Equal(t, "run-1", h.RunID)
	assert.True(t, h.Connected)
	assert.Equal(t, uint64(2), h.Rays)
	assert.False(t, h.Stale)
	assert.Empty(t, h.LastError)
}

func TestStepCountsDroppedBlocks(t *testing.T) {
	_, restore := monitoring.Capture()
	defer restore()

	srv := newServer(t)
	s, _ := newSession(t, srv, Options{})
	ctx := context.Background()

	require.NoError(t, s.Step(ctx))
	srv.SkipBlocks(3)
	require.NoError(t, s.Step(ctx))
	require.NoError(t, s.Step(ctx))
	assert.Equal(t, 3.0, promtest.ToFloat64(s.Metrics().DroppedBlocks))
}

func TestStepFollowsGeometryChanges(t *testing.T) {
	srv := newServer(t)
	s, rec := newSession(t, srv, Options{})
	ctx := context.Background()

	require.NoError(t, s.Step(ctx))
	engine := s.Engine()

	conf := srv.Conf()
	conf.NGates = 512
	srv.SetConf(conf)
	require.NoError(t, s.Step(ctx))
	assert.Same(t, engine, s.Engine(), "unchanged calibration keeps the engine")

	conf.NGates = 1024
	conf.ServerMode = int32(xpol.ServerModeDualPP)
	conf.PriUsecUnit2 = 750
	srv.SetConf(conf)
	require.NoError(t, s.Step(ctx))

	metas, rays := rec.counts()
	assert.Equal(t, 3, metas)
	require.Equal(t, 3, rays)
	assert.Equal(t, 512, rec.rays[1].NGates)
	assert.Equal(t, 1024, rec.rays[2].NGates)
	assert.Len(t, rec.rays[2].Gates, 1024)
	assert.Equal(t, xpol.ProcModeDualPP, rec.rays[2].ProcMode)
	assert.Equal(t, 3.0, promtest.ToFloat64(s.Metrics().ArchiveChanges))
}

func TestStepRebuildsEngineOnNoiseChange(t *testing.T) {
	srv := newServer(t)
	s, _ := newSession(t, srv, Options{})
	ctx := context.Background()

	require.NoError(t, s.Step(ctx))
	engine := s.Engine()

	conf := srv.Conf()
	conf.HNoisePowerDbm = -75
	srv.SetConf(conf)
	require.NoError(t, s.Step(ctx))
	assert.NotSame(t, engine, s.Engine())
	assert.Equal(t, -75.0, s.cal.NoiseDbmHc)
}

func TestStepSinkFailuresDoNotFailStep(t *testing.T) {
	rec, restore := monitoring.Capture()
	defer restore()

	srv := newServer(t)
	good := &recordingSink{name: "good"}
	bad := &recordingSink{name: "bad", err: errors.New("broker down")}
	s, _ := newSession(t, srv, Options{Sink: &sink.Multi{Sinks: []sink.Sink{bad, good}}})

	require.NoError(t, s.Step(context.Background()))
	_, rays := good.counts()
	assert.Equal(t, 1, rays)

	m := s.Metrics()
	assert.Equal(t, 2.0, promtest.ToFloat64(m.SinkErrors.WithLabelValues("bad")), "meta and ray")
	assert.Equal(t, 0.0, promtest.ToFloat64(m.SinkErrors.WithLabelValues("good")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Rays))

	var named int
	for _, line := range rec.Lines() {
		if strings.Contains(line, "sink bad: broker down") {
			named++
		}
		assert.NotContains(t, line, "sink good")
	}
	assert.Equal(t, 2, named, "one log line per failed publish naming the sink")
}

func TestFailedSinks(t *testing.T) {
	err := errors.Join(
		&sink.Error{Sink: "mqtt", Err: errors.New("x")},
		&sink.Error{Sink: "sqlite", Err: errors.New("y")},
	)
	assert.Equal(t, []string{"mqtt", "sqlite"}, failedSinks(err, "multi"))
	assert.Equal(t, []string{"raymux"}, failedSinks(errors.New("plain"), "raymux"))
}

func TestStepUnsupportedMode(t *testing.T) {
	srv := newServer(t)
	conf := srv.Conf()
	conf.ServerMode = int32(xpol.ServerModeFFT)
	srv.SetConf(conf)
	s, rec := newSession(t, srv, Options{})

	err := s.Step(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, covar.ErrModeNotSupported)
	kind, ok := xpol.KindOf(err)
	require.True(t, ok, "not an *xpol.Error: %v", err)
	assert.Equal(t, xpol.KindUnsupportedServerMode, kind)
	assert.False(t, xpol.IsFatal(err))
	assert.True(t, s.client.Connected(), "session stays open")
	assert.Equal(t, "unsupported_server_mode", ErrorKind(err))

	metas, rays := rec.counts()
	assert.Equal(t, 1, metas, "metadata still reaches sinks")
	assert.Zero(t, rays)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "timeout", ErrorKind(&xpol.Error{Op: "read data", Kind: xpol.KindTimeout}))
	assert.Equal(t, "canceled", ErrorKind(context.Canceled))
	assert.Equal(t, "compute", ErrorKind(errors.New("invalid prt")))

	err := demuxError(7, fmt.Errorf("%w: 41 bytes per gate", covar.ErrSizeMismatch))
	assert.Equal(t, "buffer_too_small", ErrorKind(err))
	assert.ErrorIs(t, err, covar.ErrSizeMismatch)
}

func TestRunRetriesAfterFailure(t *testing.T) {
	logs, restore := monitoring.Capture()
	defer restore()

	srv := newServer(t)
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	s, rec := newSession(t, srv, Options{Clock: clock, RetryBackoff: 2 * time.Second})

	srv.FailInitial(xpol.CmdGetData, xpol.StatusSrvErr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	clock.BlockUntil(1)
	assert.Equal(t, []time.Duration{2 * time.Second}, clock.Waits())
	assert.Equal(t, 1.0, promtest.ToFloat64(s.Metrics().Errors.WithLabelValues("protocol_status")))
	assert.Contains(t, s.Health().LastError, "protocol_status")
	require.NotEmpty(t, logs.Lines())
	assert.Contains(t, logs.Lines()[len(logs.Lines())-1], "retrying in 2s")

	clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool {
		_, rays := rec.counts()
		return rays >= 3
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Empty(t, s.Health().LastError)
}

func TestRunBacksOffExponentially(t *testing.T) {
	_, restore := monitoring.Capture()
	defer restore()

	srv := newServer(t)
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	s, _ := newSession(t, srv, Options{Clock: clock, RetryBackoff: time.Second, MaxBackoff: 3 * time.Second})
	require.NoError(t, srv.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for i := 0; i < 4; i++ {
		clock.BlockUntil(1)
		waits := clock.Waits()
		clock.Advance(waits[len(waits)-1])
	}
	clock.BlockUntil(1)
	cancel()
	require.NoError(t, <-done)

	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second, 3 * time.Second}
	assert.Equal(t, want, clock.Waits())
	assert.Equal(t, 5.0, promtest.ToFloat64(s.Metrics().Errors.WithLabelValues("connect_failed")))
	assert.False(t, s.Health().Connected)
	assert.Equal(t, 0.0, promtest.ToFloat64(s.Metrics().Connected))
}

func TestHealthStale(t *testing.T) {
	srv := newServer(t)
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	s, _ := newSession(t, srv, Options{Clock: clock, StaleAfter: 10 * time.Second})

	assert.False(t, s.Health().Stale, "no rays yet is not stale")
	require.NoError(t, s.Step(context.Background()))
	assert.False(t, s.Health().Stale)

	clock.Advance(11 * time.Second)
	h := s.Health()
	assert.True(t, h.Stale)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), h.LastRay)
}

func TestNewSessionDefaults(t *testing.T) {
	s := NewSession(xpol.NewClient(xpol.Options{Addr: "127.0.0.1:1"}), Options{})
	assert.Len(t, s.RunID(), 36)
	assert.Equal(t, xpol.FusedProductsProcData, s.opts.Product)
	assert.Equal(t, DefaultRetryBackoff, s.opts.RetryBackoff)
	assert.Equal(t, DefaultMaxBackoff, s.opts.MaxBackoff)
	assert.NotNil(t, s.Engine())
	assert.NoError(t, s.Close())
}
