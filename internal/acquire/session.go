// Package acquire runs the read, compute and publish loop against one
// xpol server.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/xpol2mom/internal/calib"
	"github.com/banshee-data/xpol2mom/internal/covar"
	"github.com/banshee-data/xpol2mom/internal/moments"
	"github.com/banshee-data/xpol2mom/internal/monitoring"
	"github.com/banshee-data/xpol2mom/internal/sink"
	"github.com/banshee-data/xpol2mom/internal/timeutil"
	"github.com/banshee-data/xpol2mom/internal/wire"
	"github.com/banshee-data/xpol2mom/internal/xpol"
)

// Default retry and health timings.
const (
	DefaultRetryBackoff = 1 * time.Second
	DefaultMaxBackoff   = 30 * time.Second
	DefaultStaleAfter   = 30 * time.Second
)

// Options configures a Session.
type Options struct {
	Product     xpol.FieldID
	Params      moments.Params
	Calibration *calib.File // nil uses calib.Default plus server noise
	Attenuator  moments.Attenuator
	Sink        sink.Sink
	Metrics     *monitoring.Metrics
	Clock       timeutil.Clock

	RetryBackoff time.Duration
	MaxBackoff   time.Duration
	// StaleAfter is how long without a ray before health reports stale.
	StaleAfter time.Duration
	// RunID tags the run in sinks; a random UUID when empty.
	RunID string
}

func (o *Options) setDefaults() {
	// IQV carries no covariances, so the zero value selects the fused product
	if o.Product == xpol.IQV {
		o.Product = xpol.FusedProductsProcData
	}
	if o.Metrics == nil {
		o.Metrics = monitoring.NewMetrics()
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	if o.Sink == nil {
		o.Sink = &sink.Multi{}
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	if o.MaxBackoff < o.RetryBackoff {
		o.MaxBackoff = max(DefaultMaxBackoff, o.RetryBackoff)
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = DefaultStaleAfter
	}
	if o.RunID == "" {
		o.RunID = uuid.NewString()
	}
}

// Health is a snapshot of the session's progress.
type Health struct {
	RunID     string
	Connected bool
	Rays      uint64
	LastRay   time.Time // zero before the first ray
	Stale     bool      // no ray within StaleAfter of the last one
	LastError string    // cleared by the next successful step
}

// Session owns the protocol client, the covariance buffers and the
// moments engine. Step and Run must be called from one goroutine;
// Health may be called from any.
type Session struct {
	opts   Options
	client *xpol.Client
	demux  *covar.Demux
	engine *moments.Engine
	cal    moments.Calibration

	dropped int64

	mu        sync.RWMutex
	connected bool
	rays      uint64
	lastRay   time.Time
	lastErr   string
}

// NewSession returns a session that reads from client.
func NewSession(client *xpol.Client, opts Options) *Session {
	opts.setDefaults()
	s := &Session{
		opts:   opts,
		client: client,
		demux:  covar.NewDemux(),
	}
	s.setCalibration(opts.Calibration.Resolve(nil))
	return s
}

// RunID returns the identifier sinks record this run under.
func (s *Session) RunID() string { return s.opts.RunID }

// Metrics returns the session's collectors.
func (s *Session) Metrics() *monitoring.Metrics { return s.opts.Metrics }

// Engine returns the current moments engine. It is replaced when the
// calibration changes.
func (s *Session) Engine() *moments.Engine { return s.engine }

func (s *Session) setCalibration(cal moments.Calibration) {
	if s.engine != nil && cal == s.cal {
		return
	}
	s.cal = cal
	s.engine = moments.NewEngine(s.opts.Params, cal, s.opts.Attenuator)
}

// Step reads one block, computes its ray and publishes it. Metadata is
// published first whenever the archive index changed. Sink failures are
// logged and counted but do not fail the step.
func (s *Session) Step(ctx context.Context) error {
	m := s.opts.Metrics

	resp, err := s.client.ReadData(ctx, s.opts.Product)
	s.setConnected(s.client.Connected())
	if err != nil {
		return err
	}

	if d := s.client.DroppedBlocks(); d > s.dropped {
		m.DroppedBlocks.Add(float64(d - s.dropped))
		s.dropped = d
	}

	conf, ok := s.client.Conf()
	if !ok {
		return errors.New("no server configuration read")
	}

	if s.client.MetaDataChanged() {
		m.ArchiveChanges.Inc()
		s.setCalibration(s.opts.Calibration.Resolve(&conf))
		meta := &sink.Meta{
			ArchiveIndex: resp.ArchiveIndex,
			Conf:         conf,
			Status:       s.client.Status(),
			ServerInfo:   s.client.ServerInfo(),
		}
		s.published("metadata", s.opts.Sink.PublishMeta(ctx, meta))
	}

	start := s.opts.Clock.Now()
	bufs, err := s.demux.Load(s.client.Data(), int(conf.NGates), conf.Mode(), conf.PowersSummed())
	if err != nil {
		return demuxError(resp.BlockIndex, err)
	}
	ray, err := s.engine.ComputeRay(&conf, resp, bufs)
	if err != nil {
		return fmt.Errorf("compute block %d: %w", resp.BlockIndex, err)
	}
	m.ComputeSeconds.Observe(s.opts.Clock.Since(start).Seconds())

	s.published("ray", s.opts.Sink.PublishRay(ctx, ray))

	m.Rays.Inc()
	m.Gates.Set(float64(ray.NGates))
	m.LastRayUnix.Set(float64(ray.Time.UnixNano()) / 1e9)

	s.mu.Lock()
	s.rays++
	s.lastRay = s.opts.Clock.Now()
	s.lastErr = ""
	s.mu.Unlock()
	return nil
}

// demuxError classifies a block the demultiplexer rejected. The block
// was fully read, so the error is local and the session stays open.
func demuxError(block int64, err error) error {
	kind := xpol.KindBufferTooSmall
	if errors.Is(err, covar.ErrModeNotSupported) {
		kind = xpol.KindUnsupportedServerMode
	}
	return &xpol.Error{Op: fmt.Sprintf("demux block %d", block), Kind: kind, Err: err}
}

// published logs and counts a publish failure, one count per failing sink.
func (s *Session) published(what string, err error) {
	if err == nil {
		return
	}
	monitoring.Logf("acquire: publish %s: %v", what, err)
	for _, name := range failedSinks(err, s.opts.Sink.Name()) {
		s.opts.Metrics.SinkErrors.WithLabelValues(name).Inc()
	}
}

// failedSinks names the sinks behind err. Errors not attributed to a
// sink are charged to fallback.
func failedSinks(err error, fallback string) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var names []string
		for _, inner := range joined.Unwrap() {
			names = append(names, failedSinks(inner, fallback)...)
		}
		return names
	}
	var se *sink.Error
	if errors.As(err, &se) {
		return []string{se.Sink}
	}
	return []string{fallback}
}

// ErrorKind labels err for metrics.
func ErrorKind(err error) string {
	if k, ok := xpol.KindOf(err); ok {
		return k.String()
	}
	switch {
	case errors.Is(err, wire.ErrBufferTooSmall):
		return "buffer_too_small"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "compute"
	}
}

// Run steps until ctx is cancelled. A failed step is retried after a
// backoff that doubles up to MaxBackoff and resets after a success.
// Run returns nil once ctx is done.
func (s *Session) Run(ctx context.Context) error {
	backoff := s.opts.RetryBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}
		err := s.Step(ctx)
		if err == nil {
			backoff = s.opts.RetryBackoff
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		s.opts.Metrics.Errors.WithLabelValues(ErrorKind(err)).Inc()
		s.mu.Lock()
		s.lastErr = err.Error()
		s.mu.Unlock()
		monitoring.Logf("acquire: %v; retrying in %s", err, backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-s.opts.Clock.After(backoff):
		}
		backoff = min(backoff*2, s.opts.MaxBackoff)
	}
}

func (s *Session) setConnected(c bool) {
	s.mu.Lock()
	s.connected = c
	s.mu.Unlock()
	if c {
		s.opts.Metrics.Connected.Set(1)
	} else {
		s.opts.Metrics.Connected.Set(0)
	}
}

// Health returns the current progress snapshot.
func (s *Session) Health() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := Health{
		RunID:     s.opts.RunID,
		Connected: s.connected,
		Rays:      s.rays,
		LastRay:   s.lastRay,
		LastError: s.lastErr,
	}
	if s.rays > 0 && s.opts.Clock.Since(s.lastRay) > s.opts.StaleAfter {
		h.Stale = true
	}
	return h
}

// Close closes the server connection and every sink.
func (s *Session) Close() error {
	s.setConnected(false)
	return errors.Join(s.client.Close(), s.opts.Sink.Close())
}
