package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the acquisition loop. Each
// instance registers on its own registry so tests can create as many as
// they need.
type Metrics struct {
	reg *prometheus.Registry

	Rays           prometheus.Counter     // rays computed and published
	DroppedBlocks  prometheus.Counter     // blocks skipped by the server
	Errors         *prometheus.CounterVec // failed steps by error kind
	ArchiveChanges prometheus.Counter     // metadata refreshes
	Gates          prometheus.Gauge       // gates in the latest ray
	ComputeSeconds prometheus.Histogram   // demux plus moments time per ray
	SinkErrors     *prometheus.CounterVec // publish failures by sink
	Connected      prometheus.Gauge       // 1 while the server session is open
	LastRayUnix    prometheus.Gauge       // time of the latest ray
}

// NewMetrics creates and registers all collectors, plus the Go runtime
// and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Rays: f.NewCounter(prometheus.CounterOpts{
			Name: "xpol2mom_rays_total",
			Help: "Total number of rays computed",
		}),
		DroppedBlocks: f.NewCounter(prometheus.CounterOpts{
			Name: "xpol2mom_dropped_blocks_total",
			Help: "Total number of data blocks skipped between reads",
		}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "xpol2mom_errors_total",
			Help: "Total number of failed acquisition steps by error kind",
		}, []string{"kind"}),
		ArchiveChanges: f.NewCounter(prometheus.CounterOpts{
			Name: "xpol2mom_archive_changes_total",
			Help: "Total number of archive index changes",
		}),
		Gates: f.NewGauge(prometheus.GaugeOpts{
			Name: "xpol2mom_gates",
			Help: "Number of gates in the latest ray",
		}),
		ComputeSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "xpol2mom_ray_compute_seconds",
			Help:    "Time to demultiplex and compute moments for one ray",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		SinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "xpol2mom_sink_errors_total",
			Help: "Total number of failed ray publishes by sink",
		}, []string{"sink"}),
		Connected: f.NewGauge(prometheus.GaugeOpts{
			Name: "xpol2mom_connected",
			Help: "Whether the xpol server session is open",
		}),
		LastRayUnix: f.NewGauge(prometheus.GaugeOpts{
			Name: "xpol2mom_last_ray_timestamp_seconds",
			Help: "Unix time of the latest ray",
		}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
