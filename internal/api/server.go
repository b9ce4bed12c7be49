// Package api serves the daemon's JSON endpoints.
package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/xpol2mom/internal/db"
	"github.com/banshee-data/xpol2mom/internal/httputil"
	"github.com/banshee-data/xpol2mom/internal/sink"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const (
	defaultListLimit = 100
	maxListLimit     = 5000
)

// Health states reported by /api/health.
const (
	HealthOK       = "ok"
	HealthStarting = "starting"
	HealthDown     = "disconnected"
	HealthStale    = "stale"
)

// Health is the acquisition state reported by /api/health.
type Health struct {
	Status    string     `json:"status"`
	Connected bool       `json:"connected"`
	RunID     string     `json:"run_id,omitempty"`
	Version   string     `json:"version"`
	Rays      uint64     `json:"rays"`
	LastRay   *time.Time `json:"last_ray,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// HealthFunc reports the current acquisition state.
type HealthFunc func() Health

// LatestSource holds the most recent ray summary and server metadata.
type LatestSource interface {
	Latest() (*sink.RaySummary, *sink.Meta)
}

type Server struct {
	latest  LatestSource
	archive *db.DB
	health  HealthFunc
}

// NewServer returns a server over latest. archive may be nil when the
// SQLite archive is disabled; health may be nil before acquisition starts.
func NewServer(latest LatestSource, archive *db.DB, health HealthFunc) *Server {
	return &Server{
		latest:  latest,
		archive: archive,
		health:  health,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// Register adds the /api/ routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", s.getOnly(s.showHealth))
	mux.HandleFunc("/api/conf", s.getOnly(s.showConf))
	mux.HandleFunc("/api/status", s.getOnly(s.showStatus))
	mux.HandleFunc("/api/serverinfo", s.getOnly(s.showServerInfo))
	mux.HandleFunc("/api/ray/latest", s.getOnly(s.showLatestRay))
	mux.HandleFunc("/api/rays", s.getOnly(s.listRays))
	mux.HandleFunc("/api/conf/history", s.getOnly(s.listConfSnapshots))
	mux.HandleFunc("/api/runs", s.getOnly(s.listRuns))
}

// ServeMux returns a mux carrying only the /api/ routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

func (s *Server) getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		h(w, r)
	}
}

func (s *Server) showHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, Health{Status: HealthStarting})
		return
	}
	h := s.health()
	status := http.StatusOK
	if h.Status != HealthOK {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, h)
}

func (s *Server) meta(w http.ResponseWriter) *sink.Meta {
	_, meta := s.latest.Latest()
	if meta == nil {
		httputil.NotFound(w, "no server metadata received yet")
	}
	return meta
}

func (s *Server) showConf(w http.ResponseWriter, r *http.Request) {
	if meta := s.meta(w); meta != nil {
		httputil.WriteJSONOK(w, map[string]any{
			"archive_index": meta.ArchiveIndex,
			"conf":          meta.Conf,
		})
	}
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if meta := s.meta(w); meta != nil {
		httputil.WriteJSONOK(w, meta.Status)
	}
}

func (s *Server) showServerInfo(w http.ResponseWriter, r *http.Request) {
	if meta := s.meta(w); meta != nil {
		httputil.WriteJSONOK(w, meta.ServerInfo)
	}
}

func (s *Server) showLatestRay(w http.ResponseWriter, r *http.Request) {
	ray, _ := s.latest.Latest()
	if ray == nil {
		httputil.NotFound(w, "no ray computed yet")
		return
	}
	httputil.WriteJSONOK(w, ray)
}

// limit parses the optional ?limit= parameter.
func limit(r *http.Request) (int, bool) {
	l := r.URL.Query().Get("limit")
	if l == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(l)
	if err != nil || n < 1 || n > maxListLimit {
		return 0, false
	}
	return n, true
}

// listing runs the common checks for archive-backed listings.
func (s *Server) listing(w http.ResponseWriter, r *http.Request) (int, bool) {
	if s.archive == nil {
		httputil.NotFound(w, "ray archive is disabled")
		return 0, false
	}
	n, ok := limit(r)
	if !ok {
		httputil.BadRequest(w, "invalid 'limit' parameter")
		return 0, false
	}
	return n, true
}

func (s *Server) listRays(w http.ResponseWriter, r *http.Request) {
	n, ok := s.listing(w, r)
	if !ok {
		return
	}
	rays, err := s.archive.LatestRays(n)
	if err != nil {
		httputil.InternalServerError(w, "failed to retrieve rays: "+err.Error())
		return
	}
	if rays == nil {
		rays = []sink.RaySummary{}
	}
	httputil.WriteJSONOK(w, rays)
}

func (s *Server) listConfSnapshots(w http.ResponseWriter, r *http.Request) {
	n, ok := s.listing(w, r)
	if !ok {
		return
	}
	snaps, err := s.archive.ConfSnapshots(n)
	if err != nil {
		httputil.InternalServerError(w, "failed to retrieve conf snapshots: "+err.Error())
		return
	}
	if snaps == nil {
		snaps = []db.ConfSnapshot{}
	}
	httputil.WriteJSONOK(w, snaps)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	n, ok := s.listing(w, r)
	if !ok {
		return
	}
	runs, err := s.archive.Runs(n)
	if err != nil {
		httputil.InternalServerError(w, "failed to retrieve runs: "+err.Error())
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}
	httputil.WriteJSONOK(w, runs)
}
