package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/xpol2mom/internal/acquire"
	"github.com/banshee-data/xpol2mom/internal/api"
	"github.com/banshee-data/xpol2mom/internal/calib"
	"github.com/banshee-data/xpol2mom/internal/config"
	"github.com/banshee-data/xpol2mom/internal/db"
	"github.com/banshee-data/xpol2mom/internal/monitoring"
	"github.com/banshee-data/xpol2mom/internal/raymux"
	"github.com/banshee-data/xpol2mom/internal/sink"
	"github.com/banshee-data/xpol2mom/internal/version"
	"github.com/banshee-data/xpol2mom/internal/xpol"
)

var (
	configPath  = flag.String("config", "", "Path to a JSON config file (default "+config.DefaultConfigPath+" if present)")
	serverAddr  = flag.String("server", "", "xpol server host:port (overrides config)")
	listen      = flag.String("listen", "", "Admin HTTP listen address (overrides config)")
	dbPath      = flag.String("db", "", "Ray archive SQLite path (overrides config)")
	noArchive   = flag.Bool("no-archive", false, "Disable the SQLite ray archive")
	mqttBroker  = flag.String("mqtt-broker", "", "MQTT broker URL, e.g. tcp://localhost:1883 (overrides config)")
	calibPath   = flag.String("calibration", "", "Path to a JSON calibration file (overrides config)")
	speedUnits  = flag.String("units", "", "Velocity units for published rays: mps, mph, kmph, kph")
	verbose     = flag.Bool("verbose", false, "Log every decoded server record")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

// loadConfig reads path, or the canonical defaults file when path is
// empty. A missing defaults file leaves every setting at its default.
func loadConfig(path string) (*config.AppConfig, error) {
	if path != "" {
		return config.LoadAppConfig(path)
	}
	if _, err := os.Stat(config.DefaultConfigPath); err != nil {
		log.Printf("no %s, using built-in defaults", config.DefaultConfigPath)
		return config.EmptyAppConfig(), nil
	}
	return config.LoadAppConfig(config.DefaultConfigPath)
}

// applyFlags overrides cfg with any flags set on the command line.
func applyFlags(cfg *config.AppConfig) error {
	if *serverAddr != "" {
		host, portStr, err := net.SplitHostPort(*serverAddr)
		if err != nil {
			return fmt.Errorf("invalid -server %q: %w", *serverAddr, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid -server port %q: %w", portStr, err)
		}
		cfg.ServerHost = &host
		cfg.ServerPort = &port
	}
	if *listen != "" {
		v := *listen
		cfg.ListenAddr = &v
	}
	if *dbPath != "" {
		v := *dbPath
		cfg.DBPath = &v
	}
	if *noArchive {
		v := ""
		cfg.DBPath = &v
	}
	if *mqttBroker != "" {
		v := *mqttBroker
		cfg.MQTTBroker = &v
	}
	if *calibPath != "" {
		v := *calibPath
		cfg.CalibrationPath = &v
	}
	if *speedUnits != "" {
		v := *speedUnits
		cfg.VelocityUnits = &v
	}
	if *verbose {
		v := true
		cfg.Verbose = &v
	}
	return cfg.Validate()
}

// daemon holds everything the acquisition loop and the admin server share.
type daemon struct {
	session *acquire.Session
	rays    *raymux.RayMux
	archive *db.DB
	handler http.Handler
}

// newDaemon wires the client, the sinks, the session and the HTTP routes
// from cfg. Nothing connects to the xpol server until the first Step.
func newDaemon(cfg *config.AppConfig) (*daemon, error) {
	var cal *calib.File
	if p := cfg.GetCalibrationPath(); p != "" {
		var err error
		if cal, err = calib.Load(p); err != nil {
			return nil, err
		}
		log.Printf("loaded calibration %q from %s", cal.Name(), p)
	}

	unit := cfg.GetVelocityUnits()
	metrics := monitoring.NewMetrics()
	d := &daemon{rays: raymux.New(unit)}
	multi := &sink.Multi{}

	var runID string
	if p := cfg.GetDBPath(); p != "" {
		archive, err := db.NewDB(p)
		if err != nil {
			return nil, fmt.Errorf("failed to open ray archive: %w", err)
		}
		d.archive = archive
		run := db.Run{
			RunID:      uuid.NewString(),
			ServerAddr: cfg.GetServerAddr(),
			Version:    version.Version,
			Started:    time.Now(),
		}
		if err := archive.StartRun(run); err != nil {
			archive.Close()
			return nil, fmt.Errorf("failed to start run: %w", err)
		}
		runID = run.RunID
		multi.Sinks = append(multi.Sinks, archive.NewArchive(runID, unit))
		log.Printf("archiving rays to %s as run %s", p, runID)
	}

	if broker := cfg.GetMQTTBroker(); broker != "" {
		m, err := sink.NewMQTT(sink.MQTTOptions{
			Broker:        broker,
			ClientID:      cfg.GetMQTTClientID(),
			TopicPrefix:   cfg.GetMQTTTopicPrefix(),
			QoS:           cfg.GetMQTTQoS(),
			VelocityUnits: unit,
		})
		if err != nil {
			d.closeArchive()
			return nil, err
		}
		multi.Sinks = append(multi.Sinks, m)
	}
	multi.Sinks = append(multi.Sinks, d.rays)

	client := xpol.NewClient(cfg.ClientOptions())
	d.session = acquire.NewSession(client, acquire.Options{
		Product:      cfg.GetProduct(),
		Params:       cfg.EngineParams(),
		Calibration:  cal,
		Attenuator:   cfg.Attenuator(),
		Sink:         multi,
		Metrics:      metrics,
		RetryBackoff: cfg.GetRetryBackoff(),
		MaxBackoff:   cfg.GetMaxBackoff(),
		RunID:        runID,
	})

	mux := http.NewServeMux()
	api.NewServer(d.rays, d.archive, d.health).Register(mux)
	mux.Handle("/metrics", metrics.Handler())
	d.rays.AttachAdminRoutes(mux)
	if d.archive != nil {
		if err := d.archive.AttachAdminRoutes(mux); err != nil {
			d.Close()
			return nil, err
		}
	}
	d.handler = api.LoggingMiddleware(mux)
	return d, nil
}

func (d *daemon) health() api.Health {
	return toAPIHealth(d.session.Health())
}

// toAPIHealth maps the session state onto the health endpoint.
func toAPIHealth(h acquire.Health) api.Health {
	out := api.Health{
		Connected: h.Connected,
		RunID:     h.RunID,
		Version:   version.Version,
		Rays:      h.Rays,
		LastError: h.LastError,
	}
	if !h.LastRay.IsZero() {
		t := h.LastRay
		out.LastRay = &t
	}
	switch {
	case !h.Connected && h.Rays == 0 && h.LastError == "":
		out.Status = api.HealthStarting
	case !h.Connected:
		out.Status = api.HealthDown
	case h.Stale:
		out.Status = api.HealthStale
	case h.Rays == 0:
		out.Status = api.HealthStarting
	default:
		out.Status = api.HealthOK
	}
	return out
}

func (d *daemon) closeArchive() {
	if d.archive == nil {
		return
	}
	if err := d.archive.Close(); err != nil {
		log.Printf("failed to close ray archive: %v", err)
	}
}

// Close closes the session, its sinks and the archive.
func (d *daemon) Close() {
	if d.session != nil {
		if err := d.session.Close(); err != nil {
			log.Printf("failed to close session: %v", err)
		}
	}
	d.closeArchive()
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	log.Printf("starting %s", version.String())

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := applyFlags(cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	d, err := newDaemon(cfg)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer d.Close()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// acquisition loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("reading %s from %s", cfg.GetProduct(), cfg.GetServerAddr())
		if err := d.session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("acquisition stopped: %v", err)
		}
		log.Print("acquisition routine terminated")
	}()

	if addr := cfg.GetListenAddr(); addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			server := &http.Server{
				Addr:    addr,
				Handler: d.handler,
			}

			go func() {
				log.Printf("admin server listening on %s", addr)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatalf("failed to start server: %v", err)
				}
			}()

			<-ctx.Done()
			log.Println("shutting down HTTP server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("HTTP server shutdown error: %v", err)
				if err := server.Close(); err != nil {
					log.Printf("HTTP server force close error: %v", err)
				}
			}
			log.Printf("HTTP server routine stopped")
		}()
	}

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
