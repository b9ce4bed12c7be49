// xpol-info prints the configuration, status and server info of an xpol
// server, either by asking the server directly or through a running
// xpol2mom admin API.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/banshee-data/xpol2mom/internal/api"
	"github.com/banshee-data/xpol2mom/internal/httputil"
	"github.com/banshee-data/xpol2mom/internal/moments"
	"github.com/banshee-data/xpol2mom/internal/units"
	"github.com/banshee-data/xpol2mom/internal/xpol"
)

func main() {
	var server, apiURL, product string
	var withData, verbose bool
	var timeout time.Duration

	flag.StringVar(&server, "server", "localhost:3000", "xpol server host:port")
	flag.StringVar(&apiURL, "api", "", "xpol2mom admin URL, e.g. http://localhost:8080 (skips the xpol server)")
	flag.BoolVar(&withData, "data", false, "also read and print one data block header")
	flag.StringVar(&product, "product", xpol.FusedProductsProcData.String(), "product to read with -data")
	flag.BoolVar(&verbose, "verbose", false, "log every decoded record")
	flag.DurationVar(&timeout, "timeout", 15*time.Second, "overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var err error
	if apiURL != "" {
		c := api.NewClient(apiURL, httputil.NewStandardClient(&http.Client{Timeout: timeout}))
		err = dumpAPI(ctx, os.Stdout, c)
	} else {
		var id xpol.FieldID
		if id, err = xpol.ParseFieldID(product); err != nil {
			log.Fatalf("invalid -product: %v", err)
		}
		c := xpol.NewClient(xpol.Options{Addr: server, Verbose: verbose})
		defer c.Close()
		err = dumpServer(ctx, os.Stdout, c, withData, id)
	}
	if err != nil {
		log.Fatalf("xpol-info: %v", err)
	}
}

// dumpServer reads the metadata straight from the xpol server.
func dumpServer(ctx context.Context, w io.Writer, c *xpol.Client, withData bool, id xpol.FieldID) error {
	if err := c.ReadMetaData(ctx); err != nil {
		return err
	}
	conf, _ := c.Conf()
	status := c.Status()
	info := c.ServerInfo()
	fmt.Fprint(w, xpol.FormatConf(&conf))
	fmt.Fprint(w, xpol.FormatStatus(&status))
	fmt.Fprint(w, xpol.FormatServerInfo(&info))

	if !withData {
		return nil
	}
	resp, err := c.ReadData(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprint(w, xpol.FormatDataResponse(resp))
	fmt.Fprintf(w, "  procMode: %s (%d bytes)\n", c.ProcMode(), len(c.Data()))
	return nil
}

// dumpAPI prints what a running daemon last saw, plus its health and
// newest ray.
func dumpAPI(ctx context.Context, w io.Writer, c *api.Client) error {
	health, err := c.Health(ctx)
	if err != nil && !httputil.IsStatus(err, http.StatusServiceUnavailable) {
		return fmt.Errorf("health: %w", err)
	}
	if health != nil {
		fmt.Fprintf(w, "XPOL2MOM HEALTH:\n  status: %s\n  connected: %t\n  rays: %d\n", health.Status, health.Connected, health.Rays)
		if health.LastError != "" {
			fmt.Fprintf(w, "  lastError: %s\n", health.LastError)
		}
	} else {
		fmt.Fprintf(w, "XPOL2MOM HEALTH:\n  %v\n", err)
	}

	archive, conf, err := c.Conf(ctx)
	if err != nil {
		return fmt.Errorf("conf: %w", err)
	}
	status, err := c.Status(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	info, err := c.ServerInfo(ctx)
	if err != nil {
		return fmt.Errorf("server info: %w", err)
	}
	fmt.Fprintf(w, "archiveIndex: %d\n", archive)
	fmt.Fprint(w, xpol.FormatConf(conf))
	fmt.Fprint(w, xpol.FormatStatus(status))
	fmt.Fprint(w, xpol.FormatServerInfo(info))

	ray, err := c.LatestRay(ctx)
	if httputil.IsStatus(err, http.StatusNotFound) {
		fmt.Fprintln(w, "no ray yet")
		return nil
	}
	if err != nil {
		return fmt.Errorf("latest ray: %w", err)
	}
	fmt.Fprintf(w, "LATEST RAY:\n  time: %s\n  az %.2f el %.2f block %d mode %s gates %d\n",
		ray.Time.Format(time.RFC3339Nano), ray.AzDeg, ray.ElDeg, ray.BlockIndex, ray.ProcMode, ray.NGates)
	fmt.Fprintf(w, "  speeds in %s\n", units.Label(ray.VelocityUnits))
	for _, k := range moments.AllFields() {
		name := k.String()
		f, ok := ray.Fields[name]
		if !ok || f.Valid == 0 {
			continue
		}
		fmt.Fprintf(w, "  %-20s valid %4d mean %10.3f min %10.3f max %10.3f\n", name, f.Valid, f.Mean, f.Min, f.Max)
	}
	return nil
}
