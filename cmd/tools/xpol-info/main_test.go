package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/xpol2mom/internal/api"
	"github.com/banshee-data/xpol2mom/internal/httputil"
	"github.com/banshee-data/xpol2mom/internal/moments"
	"github.com/banshee-data/xpol2mom/internal/raymux"
	"github.com/banshee-data/xpol2mom/internal/sink"
	"github.com/banshee-data/xpol2mom/internal/xpol"
	"github.com/banshee-data/xpol2mom/internal/xpol/xpoltest"
)

func TestDumpServer(t *testing.T) {
	srv, err := xpoltest.NewServer("")
	require.NoError(t, err)
	defer srv.Close()

	c := xpol.NewClient(xpol.Options{Addr: srv.Addr()})
	defer c.Close()

	var out bytes.Buffer
	require.NoError(t, dumpServer(context.Background(), &out, c, false, xpol.FusedProductsProcData))
	s := out.String()
	assert.Contains(t, s, "XPOL CONF:")
	assert.Contains(t, s, "siteInfo: test site")
	assert.Contains(t, s, "XPOL STATUS:")
	assert.Contains(t, s, "projectName: xpoltest")
	assert.NotContains(t, s, "XPOL DATA RESPONSE:")

	out.Reset()
	require.NoError(t, dumpServer(context.Background(), &out, c, true, xpol.FusedProductsProcData))
	assert.Contains(t, out.String(), "XPOL DATA RESPONSE:")
	assert.Contains(t, out.String(), "procMode: PROC_MODE_PP")
}

func TestDumpServerUnreachable(t *testing.T) {
	srv, err := xpoltest.NewServer("")
	require.NoError(t, err)
	addr := srv.Addr()
	require.NoError(t, srv.Close())

	c := xpol.NewClient(xpol.Options{Addr: addr})
	var out bytes.Buffer
	err = dumpServer(context.Background(), &out, c, false, xpol.FusedProductsProcData)
	require.Error(t, err)
	assert.Empty(t, out.String())
}

func TestDumpAPI(t *testing.T) {
	rays := raymux.New("mps")
	health := func() api.Health { return api.Health{Status: api.HealthOK, Connected: true, Rays: 1} }
	hs := httptest.NewServer(api.NewServer(rays, nil, health).ServeMux())
	defer hs.Close()

	ctx := context.Background()
	c := api.NewClient(hs.URL, httputil.NewStandardClient(nil))

	var out bytes.Buffer
	err := dumpAPI(ctx, &out, c)
	require.Error(t, err, "no metadata published yet")
	assert.Contains(t, out.String(), "status: ok")

	meta := &sink.Meta{
		ArchiveIndex: 4,
		Conf:         xpoltest.DefaultConf(),
		ServerInfo:   xpoltest.DefaultServerInfo(),
	}
	require.NoError(t, rays.PublishMeta(ctx, meta))

	out.Reset()
	require.NoError(t, dumpAPI(ctx, &out, c))
	assert.Contains(t, out.String(), "archiveIndex: 4")
	assert.Contains(t, out.String(), "no ray yet")

	ray := &moments.Ray{
		Time:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		ProcMode: xpol.ProcModePP,
		NGates:   3,
		Gates:    make([]moments.MomentsFields, 3),
	}
	for g := range ray.Gates {
		ray.Gates[g].Init()
		ray.Gates[g].Set(moments.DBZ, float64(10*g))
		ray.Gates[g].Set(moments.SNRHC, 20)
	}
	require.NoError(t, rays.PublishRay(ctx, ray))

	out.Reset()
	require.NoError(t, dumpAPI(ctx, &out, c))
	s := out.String()
	assert.Contains(t, s, "LATEST RAY:")
	assert.Contains(t, s, "speeds in m/s")
	var dbzLine string
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "DBZ ") {
			dbzLine = line
		}
	}
	require.NotEmpty(t, dbzLine, s)
	assert.Contains(t, dbzLine, "valid    3")
	assert.Contains(t, dbzLine, "mean     10.000")
	assert.Less(t, strings.Index(s, "  SNRHC"), strings.Index(s, "  DBZ "), "fields print in moment order")
}
