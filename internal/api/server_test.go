package api

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/xpol2mom/internal/db"
	"github.com/banshee-data/xpol2mom/internal/moments"
	"github.com/banshee-data/xpol2mom/internal/sink"
	"github.com/banshee-data/xpol2mom/internal/testutil"
	"github.com/banshee-data/xpol2mom/internal/xpol"
)

type fakeLatest struct {
	ray  *sink.RaySummary
	meta *sink.Meta
}

func (f *fakeLatest) Latest() (*sink.RaySummary, *sink.Meta) { return f.ray, f.meta }

func testMeta() *sink.Meta {
	return &sink.Meta{
		ArchiveIndex: 9,
		Conf:         xpol.Conf{SiteInfo: "Chilbolton", ProductsPerSec: 2},
		Status:       xpol.Status{Fuel: 55, CPUTempC: 41.5},
		ServerInfo:   xpol.ServerInfo{ProjectName: "xpol"},
	}
}

func testSummary() *sink.RaySummary {
	return &sink.RaySummary{
		Time:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		AzDeg:    10,
		ProcMode: "PROC_MODE_PP",
		NGates:   100,
		Fields:   map[string]sink.FieldSummary{"DBZ": {Valid: 100, Mean: 25, Min: 10, Max: 40}},
	}
}

func serve(t *testing.T, s *Server, method, path string) (int, []byte) {
	t.Helper()
	w := testutil.NewTestRecorder()
	s.ServeMux().ServeHTTP(w, testutil.NewTestRequest(method, path))
	return w.Code, w.Body.Bytes()
}

func TestEndpointsBeforeData(t *testing.T) {
	s := NewServer(&fakeLatest{}, nil, nil)
	for _, path := range []string{"/api/conf", "/api/status", "/api/serverinfo", "/api/ray/latest"} {
		code, _ := serve(t, s, http.MethodGet, path)
		testutil.AssertStatusCode(t, code, http.StatusNotFound)
	}

	code, body := serve(t, s, http.MethodGet, "/api/health")
	testutil.AssertStatusCode(t, code, http.StatusServiceUnavailable)
	var h Health
	require.NoError(t, json.Unmarshal(body, &h))
	assert.Equal(t, HealthStarting, h.Status)
}

func TestMetaEndpoints(t *testing.T) {
	s := NewServer(&fakeLatest{meta: testMeta()}, nil, nil)

	code, body := serve(t, s, http.MethodGet, "/api/conf")
	testutil.AssertStatusCode(t, code, http.StatusOK)
	var conf struct {
		ArchiveIndex int32     `json:"archive_index"`
		Conf         xpol.Conf `json:"conf"`
	}
	require.NoError(t, json.Unmarshal(body, &conf))
	assert.Equal(t, int32(9), conf.ArchiveIndex)
	assert.Equal(t, "Chilbolton", conf.Conf.SiteInfo)

	code, body = serve(t, s, http.MethodGet, "/api/status")
	testutil.AssertStatusCode(t, code, http.StatusOK)
	var st xpol.Status
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, int32(55), st.Fuel)

	code, body = serve(t, s, http.MethodGet, "/api/serverinfo")
	testutil.AssertStatusCode(t, code, http.StatusOK)
	var si xpol.ServerInfo
	require.NoError(t, json.Unmarshal(body, &si))
	assert.Equal(t, "xpol", si.ProjectName)
}

func TestLatestRay(t *testing.T) {
	s := NewServer(&fakeLatest{ray: testSummary()}, nil, nil)
	code, body := serve(t, s, http.MethodGet, "/api/ray/latest")
	testutil.AssertStatusCode(t, code, http.StatusOK)

	var got sink.RaySummary
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, 100, got.NGates)
	assert.Equal(t, 25.0, got.Fields["DBZ"].Mean)
}

func TestHealth(t *testing.T) {
	last := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		h    Health
		want int
	}{
		{"ok", Health{Status: HealthOK, Connected: true, Rays: 10, LastRay: &last}, http.StatusOK},
		{"disconnected", Health{Status: HealthDown, LastError: "connection refused"}, http.StatusServiceUnavailable},
		{"stale", Health{Status: HealthStale, Connected: true}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(&fakeLatest{}, nil, func() Health { return tt.h })
			code, body := serve(t, s, http.MethodGet, "/api/health")
			testutil.AssertStatusCode(t, code, tt.want)
			var got Health
			require.NoError(t, json.Unmarshal(body, &got))
			assert.Equal(t, tt.h.Status, got.Status)
			assert.Equal(t, tt.h.LastError, got.LastError)
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := NewServer(&fakeLatest{meta: testMeta()}, nil, nil)
	for _, path := range []string{"/api/health", "/api/conf", "/api/ray/latest", "/api/rays"} {
		code, _ := serve(t, s, http.MethodPost, path)
		testutil.AssertStatusCode(t, code, http.StatusMethodNotAllowed)
	}
}

func TestArchiveListingsDisabled(t *testing.T) {
	s := NewServer(&fakeLatest{}, nil, nil)
	for _, path := range []string{"/api/rays", "/api/conf/history", "/api/runs"} {
		code, body := serve(t, s, http.MethodGet, path)
		testutil.AssertStatusCode(t, code, http.StatusNotFound)
		assert.Contains(t, string(body), "archive is disabled")
	}
}

func TestArchiveListings(t *testing.T) {
	archive, err := db.NewDB(filepath.Join(t.TempDir(), "api.db"))
	testutil.AssertNoError(t, err)
	defer archive.Close()

	testutil.AssertNoError(t, archive.StartRun(db.Run{RunID: "run-1", ServerAddr: "localhost:3000", Version: "test", Started: time.Now()}))
	a := archive.NewArchive("run-1", "mps")
	ray := &moments.Ray{NGates: 2, ProcMode: xpol.ProcModePP, Gates: make([]moments.MomentsFields, 2)}
	for i := 0; i < 3; i++ {
		ray.BlockIndex = int64(i)
		testutil.AssertNoError(t, a.PublishRay(context.Background(), ray))
	}
	testutil.AssertNoError(t, a.PublishMeta(context.Background(), testMeta()))

	s := NewServer(&fakeLatest{}, archive, nil)

	code, body := serve(t, s, http.MethodGet, "/api/rays?limit=2")
	testutil.AssertStatusCode(t, code, http.StatusOK)
	var rays []sink.RaySummary
	require.NoError(t, json.Unmarshal(body, &rays))
	require.Len(t, rays, 2)
	assert.Equal(t, int64(2), rays[0].BlockIndex)

	code, body = serve(t, s, http.MethodGet, "/api/conf/history")
	testutil.AssertStatusCode(t, code, http.StatusOK)
	var snaps []db.ConfSnapshot
	require.NoError(t, json.Unmarshal(body, &snaps))
	require.Len(t, snaps, 1)
	assert.Equal(t, "Chilbolton", snaps[0].Meta.Conf.SiteInfo)

	code, body = serve(t, s, http.MethodGet, "/api/runs")
	testutil.AssertStatusCode(t, code, http.StatusOK)
	var runs []db.Run
	require.NoError(t, json.Unmarshal(body, &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)

	for _, bad := range []string{"0", "-1", "abc", "5001"} {
		code, _ := serve(t, s, http.MethodGet, "/api/rays?limit="+bad)
		testutil.AssertStatusCode(t, code, http.StatusBadRequest)
	}
}

func TestEmptyArchiveListsAreArrays(t *testing.T) {
	archive, err := db.NewDB(filepath.Join(t.TempDir(), "empty.db"))
	testutil.AssertNoError(t, err)
	defer archive.Close()

	s := NewServer(&fakeLatest{}, archive, nil)
	code, body := serve(t, s, http.MethodGet, "/api/rays")
	testutil.AssertStatusCode(t, code, http.StatusOK)
	assert.JSONEq(t, "[]", string(body))
}

func TestStatusCodeColor(t *testing.T) {
	assert.Equal(t, colorBoldGreen+"200"+colorReset, statusCodeColor(200))
	assert.Equal(t, colorYellow+"304"+colorReset, statusCodeColor(304))
	assert.Equal(t, colorBoldRed+"404"+colorReset, statusCodeColor(404))
	assert.Equal(t, colorBoldRed+"503"+colorReset, statusCodeColor(503))
	assert.Equal(t, "101", statusCodeColor(101))
}

func TestLoggingMiddlewarePassesThrough(t *testing.T) {
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	w := testutil.NewTestRecorder()
	h.ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, "/api/health"))
	testutil.AssertStatusCode(t, w.Code, http.StatusTeapot)
}
