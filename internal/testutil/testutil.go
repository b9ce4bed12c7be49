// Package testutil provides shared test helpers and fixtures: HTTP
// assertions for the admin API and an in-process xpol server streaming
// synthetic rain.
package testutil

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/xpol2mom/internal/xpol"
	"github.com/banshee-data/xpol2mom/internal/xpol/xpoltest"
)

// Rain fixture geometry. Gates outside [RainFirstGate, RainLastGate]
// hold only noise.
const (
	RainFirstGate   = 10
	RainLastGate    = 60
	RainVelocityMps = 3
	RainSNRDb       = 20
	WavelengthM     = 0.0319
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// DecodeBody unmarshals a recorded JSON response into v.
func DecodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
}

// Rain returns the standard rain fixture for conf: echo at
// RainSNRDb between RainFirstGate and RainLastGate, moving at
// RainVelocityMps, over the noise floor the conf reports.
func Rain(conf xpol.Conf) xpoltest.Rain {
	short, long := conf.PrtSecs()
	return xpoltest.Rain{
		NoiseH:      math.Pow(10, conf.HNoisePowerDbm/10),
		NoiseV:      math.Pow(10, conf.VNoisePowerDbm/10),
		SNRDb:       RainSNRDb,
		FirstGate:   RainFirstGate,
		LastGate:    RainLastGate,
		VelocityMps: RainVelocityMps,
		WavelengthM: WavelengthM,
		PrtShort:    short,
		PrtLong:     long,
		Coherence:   0.9,
		Rhohv:       0.98,
		PhidpDeg:    20,
	}
}

// StartRainServer starts a fake xpol server on a loopback port serving
// the Rain fixture for its default configuration. The server is closed
// when the test ends.
func StartRainServer(t *testing.T) *xpoltest.Server {
	t.Helper()
	srv, err := xpoltest.NewServer("")
	if err != nil {
		t.Fatalf("failed to start xpol server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	srv.SetScene(Rain(srv.Conf()).Scene())
	return srv
}
