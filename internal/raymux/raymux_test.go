package raymux

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/xpol2mom/internal/moments"
	"github.com/banshee-data/xpol2mom/internal/sink"
	"github.com/banshee-data/xpol2mom/internal/xpol"
)

func testRay(n int) *moments.Ray {
	r := &moments.Ray{
		Time:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		AzDeg:      45,
		ElDeg:      1,
		BlockIndex: 7,
		ProcMode:   xpol.ProcModePP,
		NGates:     n,
		NyquistMps: 16,
		Gates:      make([]moments.MomentsFields, n),
	}
	for g := range r.Gates {
		r.Gates[g].Init()
		r.Gates[g].Set(moments.DBZ, 30)
		r.Gates[g].Set(moments.VEL, -5)
	}
	return r
}

// localHostRequest creates an httptest request that appears to come from localhost.
// This bypasses tsweb.AllowDebugAccess which checks for loopback IPs.
func localHostRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestSubscribeReceivesRays(t *testing.T) {
	m := New("mps")
	id1, c1 := m.Subscribe()
	_, c2 := m.Subscribe()
	assert.NotEqual(t, "", id1)
	assert.Equal(t, 2, m.Subscribers())

	require.NoError(t, m.PublishRay(context.Background(), testRay(10)))

	for _, c := range []<-chan Event{c1, c2} {
		ev := <-c
		require.NotNil(t, ev.Ray)
		assert.Equal(t, "ray", ev.Kind())
		assert.Equal(t, int64(7), ev.Ray.BlockIndex)
		assert.InDelta(t, 30, ev.Ray.Fields["DBZ"].Mean, 1e-9)
	}

	latest, meta := m.Latest()
	require.NotNil(t, latest)
	assert.Nil(t, meta)
	assert.Equal(t, 10, latest.Fields["VEL"].Valid)
}

func TestPublishMeta(t *testing.T) {
	m := New("mps")
	_, c := m.Subscribe()

	meta := &sink.Meta{ArchiveIndex: 3}
	require.NoError(t, m.PublishMeta(context.Background(), meta))
	meta.ArchiveIndex = 4

	ev := <-c
	require.NotNil(t, ev.Meta)
	assert.Equal(t, "meta", ev.Kind())
	assert.Equal(t, int32(3), ev.Meta.ArchiveIndex, "meta is copied on publish")

	_, latest := m.Latest()
	assert.Equal(t, int32(3), latest.ArchiveIndex)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	m := New("mps")
	_, c := m.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*4; i++ {
			m.PublishRay(context.Background(), testRay(1))
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publishing blocked on a full subscriber")
	}
	assert.Len(t, c, subscriberBuffer)
}

func TestUnsubscribe(t *testing.T) {
	m := New("mps")
	id, c := m.Subscribe()
	m.Unsubscribe(id)
	_, ok := <-c
	assert.False(t, ok)
	assert.Zero(t, m.Subscribers())

	// unknown IDs are ignored
	m.Unsubscribe("nope")
}

func TestClose(t *testing.T) {
	m := New("mps")
	_, c := m.Subscribe()
	require.NoError(t, m.Close())
	_, ok := <-c
	assert.False(t, ok)

	assert.NoError(t, m.PublishRay(context.Background(), testRay(1)))

	_, late := m.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscriptions after close are closed")
}

func TestNewDefaultsUnits(t *testing.T) {
	m := New("furlongs")
	require.NoError(t, m.PublishRay(context.Background(), testRay(1)))
	latest, _ := m.Latest()
	assert.Equal(t, "mps", latest.VelocityUnits)
}

func TestAdminRaysPage(t *testing.T) {
	m := New("kts")
	mux := http.NewServeMux()
	m.AttachAdminRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/rays"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Speeds in kn")

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/tail.js"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/javascript", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "EventSource")
}

func TestAdminTailRejectsPost(t *testing.T) {
	m := New("mps")
	mux := http.NewServeMux()
	m.AttachAdminRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodPost, "/debug/tail"))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestAdminTailStreamsEvents(t *testing.T) {
	m := New("mps")
	mux := http.NewServeMux()
	m.AttachAdminRoutes(mux)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pr, pw := io.Pipe()
	rec := &flushRecorder{ResponseRecorder: httptest.NewRecorder(), w: pw}
	req := localHostRequest(http.MethodGet, "/debug/tail").WithContext(ctx)

	served := make(chan struct{})
	go func() {
		defer close(served)
		mux.ServeHTTP(rec, req)
		pw.Close()
	}()

	r := bufio.NewReader(pr)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": ping\n", line)

	require.Eventually(t, func() bool { return m.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, m.PublishRay(context.Background(), testRay(4)))

	var event, data string
	for data == "" {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
	assert.Equal(t, "ray", event)

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	require.NotNil(t, ev.Ray)
	assert.Equal(t, 4, ev.Ray.NGates)

	cancel()
	go io.Copy(io.Discard, pr)
	select {
	case <-served:
	case <-time.After(5 * time.Second):
		t.Fatal("tail handler did not return after the request was cancelled")
	}
	assert.Zero(t, m.Subscribers())
}

// flushRecorder mirrors every write into a pipe so the test can read the
// stream while the handler is still running.
type flushRecorder struct {
	*httptest.ResponseRecorder
	w io.Writer
}

func (f *flushRecorder) Write(b []byte) (int, error) {
	f.ResponseRecorder.Write(b)
	return f.w.Write(b)
}

func (f *flushRecorder) Flush() {}
