// Package raymux fans ray summaries out to any number of in-process
// subscribers, such as the live tail on the debug pages.
package raymux

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"sync"

	"tailscale.com/tsweb"

	"github.com/banshee-data/xpol2mom/internal/moments"
	"github.com/banshee-data/xpol2mom/internal/sink"
	"github.com/banshee-data/xpol2mom/internal/units"
)

//go:embed templates/*
var adminTemplateFS embed.FS

var raysTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/rays.html.tmpl"))

// subscriberBuffer is the number of events a slow subscriber may lag
// behind before events are dropped for it.
const subscriberBuffer = 16

// Event is one message delivered to subscribers. Exactly one of Ray and
// Meta is set.
type Event struct {
	Ray  *sink.RaySummary `json:"ray,omitempty"`
	Meta *sink.Meta       `json:"meta,omitempty"`
}

// Kind names the event for SSE clients.
func (e Event) Kind() string {
	if e.Meta != nil {
		return "meta"
	}
	return "ray"
}

// RayMux is a sink that broadcasts every ray summary to its subscribers.
// Publishing never blocks: subscribers that fall behind miss events.
type RayMux struct {
	units string

	subscribers  map[string]chan Event
	subscriberMu sync.Mutex
	closing      bool

	latestMu sync.RWMutex
	latest   *sink.RaySummary
	meta     *sink.Meta
}

// New returns a RayMux that summarises speeds in unit.
func New(unit string) *RayMux {
	return &RayMux{
		units:       units.Normalize(unit),
		subscribers: make(map[string]chan Event),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe creates a channel receiving every subsequent event. The ID
// identifies the channel when unsubscribing. After Close the returned
// channel is already closed.
func (m *RayMux) Subscribe() (string, <-chan Event) {
	id := randomID()
	ch := make(chan Event, subscriberBuffer)
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if m.closing {
		close(ch)
		return id, ch
	}
	m.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (m *RayMux) Unsubscribe(id string) {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

// Subscribers returns the number of live subscriptions.
func (m *RayMux) Subscribers() int {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	return len(m.subscribers)
}

func (m *RayMux) broadcast(ev Event) {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if m.closing {
		return
	}
	for _, ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
			// subscriber is full; skip rather than stall acquisition
		}
	}
}

// Latest returns the most recent ray summary and metadata seen, either
// of which may be nil.
func (m *RayMux) Latest() (*sink.RaySummary, *sink.Meta) {
	m.latestMu.RLock()
	defer m.latestMu.RUnlock()
	return m.latest, m.meta
}

// Name implements sink.Sink.
func (m *RayMux) Name() string { return "raymux" }

// PublishMeta implements sink.Sink.
func (m *RayMux) PublishMeta(ctx context.Context, meta *sink.Meta) error {
	c := *meta
	m.latestMu.Lock()
	m.meta = &c
	m.latestMu.Unlock()
	m.broadcast(Event{Meta: &c})
	return nil
}

// PublishRay implements sink.Sink.
func (m *RayMux) PublishRay(ctx context.Context, ray *moments.Ray) error {
	s := sink.Summarize(ray, m.units)
	m.latestMu.Lock()
	m.latest = s
	m.latestMu.Unlock()
	m.broadcast(Event{Ray: s})
	return nil
}

// Close closes every subscriber channel. Later publishes are dropped.
func (m *RayMux) Close() error {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	m.closing = true
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
	return nil
}

// AttachAdminRoutes attaches the live ray tail to the debug pages served
// at /debug/. These routes are only reachable from localhost or over
// Tailscale.
func (m *RayMux) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("rays", "live tail of computed rays", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := raysTemplate.Execute(buf, struct{ Units string }{units.Label(m.units)}); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	// Server-Sent Events, one per ray or metadata change.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := m.Subscribe()
		defer m.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case ev, ok := <-c:
				if !ok {
					return
				}
				payload, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind(), payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})

	debug.HandleSilentFunc("tail.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("Cache-Control", "no-cache")

		f, err := adminTemplateFS.Open("templates/tail.js")
		if err != nil {
			http.Error(w, "Failed to open tail.js", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		io.Copy(w, f)
	})
}
