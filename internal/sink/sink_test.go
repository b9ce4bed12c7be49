package sink

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/xpol2mom/internal/moments"
	"github.com/banshee-data/xpol2mom/internal/xpol"
)

func testRay(n int) *moments.Ray {
	r := &moments.Ray{
		Time:          time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		AzDeg:         90,
		ElDeg:         0.5,
		ArchiveIndex:  2,
		BlockIndex:    100,
		ProcMode:      xpol.ProcModePP,
		NGates:        n,
		StartRangeKm:  0.15,
		GateSpacingKm: 0.15,
		NyquistMps:    16,
		Gates:         make([]moments.MomentsFields, n),
	}
	for g := range r.Gates {
		r.Gates[g].Init()
		r.Gates[g].Set(moments.VEL, 10)
		r.Gates[g].Set(moments.DBZ, float64(g))
	}
	return r
}

type fakeToken struct {
	done chan struct{}
	err  error
}

func (t *fakeToken) Wait() bool                       { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool { return t.Wait() }
func (t *fakeToken) Done() <-chan struct{}            { return t.done }
func (t *fakeToken) Error() error                     { return t.err }

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu           sync.Mutex
	msgs         []message
	err          error
	hang         bool
	disconnected bool
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, message{topic, qos, retained, payload.([]byte)})
	t := &fakeToken{done: make(chan struct{}), err: p.err}
	if !p.hang {
		close(t.done)
	}
	return t
}

func (p *fakePublisher) Disconnect(uint) { p.disconnected = true }

func TestRayPayload(t *testing.T) {
	r := testRay(4)
	r.Gates[1].Set(moments.WIDTH, math.Inf(1))
	r.Gates[2].Set(moments.NCP, math.NaN())

	p := NewRayPayload(r, "kmph", nil)
	assert.Len(t, p.Fields, moments.NumFields)
	assert.Equal(t, "PROC_MODE_PP", p.ProcMode)
	assert.InDelta(t, 36, p.Field("VEL")[0], 1e-4)
	assert.Equal(t, []float32{0, 1, 2, 3}, p.Field("DBZ"))
	assert.Equal(t, moments.Missing, p.Field("NCP")[2])
	assert.Equal(t, moments.Missing, p.Field("WIDTH")[0])
	assert.Nil(t, p.Field("PRESSURE"))

	b, err := json.Marshal(p)
	require.NoError(t, err)
	var decoded RayPayload
	require.NoError(t, json.Unmarshal(b, &decoded))
	names := make([]string, 0, len(decoded.Fields))
	for _, f := range decoded.Fields {
		names = append(names, f.Name)
	}
	want := make([]string, 0, moments.NumFields)
	for _, k := range moments.AllFields() {
		want = append(want, k.String())
	}
	assert.Equal(t, want, names, "encoded fields keep the moment order")

	p = NewRayPayload(r, "mps", []moments.FieldKind{moments.DBZ})
	assert.Len(t, p.Fields, 1)
}

func TestMQTTPublishRay(t *testing.T) {
	pub := &fakePublisher{}
	m := newMQTTWithPublisher(pub, MQTTOptions{TopicPrefix: "site1", QoS: 1})

	require.NoError(t, m.PublishRay(context.Background(), testRay(3)))
	require.Len(t, pub.msgs, 1)
	msg := pub.msgs[0]
	assert.Equal(t, "site1/ray", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.False(t, msg.retained)

	var got RayPayload
	require.NoError(t, json.Unmarshal(msg.payload, &got))
	assert.Equal(t, 3, got.NGates)
	assert.Equal(t, int64(100), got.BlockIndex)
	assert.Equal(t, "mps", got.VelocityUnits)
	assert.Equal(t, []float32{10, 10, 10}, got.Field("VEL"))
}

func TestMQTTPublishMetaRetained(t *testing.T) {
	pub := &fakePublisher{}
	m := newMQTTWithPublisher(pub, MQTTOptions{})

	meta := &Meta{ArchiveIndex: 7, Conf: xpol.Conf{NGates: 400, SiteInfo: "roof"}}
	require.NoError(t, m.PublishMeta(context.Background(), meta))
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "xpol2mom/conf", pub.msgs[0].topic)
	assert.True(t, pub.msgs[0].retained)

	var got Meta
	require.NoError(t, json.Unmarshal(pub.msgs[0].payload, &got))
	assert.Equal(t, int32(7), got.ArchiveIndex)
	assert.Equal(t, int32(400), got.Conf.NGates)
	assert.Equal(t, "roof", got.Conf.SiteInfo)

	require.NoError(t, m.Close())
	assert.True(t, pub.disconnected)
}

func TestMQTTPublishErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	m := newMQTTWithPublisher(pub, MQTTOptions{})
	err := m.PublishRay(context.Background(), testRay(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")

	pub = &fakePublisher{hang: true}
	m = newMQTTWithPublisher(pub, MQTTOptions{PublishTimeout: 20 * time.Millisecond})
	err = m.PublishRay(context.Background(), testRay(1))
	assert.ErrorIs(t, err, ErrPublishTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m = newMQTTWithPublisher(pub, MQTTOptions{PublishTimeout: time.Minute})
	assert.ErrorIs(t, m.PublishRay(ctx, testRay(1)), context.Canceled)
}

type recordSink struct {
	name  string
	err   error
	rays  int
	metas int
}

func (s *recordSink) Name() string { return s.name }
func (s *recordSink) PublishMeta(context.Context, *Meta) error {
	s.metas++
	return s.err
}
func (s *recordSink) PublishRay(context.Context, *moments.Ray) error {
	s.rays++
	return s.err
}
func (s *recordSink) Close() error { return s.err }

func TestMultiContinuesPastFailures(t *testing.T) {
	boom := errors.New("boom")
	a := &recordSink{name: "a"}
	b := &recordSink{name: "b", err: boom}
	c := &recordSink{name: "c"}

	m := &Multi{Sinks: []Sink{a, b, c}}

	err := m.PublishRay(context.Background(), testRay(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "b", se.Sink)
	assert.Equal(t, 1, a.rays)
	assert.Equal(t, 1, c.rays)

	b.err = nil
	assert.NoError(t, m.PublishMeta(context.Background(), &Meta{}))
	assert.Equal(t, 1, c.metas)
	assert.NoError(t, m.Close())
}
