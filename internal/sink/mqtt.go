package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/xpol2mom/internal/moments"
)

// MQTTOptions configures the MQTT sink.
type MQTTOptions struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte

	// VelocityUnits selects the units speed fields are published in.
	VelocityUnits string
	// Fields limits the published moments; nil publishes all of them.
	Fields []moments.FieldKind
	// PublishTimeout bounds the wait for each publish to complete.
	PublishTimeout time.Duration
}

// publisher is the part of mqtt.Client the sink uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes rays to <prefix>/ray and metadata, retained, to
// <prefix>/conf.
type MQTT struct {
	client publisher
	opts   MQTTOptions
}

// ErrPublishTimeout is returned when the broker does not acknowledge a
// publish within the publish timeout.
var ErrPublishTimeout = errors.New("mqtt publish timed out")

func (o *MQTTOptions) setDefaults() {
	if o.TopicPrefix == "" {
		o.TopicPrefix = "xpol2mom"
	}
	if o.ClientID == "" {
		o.ClientID = "xpol2mom"
	}
	if o.VelocityUnits == "" {
		o.VelocityUnits = "mps"
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 2 * time.Second
	}
}

// NewMQTT connects to the broker and returns the sink.
func NewMQTT(opts MQTTOptions) (*MQTT, error) {
	opts.setDefaults()

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		co.SetPassword(opts.Password)
	}
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(10 * time.Second)
	co.SetKeepAlive(60 * time.Second)
	co.SetPingTimeout(10 * time.Second)
	co.SetOnConnectHandler(func(mqtt.Client) {
		log.Println("MQTT: Connected to broker")
	})
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("MQTT: Connection lost: %v", err)
	})

	client := mqtt.NewClient(co)
	if token := client.Connect(); token.WaitTimeout(30*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	log.Printf("MQTT: publishing to %s under %s/", opts.Broker, opts.TopicPrefix)
	return &MQTT{client: client, opts: opts}, nil
}

func newMQTTWithPublisher(p publisher, opts MQTTOptions) *MQTT {
	opts.setDefaults()
	return &MQTT{client: p, opts: opts}
}

// Name implements Sink.
func (m *MQTT) Name() string { return "mqtt" }

// RayTopic returns the topic rays are published on.
func (m *MQTT) RayTopic() string { return m.opts.TopicPrefix + "/ray" }

// ConfTopic returns the topic metadata is published on.
func (m *MQTT) ConfTopic() string { return m.opts.TopicPrefix + "/conf" }

func (m *MQTT) publish(ctx context.Context, topic string, retained bool, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for topic %s: %w", topic, err)
	}
	token := m.client.Publish(topic, m.opts.QoS, retained, data)

	timer := time.NewTimer(m.opts.PublishTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-timer.C:
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

// PublishMeta implements Sink.
func (m *MQTT) PublishMeta(ctx context.Context, meta *Meta) error {
	return m.publish(ctx, m.ConfTopic(), true, meta)
}

// PublishRay implements Sink.
func (m *MQTT) PublishRay(ctx context.Context, ray *moments.Ray) error {
	return m.publish(ctx, m.RayTopic(), false, NewRayPayload(ray, m.opts.VelocityUnits, m.opts.Fields))
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
