// Package publish forwards probe readings to an MQTT broker.
package publish

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/itohio/phx/pkg/config"
	"github.com/itohio/phx/pkg/sampler"
)

const publishTimeout = 2 * time.Second

// Client is the part of mqtt.Client the publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher sends each reading as JSON to <topic>/<probe>.
type Publisher struct {
	client   Client
	topic    string
	qos      byte
	retained bool
}

// New wraps an already connected client.
func New(client Client, cfg config.MQTTConfig) *Publisher {
	return &Publisher{
		client:   client,
		topic:    cfg.Topic,
		qos:      cfg.QoS,
		retained: cfg.Retained,
	}
}

// Connect dials the broker named in cfg.
func Connect(cfg config.MQTTConfig) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect to %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	log.Printf("mqtt: connected to %s", cfg.Broker)
	return New(client, cfg), nil
}

type message struct {
	Probe    string  `json:"probe"`
	Kind     string  `json:"kind"`
	Value    float64 `json:"value"`
	Smoothed float64 `json:"smoothed"`
	Error    string  `json:"error"`
	Time     int64   `json:"ts"` // unix milliseconds
}

// Topic returns the topic a probe publishes to.
func (p *Publisher) Topic(probe string) string {
	return p.topic + "/" + probe
}

// Publish sends one reading.
func (p *Publisher) Publish(r sampler.Reading) error {
	payload, err := json.Marshal(message{
		Probe:    r.Probe,
		Kind:     r.Kind.String(),
		Value:    r.Value,
		Smoothed: r.Smoothed,
		Error:    r.Error.String(),
		Time:     r.Time.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	token := p.client.Publish(p.Topic(r.Probe), p.qos, p.retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish %s: timeout", p.Topic(r.Probe))
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", p.Topic(r.Probe), err)
	}
	return nil
}

// Observe publishes r and logs failures. It matches the sampler callback
// signature.
func (p *Publisher) Observe(r sampler.Reading) {
	if err := p.Publish(r); err != nil {
		log.Printf("mqtt: %v", err)
	}
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
