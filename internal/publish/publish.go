// Package publish sends derived snapshots to an MQTT broker.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"helipad-ng/internal/engine"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

type Config struct {
	Broker   string // tcp://host:1883
	Topic    string
	ClientID string
	Interval time.Duration
}

// Instruments is the read side of the engine.
type Instruments interface {
	Snapshot() engine.Snapshot
}

// OutputObserver counts send attempts.
type OutputObserver interface {
	ObserveOutput(output string, err error)
}

// Client is the subset of an MQTT connection the publisher needs.
type Client interface {
	Publish(topic string, retained bool, payload []byte) error
	Close()
}

// MQTTClient is a paho client that keeps reconnecting in the background.
// Its retained <topic>/status is "online" while connected and "offline"
// (the will) otherwise.
type MQTTClient struct {
	client      mqtt.Client
	statusTopic string
}

// Dial starts connecting to the broker. It does not wait for the first
// connection; publishes fail until one is up.
func Dial(cfg Config) (*MQTTClient, error) {
	if cfg.Broker == "" {
		return nil, errors.New("publish: broker is required")
	}
	c := &MQTTClient{statusTopic: cfg.Topic + "/status"}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetWill(c.statusTopic, "offline", 1, true)
	opts.OnConnect = c.onConnect
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Printf("mqtt connection lost: %v (will auto-reconnect)", err)
	}

	c.client = mqtt.NewClient(opts)
	log.Printf("mqtt connecting broker=%s client_id=%s", cfg.Broker, cfg.ClientID)
	c.client.Connect()
	return c, nil
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	log.Printf("mqtt connected")
	token := client.Publish(c.statusTopic, 1, true, "online")
	if !token.WaitTimeout(publishTimeout) {
		log.Printf("mqtt status publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		log.Printf("mqtt status publish error: %v", err)
	}
}

func (c *MQTTClient) Publish(topic string, retained bool, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		return errors.New("publish: not connected")
	}
	token := c.client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish: %s timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %s: %w", topic, err)
	}
	return nil
}

// Close marks the device offline and disconnects.
func (c *MQTTClient) Close() {
	if c.client.IsConnectionOpen() {
		token := c.client.Publish(c.statusTopic, 1, true, "offline")
		token.WaitTimeout(publishTimeout)
	}
	c.client.Disconnect(1000)
}

// Publisher sends one JSON snapshot per interval to <topic>/snapshot.
// Alert edges (sink-rate warning, hard landing) also go to <topic>/alert.
type Publisher struct {
	inst     Instruments
	client   Client
	topic    string
	interval time.Duration
	obs      OutputObserver

	lastSink bool
	lastHard bool
}

// Alert is the payload on <topic>/alert.
type Alert struct {
	Kind   string    `json:"kind"` // sink_rate | hard_landing
	Active bool      `json:"active"`
	At     time.Time `json:"at"`
}

func NewPublisher(inst Instruments, client Client, cfg Config, obs OutputObserver) *Publisher {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Publisher{inst: inst, client: client, topic: cfg.Topic, interval: cfg.Interval, obs: obs}
}

// Run publishes until ctx is done. Send failures are counted and logged
// once per distinct error.
func (p *Publisher) Run(ctx context.Context) error {
	if p.inst == nil || p.client == nil {
		return errors.New("publish: instruments and client are required")
	}
	t := time.NewTicker(p.interval)
	defer t.Stop()

	var lastErr string
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			err := p.PublishOnce()
			if p.obs != nil {
				p.obs.ObserveOutput("mqtt", err)
			}
			switch {
			case err != nil && err.Error() != lastErr:
				log.Printf("mqtt publish failed: %v", err)
				lastErr = err.Error()
			case err == nil && lastErr != "":
				log.Printf("mqtt publish recovered")
				lastErr = ""
			}
		}
	}
}

// PublishOnce sends the current snapshot and any alert edges.
func (p *Publisher) PublishOnce() error {
	snap := p.inst.Snapshot()
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("publish: marshal: %w", err)
	}
	if err := p.client.Publish(p.topic+"/snapshot", false, b); err != nil {
		return err
	}

	sink := snap.VerticalSpeed.SinkRateWarning
	hard := snap.Motion.HardLanding
	if sink != p.lastSink {
		if err := p.alert("sink_rate", sink, snap.At); err != nil {
			return err
		}
		p.lastSink = sink
	}
	if hard != p.lastHard {
		if err := p.alert("hard_landing", hard, snap.At); err != nil {
			return err
		}
		p.lastHard = hard
	}
	return nil
}

func (p *Publisher) alert(kind string, active bool, at time.Time) error {
	b, err := json.Marshal(Alert{Kind: kind, Active: active, At: at})
	if err != nil {
		return fmt.Errorf("publish: marshal alert: %w", err)
	}
	return p.client.Publish(p.topic+"/alert", true, b)
}
