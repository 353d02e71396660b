package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/garden-controller/internal/logic"
)

// Options configures the broker connection.
type Options struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	BufferSize     int // messages kept while disconnected
	ConnectRetries int
}

// DefaultOptions returns options for a local broker.
func DefaultOptions(broker string) Options {
	return Options{
		Broker:         broker,
		ClientID:       "garden-controller",
		BufferSize:     256,
		ConnectRetries: 5,
	}
}

// Subscriber delivers messages from a topic to a handler.
type Subscriber interface {
	Subscribe(topic string, handler func(payload []byte)) error
}

// RealPublisher publishes to an actual MQTT broker. Messages published
// while the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client

	mu        sync.Mutex
	buf       *ringBuffer
	subs      map[string]func([]byte)
	connected bool // set after the first successful connect
}

// NewRealPublisher connects to the broker, retrying with exponential backoff.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	if o.BufferSize <= 0 {
		o.BufferSize = 256
	}
	p := &RealPublisher{
		buf:  newRingBuffer(o.BufferSize),
		subs: make(map[string]func([]byte)),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetUsername(o.Username).
		SetPassword(o.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute).
		SetWill(TopicSystem, string(will), 1, true).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		}).
		SetOnConnectHandler(p.onConnect)

	p.client = paho.NewClient(opts)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	retries := o.ConnectRetries
	if retries < 1 {
		retries = 1
	}
	err = backoff.Retry(func() error {
		token := p.client.Connect()
		if !token.WaitTimeout(10 * time.Second) {
			return fmt.Errorf("connection timeout")
		}
		if err := token.Error(); err != nil {
			log.Printf("mqtt: connect to %s failed: %v", o.Broker, err)
			return err
		}
		return nil
	}, backoff.WithMaxRetries(bo, uint64(retries-1)))
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// onConnect runs on every (re)connect. After the first connect it restores
// subscriptions, replays buffered messages and announces RECONNECTED.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	first := !p.connected
	p.connected = true
	pending := p.buf.drainAll()
	subs := make(map[string]func([]byte), len(p.subs))
	for t, h := range p.subs {
		subs[t] = h
	}
	p.mu.Unlock()

	if first {
		return
	}
	log.Printf("mqtt: reconnected, replaying %d buffered messages", len(pending))
	for t, h := range subs {
		p.subscribe(t, h)
	}
	for _, m := range pending {
		p.send(m)
	}
	p.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
}

func (p *RealPublisher) send(m bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.buf.push(m)
		p.mu.Unlock()
		return nil
	}
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(5 * time.Second) {
		p.mu.Lock()
		p.buf.push(m)
		p.mu.Unlock()
		return fmt.Errorf("publish %s: timeout", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

// PublishState sends a retained state transition with QoS 1.
func (p *RealPublisher) PublishState(rec logic.StateRecord) error {
	payload, err := FormatStatePayload(rec)
	if err != nil {
		return fmt.Errorf("format state payload: %w", err)
	}
	return p.send(bufferedMsg{topic: TopicState, payload: payload, qos: 1, retained: true})
}

// PublishSession sends a session log with QoS 1.
func (p *RealPublisher) PublishSession(s logic.Session) error {
	payload, err := FormatSessionPayload(s)
	if err != nil {
		return fmt.Errorf("format session payload: %w", err)
	}
	return p.send(bufferedMsg{topic: TopicSessions, payload: payload, qos: 1})
}

// PublishReading sends a telemetry reading with QoS 0.
func (p *RealPublisher) PublishReading(r logic.Reading) error {
	payload, err := FormatReadingPayload(r)
	if err != nil {
		return fmt.Errorf("format reading payload: %w", err)
	}
	return p.send(bufferedMsg{topic: TopicTelemetry, payload: payload})
}

// PublishSystem sends a lifecycle event with QoS 1.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.send(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

// PublishAlert sends an operator alert with QoS 1.
func (p *RealPublisher) PublishAlert(subject, body string, at time.Time) error {
	payload, err := FormatAlertPayload(subject, body, at)
	if err != nil {
		return fmt.Errorf("format alert payload: %w", err)
	}
	return p.send(bufferedMsg{topic: TopicAlerts, payload: payload, qos: 1})
}

// Subscribe registers handler for topic. The subscription is restored
// after every reconnect.
func (p *RealPublisher) Subscribe(topic string, handler func(payload []byte)) error {
	p.mu.Lock()
	p.subs[topic] = handler
	p.mu.Unlock()
	return p.subscribe(topic, handler)
}

func (p *RealPublisher) subscribe(topic string, handler func([]byte)) error {
	token := p.client.Subscribe(topic, 1, func(_ paho.Client, m paho.Message) {
		handler(m.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// IsConnected reports whether the broker connection is open.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for a reconnect.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
