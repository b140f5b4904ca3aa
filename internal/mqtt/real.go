package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/li-charger/internal/logic"
)

// Options configures a RealPublisher.
type Options struct {
	Broker      string
	ClientID    string
	BufferSize  int // messages held while disconnected
	FullScaleMV int // for voltage_mv in payloads
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are held in an outbox and replayed on reconnect.
type RealPublisher struct {
	client      paho.Client
	topic       string
	fullScaleMV int

	mu     sync.Mutex
	outbox *outbox
}

// NewRealPublisher creates a publisher for the given broker. A broker that
// is unreachable at startup is not an error; the client keeps retrying and
// messages are buffered meanwhile.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	p := &RealPublisher{
		topic:       Topic,
		fullScaleMV: o.FullScaleMV,
		outbox:      newOutbox(o.BufferSize),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "OFFLINE",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(func(paho.Client) {
			log.Printf("mqtt: connected to %s", o.Broker)
			p.flush()
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		log.Printf("mqtt: broker %s not reachable yet, buffering", o.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// Publish sends a charger event to the MQTT broker.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event, p.fullScaleMV)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 0 (at-most-once), not retained
	return p.send(bufferedMsg{topic: p.topic, payload: payload})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) for lifecycle events
	return p.send(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) send(msg bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.outbox.push(msg)
		p.mu.Unlock()
		return nil
	}

	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		p.mu.Lock()
		p.outbox.push(msg)
		p.mu.Unlock()
		return fmt.Errorf("publish timeout on %s", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

// flush replays buffered messages after (re)connection.
func (p *RealPublisher) flush() {
	p.mu.Lock()
	msgs := p.outbox.drain()
	p.mu.Unlock()

	if len(msgs) == 0 {
		return
	}
	log.Printf("mqtt: replaying %d buffered messages", len(msgs))
	// Runs on paho's connect goroutine; publish without waiting.
	for _, m := range msgs {
		p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	}
}

// Buffered returns the number of messages waiting for the broker.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outbox.len()
}

// IsConnected reports whether the client currently has a broker connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
