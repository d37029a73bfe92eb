package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/crandall/incubator/internal/control"
)

// backlogCapacity bounds how many messages are held while the broker is
// unreachable. Event rate is one per regulator transition, so this covers
// hours of outage.
const backlogCapacity = 256

// Options configures a RealPublisher.
type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string
}

// RealPublisher publishes to an actual MQTT broker. Messages published
// while the connection is down are held in a bounded backlog and flushed
// when the broker comes back.
type RealPublisher struct {
	client      paho.Client
	eventTopic  string
	systemTopic string

	mu      sync.Mutex
	backlog *backlog
}

// NewRealPublisher creates a publisher connected to the given broker.
func NewRealPublisher(opts Options) (*RealPublisher, error) {
	if opts.ClientID == "" {
		opts.ClientID = "incubatord"
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = DefaultTopicPrefix
	}

	p := &RealPublisher{
		eventTopic:  opts.TopicPrefix + "/events",
		systemTopic: opts.TopicPrefix + "/system",
		backlog:     newBacklog(backlogCapacity),
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(paho.Client) {
			p.flushBacklog()
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.WithError(err).Warn("mqtt connection lost, buffering events")
		})

	p.client = paho.NewClient(clientOpts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// Publish sends a regulator event to the MQTT broker.
func (p *RealPublisher) Publish(event control.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.send(p.eventTopic, payload, 0, false)
}

// PublishSystem sends a lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) so shutdown events survive a flaky link.
	return p.send(p.systemTopic, payload, 1, event.Retained)
}

// IsConnected reports whether the broker connection is live.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

func (p *RealPublisher) send(topic string, payload []byte, qos byte, retained bool) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.backlog.add(queued{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// flushBacklog replays messages held while disconnected. Runs on the paho
// connect callback goroutine.
func (p *RealPublisher) flushBacklog() {
	p.mu.Lock()
	msgs := p.backlog.drain()
	p.mu.Unlock()

	if len(msgs) == 0 {
		return
	}
	log.Infof("mqtt reconnected, flushing %d buffered messages", len(msgs))
	for _, m := range msgs {
		token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
		if !token.WaitTimeout(5 * time.Second) {
			log.Warn("timeout flushing buffered message")
			return
		}
		if err := token.Error(); err != nil {
			log.WithError(err).Warn("flush buffered message")
			return
		}
	}
}
