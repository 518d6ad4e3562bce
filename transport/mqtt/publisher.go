package mqtt

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// PublisherConfig configures the MQTT publisher.
type PublisherConfig struct {
	ClientConfig

	// Retained publishes every message with the retain flag set.
	Retained bool
}

// Publisher publishes message payloads to MQTT topics. It connects on the
// first Publish so a bridge that never publishes opens no second session.
type Publisher struct {
	config PublisherConfig
	logger watermill.LoggerAdapter
	client mqtt.Client

	mu     sync.Mutex
	closed bool
}

// NewPublisher creates a publisher.
func NewPublisher(config PublisherConfig, logger watermill.LoggerAdapter) (*Publisher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.setDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	return &Publisher{
		config: config,
		logger: logger.With(watermill.LogFields{"broker": config.Broker, "client_id": config.ClientID}),
		client: ClientFactory(config.options()),
	}, nil
}

// Publish sends the payload of each message to topic, waiting for the broker
// acknowledgement of the configured QoS.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if err := p.connect(); err != nil {
		return err
	}

	for _, msg := range messages {
		logFields := watermill.LogFields{"message_uuid": msg.UUID, "topic": topic}
		p.logger.Trace("Publishing message", logFields)

		ctx, cancel := context.WithTimeout(msg.Context(), p.config.ConnectTimeout)
		err := waitToken(ctx, p.client.Publish(topic, p.config.QoS, p.config.Retained, []byte(msg.Payload)))
		cancel()
		if err != nil {
			return fmt.Errorf("publishing message %s to %q: %w", msg.UUID, topic, err)
		}
	}
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	if p.client.IsConnected() {
		p.client.Disconnect(disconnectQuiesce)
	}
	return nil
}

func (p *Publisher) connect() error {
	if p.client.IsConnected() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.config.ConnectTimeout)
	defer cancel()
	if err := waitToken(ctx, p.client.Connect()); err != nil {
		return fmt.Errorf("connecting to mqtt broker %s: %w", p.config.Broker, err)
	}
	p.logger.Debug("MQTT publisher connected", nil)
	return nil
}
