// Package transport defines how fluxbridge receives payloads.
// Each source (mqtt, kafka, nats, ...) lives in its own sub-package and
// registers a Builder with the transport registry from an init function.
package transport

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a builder.
// The bridge consumes from the Subscriber; the Publisher feeds the poison
// queue and the publish command.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	// Closers are closed after the subscriber and publisher, e.g. a
	// connection both of them share.
	Closers []io.Closer
}

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

func (f CloserFunc) Close() error { return f() }

// Close closes the subscriber, the publisher when it is a distinct value,
// and then Closers.
func (t Transport) Close() error {
	var errs []error
	if t.Subscriber != nil {
		if err := t.Subscriber.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if t.Publisher != nil && !sameValue(t.Publisher, t.Subscriber) {
		if err := t.Publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range t.Closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func sameValue(pub message.Publisher, sub message.Subscriber) bool {
	if sub == nil {
		return false
	}
	p, ok := any(pub).(message.Subscriber)
	if !ok {
		return false
	}
	defer func() { _ = recover() }()
	return p == sub
}

// Builder is the function signature for creating a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by transports.
// It lets transports read only what they need without importing the
// config package.
type Config interface {
	// GetSource returns the transport name.
	GetSource() string
	// GetTopic returns the topic, subject or queue to consume.
	GetTopic() string

	// MQTT
	GetMQTTBroker() string
	GetMQTTClientID() string
	GetMQTTUsername() string
	GetMQTTPassword() string
	GetMQTTQoS() byte
	GetMQTTKeepAlive() time.Duration
	GetMQTTReconnectInterval() time.Duration
	GetMQTTCleanSession() bool

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaClientID() string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// IO
	GetIOFile() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// FailureReporter is implemented by subscribers that can lose their
// connection after Subscribe returned. Errors sent on the channel are
// asynchronous transport failures; the channel is closed with the subscriber.
type FailureReporter interface {
	Failures() <-chan error
}

// Failures returns the failure channel of the subscriber, or nil when the
// subscriber does not report asynchronous failures.
func Failures(sub message.Subscriber) <-chan error {
	if reporter, ok := sub.(FailureReporter); ok {
		return reporter.Failures()
	}
	return nil
}
