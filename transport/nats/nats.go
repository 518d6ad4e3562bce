// Package nats provides a NATS Core source for fluxbridge.
package nats

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/fluxbridge/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

const (
	// ClientName identifies the bridge connection on the NATS server.
	ClientName = "fluxbridge"
	// QueueGroup lets several bridge instances share one subject.
	QueueGroup = "fluxbridge"
)

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Build creates a new NATS Core transport. Disconnects of the subscriber
// connection are reported through transport.FailureReporter.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	marshaler := &nats.NATSMarshaler{}
	failures := transport.NewFailureChannel(16)

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			Marshaler:   marshaler,
			NatsOptions: []nc.Option{nc.Name(ClientName + "-publisher")},
			JetStream:   nats.JetStreamConfig{Disabled: true},
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:              url,
			Unmarshaler:      marshaler,
			QueueGroupPrefix: QueueGroup,
			SubscribersCount: 1,
			NatsOptions:      connectionOptions(failures, logger),
			JetStream:        nats.JetStreamConfig{Disabled: true},
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: transport.NewReportingSubscriber(subscriber, failures),
	}, nil
}

func connectionOptions(failures *transport.FailureChannel, logger watermill.LoggerAdapter) []nc.Option {
	return []nc.Option{
		nc.Name(ClientName),
		nc.MaxReconnects(-1),
		nc.DisconnectErrHandler(func(_ *nc.Conn, err error) {
			if err == nil {
				return
			}
			logger.Error("NATS connection lost", err, nil)
			failures.Report(fmt.Errorf("nats connection lost: %w", err))
		}),
		nc.ReconnectHandler(func(conn *nc.Conn) {
			logger.Info("Reconnected to NATS", watermill.LogFields{"url": conn.ConnectedUrlRedacted()})
		}),
	}
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
