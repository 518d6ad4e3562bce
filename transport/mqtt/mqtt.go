// Package mqtt provides the MQTT transport for fluxbridge, the default source.
//
// The subscriber disables paho's automatic acknowledgement: a PUBACK is only
// sent once the router acked the watermill message, so a payload whose
// processing did not finish is redelivered by the broker after a reconnect.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/drblury/fluxbridge/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "mqtt"

const (
	defaultKeepAlive         = 5 * time.Second
	defaultReconnectInterval = 5 * time.Second
	defaultConnectTimeout    = 30 * time.Second
	defaultOutputBuffer      = 64
	defaultResendInterval    = 100 * time.Millisecond
	disconnectQuiesce        = 250 // milliseconds

	publisherClientIDSuffix = "-publisher"
)

// Metadata keys set on every received message.
const (
	MetadataTopic     = "mqtt_topic"
	MetadataQoS       = "mqtt_qos"
	MetadataRetained  = "mqtt_retained"
	MetadataDuplicate = "mqtt_duplicate"
	MetadataMessageID = "mqtt_message_id"
)

var (
	// ErrBrokerRequired is returned when no broker address is configured.
	ErrBrokerRequired = errors.New("mqtt broker is required")
	// ErrClosed is returned when using a closed publisher or subscriber.
	ErrClosed = errors.New("mqtt client closed")
)

// ClientFactory allows overriding the paho client creation for testing.
var ClientFactory = func(opts *mqtt.ClientOptions) mqtt.Client {
	return mqtt.NewClient(opts)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.MQTTCapabilities)
}

// ClientConfig holds the session settings shared by publisher and subscriber.
type ClientConfig struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	QoS               byte
	KeepAlive         time.Duration
	ReconnectInterval time.Duration
	CleanSession      bool
	ConnectTimeout    time.Duration
}

func (c *ClientConfig) setDefaults() {
	if c.KeepAlive <= 0 {
		c.KeepAlive = defaultKeepAlive
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = defaultReconnectInterval
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
}

// Validate checks the settings the broker connection cannot work without.
func (c ClientConfig) Validate() error {
	if c.Broker == "" {
		return ErrBrokerRequired
	}
	if c.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.QoS)
	}
	return nil
}

// options translates the config into paho client options. Reconnects wait
// ReconnectInterval between attempts.
func (c ClientConfig) options() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(c.Broker).
		SetClientID(c.ClientID).
		SetKeepAlive(c.KeepAlive).
		SetCleanSession(c.CleanSession).
		SetConnectTimeout(c.ConnectTimeout).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(c.ReconnectInterval).
		SetOrderMatters(true)
	if c.Username != "" {
		opts.SetUsername(c.Username)
		opts.SetPassword(c.Password)
	}
	return opts
}

// Build creates a new MQTT transport from the bridge configuration.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	clientCfg := ClientConfig{
		Broker:            cfg.GetMQTTBroker(),
		ClientID:          cfg.GetMQTTClientID(),
		Username:          cfg.GetMQTTUsername(),
		Password:          cfg.GetMQTTPassword(),
		QoS:               cfg.GetMQTTQoS(),
		KeepAlive:         cfg.GetMQTTKeepAlive(),
		ReconnectInterval: cfg.GetMQTTReconnectInterval(),
		CleanSession:      cfg.GetMQTTCleanSession(),
	}

	subscriber, err := NewSubscriber(SubscriberConfig{ClientConfig: clientCfg}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	pubCfg := clientCfg
	pubCfg.ClientID = clientCfg.ClientID + publisherClientIDSuffix
	publisher, err := NewPublisher(PublisherConfig{ClientConfig: pubCfg}, logger)
	if err != nil {
		_ = subscriber.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.MQTTCapabilities
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
