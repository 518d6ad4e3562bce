package transport

// Capabilities describes the delivery guarantees of a source transport.
// The status API reports them for the configured source.
type Capabilities struct {
	// Name is the registered transport name.
	Name string `json:"name"`

	// SupportsOrdering indicates payloads of one topic are delivered in publish order.
	SupportsOrdering bool `json:"supports_ordering"`

	// SupportsAck indicates a payload is only settled once the bridge acknowledged it.
	SupportsAck bool `json:"supports_ack"`

	// SupportsNack indicates a nacked payload is delivered again.
	SupportsNack bool `json:"supports_nack"`

	// Persistent indicates payloads published while the bridge is down are
	// delivered once it reconnects.
	Persistent bool `json:"persistent"`

	// ReportsFailures indicates the subscriber implements FailureReporter.
	ReportsFailures bool `json:"reports_failures"`

	// MaxMessageSize is the maximum payload size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64 `json:"max_message_size,omitempty"`
}

// SupportsReliableDelivery returns true if the transport supports at-least-once
// delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Predefined capability sets for the built-in transports.
var (
	// MQTTCapabilities for MQTT brokers at QoS 1 or 2.
	MQTTCapabilities = Capabilities{
		Name:             "mqtt",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		Persistent:       false,
		ReportsFailures:  true,
		MaxMessageSize:   268435455, // protocol limit
	}

	// ChannelCapabilities for the in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// KafkaCapabilities for Apache Kafka.
	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     false,
		Persistent:       true,
		MaxMessageSize:   1048576, // broker default
	}

	// RabbitMQCapabilities for RabbitMQ/AMQP.
	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		Persistent:       true,
	}

	// NATSCapabilities for NATS Core.
	NATSCapabilities = Capabilities{
		Name:            "nats",
		ReportsFailures: true,
		MaxMessageSize:  1048576, // server default
	}

	// NATSJetStreamCapabilities for NATS JetStream.
	NATSJetStreamCapabilities = Capabilities{
		Name:             "jetstream",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		Persistent:       true,
		ReportsFailures:  true,
		MaxMessageSize:   1048576, // server default
	}

	// AWSCapabilities for AWS SNS/SQS.
	AWSCapabilities = Capabilities{
		Name:           "aws",
		SupportsAck:    true,
		SupportsNack:   true,
		Persistent:     true,
		MaxMessageSize: 262144, // 256KB
	}

	// HTTPCapabilities for the HTTP ingest endpoint.
	HTTPCapabilities = Capabilities{
		Name:        "http",
		SupportsAck: true,
	}

	// IOCapabilities for the JSON lines file replay.
	IOCapabilities = Capabilities{
		Name:             "io",
		SupportsOrdering: true,
		Persistent:       true,
	}
)

// GetCapabilities returns the capabilities for a transport by name.
// Uses the default registry to look up capabilities registered by each transport package.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
