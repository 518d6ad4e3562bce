// Package transporttest provides a settable transport.Config for tests.
package transporttest

import (
	"time"

	"github.com/drblury/fluxbridge/transport"
)

var _ transport.Config = (*Config)(nil)

// Config is a transport.Config backed by plain fields.
type Config struct {
	Source string
	Topic  string

	MQTTBroker            string
	MQTTClientID          string
	MQTTUsername          string
	MQTTPassword          string
	MQTTQoS               byte
	MQTTKeepAlive         time.Duration
	MQTTReconnectInterval time.Duration
	MQTTCleanSession      bool

	KafkaBrokers       []string
	KafkaClientID      string
	KafkaConsumerGroup string

	RabbitMQURL string
	NATSURL     string

	HTTPServerAddress string
	HTTPPublisherURL  string

	IOFile string

	AWSRegion          string
	AWSAccountID       string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string
}

func (c *Config) GetSource() string                       { return c.Source }
func (c *Config) GetTopic() string                        { return c.Topic }
func (c *Config) GetMQTTBroker() string                   { return c.MQTTBroker }
func (c *Config) GetMQTTClientID() string                 { return c.MQTTClientID }
func (c *Config) GetMQTTUsername() string                 { return c.MQTTUsername }
func (c *Config) GetMQTTPassword() string                 { return c.MQTTPassword }
func (c *Config) GetMQTTQoS() byte                        { return c.MQTTQoS }
func (c *Config) GetMQTTKeepAlive() time.Duration         { return c.MQTTKeepAlive }
func (c *Config) GetMQTTReconnectInterval() time.Duration { return c.MQTTReconnectInterval }
func (c *Config) GetMQTTCleanSession() bool               { return c.MQTTCleanSession }
func (c *Config) GetKafkaBrokers() []string               { return c.KafkaBrokers }
func (c *Config) GetKafkaClientID() string                { return c.KafkaClientID }
func (c *Config) GetKafkaConsumerGroup() string           { return c.KafkaConsumerGroup }
func (c *Config) GetRabbitMQURL() string                  { return c.RabbitMQURL }
func (c *Config) GetNATSURL() string                      { return c.NATSURL }
func (c *Config) GetHTTPServerAddress() string            { return c.HTTPServerAddress }
func (c *Config) GetHTTPPublisherURL() string             { return c.HTTPPublisherURL }
func (c *Config) GetIOFile() string                       { return c.IOFile }
func (c *Config) GetAWSRegion() string                    { return c.AWSRegion }
func (c *Config) GetAWSAccountID() string                 { return c.AWSAccountID }
func (c *Config) GetAWSAccessKeyID() string               { return c.AWSAccessKeyID }
func (c *Config) GetAWSSecretAccessKey() string           { return c.AWSSecretAccessKey }
func (c *Config) GetAWSEndpoint() string                  { return c.AWSEndpoint }
