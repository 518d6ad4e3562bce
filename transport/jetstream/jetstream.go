// Package jetstream provides a NATS JetStream source for fluxbridge.
//
// Payloads are consumed through a durable pull consumer with one
// outstanding message, so delivery order survives redeliveries.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/fluxbridge/internal/runtime/ids"
	"github.com/drblury/fluxbridge/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "jetstream"

const (
	// DefaultStreamName is the stream created when none is configured.
	DefaultStreamName = "FLUXBRIDGE"

	// DefaultMaxDeliver is the default max delivery attempts.
	DefaultMaxDeliver = 5

	// DefaultAckWait is the default ack wait timeout.
	DefaultAckWait = 30 * time.Second

	// DefaultMaxAge bounds how long unconsumed payloads stay in the stream.
	DefaultMaxAge = 7 * 24 * time.Hour

	fetchWait = time.Second
)

// ErrClosed is returned when using a closed transport.
var ErrClosed = errors.New("jetstream transport is closed")

var consumerNameInvalid = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Connect allows overriding the NATS connection for testing.
var Connect = nats.Connect

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSJetStreamCapabilities)
}

// Build creates a new NATS JetStream transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	t, err := New(Config{URL: cfg.GetNATSURL()}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  t,
		Subscriber: t,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// Config holds NATS JetStream-specific configuration.
type Config struct {
	// URL is the NATS server URL.
	URL string

	// StreamName is the name of the JetStream stream to use.
	// If empty, defaults to DefaultStreamName.
	StreamName string

	// MaxDeliver is the maximum number of delivery attempts.
	MaxDeliver int

	// AckWait is the duration to wait for acknowledgment.
	AckWait time.Duration

	// Replicas is the number of stream replicas (for clustering).
	Replicas int

	// MaxAge is the stream retention for unconsumed payloads.
	MaxAge time.Duration
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = DefaultMaxDeliver
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	return c
}

// Transport implements Publisher and Subscriber for NATS JetStream.
type Transport struct {
	nc       *nats.Conn
	js       nats.JetStreamContext
	config   Config
	logger   watermill.LoggerAdapter
	failures *transport.FailureChannel

	mu            sync.Mutex
	subscriptions map[string]*nats.Subscription

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New connects to NATS and makes sure the stream exists.
func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	t := &Transport{
		config:        cfg,
		logger:        logger.With(watermill.LogFields{"stream": cfg.StreamName}),
		failures:      transport.NewFailureChannel(16),
		subscriptions: make(map[string]*nats.Subscription),
		done:          make(chan struct{}),
	}

	nc, err := Connect(cfg.URL,
		nats.Name("fluxbridge"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(t.onDisconnect),
		nats.ReconnectHandler(func(*nats.Conn) {
			t.logger.Info("Reconnected to NATS", nil)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	t.nc, t.js = nc, js

	if err := t.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}
	return t, nil
}

func (t *Transport) onDisconnect(_ *nats.Conn, err error) {
	if err == nil {
		return
	}
	t.logger.Error("NATS connection lost", err, nil)
	t.failures.Report(fmt.Errorf("nats connection lost: %w", err))
}

func (t *Transport) streamConfig() *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:      t.config.StreamName,
		Subjects:  []string{t.config.StreamName + ".>"},
		MaxAge:    t.config.MaxAge,
		Replicas:  t.config.Replicas,
		Retention: nats.LimitsPolicy,
	}
}

// ensureStream creates the stream, or updates it when it already exists
// with different settings.
func (t *Transport) ensureStream() error {
	sc := t.streamConfig()
	if _, err := t.js.AddStream(sc); err == nil {
		return nil
	}
	if _, err := t.js.UpdateStream(sc); err != nil {
		return err
	}
	t.logger.Info("JetStream stream updated", nil)
	return nil
}

// Publish stores payloads on the stream subject of topic. The message UUID is
// used as the JetStream deduplication id.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if t.isClosed() {
		return ErrClosed
	}

	subject := t.subject(topic)
	for _, msg := range messages {
		if _, err := t.js.PublishMsg(toNATS(subject, msg)); err != nil {
			return fmt.Errorf("failed to publish to JetStream: %w", err)
		}
	}
	return nil
}

func toNATS(subject string, msg *message.Message) *nats.Msg {
	out := nats.NewMsg(subject)
	out.Data = msg.Payload
	for k, v := range msg.Metadata {
		out.Header.Set(k, v)
	}
	out.Header.Set(nats.MsgIdHdr, msg.UUID)
	return out
}

// consumerConfig allows one unacknowledged payload at a time so the bridge
// sees payloads in stream order, redeliveries included.
func (t *Transport) consumerConfig(topic string) *nats.ConsumerConfig {
	return &nats.ConsumerConfig{
		Durable:       consumerName(topic),
		FilterSubject: t.subject(topic),
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       t.config.AckWait,
		MaxDeliver:    t.config.MaxDeliver,
		MaxAckPending: 1,
		DeliverPolicy: nats.DeliverAllPolicy,
	}
}

// Subscribe binds a pull subscription to the durable consumer of topic. The
// returned channel is closed when ctx is done or the transport is closed.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}

	cc := t.consumerConfig(topic)
	if _, err := t.js.AddConsumer(t.config.StreamName, cc); err != nil {
		if _, err := t.js.UpdateConsumer(t.config.StreamName, cc); err != nil {
			return nil, fmt.Errorf("failed to create consumer: %w", err)
		}
	}

	sub, err := t.js.PullSubscribe(cc.FilterSubject, cc.Durable, nats.Bind(t.config.StreamName, cc.Durable))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	t.mu.Lock()
	t.subscriptions[topic] = sub
	t.mu.Unlock()

	out := make(chan *message.Message)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer close(out)
		t.pull(ctx, sub, out, topic)
	}()
	return out, nil
}

// Failures reports NATS disconnects. The channel is closed by Close.
func (t *Transport) Failures() <-chan error {
	return t.failures.Failures()
}

func (t *Transport) pull(ctx context.Context, sub *nats.Subscription, out chan<- *message.Message, topic string) {
	for t.running(ctx) {
		batch, err := sub.Fetch(1, nats.MaxWait(fetchWait))
		switch {
		case errors.Is(err, nats.ErrTimeout):
			continue
		case errors.Is(err, nats.ErrConnectionClosed), errors.Is(err, nats.ErrBadSubscription):
			return
		case err != nil:
			t.logger.Error("Failed to fetch messages", err, watermill.LogFields{"topic": topic})
			continue
		}

		for _, m := range batch {
			if !t.deliver(ctx, m, out) {
				return
			}
		}
	}
}

func (t *Transport) running(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-t.done:
		return false
	default:
		return true
	}
}

// deliver hands one message to the router and settles it with the broker.
// It returns false when the subscription stops before that happens.
func (t *Transport) deliver(ctx context.Context, m *nats.Msg, out chan<- *message.Message) bool {
	msg := fromNATS(m)
	msg.SetContext(ctx)

	select {
	case out <- msg:
	case <-ctx.Done():
		return false
	case <-t.done:
		return false
	}

	var (
		settle func(...nats.AckOpt) error
		action string
	)
	select {
	case <-msg.Acked():
		settle, action = m.Ack, "ack"
	case <-msg.Nacked():
		settle, action = m.Nak, "nak"
	case <-ctx.Done():
		return false
	case <-t.done:
		return false
	}
	if err := settle(); err != nil {
		t.logger.Error("Failed to "+action, err, watermill.LogFields{"message_uuid": msg.UUID})
	}
	return true
}

// fromNATS keeps the publisher's message id when present.
func fromNATS(m *nats.Msg) *message.Message {
	id := m.Header.Get(nats.MsgIdHdr)
	if id == "" {
		id = ids.CreateULID()
	}

	msg := message.NewMessage(id, m.Data)
	for k, v := range m.Header {
		if k != nats.MsgIdHdr && len(v) > 0 {
			msg.Metadata.Set(k, v[0])
		}
	}
	msg.Metadata.Set("nats_subject", m.Subject)
	return msg
}

func (t *Transport) subject(topic string) string {
	return t.config.StreamName + "." + topic
}

func consumerName(topic string) string {
	return "fluxbridge_" + consumerNameInvalid.ReplaceAllString(topic, "_")
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Close stops all subscriptions and closes the NATS connection. Calling it
// again is a no-op.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.wg.Wait()

		t.mu.Lock()
		for topic, sub := range t.subscriptions {
			if err := sub.Unsubscribe(); err != nil {
				t.logger.Debug("Unsubscribe failed", watermill.LogFields{"topic": topic, "err": err.Error()})
			}
		}
		clear(t.subscriptions)
		t.mu.Unlock()

		if t.nc != nil {
			t.nc.Close()
		}
		t.failures.Shutdown()
	})
	return nil
}

// Capabilities implements transport.CapabilitiesProvider.
func (t *Transport) Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}
