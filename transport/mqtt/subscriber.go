package mqtt

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/drblury/fluxbridge/internal/runtime/ids"
	"github.com/drblury/fluxbridge/transport"
)

// subackFailure is the SUBACK return code for a refused subscription.
const subackFailure = 0x80

// SubscriberConfig configures the MQTT subscriber.
type SubscriberConfig struct {
	ClientConfig

	// OutputBuffer bounds how many received messages wait for the handler
	// before the paho callback blocks.
	OutputBuffer int

	// ResendInterval is the first pause before a nacked message is sent
	// again. The pause grows up to ReconnectInterval.
	ResendInterval time.Duration
}

// Subscriber delivers MQTT messages one at a time in arrival order.
type Subscriber struct {
	config SubscriberConfig
	logger watermill.LoggerAdapter
	client mqtt.Client

	connects atomic.Int64

	mu       sync.Mutex
	subs     map[string]*subscription
	closed   bool
	failures *transport.FailureChannel

	closing chan struct{}
	wg      sync.WaitGroup
}

type subscription struct {
	topic      string
	deliveries chan mqtt.Message
	output     chan *message.Message
	done       chan struct{}
}

// NewSubscriber creates a subscriber. The broker connection is opened by the
// first Subscribe call.
func NewSubscriber(config SubscriberConfig, logger watermill.LoggerAdapter) (*Subscriber, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.setDefaults()
	if config.OutputBuffer <= 0 {
		config.OutputBuffer = defaultOutputBuffer
	}
	if config.ResendInterval <= 0 {
		config.ResendInterval = min(defaultResendInterval, config.ReconnectInterval)
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	s := &Subscriber{
		config:   config,
		logger:   logger.With(watermill.LogFields{"broker": config.Broker, "client_id": config.ClientID}),
		subs:     make(map[string]*subscription),
		failures: transport.NewFailureChannel(16),
		closing:  make(chan struct{}),
	}

	opts := config.options().
		SetAutoAckDisabled(true).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(s.onConnectionLost).
		SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
			s.logger.Info("Reconnecting to MQTT broker", watermill.LogFields{
				"interval": config.ReconnectInterval.String(),
			})
		})
	s.client = ClientFactory(opts)

	return s, nil
}

// Subscribe subscribes to an MQTT topic filter. The returned channel is
// closed when ctx is done or the subscriber is closed.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	sub := &subscription{
		topic:      topic,
		deliveries: make(chan mqtt.Message, s.config.OutputBuffer),
		output:     make(chan *message.Message),
		done:       make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if _, exists := s.subs[topic]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("already subscribed to %q", topic)
	}
	s.subs[topic] = sub
	s.mu.Unlock()

	if err := s.connect(ctx); err != nil {
		s.removeSubscription(sub)
		return nil, fmt.Errorf("connecting to mqtt broker %s: %w", s.config.Broker, err)
	}
	if err := s.subscribe(ctx, sub); err != nil {
		s.removeSubscription(sub)
		return nil, err
	}

	s.logger.Info("Subscribed to MQTT topic", watermill.LogFields{
		"topic": topic,
		"qos":   s.config.QoS,
	})

	s.wg.Add(1)
	go s.consume(ctx, sub)

	return sub.output, nil
}

// Failures reports failed connection attempts and connection losses. The
// channel is closed by Close.
func (s *Subscriber) Failures() <-chan error {
	return s.failures.Failures()
}

// Close unsubscribes, disconnects from the broker and closes all output channels.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closing)
	s.mu.Unlock()

	s.wg.Wait()
	if s.client.IsConnected() {
		s.client.Disconnect(disconnectQuiesce)
	}
	s.failures.Shutdown()

	s.logger.Info("MQTT subscriber closed", nil)
	return nil
}

// connect retries every ReconnectInterval until the broker accepts the
// connection, ctx is done or the subscriber is closed. Every failed attempt
// is logged and reported on Failures.
func (s *Subscriber) connect(ctx context.Context) error {
	var lastErr error
	aborted := func() error {
		if lastErr == nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w (last attempt: %v)", ctx.Err(), lastErr)
	}

	for attempt := 1; ; attempt++ {
		if s.client.IsConnected() {
			return nil
		}
		// The first connection is subscribed by Subscribe itself; onConnect
		// only restores subscriptions after a reconnect.
		s.connects.Store(0)
		err := waitToken(ctx, s.client.Connect())
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return aborted()
		}
		lastErr = err

		s.logger.Error("Could not connect to MQTT broker", err, watermill.LogFields{
			"attempt":  attempt,
			"retry_in": s.config.ReconnectInterval.String(),
		})
		s.reportFailure(fmt.Errorf("connecting to mqtt broker %s: %w", s.config.Broker, err))

		select {
		case <-time.After(s.config.ReconnectInterval):
		case <-ctx.Done():
			return aborted()
		case <-s.closing:
			return ErrClosed
		}
	}
}

func (s *Subscriber) subscribe(ctx context.Context, sub *subscription) error {
	token := s.client.Subscribe(sub.topic, s.config.QoS, s.handler(sub))
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("subscribing to %q: %w", sub.topic, err)
	}
	if st, ok := token.(*mqtt.SubscribeToken); ok {
		for filter, code := range st.Result() {
			if code == subackFailure {
				return fmt.Errorf("subscribing to %q: broker refused subscription", filter)
			}
		}
	}
	return nil
}

func (s *Subscriber) removeSubscription(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[sub.topic] == sub {
		delete(s.subs, sub.topic)
	}
}

func (s *Subscriber) onConnect(client mqtt.Client) {
	if s.connects.Add(1) == 1 {
		return
	}

	s.mu.Lock()
	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	s.logger.Info("Reconnected to MQTT broker", watermill.LogFields{"subscriptions": len(subs)})

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ConnectTimeout)
	defer cancel()
	for _, sub := range subs {
		if err := s.subscribe(ctx, sub); err != nil {
			s.logger.Error("Could not restore MQTT subscription", err, watermill.LogFields{"topic": sub.topic})
			s.reportFailure(err)
		}
	}
}

func (s *Subscriber) onConnectionLost(_ mqtt.Client, err error) {
	s.logger.Error("MQTT connection lost", err, watermill.LogFields{
		"reconnect_interval": s.config.ReconnectInterval.String(),
	})
	s.reportFailure(fmt.Errorf("mqtt connection lost: %w", err))
}

func (s *Subscriber) reportFailure(err error) {
	if !s.failures.Report(err) {
		s.logger.Debug("Dropping MQTT failure, nobody is listening", watermill.LogFields{"err": err.Error()})
	}
}

// handler runs on paho's ordered callback goroutine. It only blocks when
// OutputBuffer messages are already waiting for the router.
func (s *Subscriber) handler(sub *subscription) mqtt.MessageHandler {
	return func(_ mqtt.Client, m mqtt.Message) {
		select {
		case sub.deliveries <- m:
		case <-sub.done:
		case <-s.closing:
		}
	}
}

func (s *Subscriber) consume(ctx context.Context, sub *subscription) {
	defer s.wg.Done()
	defer close(sub.output)
	defer close(sub.done)
	defer s.unsubscribe(sub)

	for {
		select {
		case m := <-sub.deliveries:
			if !s.deliver(ctx, sub, m) {
				return
			}
		case <-ctx.Done():
			return
		case <-s.closing:
			return
		}
	}
}

// deliver forwards one MQTT message and waits until it is acked, sending it
// again after every nack with a growing pause. It returns false when the
// subscription stops.
func (s *Subscriber) deliver(ctx context.Context, sub *subscription, m mqtt.Message) bool {
	var pause *backoff.ExponentialBackOff
	for {
		msg := s.toMessage(ctx, m)
		logFields := watermill.LogFields{"message_uuid": msg.UUID, "topic": m.Topic()}

		select {
		case sub.output <- msg:
			s.logger.Trace("Message sent to consumer", logFields)
		case <-ctx.Done():
			return false
		case <-s.closing:
			return false
		}

		select {
		case <-msg.Acked():
			m.Ack()
			s.logger.Trace("Message acked", logFields)
			return true
		case <-msg.Nacked():
		case <-ctx.Done():
			return false
		case <-s.closing:
			return false
		}

		if pause == nil {
			pause = backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(s.config.ResendInterval),
				backoff.WithMaxInterval(max(s.config.ResendInterval, s.config.ReconnectInterval)),
				backoff.WithMaxElapsedTime(0),
			)
		}
		wait := pause.NextBackOff()
		s.logger.Trace("Message nacked, resending", watermill.LogFields{
			"message_uuid": msg.UUID,
			"topic":        m.Topic(),
			"resend_in":    wait.String(),
		})
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return false
		case <-s.closing:
			return false
		}
	}
}

func (s *Subscriber) toMessage(ctx context.Context, m mqtt.Message) *message.Message {
	msg := message.NewMessage(ids.CreateULID(), m.Payload())
	msg.Metadata.Set(MetadataTopic, m.Topic())
	msg.Metadata.Set(MetadataQoS, strconv.Itoa(int(m.Qos())))
	msg.Metadata.Set(MetadataRetained, strconv.FormatBool(m.Retained()))
	msg.Metadata.Set(MetadataDuplicate, strconv.FormatBool(m.Duplicate()))
	msg.Metadata.Set(MetadataMessageID, strconv.Itoa(int(m.MessageID())))
	msg.SetContext(ctx)
	return msg
}

func (s *Subscriber) unsubscribe(sub *subscription) {
	s.removeSubscription(sub)

	select {
	case <-s.closing:
		// Disconnect drops every subscription of a clean session.
		return
	default:
	}
	if !s.client.IsConnected() {
		return
	}
	token := s.client.Unsubscribe(sub.topic)
	if !token.WaitTimeout(s.config.ConnectTimeout) {
		s.logger.Error("Timed out unsubscribing from MQTT topic", nil, watermill.LogFields{"topic": sub.topic})
		return
	}
	if err := token.Error(); err != nil {
		s.logger.Error("Could not unsubscribe from MQTT topic", err, watermill.LogFields{"topic": sub.topic})
	}
}
