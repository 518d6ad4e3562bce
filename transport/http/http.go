// Package http provides an HTTP ingest source for fluxbridge: every POST
// body sent to the topic path becomes one payload.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/fluxbridge/internal/runtime/ids"
	"github.com/drblury/fluxbridge/internal/runtime/jsoncodec"
	"github.com/drblury/fluxbridge/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "http"

// Metadata keys set on every received message.
const (
	MetadataRemoteAddr  = "http_remote_addr"
	MetadataContentType = "http_content_type"
)

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, config, logger)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.HTTPCapabilities)
}

// Build creates a new HTTP transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	serverAddr := cfg.GetHTTPServerAddress()
	publisherURL := cfg.GetHTTPPublisherURL()

	publisher, err := PublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
				return http.DefaultMarshalMessageFunc(JoinURL(publisherURL, topic), msg)
			},
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		serverAddr,
		http.SubscriberConfig{
			UnmarshalMessageFunc: UnmarshalPayload,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: NewSubscriber(subscriber, logger),
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}

// TopicPath maps a topic to the URL path payloads are posted to.
func TopicPath(topic string) string {
	return "/" + strings.TrimLeft(topic, "/")
}

// JoinURL appends the topic path to a base URL.
func JoinURL(base, topic string) string {
	return strings.TrimRight(base, "/") + TopicPath(topic)
}

// UnmarshalPayload turns a request body into a message. Devices usually post
// plain JSON, so the watermill uuid and metadata headers are optional.
func UnmarshalPayload(topic string, req *nethttp.Request) (*message.Message, error) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}

	uuid := req.Header.Get(http.HeaderUUID)
	if uuid == "" {
		uuid = ids.CreateULID()
	}
	msg := message.NewMessage(uuid, body)

	if raw := req.Header.Get(http.HeaderMetadata); raw != "" {
		if err := jsoncodec.Unmarshal([]byte(raw), &msg.Metadata); err != nil {
			return nil, fmt.Errorf("decoding %s header: %w", http.HeaderMetadata, err)
		}
	}
	msg.Metadata.Set(MetadataRemoteAddr, req.RemoteAddr)
	if ct := req.Header.Get("Content-Type"); ct != "" {
		msg.Metadata.Set(MetadataContentType, ct)
	}

	return msg, nil
}

type httpServer interface {
	StartHTTPServer() error
}

// Subscriber registers topic paths on the wrapped watermill-http subscriber
// and starts its server after the first subscription. Server errors are
// reported through transport.FailureReporter.
type Subscriber struct {
	message.Subscriber

	logger    watermill.LoggerAdapter
	failures  *transport.FailureChannel
	startOnce sync.Once
}

// NewSubscriber wraps a watermill-http subscriber.
func NewSubscriber(sub message.Subscriber, logger watermill.LoggerAdapter) *Subscriber {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Subscriber{
		Subscriber: sub,
		logger:     logger,
		failures:   transport.NewFailureChannel(1),
	}
}

// Subscribe accepts payloads posted to TopicPath(topic).
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	out, err := s.Subscriber.Subscribe(ctx, TopicPath(topic))
	if err != nil {
		return nil, err
	}
	s.startOnce.Do(s.start)
	return out, nil
}

func (s *Subscriber) start() {
	srv, ok := s.Subscriber.(httpServer)
	if !ok {
		return
	}
	go func() {
		if err := srv.StartHTTPServer(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			s.logger.Error("HTTP ingest server stopped", err, nil)
			s.failures.Report(fmt.Errorf("http ingest server: %w", err))
		}
	}()
}

// Failures reports a failing ingest server.
func (s *Subscriber) Failures() <-chan error {
	return s.failures.Failures()
}

// Close stops the server and closes the failure channel.
func (s *Subscriber) Close() error {
	err := s.Subscriber.Close()
	s.failures.Shutdown()
	return err
}
