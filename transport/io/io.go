// Package io provides a file source for fluxbridge. The file holds one JSON
// payload per line, as captured from a device feed; the subscriber replays
// it in order and then follows appended lines.
package io

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/fluxbridge/internal/runtime/ids"
	"github.com/drblury/fluxbridge/internal/runtime/jsoncodec"
	"github.com/drblury/fluxbridge/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "io"

// DefaultFilePath is the default file path if none is specified.
const DefaultFilePath = "payloads.jsonl"

// Metadata keys set on every replayed message.
const (
	MetadataFile = "io_file"
	MetadataLine = "io_line"
)

const defaultPollInterval = 50 * time.Millisecond

// ErrClosed is returned when using a closed publisher or subscriber.
var ErrClosed = errors.New("io transport closed")

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return NewPublisher(filePath, logger), nil
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return NewSubscriber(SubscriberConfig{FilePath: filePath, Follow: true}, logger), nil
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.IOCapabilities)
}

// Build creates a new I/O transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	filePath := cfg.GetIOFile()
	if filePath == "" {
		filePath = DefaultFilePath
	}

	pub, err := PublisherFactory(filePath, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	sub, err := SubscriberFactory(filePath, logger)
	if err != nil {
		_ = pub.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.IOCapabilities
}

// Publisher appends payloads to a file, one per line. The topic is ignored.
type Publisher struct {
	filePath string
	logger   watermill.LoggerAdapter
	mu       sync.Mutex
	closed   bool
}

// NewPublisher creates a publisher appending to filePath.
func NewPublisher(filePath string, logger watermill.LoggerAdapter) *Publisher {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Publisher{filePath: filePath, logger: logger}
}

// Publish appends the payload of each message as one line.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	f, err := os.OpenFile(p.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, msg := range messages {
		line, err := singleLine(msg.Payload)
		if err != nil {
			return fmt.Errorf("message %s: %w", msg.UUID, err)
		}
		if _, err := w.Write(line); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
		p.logger.Trace("Payload appended", watermill.LogFields{"message_uuid": msg.UUID, "file": p.filePath})
	}
	return w.Flush()
}

// singleLine re-encodes JSON payloads spanning several lines.
func singleLine(payload []byte) ([]byte, error) {
	if !bytes.ContainsAny(payload, "\r\n") {
		return payload, nil
	}
	doc, err := jsoncodec.ParseDocument(payload)
	if err != nil {
		return nil, fmt.Errorf("multi-line payload is not JSON: %w", err)
	}
	return jsoncodec.Marshal(doc)
}

// Close closes the publisher.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// SubscriberConfig configures the file subscriber.
type SubscriberConfig struct {
	FilePath string

	// Follow keeps reading lines appended after the end of the file was
	// reached. Without it the output channel closes after the last line.
	Follow bool

	// PollInterval is how often a followed file is checked for new lines.
	PollInterval time.Duration
}

// Subscriber replays a JSON lines file. Each non-blank line is one message;
// a nacked line is sent again before the next one is read.
type Subscriber struct {
	config SubscriberConfig
	logger watermill.LoggerAdapter

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSubscriber creates a file subscriber.
func NewSubscriber(config SubscriberConfig, logger watermill.LoggerAdapter) *Subscriber {
	if config.PollInterval <= 0 {
		config.PollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Subscriber{
		config:  config,
		logger:  logger.With(watermill.LogFields{"file": config.FilePath}),
		closing: make(chan struct{}),
	}
}

// Subscribe starts replaying the file. The topic only labels log entries.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	select {
	case <-s.closing:
		return nil, ErrClosed
	default:
	}

	f, err := os.OpenFile(s.config.FilePath, os.O_RDONLY|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}

	out := make(chan *message.Message)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(out)
		defer f.Close()
		s.replay(ctx, f, out)
	}()

	s.logger.Info("Replaying payload file", watermill.LogFields{"topic": topic, "follow": s.config.Follow})
	return out, nil
}

// Close stops all replays.
func (s *Subscriber) Close() error {
	s.closeOnce.Do(func() { close(s.closing) })
	s.wg.Wait()
	return nil
}

func (s *Subscriber) replay(ctx context.Context, f *os.File, out chan<- *message.Message) {
	reader := bufio.NewReader(f)
	var pending []byte
	lineNo := 0

	for {
		chunk, err := reader.ReadBytes('\n')
		pending = append(pending, chunk...)

		switch {
		case errors.Is(err, io.EOF):
			if !s.config.Follow {
				if len(bytes.TrimSpace(pending)) > 0 {
					lineNo++
					s.deliver(ctx, out, pending, lineNo)
				}
				s.logger.Info("Payload file replayed", watermill.LogFields{"lines": lineNo})
				return
			}
			if !s.wait(ctx) {
				return
			}
			continue
		case err != nil:
			s.logger.Error("Failed to read payload file", err, nil)
			return
		}

		line := pending
		pending = nil
		lineNo++
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if !s.deliver(ctx, out, bytes.TrimRight(line, "\r\n"), lineNo) {
			return
		}
	}
}

func (s *Subscriber) wait(ctx context.Context) bool {
	timer := time.NewTimer(s.config.PollInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-s.closing:
		return false
	}
}

func (s *Subscriber) deliver(ctx context.Context, out chan<- *message.Message, payload []byte, lineNo int) bool {
	for {
		msg := message.NewMessage(ids.CreateULID(), payload)
		msg.Metadata.Set(MetadataFile, s.config.FilePath)
		msg.Metadata.Set(MetadataLine, strconv.Itoa(lineNo))
		msg.SetContext(ctx)

		select {
		case out <- msg:
		case <-ctx.Done():
			return false
		case <-s.closing:
			return false
		}

		select {
		case <-msg.Acked():
			return true
		case <-msg.Nacked():
			s.logger.Debug("Line nacked, resending", watermill.LogFields{"line": lineNo, "message_uuid": msg.UUID})
		case <-ctx.Done():
			return false
		case <-s.closing:
			return false
		}
	}
}
