package runtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/fluxbridge/internal/runtime/config"
	loggingpkg "github.com/drblury/fluxbridge/internal/runtime/logging"
	"github.com/drblury/fluxbridge/sink"
	transportpkg "github.com/drblury/fluxbridge/transport"
	"github.com/drblury/fluxbridge/transport/transporttest"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

func testConfig() *configpkg.Config {
	return &configpkg.Config{
		Source: "channel",
		Topic:  "sensors",
		Sink:   configpkg.Sink{Type: "file"},
		Measurements: []configpkg.Measurement{
			{Name: "temperature", Path: "$.temp", Tags: map[string]string{"room": "lab"}},
			{Name: "humidity", Path: "$.hum", Expression: "value / 100"},
		},
		RouterCloseTimeout: time.Second,
	}
}

// recordingSink records every batch. Writes fail with err, or only the
// first failFirst writes when failFirst is set.
type recordingSink struct {
	mu        sync.Mutex
	batches   []sink.Batch
	writes    int
	err       error
	failFirst int
	closed    bool
}

func (s *recordingSink) Write(_ context.Context, batch sink.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.err != nil && (s.failFirst == 0 || s.writes <= s.failFirst) {
		return s.err
	}
	s.batches = append(s.batches, batch)
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) Batches() []sink.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sink.Batch(nil), s.batches...)
}

func (s *recordingSink) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *recordingSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func newChannelTransport() (*gochannel.GoChannel, *transportpkg.Transport) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{BlockPublishUntilSubscriberAck: true}, watermill.NopLogger{})
	return pubSub, &transportpkg.Transport{Publisher: pubSub, Subscriber: pubSub}
}

func testDeps(tr *transportpkg.Transport, s sink.Sink) ServiceDependencies {
	return ServiceDependencies{
		Transport: tr,
		Sink:      s,
		Registry:  prometheus.NewRegistry(),
		Clock:     func() time.Time { return fixedNow },
	}
}

// newTestService builds a service on fake transports that is never started.
func newTestService(t *testing.T, cfg *configpkg.Config) (*Service, *recordingSink) {
	t.Helper()
	s := &recordingSink{}
	tr := &transportpkg.Transport{Publisher: &transporttest.Publisher{}, Subscriber: &transporttest.Subscriber{}}
	svc, err := NewService(context.Background(), cfg, newTestLogger(), testDeps(tr, s))
	require.NoError(t, err)
	return svc, s
}

// startService runs svc until the returned cancel is called. The channel
// yields the result of Start.
func startService(t *testing.T, svc *Service) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	select {
	case <-svc.Running():
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("router did not start")
	}
	return cancel, done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("service did not stop")
		return nil
	}
}
