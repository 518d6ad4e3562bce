package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	watermillhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/fluxbridge/internal/runtime/ids"
	"github.com/drblury/fluxbridge/transport"
	"github.com/drblury/fluxbridge/transport/transporttest"
)

type serverSubscriber struct {
	transporttest.Subscriber
	starts   atomic.Int32
	startErr error
}

func (s *serverSubscriber) StartHTTPServer() error {
	s.starts.Add(1)
	return s.startErr
}

func overrideFactories(t *testing.T) {
	t.Helper()
	originalPub := PublisherFactory
	originalSub := SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory = originalPub
		SubscriberFactory = originalSub
	})
}

func TestRegistered(t *testing.T) {
	assert.True(t, transport.DefaultRegistry.Has(TransportName))
	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "http", caps.Name)
	assert.True(t, caps.SupportsAck)
	assert.Equal(t, transport.HTTPCapabilities, Capabilities())
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "/sensors", TopicPath("sensors"))
	assert.Equal(t, "/sensors/kitchen", TopicPath("/sensors/kitchen"))
	assert.Equal(t, "http://bridge:8080/sensors", JoinURL("http://bridge:8080/", "sensors"))
	assert.Equal(t, "http://bridge:8080/sensors", JoinURL("http://bridge:8080", "/sensors"))
}

func TestUnmarshalPayload(t *testing.T) {
	t.Run("plain json body", func(t *testing.T) {
		req := httptest.NewRequest(nethttp.MethodPost, "/sensors", strings.NewReader(`{"temp":20}`))
		req.Header.Set("Content-Type", "application/json")

		msg, err := UnmarshalPayload("/sensors", req)
		require.NoError(t, err)
		assert.Equal(t, message.Payload(`{"temp":20}`), msg.Payload)
		assert.Equal(t, "application/json", msg.Metadata.Get(MetadataContentType))
		assert.Equal(t, req.RemoteAddr, msg.Metadata.Get(MetadataRemoteAddr))
		_, err = ids.Time(msg.UUID)
		assert.NoError(t, err, "generated id is a ULID")
	})

	t.Run("watermill headers", func(t *testing.T) {
		req := httptest.NewRequest(nethttp.MethodPost, "/sensors", strings.NewReader(`{}`))
		req.Header.Set(watermillhttp.HeaderUUID, "abc")
		req.Header.Set(watermillhttp.HeaderMetadata, `{"device":"kitchen"}`)

		msg, err := UnmarshalPayload("/sensors", req)
		require.NoError(t, err)
		assert.Equal(t, "abc", msg.UUID)
		assert.Equal(t, "kitchen", msg.Metadata.Get("device"))
	})

	t.Run("invalid metadata header", func(t *testing.T) {
		req := httptest.NewRequest(nethttp.MethodPost, "/sensors", strings.NewReader(`{}`))
		req.Header.Set(watermillhttp.HeaderMetadata, `{not json`)

		_, err := UnmarshalPayload("/sensors", req)
		assert.ErrorContains(t, err, "decoding")
	})
}

func TestBuild(t *testing.T) {
	t.Run("wraps the subscriber and posts to topic urls", func(t *testing.T) {
		overrideFactories(t)

		pub := &transporttest.Publisher{}
		sub := &serverSubscriber{}
		var pubCfg watermillhttp.PublisherConfig

		PublisherFactory = func(config watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			pubCfg = config
			return pub, nil
		}
		SubscriberFactory = func(addr string, config watermillhttp.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			assert.Equal(t, ":8080", addr)
			assert.NotNil(t, config.UnmarshalMessageFunc)
			return sub, nil
		}

		tr, err := Build(context.Background(), &transporttest.Config{
			HTTPServerAddress: ":8080",
			HTTPPublisherURL:  "http://localhost:8080/",
		}, watermill.NopLogger{})
		require.NoError(t, err)
		assert.Same(t, pub, tr.Publisher)

		req, err := pubCfg.MarshalMessageFunc("sensors", message.NewMessage("1", []byte(`{}`)))
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:8080/sensors", req.URL.String())
		assert.Equal(t, nethttp.MethodPost, req.Method)

		wrapped, ok := tr.Subscriber.(*Subscriber)
		require.True(t, ok)
		assert.Zero(t, sub.starts.Load(), "server starts after the first subscription")

		_, err = wrapped.Subscribe(context.Background(), "sensors")
		require.NoError(t, err)
		_, err = wrapped.Subscribe(context.Background(), "other")
		require.NoError(t, err)

		assert.Eventually(t, func() bool { return sub.starts.Load() == 1 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, []string{"/sensors", "/other"}, sub.Topics)
	})

	t.Run("publisher error", func(t *testing.T) {
		overrideFactories(t)
		PublisherFactory = func(config watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}

		_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
		assert.EqualError(t, err, "publisher error")
	})

	t.Run("subscriber error", func(t *testing.T) {
		overrideFactories(t)
		pub := &transporttest.Publisher{}
		PublisherFactory = func(config watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return pub, nil
		}
		SubscriberFactory = func(addr string, config watermillhttp.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("subscriber error")
		}

		_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
		assert.EqualError(t, err, "subscriber error")
		assert.True(t, pub.Closed)
	})
}

func TestSubscriberReportsServerFailure(t *testing.T) {
	inner := &serverSubscriber{startErr: errors.New("address already in use")}
	sub := NewSubscriber(inner, nil)

	_, err := sub.Subscribe(context.Background(), "sensors")
	require.NoError(t, err)

	select {
	case failure := <-sub.Failures():
		assert.EqualError(t, failure, "http ingest server: address already in use")
	case <-time.After(time.Second):
		t.Fatal("no failure reported")
	}

	require.NoError(t, sub.Close())
	assert.True(t, inner.Closed)
}

func TestSubscriberIgnoresServerClosed(t *testing.T) {
	inner := &serverSubscriber{startErr: nethttp.ErrServerClosed}
	sub := NewSubscriber(inner, nil)

	_, err := sub.Subscribe(context.Background(), "sensors")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return inner.starts.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, sub.Close())
	_, ok := <-sub.Failures()
	assert.False(t, ok)
}
