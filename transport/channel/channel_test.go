package channel

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/fluxbridge/transport"
	"github.com/drblury/fluxbridge/transport/transporttest"
)

func TestRegistered(t *testing.T) {
	assert.True(t, transport.DefaultRegistry.Has(TransportName))
	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "channel", caps.Name)
	assert.True(t, caps.SupportsOrdering)
	assert.True(t, caps.SupportsNack)
	assert.False(t, caps.Persistent)
	assert.Equal(t, transport.ChannelCapabilities, Capabilities())
}

func TestBuild(t *testing.T) {
	t.Run("shares one pubsub", func(t *testing.T) {
		tr, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
		require.NoError(t, err)
		defer tr.Close()

		assert.Same(t, tr.Publisher, tr.Subscriber)
	})

	t.Run("uses custom factory", func(t *testing.T) {
		originalFactory := Factory
		defer func() { Factory = originalFactory }()

		pub := &transporttest.Publisher{}
		sub := &transporttest.Subscriber{}
		var got gochannel.Config
		Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
			got = cfg
			return pub, sub
		}

		tr, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
		require.NoError(t, err)
		assert.Same(t, pub, tr.Publisher)
		assert.Same(t, sub, tr.Subscriber)
		assert.True(t, got.BlockPublishUntilSubscriberAck)
	})
}

func TestDeliversInOrder(t *testing.T) {
	tr, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
	require.NoError(t, err)
	defer tr.Close()

	msgs, err := tr.Subscriber.Subscribe(context.Background(), "sensors")
	require.NoError(t, err)

	go func() {
		for _, payload := range []string{`{"v":1}`, `{"v":2}`} {
			_ = tr.Publisher.Publish("sensors", message.NewMessage(watermill.NewUUID(), []byte(payload)))
		}
	}()

	for _, want := range []string{`{"v":1}`, `{"v":2}`} {
		select {
		case msg := <-msgs:
			assert.Equal(t, want, string(msg.Payload))
			msg.Ack()
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for message")
		}
	}
}
