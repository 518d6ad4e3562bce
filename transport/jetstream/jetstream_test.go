package jetstream

import (
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/fluxbridge/internal/runtime/ids"
	"github.com/drblury/fluxbridge/transport"
	"github.com/drblury/fluxbridge/transport/transporttest"
)

func TestRegistered(t *testing.T) {
	assert.True(t, transport.DefaultRegistry.Has(TransportName))
	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "jetstream", caps.Name)
	assert.True(t, caps.SupportsReliableDelivery())
	assert.Equal(t, transport.NATSJetStreamCapabilities, Capabilities())

	var provider transport.CapabilitiesProvider = &Transport{}
	assert.Equal(t, transport.NATSJetStreamCapabilities, provider.Capabilities())
}

func TestConfig_withDefaults(t *testing.T) {
	t.Run("empty config gets defaults", func(t *testing.T) {
		result := Config{}.withDefaults()

		assert.Equal(t, "FLUXBRIDGE", result.StreamName)
		assert.Equal(t, DefaultMaxDeliver, result.MaxDeliver)
		assert.Equal(t, DefaultAckWait, result.AckWait)
		assert.Equal(t, DefaultMaxAge, result.MaxAge)
		assert.Equal(t, 1, result.Replicas)
	})

	t.Run("custom values preserved", func(t *testing.T) {
		cfg := Config{
			URL:        "nats://localhost:4222",
			StreamName: "TELEMETRY",
			MaxDeliver: 10,
			AckWait:    time.Minute,
			Replicas:   3,
			MaxAge:     time.Hour,
		}
		assert.Equal(t, cfg, cfg.withDefaults())
	})

	t.Run("negative values get defaults", func(t *testing.T) {
		result := Config{MaxDeliver: -1, AckWait: -1, Replicas: -1, MaxAge: -1}.withDefaults()

		assert.Equal(t, DefaultMaxDeliver, result.MaxDeliver)
		assert.Equal(t, DefaultAckWait, result.AckWait)
		assert.Equal(t, DefaultMaxAge, result.MaxAge)
		assert.Equal(t, 1, result.Replicas)
	})
}

func TestSubjectsAndConsumers(t *testing.T) {
	tr := &Transport{config: Config{}.withDefaults()}

	assert.Equal(t, "FLUXBRIDGE.sensors", tr.subject("sensors"))
	assert.Equal(t, "fluxbridge_sensors_kitchen_temp", consumerName("sensors/kitchen.temp"))

	cc := tr.consumerConfig("sensors")
	assert.Equal(t, "fluxbridge_sensors", cc.Durable)
	assert.Equal(t, "FLUXBRIDGE.sensors", cc.FilterSubject)
	assert.Equal(t, 1, cc.MaxAckPending)
	assert.Equal(t, nats.AckExplicitPolicy, cc.AckPolicy)

	streamCfg := tr.streamConfig()
	assert.Equal(t, []string{"FLUXBRIDGE.>"}, streamCfg.Subjects)
	assert.Equal(t, nats.LimitsPolicy, streamCfg.Retention)
	assert.Equal(t, DefaultMaxAge, streamCfg.MaxAge)
}

func TestFromNATS(t *testing.T) {
	t.Run("keeps the publisher message id", func(t *testing.T) {
		msg := nats.NewMsg("FLUXBRIDGE.sensors")
		msg.Data = []byte(`{"temp":20}`)
		msg.Header.Set(nats.MsgIdHdr, "abc")
		msg.Header.Set("device", "kitchen")

		wm := fromNATS(msg)
		assert.Equal(t, "abc", wm.UUID)
		assert.Equal(t, message.Payload(`{"temp":20}`), wm.Payload)
		assert.Equal(t, "kitchen", wm.Metadata.Get("device"))
		assert.Equal(t, "FLUXBRIDGE.sensors", wm.Metadata.Get("nats_subject"))
		assert.Empty(t, wm.Metadata.Get(nats.MsgIdHdr))
	})

	t.Run("generates an id for raw payloads", func(t *testing.T) {
		msg := &nats.Msg{Subject: "FLUXBRIDGE.sensors", Data: []byte(`{}`)}

		wm := fromNATS(msg)
		_, err := ids.Time(wm.UUID)
		assert.NoError(t, err)
	})
}

func TestNewConnectError(t *testing.T) {
	original := Connect
	defer func() { Connect = original }()
	Connect = func(url string, options ...nats.Option) (*nats.Conn, error) {
		assert.Equal(t, "nats://unreachable:4222", url)
		assert.NotEmpty(t, options)
		return nil, nats.ErrNoServers
	}

	_, err := Build(t.Context(), &transporttest.Config{NATSURL: "nats://unreachable:4222"}, watermill.NopLogger{})
	require.Error(t, err)
	assert.ErrorIs(t, err, nats.ErrNoServers)
	assert.Contains(t, err.Error(), "failed to connect to NATS")
}

func TestToNATS(t *testing.T) {
	msg := message.NewMessage("abc", []byte(`{"temp":20}`))
	msg.Metadata.Set("device", "kitchen")

	out := toNATS("FLUXBRIDGE.sensors", msg)
	assert.Equal(t, "FLUXBRIDGE.sensors", out.Subject)
	assert.Equal(t, []byte(`{"temp":20}`), out.Data)
	assert.Equal(t, "abc", out.Header.Get(nats.MsgIdHdr))
	assert.Equal(t, "kitchen", out.Header.Get("device"))
}

func TestOnDisconnectReportsFailure(t *testing.T) {
	tr := &Transport{logger: watermill.NopLogger{}, failures: transport.NewFailureChannel(1)}

	tr.onDisconnect(nil, nil)
	tr.onDisconnect(nil, errors.New("EOF"))

	select {
	case err := <-tr.Failures():
		assert.EqualError(t, err, "nats connection lost: EOF")
	default:
		t.Fatal("no failure reported")
	}
}

func TestClosedTransport(t *testing.T) {
	tr := &Transport{
		logger:        watermill.NopLogger{},
		failures:      transport.NewFailureChannel(1),
		subscriptions: make(map[string]*nats.Subscription),
		done:          make(chan struct{}),
	}

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	assert.ErrorIs(t, tr.Publish("sensors", message.NewMessage("1", nil)), ErrClosed)
	_, err := tr.Subscribe(t.Context(), "sensors")
	assert.ErrorIs(t, err, ErrClosed)

	_, ok := <-tr.Failures()
	assert.False(t, ok)
}
