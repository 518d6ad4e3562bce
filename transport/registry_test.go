package transport_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/fluxbridge/transport"
	"github.com/drblury/fluxbridge/transport/transporttest"
)

func okBuilder(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	return transport.Transport{
		Publisher:  &mockPublisher{},
		Subscriber: &mockSubscriber{},
	}, nil
}

func TestNewRegistry(t *testing.T) {
	reg := transport.NewRegistry()
	require.NotNil(t, reg)
	assert.Empty(t, reg.Names())
}

func TestRegistry_Register(t *testing.T) {
	reg := transport.NewRegistry()
	reg.Register("test-transport", okBuilder)

	assert.True(t, reg.Has("test-transport"))
	assert.False(t, reg.Has("other-transport"))
	assert.Equal(t, []string{"test-transport"}, reg.Names())
}

func TestRegistry_RegisterWithCapabilities(t *testing.T) {
	reg := transport.NewRegistry()
	reg.RegisterWithCapabilities("test-transport", okBuilder, transport.Capabilities{
		Name:        "test-transport",
		SupportsAck: true,
		Persistent:  true,
	})

	caps := reg.GetCapabilities("test-transport")
	assert.Equal(t, "test-transport", caps.Name)
	assert.True(t, caps.SupportsAck)
	assert.True(t, caps.Persistent)
}

func TestRegistry_GetCapabilities_Unknown(t *testing.T) {
	caps := transport.NewRegistry().GetCapabilities("unknown")
	assert.Equal(t, transport.Capabilities{Name: "unknown"}, caps)
}

func TestRegistry_Build(t *testing.T) {
	reg := transport.NewRegistry()
	reg.Register("test-transport", okBuilder)

	tr, err := reg.Build(context.Background(), &transporttest.Config{Source: "test-transport"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Subscriber)
}

func TestRegistry_BuildPassesLogger(t *testing.T) {
	reg := transport.NewRegistry()
	var got watermill.LoggerAdapter
	reg.Register("test", func(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
		got = logger
		return transport.Transport{}, nil
	})

	_, err := reg.Build(context.Background(), &transporttest.Config{Source: "test"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestRegistry_BuildErrors(t *testing.T) {
	builderErr := errors.New("builder error")
	reg := transport.NewRegistry()
	reg.Register("failing", func(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
		return transport.Transport{}, builderErr
	})
	reg.Register("mqtt", okBuilder)

	tests := []struct {
		name    string
		cfg     transport.Config
		wantErr string
		wantIs  error
	}{
		{name: "nil config", cfg: nil, wantErr: "config is required"},
		{name: "unknown source", cfg: &transporttest.Config{Source: "carrier-pigeon"}, wantErr: `unknown transport: "carrier-pigeon" (registered: [failing mqtt])`},
		{name: "builder error", cfg: &transporttest.Config{Source: "failing"}, wantErr: "building failing transport", wantIs: builderErr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Build(context.Background(), tt.cfg, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
		})
	}
}

func TestRegistry_NamesSorted(t *testing.T) {
	reg := transport.NewRegistry()
	reg.Register("nats", okBuilder)
	reg.Register("aws", okBuilder)
	reg.Register("mqtt", okBuilder)

	assert.Equal(t, []string{"aws", "mqtt", "nats"}, reg.Names())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := transport.NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				reg.Register("transport", okBuilder)
				reg.Has("transport")
				reg.Names()
				reg.GetCapabilities("transport")
			}
		}()
	}
	wg.Wait()

	assert.True(t, reg.Has("transport"))
}

func TestPackageLevelRegistry(t *testing.T) {
	transport.RegisterWithCapabilities("test-pkg-transport", okBuilder, transport.Capabilities{
		Name:            "test-pkg-transport",
		ReportsFailures: true,
	})

	assert.True(t, transport.DefaultRegistry.Has("test-pkg-transport"))
	assert.Contains(t, transport.Names(), "test-pkg-transport")
	assert.True(t, transport.GetCapabilities("test-pkg-transport").ReportsFailures)

	tr, err := transport.Build(context.Background(), &transporttest.Config{Source: "test-pkg-transport"}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.NotNil(t, tr.Subscriber)

	_, err = transport.Build(context.Background(), &transporttest.Config{Source: "nonexistent"}, nil)
	assert.Error(t, err)
}
