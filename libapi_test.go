package fluxbridge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistriesAreWired(t *testing.T) {
	for _, name := range []string{"mqtt", "kafka", "nats", "jetstream", "rabbitmq", "aws", "http", "io", "channel"} {
		assert.True(t, DefaultTransportRegistry.Has(name), name)
	}
	assert.True(t, GetCapabilities("mqtt").SupportsAck)

	_, err := BuildSink(context.Background(), &Config{Sink: SinkConfig{Type: "file", File: filepath.Join(t.TempDir(), "out.lp")}}, nil)
	assert.NoError(t, err)
}

func TestBridgeFromJSONLinesToLineProtocol(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "payloads.jsonl")
	out := filepath.Join(dir, "points.lp")
	require.NoError(t, os.WriteFile(in, []byte(strings.Join([]string{
		`{"sensor": {"temp": 21.5, "hum": 40}}`,
		`not json`,
		`{"sensor": {"temp": "22"}}`,
		`{"other": true}`,
	}, "\n")+"\n"), 0o644))

	cfg := &Config{
		Source: "IO",
		IOFile: in,
		Topic:  "sensors",
		Sink:   SinkConfig{Type: "file", File: out},
		Measurements: []Measurement{
			{Name: "temperature", Path: "$.sensor.temp", Tags: map[string]string{"room": "lab"}},
			{Name: "humidity", Path: "$.sensor.hum", Expression: "value / 100"},
		},
		RouterCloseTimeout: time.Second,
	}
	ts := time.Unix(1700000000, 0)

	svc, err := NewService(context.Background(), cfg, NopLogger(), ServiceDependencies{
		Registry: prometheus.NewRegistry(),
		Clock:    func() time.Time { return ts },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	require.Eventually(t, func() bool {
		return svc.Status().Payloads.Processed == 4
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("service did not stop")
	}

	written, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"temperature,room=lab value=21.5 1700000000000000000",
		"humidity value=0.4 1700000000000000000",
		"temperature,room=lab value=22 1700000000000000000",
	}, "\n")+"\n", string(written))

	stats := svc.Status().Payloads
	assert.Equal(t, uint64(2), stats.Dispatched)
	assert.Equal(t, uint64(1), stats.Failures[string(KindParse)])
}

func TestLoadConfigValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mqtt_host = "localhost"
mqtt_topic = "sensors/#"

[sink]
type = "file"

[[measurements]]
name = "temperature"
path = "$.temp"
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sensors/#", cfg.GetTopic())
	assert.NoError(t, ValidateConfig(cfg))

	cfg.Measurements = nil
	err = ValidateConfig(cfg)
	var cfgErr ConfigValidationError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, KindConfig, KindOf(err))
}

func TestEncodingExportAliases(t *testing.T) {
	payload := map[string]string{"hello": "world"}
	_, err := Marshal(payload)
	require.NoError(t, err)
	_, err = MarshalIndent(payload, "", "  ")
	require.NoError(t, err)
	require.NoError(t, Unmarshal([]byte(`{"hello":"world"}`), &payload))
}

func TestParseMetadataExport(t *testing.T) {
	md, err := ParseMetadata([]string{"source=test"})
	require.NoError(t, err)
	assert.Equal(t, Metadata{"source": "test"}, md)
}
