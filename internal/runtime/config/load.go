package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// FLUXBRIDGE_INFLUXDB_TOKEN overrides influxdb.token.
const EnvPrefix = "FLUXBRIDGE"

// Load reads the configuration file at path, applies defaults and
// environment overrides and validates the result. The format follows the
// file extension and defaults to TOML.
func Load(path string) (*Config, error) {
	v := NewViper()
	v.SetConfigFile(path)
	format := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if format == "" || format == "conf" {
		format = "toml"
		v.SetConfigType(format)
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	keys, err := tagKeys(raw, format)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}
	restoreTagKeys(cfg.Measurements, keys)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewViper returns a viper instance with the bridge defaults and environment
// binding applied.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// SetDefaults registers every default value. Registering a key also makes it
// visible to AutomaticEnv during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("source", DefaultSource)
	v.SetDefault("mqtt_host", "")
	v.SetDefault("mqtt_port", 1883)
	v.SetDefault("mqtt_topic", "")
	v.SetDefault("mqtt_client_id", DefaultMQTTClientID)
	v.SetDefault("mqtt_username", "")
	v.SetDefault("mqtt_password", "")
	v.SetDefault("mqtt_qos", 1)
	v.SetDefault("mqtt_keep_alive", 5*time.Second)
	v.SetDefault("mqtt_reconnect_interval", 5*time.Second)
	v.SetDefault("mqtt_clean_session", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("terminate_on_error", false)
	v.SetDefault("influxdb.version", 2)
	v.SetDefault("influxdb.url", "")
	v.SetDefault("influxdb.bucket", "")
	v.SetDefault("influxdb.org", "")
	v.SetDefault("influxdb.token", "")
	v.SetDefault("influxdb.username", "")
	v.SetDefault("influxdb.password", "")
	v.SetDefault("influxdb.timeout", 10*time.Second)
	v.SetDefault("influxdb.precision", "ns")
	v.SetDefault("sink.type", "influxdb")
	v.SetDefault("sink.max_retries", 0)
	v.SetDefault("sink.initial_interval", 500*time.Millisecond)
	v.SetDefault("sink.max_interval", 30*time.Second)
	v.SetDefault("metrics_port", 9090)
	v.SetDefault("status_port", 8081)
	v.SetDefault("router_close_timeout", 30*time.Second)
}

// Decode unmarshals v into a Config and validates it. viper folds map keys
// to lower case; Load restores the tag keys from the file, Decode cannot.
func Decode(v *viper.Viper) (*Config, error) {
	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}
