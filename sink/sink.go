// Package sink defines the time-series destination of the bridge. Each
// implementation (InfluxDB v1, InfluxDB v2, line protocol file) lives in its
// own sub-package and registers itself with the sink registry.
package sink

import (
	"context"
	"maps"
	"time"

	"github.com/ThreeDotsLabs/watermill"
)

// FieldValue is the only field a bridge point carries.
const FieldValue = "value"

// Point is one timestamped measurement ready to be written.
type Point struct {
	Measurement string
	Fields      map[string]float64
	Tags        map[string]string
	Timestamp   time.Time
}

// NewPoint builds a point with a single "value" field. tags is copied so the
// point never shares a map with its caller.
func NewPoint(measurement string, value float64, tags map[string]string, ts time.Time) Point {
	return Point{
		Measurement: measurement,
		Fields:      map[string]float64{FieldValue: value},
		Tags:        maps.Clone(tags),
		Timestamp:   ts,
	}
}

// Value returns the "value" field.
func (p Point) Value() float64 {
	return p.Fields[FieldValue]
}

// FieldsAny converts the numeric fields into the map shape client libraries
// expect.
func (p Point) FieldsAny() map[string]any {
	out := make(map[string]any, len(p.Fields))
	for k, v := range p.Fields {
		out[k] = v
	}
	return out
}

// Batch is the ordered set of points produced from one payload.
type Batch []Point

// Sink delivers batches to a time-series store. Write is called at most once
// per payload and only with non-empty batches.
type Sink interface {
	Write(ctx context.Context, batch Batch) error
	Close() error
}

// Builder is the function signature for creating a sink from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Sink, error)

// Config provides the values sinks need without depending on the config
// package.
type Config interface {
	GetSinkName() string
	GetSinkFile() string

	GetInfluxURL() string
	GetInfluxBucket() string
	GetInfluxOrg() string
	GetInfluxToken() string
	GetInfluxDatabase() string
	GetInfluxRetentionPolicy() string
	GetInfluxCredentials() (username, password string)
	GetInfluxTimeout() time.Duration
	GetInfluxPrecision() string

	GetSinkRetry() RetryConfig
}

// RetryConfig tunes the Retrying decorator. MaxRetries of zero disables it.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Enabled reports whether failed writes should be retried.
func (r RetryConfig) Enabled() bool {
	return r.MaxRetries > 0
}

// PrecisionDuration maps an InfluxDB precision string onto a duration.
// Unknown and empty values mean nanoseconds.
func PrecisionDuration(precision string) time.Duration {
	switch precision {
	case "us":
		return time.Microsecond
	case "ms":
		return time.Millisecond
	case "s":
		return time.Second
	}
	return time.Nanosecond
}
