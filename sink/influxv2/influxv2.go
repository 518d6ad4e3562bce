// Package influxv2 writes points to InfluxDB 2.x using org, bucket and an
// API token.
package influxv2

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/drblury/fluxbridge/sink"
)

// SinkName is the name used to register this sink.
const SinkName = "influxdb-v2"

// ClientFactory allows overriding the client creation for testing.
var ClientFactory = func(url, token string, opts *influxdb2.Options) influxdb2.Client {
	return influxdb2.NewClientWithOptions(url, token, opts)
}

func init() {
	sink.Register(SinkName, Build)
}

// Sink writes each batch through the blocking write API so the caller sees
// the outcome of its own batch.
type Sink struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
	logger watermill.LoggerAdapter
}

// Build creates a new InfluxDB v2 sink.
func Build(_ context.Context, cfg sink.Config, logger watermill.LoggerAdapter) (sink.Sink, error) {
	opts := influxdb2.DefaultOptions().
		SetPrecision(sink.PrecisionDuration(cfg.GetInfluxPrecision()))
	if timeout := cfg.GetInfluxTimeout(); timeout > 0 {
		opts.SetHTTPRequestTimeout(uint(timeout.Round(time.Second) / time.Second))
	}
	c := ClientFactory(cfg.GetInfluxURL(), cfg.GetInfluxToken(), opts)
	return New(c, cfg.GetInfluxOrg(), cfg.GetInfluxBucket(), logger), nil
}

// New wraps an existing client.
func New(c influxdb2.Client, org, bucket string, logger watermill.LoggerAdapter) *Sink {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Sink{
		client: c,
		writer: c.WriteAPIBlocking(org, bucket),
		logger: logger.With(watermill.LogFields{"sink": SinkName, "org": org, "bucket": bucket}),
	}
}

func (s *Sink) Write(ctx context.Context, batch sink.Batch) error {
	points := make([]*write.Point, 0, len(batch))
	for _, p := range batch {
		points = append(points, write.NewPoint(p.Measurement, p.Tags, p.FieldsAny(), p.Timestamp))
	}
	if err := s.writer.WritePoint(ctx, points...); err != nil {
		return err
	}
	s.logger.Trace("Batch written", watermill.LogFields{"points": len(batch)})
	return nil
}

func (s *Sink) Close() error {
	s.client.Close()
	return nil
}
