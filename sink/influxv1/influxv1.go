// Package influxv1 writes points to InfluxDB 1.x over its HTTP API using
// database, retention policy and basic authentication.
package influxv1

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	client "github.com/influxdata/influxdb1-client/v2"

	"github.com/drblury/fluxbridge/sink"
)

// SinkName is the name used to register this sink.
const SinkName = "influxdb-v1"

// ClientFactory allows overriding the client creation for testing.
var ClientFactory = func(conf client.HTTPConfig) (client.Client, error) {
	return client.NewHTTPClient(conf)
}

func init() {
	sink.Register(SinkName, Build)
}

// Sink writes each batch as one line protocol request.
type Sink struct {
	client    client.Client
	database  string
	retention string
	precision string
	logger    watermill.LoggerAdapter
}

// Build creates a new InfluxDB v1 sink.
func Build(_ context.Context, cfg sink.Config, logger watermill.LoggerAdapter) (sink.Sink, error) {
	username, password := cfg.GetInfluxCredentials()
	c, err := ClientFactory(client.HTTPConfig{
		Addr:     cfg.GetInfluxURL(),
		Username: username,
		Password: password,
		Timeout:  cfg.GetInfluxTimeout(),
	})
	if err != nil {
		return nil, err
	}
	return New(c, cfg.GetInfluxDatabase(), cfg.GetInfluxRetentionPolicy(), cfg.GetInfluxPrecision(), logger), nil
}

// New wraps an existing client.
func New(c client.Client, database, retentionPolicy, precision string, logger watermill.LoggerAdapter) *Sink {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Sink{
		client:    c,
		database:  database,
		retention: retentionPolicy,
		precision: precision,
		logger:    logger.With(watermill.LogFields{"sink": SinkName, "database": database}),
	}
}

func (s *Sink) Write(ctx context.Context, batch sink.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bp, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database:        s.database,
		RetentionPolicy: s.retention,
		Precision:       s.precision,
	})
	if err != nil {
		return err
	}
	for _, p := range batch {
		pt, err := client.NewPoint(p.Measurement, p.Tags, p.FieldsAny(), p.Timestamp)
		if err != nil {
			return fmt.Errorf("measurement %q: %w", p.Measurement, err)
		}
		bp.AddPoint(pt)
	}
	if err := s.client.Write(bp); err != nil {
		return err
	}
	s.logger.Trace("Batch written", watermill.LogFields{"points": len(batch)})
	return nil
}

func (s *Sink) Close() error {
	return s.client.Close()
}
