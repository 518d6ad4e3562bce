// Package file appends points as InfluxDB line protocol to a file or stdout.
// It is useful for dry runs and for feeding other line protocol consumers.
package file

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	client "github.com/influxdata/influxdb1-client/v2"

	"github.com/drblury/fluxbridge/sink"
)

// SinkName is the name used to register this sink.
const SinkName = "file"

// Stdout selects standard output as destination.
const Stdout = "-"

// OpenFile allows overriding how the destination is opened for testing.
var OpenFile = func(path string) (io.WriteCloser, error) {
	if path == "" || path == Stdout {
		return nopCloser{os.Stdout}, nil
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

func init() {
	sink.Register(SinkName, Build)
}

// Sink serialises batches with the InfluxDB v1 client encoder.
type Sink struct {
	mu        sync.Mutex
	out       io.WriteCloser
	precision string
	logger    watermill.LoggerAdapter
}

// Build creates a new file sink.
func Build(_ context.Context, cfg sink.Config, logger watermill.LoggerAdapter) (sink.Sink, error) {
	out, err := OpenFile(cfg.GetSinkFile())
	if err != nil {
		return nil, err
	}
	return New(out, cfg.GetInfluxPrecision(), logger), nil
}

// New writes to out.
func New(out io.WriteCloser, precision string, logger watermill.LoggerAdapter) *Sink {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	if precision == "" {
		precision = "ns"
	}
	return &Sink{out: out, precision: precision, logger: logger.With(watermill.LogFields{"sink": SinkName})}
}

func (s *Sink) Write(ctx context.Context, batch sink.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	w := bufio.NewWriter(s.out)
	for _, p := range batch {
		pt, err := client.NewPoint(p.Measurement, p.Tags, p.FieldsAny(), p.Timestamp)
		if err != nil {
			return fmt.Errorf("measurement %q: %w", p.Measurement, err)
		}
		if _, err := w.WriteString(pt.PrecisionString(s.precision) + "\n"); err != nil {
			return err
		}
	}
	return w.Flush()
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Close()
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
