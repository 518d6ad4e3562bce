package sink

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/cenkalti/backoff/v4"
)

// Retrying retries failed writes with exponential backoff before reporting
// the last error. Cancelled contexts stop retrying immediately.
type Retrying struct {
	inner  Sink
	cfg    RetryConfig
	logger watermill.LoggerAdapter
}

// NewRetrying wraps inner.
func NewRetrying(inner Sink, cfg RetryConfig, logger watermill.LoggerAdapter) *Retrying {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Retrying{inner: inner, cfg: cfg, logger: logger}
}

func (r *Retrying) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if r.cfg.InitialInterval > 0 {
		exp.InitialInterval = r.cfg.InitialInterval
	}
	if r.cfg.MaxInterval > 0 {
		exp.MaxInterval = r.cfg.MaxInterval
	}
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.cfg.MaxRetries)), ctx)
}

func (r *Retrying) Write(ctx context.Context, batch Batch) error {
	attempt := 0
	op := func() error {
		attempt++
		err := r.inner.Write(ctx, batch)
		if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Info("Retrying sink write", watermill.LogFields{
			"attempt": attempt,
			"points":  len(batch),
			"wait":    wait.String(),
			"error":   err.Error(),
		})
	}
	return backoff.RetryNotify(op, r.newBackOff(ctx), notify)
}

func (r *Retrying) Close() error {
	return r.inner.Close()
}

// Unwrap returns the decorated sink.
func (r *Retrying) Unwrap() Sink {
	return r.inner
}
