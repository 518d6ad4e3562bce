package runtime

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	idspkg "github.com/drblury/fluxbridge/internal/runtime/ids"
	loggingpkg "github.com/drblury/fluxbridge/internal/runtime/logging"
)

// MetadataCorrelationID carries the id that ties log lines of one payload together.
const MetadataCorrelationID = "correlation_id"

const tracerName = "github.com/drblury/fluxbridge/runtime"

// MiddlewareBuilder creates a middleware once the Service is assembled. A nil
// middleware with a nil error means "not enabled" and is skipped.
type MiddlewareBuilder func(*Service) (message.HandlerMiddleware, error)

// MiddlewareRegistration is either a ready Middleware or a Builder.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares is the chain NewService installs, outermost first.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		PoisonQueueMiddleware(nil),
		RecovererMiddleware(),
	}
}

// CorrelationIDMiddleware stamps payloads that arrive without a correlation id.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{Name: "correlation_id", Middleware: correlationIDMiddleware}
}

func correlationIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		if msg.Metadata.Get(MetadataCorrelationID) == "" {
			msg.Metadata.Set(MetadataCorrelationID, idspkg.CreateULID())
		}
		return h(msg)
	}
}

// LogMessagesMiddleware logs every payload at debug level. A nil logger
// means the service logger.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return logMessagesMiddleware(l), nil
		},
	}
}

func logMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Debug("Processing payload", loggingpkg.LogFields{
				"message_uuid":   msg.UUID,
				"correlation_id": msg.Metadata.Get(MetadataCorrelationID),
				"payload":        string(msg.Payload),
				"metadata":       msg.Metadata,
			})
			return h(msg)
		}
	}
}

// TracerMiddleware opens one OpenTelemetry span per payload.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{Name: "tracer", Middleware: tracerMiddleware}
}

func tracerMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		ctx, span := otel.Tracer(tracerName).Start(msg.Context(), "fluxbridge.process_payload")
		defer span.End()

		span.SetAttributes(
			attribute.String("message.uuid", msg.UUID),
			attribute.String("message.correlation_id", msg.Metadata.Get(MetadataCorrelationID)),
			attribute.Int("message.bytes", len(msg.Payload)),
		)
		msg.SetContext(ctx)

		out, err := h(msg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return out, err
	}
}

// MetricsMiddleware records Watermill's Prometheus handler metrics. When a
// metrics port is configured the registry is served on /metrics.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if !s.Conf.MetricsEnabled {
				return nil, nil
			}
			builder := metrics.NewPrometheusMetricsBuilder(s.registerer, "fluxbridge", s.Conf.GetSource())
			builder.AddPrometheusRouterMetrics(s.router)

			if port := s.Conf.MetricsPort; port > 0 {
				s.RegisterHTTPHandler(port, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
			}
			return builder.NewRouterMiddleware().Middleware, nil
		},
	}
}

// PoisonQueueMiddleware publishes payloads whose error matches filter to the
// poison topic and acks them. It is skipped when no poison topic is set; a
// nil filter selects unprocessable payloads.
func PoisonQueueMiddleware(filter func(error) bool) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "poison_queue",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			topic := s.Conf.PoisonQueue
			if topic == "" {
				return nil, nil
			}
			if s.publisher == nil {
				return nil, errors.New("publisher is required for poison queue middleware")
			}
			shouldPoison := filter
			if shouldPoison == nil {
				shouldPoison = isUnprocessable
			}
			return middleware.PoisonQueueWithFilter(s.publisher, topic, shouldPoison)
		},
	}
}

// RecovererMiddleware turns a handler panic into an error.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{Name: "recoverer", Middleware: middleware.Recoverer}
}

// RegisterMiddleware resolves cfg and adds it to the router.
func (s *Service) RegisterMiddleware(cfg MiddlewareRegistration) error {
	if s.router == nil {
		return errors.New("router is not initialised")
	}

	mw := cfg.Middleware
	if mw == nil {
		if cfg.Builder == nil {
			return errors.New("middleware registration requires Middleware or Builder")
		}
		built, err := cfg.Builder(s)
		if err != nil {
			return err
		}
		mw = built
	}
	if mw != nil {
		s.router.AddMiddleware(mw)
	}
	return nil
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var chain []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		chain = DefaultMiddlewares()
	}
	chain = append(chain, deps.Middlewares...)

	for _, reg := range chain {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("registering middleware %s: %w", name, err)
		}
	}
	return nil
}
