package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/fluxbridge/internal/runtime/config"
	errspkg "github.com/drblury/fluxbridge/internal/runtime/errors"
	loggingpkg "github.com/drblury/fluxbridge/internal/runtime/logging"
	"github.com/drblury/fluxbridge/internal/runtime/pipeline"
	"github.com/drblury/fluxbridge/sink"
	transportpkg "github.com/drblury/fluxbridge/transport"
)

// HandlerName is the name of the single router handler feeding the pipeline.
const HandlerName = "fluxbridge"

const httpShutdownTimeout = 5 * time.Second

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to build them from the configuration.
type ServiceDependencies struct {
	// Transport replaces the source built from conf.Source.
	Transport *transportpkg.Transport
	// Sink replaces the sink built from the sink and influxdb sections.
	Sink sink.Sink

	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.

	// Registry receives the pipeline and router metrics. Nil means the
	// Prometheus default registry.
	Registry *prometheus.Registry
	// Clock stamps points. Nil means time.Now.
	Clock func() time.Time
}

// Service wires a source transport, the dispatch pipeline and a sink
// through a Watermill router with one sequential handler.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	transport  transportpkg.Transport
	publisher  message.Publisher
	subscriber message.Subscriber
	sink       sink.Sink
	router     *message.Router

	pipeline *pipeline.Pipeline
	metrics  *pipeline.Metrics
	stats    *payloadStats

	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex

	startedAt     time.Time
	cancelRun     context.CancelFunc
	terminateOnce sync.Once
	terminated    chan struct{}
}

// NewService validates conf, compiles the rule set and connects the source
// and the sink. Call Start to begin consuming.
func NewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating bridge service", loggingpkg.LogFields{
		"source": conf.GetSource(),
		"topic":  conf.GetTopic(),
		"sink":   conf.GetSinkName(),
		"config": conf,
	})

	transformer := pipeline.NewTransformer()
	rules, err := pipeline.CompileRules(conf.Measurements, transformer)
	if err != nil {
		return nil, err
	}
	policy, err := pipeline.NewPolicy(conf.TerminateOnError, conf.ErrorPolicy)
	if err != nil {
		return nil, err
	}

	s := &Service{
		Conf:       conf,
		Logger:     log,
		stats:      newPayloadStats(),
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
		terminated: make(chan struct{}),
	}
	if deps.Registry != nil {
		s.registerer = deps.Registry
		s.gatherer = deps.Registry
	}

	if deps.Transport != nil {
		s.transport = *deps.Transport
	} else {
		s.transport, err = transportpkg.Build(ctx, conf, wmLogger)
		if err != nil {
			return nil, err
		}
	}
	s.publisher = s.transport.Publisher
	s.subscriber = s.transport.Subscriber
	if s.subscriber == nil {
		return nil, errspkg.ErrSubscriberRequired
	}

	if err := s.build(ctx, deps, rules, policy, transformer); err != nil {
		if closeErr := s.transport.Close(); closeErr != nil {
			log.Error("Failed to close transport", closeErr, nil)
		}
		return nil, err
	}
	return s, nil
}

func (s *Service) build(ctx context.Context, deps ServiceDependencies, rules *pipeline.RuleSet, policy *pipeline.Policy, transformer *pipeline.Transformer) error {
	wmLogger := loggingpkg.NewWatermillAdapter(s.Logger)

	s.sink = deps.Sink
	if s.sink == nil {
		var err error
		s.sink, err = sink.Build(ctx, s.Conf, wmLogger)
		if err != nil {
			return err
		}
	}

	s.metrics = pipeline.NewMetrics(s.registerer)
	if s.Conf.MetricsEnabled {
		if err := s.metrics.Register(); err != nil {
			return fmt.Errorf("registering pipeline metrics: %w", err)
		}
	}

	opts := []pipeline.Option{
		pipeline.WithPolicy(policy),
		pipeline.WithTransformer(transformer),
		pipeline.WithMetrics(s.metrics),
		pipeline.WithObserver(s.stats.observe),
	}
	if deps.Clock != nil {
		opts = append(opts, pipeline.WithClock(deps.Clock))
	}
	pl, err := pipeline.New(rules, s.sink, s.Logger, opts...)
	if err != nil {
		return err
	}
	s.pipeline = pl

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: s.Conf.RouterCloseTimeout}, wmLogger)
	if err != nil {
		return err
	}
	s.router = router
	s.router.AddPlugin(plugin.SignalsHandler)

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		return err
	}

	s.router.AddNoPublisherHandler(HandlerName, s.Conf.GetTopic(), s.subscriber, s.handle)
	return nil
}

// Start consumes payloads until ctx is cancelled, a signal arrives or the
// termination policy halts the pipeline. In the last case the terminating
// failure is returned.
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancelRun = cancel

	s.startedAt = time.Now()
	s.StartStatusServer()
	servers := s.startHTTPServers()
	go s.watchFailures(ctx)

	s.Logger.Info("Bridge started", loggingpkg.LogFields{
		"source": s.Conf.GetSource(),
		"topic":  s.Conf.GetTopic(),
		"rules":  s.pipeline.Rules().Len(),
	})

	runErr := routerRun(s.router, ctx)
	cancel()
	closeErr := s.shutdown(servers)

	if haltErr := s.pipeline.HaltErr(); haltErr != nil {
		return haltErr
	}
	if runErr != nil {
		return runErr
	}
	return closeErr
}

// Running is closed once the router consumes the source.
func (s *Service) Running() chan struct{} {
	return s.router.Running()
}

// Pipeline returns the dispatch pipeline.
func (s *Service) Pipeline() *pipeline.Pipeline {
	return s.pipeline
}

// Publisher returns the publisher of the source transport, used for the
// poison queue and by the publish command.
func (s *Service) Publisher() message.Publisher {
	return s.publisher
}

// terminate stops the router without waiting for it. It is called from the
// handler, which the router waits for on close.
func (s *Service) terminate(err error) {
	s.terminateOnce.Do(func() {
		s.Logger.Error("Stopping bridge", err, loggingpkg.LogFields{"kind": errspkg.KindOf(err)})
		close(s.terminated)
		// A source still connecting only gives up when its context ends.
		select {
		case <-s.router.Running():
		default:
			if s.cancelRun != nil {
				s.cancelRun()
			}
		}
		go func() {
			if closeErr := s.router.Close(); closeErr != nil {
				s.Logger.Error("Failed to close router", closeErr, nil)
			}
		}()
	})
}

func (s *Service) shutdown(servers []*http.Server) error {
	var errs []error

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stopping http server %s: %w", srv.Addr, err))
		}
	}

	if err := s.transport.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing transport: %w", err))
	}
	if err := s.sink.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing sink: %w", err))
	}

	err := errors.Join(errs...)
	if err != nil {
		s.Logger.Error("Bridge stopped with errors", err, nil)
	} else {
		s.Logger.Info("Bridge stopped", nil)
	}
	return err
}

// RegisterHTTPHandler mounts handler on the server listening on port. All
// servers start with the service.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() []*http.Server {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	servers := make([]*http.Server, 0, len(s.httpServers))
	for port, mux := range s.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, srv)

		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
	}
	return servers
}
