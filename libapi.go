package fluxbridge

import (
	runtimepkg "github.com/drblury/fluxbridge/internal/runtime"
	configpkg "github.com/drblury/fluxbridge/internal/runtime/config"
	errspkg "github.com/drblury/fluxbridge/internal/runtime/errors"
	idspkg "github.com/drblury/fluxbridge/internal/runtime/ids"
	jsoncodec "github.com/drblury/fluxbridge/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/fluxbridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/fluxbridge/internal/runtime/metadata"
	pipelinepkg "github.com/drblury/fluxbridge/internal/runtime/pipeline"
	sinkpkg "github.com/drblury/fluxbridge/sink"
	_ "github.com/drblury/fluxbridge/sink/sinks"
	transportpkg "github.com/drblury/fluxbridge/transport"
	_ "github.com/drblury/fluxbridge/transport/transports"
)

type (
	Config              = configpkg.Config
	InfluxDBConfig      = configpkg.InfluxDB
	SinkConfig          = configpkg.Sink
	Measurement         = configpkg.Measurement
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	UnprocessableEventError = runtimepkg.UnprocessableEventError
	ConfigValidationError   = errspkg.ConfigValidationError
	Failure                 = errspkg.Failure
	ErrorKind               = errspkg.Kind

	// Status API
	StatusResponse = runtimepkg.StatusResponse
	RuleStatus     = runtimepkg.RuleStatus
	PayloadStats   = runtimepkg.PayloadStats

	// Pipeline
	Pipeline        = pipelinepkg.Pipeline
	PipelineOption  = pipelinepkg.Option
	Report          = pipelinepkg.Report
	Outcome         = pipelinepkg.Outcome
	Rule            = pipelinepkg.Rule
	RuleSet         = pipelinepkg.RuleSet
	Policy          = pipelinepkg.Policy
	Decision        = pipelinepkg.Decision
	Transformer     = pipelinepkg.Transformer
	PipelineMetrics = pipelinepkg.Metrics

	// Sinks
	Sink        = sinkpkg.Sink
	SinkBuilder = sinkpkg.Builder
	Point       = sinkpkg.Point
	Batch       = sinkpkg.Batch

	// Transports
	Transport             = transportpkg.Transport
	TransportBuilder      = transportpkg.Builder
	TransportConfig       = transportpkg.Config
	TransportRegistry     = transportpkg.Registry
	TransportCapabilities = transportpkg.Capabilities
)

var (
	NewService     = runtimepkg.NewService
	LoadConfig     = configpkg.Load
	ValidateConfig = (*configpkg.Config).Validate

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	PoisonQueueMiddleware   = runtimepkg.PoisonQueueMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	NewPipeline     = pipelinepkg.New
	CompileRules    = pipelinepkg.CompileRules
	NewPolicy       = pipelinepkg.NewPolicy
	NewTransformer  = pipelinepkg.NewTransformer
	NewMetrics      = pipelinepkg.NewMetrics
	WithPolicy      = pipelinepkg.WithPolicy
	WithTransformer = pipelinepkg.WithTransformer
	WithClock       = pipelinepkg.WithClock
	WithMetrics     = pipelinepkg.WithMetrics
	WithObserver    = pipelinepkg.WithObserver

	NewPoint     = sinkpkg.NewPoint
	RegisterSink = sinkpkg.Register
	BuildSink    = sinkpkg.Build

	DefaultTransportRegistry = transportpkg.DefaultRegistry
	RegisterTransport        = transportpkg.Register
	BuildTransport           = transportpkg.Build
	GetCapabilities          = transportpkg.GetCapabilities

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrConfigRequired     = errspkg.ErrConfigRequired
	ErrLoggerRequired     = errspkg.ErrLoggerRequired
	ErrSubscriberRequired = errspkg.ErrSubscriberRequired
	ErrPipelineHalted     = errspkg.ErrPipelineHalted
	KindOf                = errspkg.KindOf

	NewLogger            = loggingpkg.NewLogger
	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NopLogger            = loggingpkg.NopLogger

	ParseMetadata = metadatapkg.Parse

	CreateULID = idspkg.CreateULID
)

// Failure kinds accepted as keys of error_policy.
const (
	KindParse      = errspkg.KindParse
	KindNotFound   = errspkg.KindNotFound
	KindEvaluation = errspkg.KindEvaluation
	KindWrite      = errspkg.KindWrite
	KindTransport  = errspkg.KindTransport
	KindConfig     = errspkg.KindConfig
)

// Termination policy decisions.
const (
	Recover   = pipelinepkg.Recover
	Terminate = pipelinepkg.Terminate
)

// MetadataKeyCorrelationID is set on every payload before it is processed.
const MetadataKeyCorrelationID = runtimepkg.MetadataCorrelationID
