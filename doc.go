// Package fluxbridge moves sensor readings from a message source into
// InfluxDB. Every JSON payload that arrives on the configured topic is run
// through an ordered set of measurement rules: each rule selects one number
// with a JSONPath expression, optionally transforms it with an arithmetic
// expression over the variable value, and turns it into a point tagged with
// the rule's static tags. All points produced from one payload are written to
// the sink in a single batch.
//
// A Service hosts a Watermill router with a single sequential handler, so
// payloads are processed strictly in arrival order. Config selects the source
// (MQTT by default, or Kafka, NATS, JetStream, RabbitMQ, AWS SNS/SQS, HTTP,
// a JSON lines file, or Go channels) and the sink (InfluxDB v1, InfluxDB v2,
// or a line protocol file). A minimal setup loads a TOML file with LoadConfig,
// creates a Service and calls Start; cmd/fluxbridge does exactly that.
//
// # Failures
//
// Failures are classified as parse, not_found, evaluation, write or transport.
// A missing value is never an error. For every other kind the termination
// policy decides whether the bridge logs and moves on or halts: after a
// terminating failure no further payload reaches the sink and Start returns
// that failure. terminate_on_error sets the default decision and error_policy
// overrides it per kind. Undecodable payloads can additionally be forwarded to
// a poison queue topic.
//
// # Middleware
//
// The default middleware chain assigns correlation IDs, logs payloads at
// debug level, opens an OpenTelemetry span, records Prometheus router metrics,
// forwards poisoned payloads and recovers from panics. Custom middleware can be
// added via ServiceDependencies.Middlewares.
//
// # Observability
//
// With metrics_enabled the pipeline and router metrics are served on
// /metrics. With status_enabled a JSON status API on /api/status and
// /api/rules reports throughput, latency, per-rule counters and the
// effective termination policy.
package fluxbridge
