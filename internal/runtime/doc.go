/*
Package runtime runs the bridge: it consumes raw JSON payloads from a source
transport, feeds them one at a time through the dispatch pipeline and writes
the resulting points to the sink.

# Architecture Overview

The Service is built on a Watermill router with a single handler. The
handler consumes the subscription sequentially, in arrival order, and acks a
payload only after its batch was written or its failure was recovered by
the termination policy. When the policy terminates, the handler nacks, the
router is closed and Start returns the terminating failure.

## Core Service (service.go, handler.go)

NewService validates the configuration, compiles the rule set and
connects:
  - the source transport selected by the source key (transport registry)
  - the sink selected by the sink and influxdb sections (sink registry)
  - the dispatch pipeline with its termination policy and metrics

Sources that report asynchronous failures, such as a lost MQTT connection,
have them escalated as transport failures through the same policy.

## Middleware (middleware.go)

  - CorrelationID: tags every payload with an id shared by its log lines
  - LogMessages: debug logging of payloads
  - Tracer: OpenTelemetry span per payload
  - Metrics: Watermill Prometheus router metrics and /metrics
  - PoisonQueue: forwards undecodable payloads when poison_queue is set
  - Recoverer: panic recovery

## Status API (status.go, stats.go)

When status_enabled is set, /api/status reports the source, its
capabilities, the policy, payload counters, latency percentiles,
throughput and process resource usage; /api/rules lists every rule with
its produced, not found and failed counts.

# Sub-packages

  - config/: configuration loading (viper) and validation
  - errors/: failure kinds, typed errors and sentinels
  - ids/: ULID generation
  - jsoncodec/: JSON decoding on sonic
  - logging/: ServiceLogger on slog and Watermill adapters
  - metadata/: payload header helpers
  - pipeline/: extraction, transformation, dispatch and policy

# Usage Example

	cfg, err := config.Load("config.toml")
	if err != nil {
		return err
	}
	svc, err := runtime.NewService(ctx, cfg, logger, runtime.ServiceDependencies{})
	if err != nil {
		return err
	}
	return svc.Start(ctx)
*/
package runtime
