package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/fluxbridge/internal/registry"
)

// Registry resolves sink names to builders.
type Registry struct {
	builders *registry.Registry[Builder]
}

// DefaultRegistry is the registry the package-level helpers use.
var DefaultRegistry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{builders: registry.New[Builder]()}
}

// Register adds a builder under name, which should match Config.GetSinkName
// (e.g. "influxdb-v2", "file").
func (r *Registry) Register(name string, builder Builder) {
	r.builders.Register(name, builder)
}

// Build creates the sink selected by cfg, wrapped in Retrying when retries
// are configured.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Sink, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	name := cfg.GetSinkName()
	builder, ok := r.builders.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown sink: %q (registered: %v)", name, r.Names())
	}

	s, err := builder(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("building %s sink: %w", name, err)
	}
	if retry := cfg.GetSinkRetry(); retry.Enabled() {
		s = NewRetrying(s, retry, logger)
	}
	return s, nil
}

// Names returns the registered sink names, sorted.
func (r *Registry) Names() []string {
	return r.builders.Names()
}

// Has reports whether a sink is registered under name.
func (r *Registry) Has(name string) bool {
	return r.builders.Has(name)
}

// Register adds a builder to DefaultRegistry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// Build builds a sink from DefaultRegistry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Sink, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
