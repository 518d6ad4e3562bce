package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/fluxbridge/internal/registry"
)

type entry struct {
	build   Builder
	caps    Capabilities
	hasCaps bool
}

// Registry resolves source names to transport builders. Transport packages
// add themselves from init via RegisterWithCapabilities.
type Registry struct {
	entries *registry.Registry[entry]
}

// DefaultRegistry is the registry the package-level helpers use.
var DefaultRegistry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: registry.New[entry]()}
}

// Register adds a builder under name, which must match the configured source
// (e.g. "mqtt", "kafka").
func (r *Registry) Register(name string, builder Builder) {
	r.entries.Register(name, entry{build: builder})
}

// RegisterWithCapabilities adds a builder together with what the transport
// guarantees.
func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	r.entries.Register(name, entry{build: builder, caps: caps, hasCaps: true})
}

// GetCapabilities returns the capabilities registered for name. Unknown
// transports report only their name.
func (r *Registry) GetCapabilities(name string) Capabilities {
	if e, ok := r.entries.Lookup(name); ok && e.hasCaps {
		return e.caps
	}
	return Capabilities{Name: name}
}

// Build runs the builder registered for cfg's source.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	if cfg == nil {
		return Transport{}, errors.New("config is required")
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	name := cfg.GetSource()
	e, ok := r.entries.Lookup(name)
	if !ok {
		return Transport{}, fmt.Errorf("unknown transport: %q (registered: %v)", name, r.Names())
	}

	tr, err := e.build(ctx, cfg, logger)
	if err != nil {
		return Transport{}, fmt.Errorf("building %s transport: %w", name, err)
	}
	return tr, nil
}

// Names returns the registered transport names, sorted.
func (r *Registry) Names() []string {
	return r.entries.Names()
}

// Has reports whether a transport is registered under name.
func (r *Registry) Has(name string) bool {
	return r.entries.Has(name)
}

// Register adds a builder to DefaultRegistry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// RegisterWithCapabilities adds a builder and its capabilities to DefaultRegistry.
func RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, builder, caps)
}

// Build builds a transport from DefaultRegistry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}

// Names lists the transports in DefaultRegistry.
func Names() []string {
	return DefaultRegistry.Names()
}
