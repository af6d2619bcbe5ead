package provider

import (
	"log/slog"
	"sync/atomic"

	"github.com/arceus/mrp/internal/config"
)

// keylessTypes run without an API key by convention (self-hosted
// endpoints). Every other type substitutes the echo placeholder when
// no key is configured.
var keylessTypes = map[string]bool{
	"vllm":       true,
	"compatible": true,
}

// openaiAliases are the type tags served by the OpenAI-compatible
// implementation.
var openaiAliases = map[string]bool{
	"openai":            true,
	"openai-compatible": true,
	"compatible":        true,
	"doubao":            true,
	"volcengine":        true,
	"vllm":              true,
}

// snapshot is one immutable generation of the registry. Lookups read
// whichever snapshot was current when they started; a reinitialize
// publishes a whole new snapshot instead of editing the old one.
type snapshot struct {
	providers   map[string]Provider
	configs     map[string]config.ProviderConfig
	defaultName string
}

// Registry holds the configured providers and the default selection.
// Initialize may be called again at runtime to apply new configuration;
// readers always see either the old complete set or the new one.
type Registry struct {
	logger  *slog.Logger
	current atomic.Pointer[snapshot]
}

// NewRegistry creates an empty registry. Call Initialize before use.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger.With("component", "providers")}
	r.current.Store(&snapshot{
		providers: map[string]Provider{},
		configs:   map[string]config.ProviderConfig{},
	})
	return r
}

// Initialize builds providers from settings and swaps them in wholesale.
// Providers from the previous generation are closed after the swap, so
// in-flight generations against them are allowed to finish. When the
// configured default is missing from a non-empty set, an arbitrary
// provider is promoted with a warning; an empty set has no default.
func (r *Registry) Initialize(settings config.ProviderSettings) {
	next := &snapshot{
		providers: make(map[string]Provider, len(settings.List)),
		configs:   make(map[string]config.ProviderConfig, len(settings.List)),
	}

	for name, cfg := range settings.List {
		next.providers[name] = r.build(cfg)
		next.configs[name] = cfg
	}

	next.defaultName = settings.Default
	if _, ok := next.providers[next.defaultName]; !ok {
		next.defaultName = ""
		for name := range next.providers {
			next.defaultName = name
			break
		}
		if next.defaultName != "" {
			r.logger.Warn("configured default provider not found, falling back",
				"configured", settings.Default, "using", next.defaultName)
		}
	}

	prev := r.current.Swap(next)
	for _, p := range prev.providers {
		p.Close()
	}

	r.logger.Info("providers initialized",
		"count", len(next.providers), "default", next.defaultName)
}

// build selects the implementation for one provider config.
func (r *Registry) build(cfg config.ProviderConfig) Provider {
	if !openaiAliases[cfg.Type] {
		r.logger.Warn("unknown provider type, using echo placeholder",
			"name", cfg.Name, "type", cfg.Type)
		return NewEchoProvider(cfg.Name)
	}
	if cfg.APIKey == "" && !keylessTypes[cfg.Type] {
		r.logger.Warn("provider has no API key, using echo placeholder",
			"name", cfg.Name, "type", cfg.Type)
		return NewEchoProvider(cfg.Name)
	}
	return NewOpenAIProvider(cfg, r.logger)
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.current.Load().providers[name]
	return p, ok
}

// Default returns the default provider, or false when none is configured.
func (r *Registry) Default() (Provider, bool) {
	snap := r.current.Load()
	if snap.defaultName == "" {
		return nil, false
	}
	p, ok := snap.providers[snap.defaultName]
	return p, ok
}

// Config returns the stored configuration for a named provider.
func (r *Registry) Config(name string) (config.ProviderConfig, bool) {
	cfg, ok := r.current.Load().configs[name]
	return cfg, ok
}

// Names lists the registered provider names. The default, when present,
// comes first.
func (r *Registry) Names() []string {
	snap := r.current.Load()
	names := make([]string, 0, len(snap.providers))
	if snap.defaultName != "" {
		names = append(names, snap.defaultName)
	}
	for name := range snap.providers {
		if name != snap.defaultName {
			names = append(names, name)
		}
	}
	return names
}

// Close shuts every provider down and leaves the registry empty.
func (r *Registry) Close() {
	empty := &snapshot{
		providers: map[string]Provider{},
		configs:   map[string]config.ProviderConfig{},
	}
	prev := r.current.Swap(empty)
	for _, p := range prev.providers {
		p.Close()
	}
}
