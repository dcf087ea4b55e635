// Package execute turns a claimed job into running adapters: it resolves
// providers from the site configuration, compiles a block body into a wired
// adapter graph, pumps the graph's leaves, and aggregates discovery advice.
package execute

import (
	"fmt"
	"sync"

	"github.com/earth2dfm/dfm/config"
	"github.com/earth2dfm/dfm/dfmerror"
	"github.com/earth2dfm/dfm/execute/cache"
)

type (
	// Provider is a configured data source instance on a site. It resolves
	// the adapter implementation serving each call discriminator and owns the
	// cache substrate its adapters share.
	Provider interface {
		// Tag returns the configuration key naming this instance.
		Tag() string
		// Class returns the provider_class discriminator.
		Class() string
		// Config returns the provider configuration.
		Config() config.ProviderConfig
		// AdapterFor resolves the adapter serving a call discriminator.
		AdapterFor(apiClass string) (config.AdapterRef, bool)
		// CacheBackend returns the shared cache location, nil when disabled.
		CacheBackend() *cache.Backend
		// Secrets returns the provider's secret material.
		Secrets() map[string]string
	}

	// ProviderFactory builds a provider instance from its configuration.
	ProviderFactory func(tag string, cfg config.ProviderConfig, secrets map[string]string) (Provider, error)

	// BaseProvider implements the bookkeeping shared by provider types.
	// Concrete providers embed it.
	BaseProvider struct {
		tag     string
		cfg     config.ProviderConfig
		secrets map[string]string
		cache   *cache.Backend
	}
)

// NewBaseProvider builds the shared provider state, wiring the cache backend
// when the configuration names a cache directory.
func NewBaseProvider(tag string, cfg config.ProviderConfig, secrets map[string]string) BaseProvider {
	p := BaseProvider{tag: tag, cfg: cfg, secrets: secrets}
	if dir := cfg.Common().CacheDir; dir != "" {
		p.cache = cache.NewOsBackend(dir)
	}
	return p
}

// Tag returns the configuration key naming this instance.
func (p *BaseProvider) Tag() string { return p.tag }

// Class returns the provider_class discriminator.
func (p *BaseProvider) Class() string { return p.cfg.Class() }

// Config returns the provider configuration.
func (p *BaseProvider) Config() config.ProviderConfig { return p.cfg }

// AdapterFor resolves the adapter serving a call discriminator through the
// configured interface map.
func (p *BaseProvider) AdapterFor(apiClass string) (config.AdapterRef, bool) {
	ref, ok := p.cfg.Common().Interface[apiClass]
	return ref, ok
}

// CacheBackend returns the shared cache location, nil when disabled.
func (p *BaseProvider) CacheBackend() *cache.Backend { return p.cache }

// Secrets returns the provider's secret material.
func (p *BaseProvider) Secrets() map[string]string { return p.secrets }

// SetCacheBackend replaces the cache substrate; tests use it to run against
// an in-memory filesystem.
func (p *BaseProvider) SetCacheBackend(b *cache.Backend) { p.cache = b }

// providerFactories maps provider_class discriminators to constructors.
var providerFactories = struct {
	sync.RWMutex
	m map[string]ProviderFactory
}{m: make(map[string]ProviderFactory)}

// RegisterProvider binds a provider_class to its constructor.
func RegisterProvider(providerClass string, factory ProviderFactory) {
	providerFactories.Lock()
	defer providerFactories.Unlock()
	if _, ok := providerFactories.m[providerClass]; ok {
		panic(fmt.Sprintf("execute: duplicate provider_class %q", providerClass))
	}
	providerFactories.m[providerClass] = factory
}

// NewProvider constructs the provider instance for a configuration.
func NewProvider(tag string, cfg config.ProviderConfig, secrets map[string]string) (Provider, error) {
	providerFactories.RLock()
	factory, ok := providerFactories.m[cfg.Class()]
	providerFactories.RUnlock()
	if !ok {
		return nil, dfmerror.MissingImplementation("no provider implementation for %q", cfg.Class())
	}
	return factory(tag, cfg, secrets)
}
